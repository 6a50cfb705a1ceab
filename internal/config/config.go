package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/csdoge22/feedbackcurate/internal/sampling"
	"github.com/csdoge22/feedbackcurate/internal/state"
	"github.com/csdoge22/feedbackcurate/internal/stopping"
)

// EnvPrefix scopes environment overrides, e.g. CURATE_ORACLE_MODEL.
const EnvPrefix = "CURATE"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid config")

// #region types
// Config is the full run configuration.
type Config struct {
	Dimensions []string        `yaml:"dimensions" mapstructure:"dimensions"`
	Data       DataConfig      `yaml:"data" mapstructure:"data"`
	Output     OutputConfig    `yaml:"output" mapstructure:"output"`
	Loop       LoopConfig      `yaml:"loop" mapstructure:"loop"`
	Stopping   StoppingConfig  `yaml:"stopping" mapstructure:"stopping"`
	Oracle     OracleConfig    `yaml:"oracle" mapstructure:"oracle"`
	Embedding  EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Retrieval  RetrievalConfig `yaml:"retrieval" mapstructure:"retrieval"`
	Codec      CodecConfig     `yaml:"codec" mapstructure:"codec"`
	Log        LogConfig       `yaml:"log" mapstructure:"log"`
	Metrics    MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
}

// DataConfig locates the input splits.
type DataConfig struct {
	Pool       string `yaml:"pool" mapstructure:"pool"`
	StopSet    string `yaml:"stop_set" mapstructure:"stop_set"`
	TestSet    string `yaml:"test_set" mapstructure:"test_set"`
	TextColumn string `yaml:"text_column" mapstructure:"text_column"`
}

// OutputConfig locates everything a run writes.
type OutputConfig struct {
	StateFile   string `yaml:"state_file" mapstructure:"state_file"`
	LedgerDB    string `yaml:"ledger_db" mapstructure:"ledger_db"`
	MetricsLog  string `yaml:"metrics_log" mapstructure:"metrics_log"`
	ArtifactDir string `yaml:"artifact_dir" mapstructure:"artifact_dir"`
}

// LoopConfig drives the curation rounds.
type LoopConfig struct {
	Strategy      string  `yaml:"strategy" mapstructure:"strategy"` // least_confidence|bald|coreset|hybrid
	Scheduled     bool    `yaml:"scheduled" mapstructure:"scheduled"`
	Lambda        float64 `yaml:"lambda" mapstructure:"lambda"` // hybrid weight when not scheduled
	Warmup        int     `yaml:"warmup" mapstructure:"warmup"`
	Decay         float64 `yaml:"decay" mapstructure:"decay"`
	MinLambda     float64 `yaml:"min_lambda" mapstructure:"min_lambda"`
	BatchSize     int     `yaml:"batch_size" mapstructure:"batch_size"`
	MaxIterations int     `yaml:"max_iterations" mapstructure:"max_iterations"` // 0 = unbounded
	NumSeeds      int     `yaml:"num_seeds" mapstructure:"num_seeds"`
	MCSamples     int     `yaml:"mc_samples" mapstructure:"mc_samples"`
	Seed          uint64  `yaml:"seed" mapstructure:"seed"`
	MaxFeatures   int     `yaml:"max_features" mapstructure:"max_features"`
}

// StoppingConfig mirrors stopping.Config.
type StoppingConfig struct {
	MinIterations       int     `yaml:"min_iterations" mapstructure:"min_iterations"`
	Patience            int     `yaml:"patience" mapstructure:"patience"`
	WindowSize          int     `yaml:"window_size" mapstructure:"window_size"`
	MeanKappaThreshold  float64 `yaml:"mean_kappa_threshold" mapstructure:"mean_kappa_threshold"`
	FloorKappaThreshold float64 `yaml:"floor_kappa_threshold" mapstructure:"floor_kappa_threshold"`
}

// OracleConfig selects and tunes the labeling model.
type OracleConfig struct {
	Backend     string        `yaml:"backend" mapstructure:"backend"` // openai|codec
	Model       string        `yaml:"model" mapstructure:"model"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	Temperature float32       `yaml:"temperature" mapstructure:"temperature"`
	JSONMode    bool          `yaml:"json_mode" mapstructure:"json_mode"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries"`
	Workers     int           `yaml:"workers" mapstructure:"workers"`
}

// EmbeddingConfig selects the encoder.
type EmbeddingConfig struct {
	Backend   string `yaml:"backend" mapstructure:"backend"` // hash|codec
	Dim       int    `yaml:"dim" mapstructure:"dim"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// RetrievalConfig selects the exemplar store.
type RetrievalConfig struct {
	Backend       string        `yaml:"backend" mapstructure:"backend"` // none|memory|weaviate|codec
	TopK          int           `yaml:"top_k" mapstructure:"top_k"`
	MaxDistance   float64       `yaml:"max_distance" mapstructure:"max_distance"`
	WeaviateURL   string        `yaml:"weaviate_url" mapstructure:"weaviate_url"`
	WeaviateClass string        `yaml:"weaviate_class" mapstructure:"weaviate_class"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"` // per embedding or search call
}

// CodecConfig locates the gRPC inference sidecar.
type CodecConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig configures the Prometheus endpoint; empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// #endregion types

// #region defaults
// Default returns the configuration used when nothing is overridden.
func Default() Config {
	sched := sampling.DefaultSchedule()
	stop := stopping.DefaultConfig()
	return Config{
		Dimensions: append([]string(nil), state.DefaultDimensions...),
		Data: DataConfig{
			Pool:       "data/pool.tsv",
			StopSet:    "data/stop_labeled.tsv",
			TestSet:    "data/test_labeled.tsv",
			TextColumn: "feedback_text",
		},
		Output: OutputConfig{
			StateFile:   "curation_state.json",
			LedgerDB:    "curation.db",
			MetricsLog:  "logs/active_learning_metrics.jsonl",
			ArtifactDir: "model_artifact",
		},
		Loop: LoopConfig{
			Strategy:    string(sampling.KindHybrid),
			Scheduled:   true,
			Lambda:      0.5,
			Warmup:      sched.Warmup,
			Decay:       sched.Decay,
			MinLambda:   sched.MinLambda,
			BatchSize:   10,
			NumSeeds:    50,
			MCSamples:   10,
			Seed:        42,
			MaxFeatures: 5000,
		},
		Stopping: StoppingConfig{
			MinIterations:       stop.MinIterations,
			Patience:            stop.Patience,
			WindowSize:          stop.WindowSize,
			MeanKappaThreshold:  stop.MeanKappaThreshold,
			FloorKappaThreshold: stop.FloorKappaThreshold,
		},
		Oracle: OracleConfig{
			Backend:     "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0,
			JSONMode:    true,
			Timeout:     60 * time.Second,
			MaxRetries:  2,
			Workers:     4,
		},
		Embedding: EmbeddingConfig{
			Backend:   "hash",
			Dim:       256,
			BatchSize: 64,
		},
		Retrieval: RetrievalConfig{
			Backend:       "memory",
			TopK:          5,
			WeaviateClass: "LabeledFeedback",
			Timeout:       10 * time.Second,
		},
		Codec: CodecConfig{Addr: "localhost:50051"},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// #endregion defaults

// #region load
// Load reads path (or ./curate.yaml when path is empty), layering defaults,
// the file and CURATE_* environment variables. A missing default file is
// not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("curate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	// Environment lists arrive as one comma-separated string.
	if len(cfg.Dimensions) == 1 && strings.Contains(cfg.Dimensions[0], ",") {
		cfg.Dimensions = splitList(cfg.Dimensions[0])
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// #endregion load

// #region write
// Write stores cfg as YAML, creating parent directories.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// #endregion write

// #region validate
// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if len(c.Dimensions) == 0 {
		return fmt.Errorf("dimensions must not be empty: %w", ErrInvalid)
	}
	if _, err := sampling.ParseKind(c.Loop.Strategy); err != nil {
		return fmt.Errorf("loop.strategy: %v: %w", err, ErrInvalid)
	}
	if c.Loop.BatchSize <= 0 {
		return fmt.Errorf("loop.batch_size %d <= 0: %w", c.Loop.BatchSize, ErrInvalid)
	}
	if c.Loop.NumSeeds < 0 {
		return fmt.Errorf("loop.num_seeds %d < 0: %w", c.Loop.NumSeeds, ErrInvalid)
	}
	if c.Loop.Lambda < 0 || c.Loop.Lambda > 1 {
		return fmt.Errorf("loop.lambda %.3f outside [0,1]: %w", c.Loop.Lambda, ErrInvalid)
	}
	if err := c.StoppingConfig().Validate(); err != nil {
		return fmt.Errorf("stopping: %v: %w", err, ErrInvalid)
	}
	switch c.Oracle.Backend {
	case "openai", "codec":
	default:
		return fmt.Errorf("oracle.backend %q: %w", c.Oracle.Backend, ErrInvalid)
	}
	switch c.Embedding.Backend {
	case "hash", "codec":
	default:
		return fmt.Errorf("embedding.backend %q: %w", c.Embedding.Backend, ErrInvalid)
	}
	switch c.Retrieval.Backend {
	case "none", "memory", "codec":
	case "weaviate":
		if c.Retrieval.WeaviateURL == "" {
			return fmt.Errorf("retrieval.weaviate_url is required for weaviate: %w", ErrInvalid)
		}
	default:
		return fmt.Errorf("retrieval.backend %q: %w", c.Retrieval.Backend, ErrInvalid)
	}
	return nil
}

// StoppingConfig converts the stopping section.
func (c Config) StoppingConfig() stopping.Config {
	return stopping.Config{
		MinIterations:       c.Stopping.MinIterations,
		Patience:            c.Stopping.Patience,
		WindowSize:          c.Stopping.WindowSize,
		MeanKappaThreshold:  c.Stopping.MeanKappaThreshold,
		FloorKappaThreshold: c.Stopping.FloorKappaThreshold,
	}
}

// Schedule converts the lambda schedule fields.
func (c Config) Schedule() sampling.Schedule {
	return sampling.Schedule{Warmup: c.Loop.Warmup, Decay: c.Loop.Decay, MinLambda: c.Loop.MinLambda}
}

// #endregion validate

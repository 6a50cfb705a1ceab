package main

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/csdoge22/feedbackcurate/internal/codec"
	"github.com/csdoge22/feedbackcurate/internal/config"
	"github.com/csdoge22/feedbackcurate/internal/embedding"
	"github.com/csdoge22/feedbackcurate/internal/loop"
	"github.com/csdoge22/feedbackcurate/internal/metrics"
	"github.com/csdoge22/feedbackcurate/internal/oracle"
	"github.com/csdoge22/feedbackcurate/internal/retrieval"
	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #endregion

// #region services

// services are the process-wide clients a run needs. They are built once
// from the config and closed together.
type services struct {
	encoder   embedding.Encoder
	oracle    oracle.Oracle
	modelID   string
	backend   retrieval.Retriever // remote exemplar store, if any
	retriever retrieval.Retriever // gated; nil when retrieval is disabled
	indexer   loop.Indexer        // nil unless the backend keeps its own index
	codec     *codec.CodecClient  // nil unless some backend is "codec"
	metrics   *metrics.Collectors // nil when metrics.addr is empty
	server    *http.Server
}

// buildServices wires the encoder, the oracle and any remote exemplar
// store. Retrieval over the label store itself is attached later by
// attachRetriever, once the state exists.
func buildServices(ctx context.Context, c config.Config, logger *slog.Logger) (*services, error) {
	s := &services{}

	needCodec := c.Oracle.Backend == "codec" || c.Embedding.Backend == "codec" || c.Retrieval.Backend == "codec"
	if needCodec {
		cc, err := codec.NewCodecClient(c.Codec.Addr, c.Oracle.Model)
		if err != nil {
			return nil, fmt.Errorf("connect codec at %s: %w", c.Codec.Addr, err)
		}
		s.codec = cc
	}

	// Embeddings are deterministic per text, so every backend is cached.
	switch c.Embedding.Backend {
	case "codec":
		s.encoder = embedding.NewCache(s.codec)
	default:
		s.encoder = embedding.NewCache(embedding.NewHashEncoder(c.Embedding.Dim))
	}

	switch c.Oracle.Backend {
	case "codec":
		s.oracle = s.codec
		s.modelID = s.codec.ModelID()
	default:
		apiKey := c.Oracle.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		o, err := oracle.NewOpenAIOracle(oracle.OpenAIConfig{
			APIKey:      apiKey,
			BaseURL:     c.Oracle.BaseURL,
			Model:       c.Oracle.Model,
			Temperature: c.Oracle.Temperature,
			JSONMode:    c.Oracle.JSONMode,
		}, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.oracle = o
		s.modelID = o.ModelID()
	}

	switch c.Retrieval.Backend {
	case "codec":
		s.backend = s.codec
	case "weaviate":
		w, err := retrieval.NewWeaviateRetriever(retrieval.WeaviateConfig{
			URL:       c.Retrieval.WeaviateURL,
			ClassName: c.Retrieval.WeaviateClass,
		}, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := w.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		s.backend = w
		s.indexer = w
	}
	return s, nil
}

// attachRetriever puts the configured backend behind the retrieval gates.
func (s *services) attachRetriever(c config.Config, st *state.CurationState) {
	backend := s.backend
	if c.Retrieval.Backend == "memory" {
		backend = retrieval.NewMemoryRetriever(st)
	}
	if backend == nil {
		return
	}
	rc := retrieval.DefaultConfig()
	rc.TopK = c.Retrieval.TopK
	rc.MaxDistance = c.Retrieval.MaxDistance
	s.retriever = retrieval.NewGated(backend, rc)
}

// serveMetrics registers the collectors and, when addr is set, exposes them
// on /metrics.
func (s *services) serveMetrics(addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = metrics.NewCollectors(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	s.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
}

// Close shuts down the metrics endpoint and the codec connection.
func (s *services) Close() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.server.Shutdown(ctx)
		cancel()
	}
	if s.codec != nil {
		_ = s.codec.Close()
	}
}

// #endregion

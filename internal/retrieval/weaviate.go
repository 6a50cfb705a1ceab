package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

// DefaultClassName is the Weaviate class holding labeled exemplars.
const DefaultClassName = "LabeledFeedback"

// #region weaviate-config
// WeaviateConfig locates the vector store.
type WeaviateConfig struct {
	URL       string // host[:port], optionally prefixed with http:// or https://
	ClassName string
}

// #endregion weaviate-config

// #region weaviate-retriever
// WeaviateRetriever stores labeled records with their embeddings in Weaviate
// and serves nearest-neighbour exemplars from it.
type WeaviateRetriever struct {
	client    *weaviate.Client
	className string
	logger    *slog.Logger
}

// NewWeaviateRetriever connects to the configured Weaviate instance.
func NewWeaviateRetriever(cfg WeaviateConfig, logger *slog.Logger) (*WeaviateRetriever, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("weaviate url is required")
	}
	if cfg.ClassName == "" {
		cfg.ClassName = DefaultClassName
	}
	if logger == nil {
		logger = slog.Default()
	}

	wc := weaviate.Config{Host: cfg.URL, Scheme: "http"}
	switch {
	case strings.HasPrefix(cfg.URL, "https://"):
		wc.Scheme = "https"
		wc.Host = strings.TrimPrefix(cfg.URL, "https://")
	case strings.HasPrefix(cfg.URL, "http://"):
		wc.Host = strings.TrimPrefix(cfg.URL, "http://")
	}
	client, err := weaviate.NewClient(wc)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateRetriever{
		client:    client,
		className: cfg.ClassName,
		logger:    logger.With("component", "weaviate_retriever"),
	}, nil
}

// #endregion weaviate-retriever

// #region schema
func exemplarSchema(className string) *models.Class {
	return &models.Class{
		Class:       className,
		Description: "A labeled feedback item used as an exemplar.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "text", DataType: []string{"text"}, Tokenization: "word"},
			{Name: "labels_json", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "item_index", DataType: []string{"int"}},
			{Name: "source", DataType: []string{"text"}, Tokenization: "field"},
		},
	}
}

// EnsureSchema creates the exemplar class if it does not exist.
func (w *WeaviateRetriever) EnsureSchema(ctx context.Context) error {
	if _, err := w.client.Schema().ClassGetter().WithClassName(w.className).Do(ctx); err == nil {
		return nil
	}
	w.logger.Info("creating exemplar schema", "class", w.className)
	if err := w.client.Schema().ClassCreator().WithClass(exemplarSchema(w.className)).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", w.className, err)
	}
	return nil
}

// #endregion schema

// #region index
// IndexLabeled upserts every labeled record that has an embedding. Object IDs
// derive from index and text so re-indexing overwrites instead of duplicating.
// Returns the number of objects stored.
func (w *WeaviateRetriever) IndexLabeled(ctx context.Context, records []state.Record) (int, error) {
	objects := buildObjects(w.className, records)
	if len(objects) == 0 {
		return 0, nil
	}
	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch import: %w", err)
	}
	stored := 0
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors == nil {
			stored++
		}
	}
	if stored < len(objects) {
		w.logger.Warn("partial exemplar import", "stored", stored, "sent", len(objects))
	}
	return stored, nil
}

func buildObjects(className string, records []state.Record) []*models.Object {
	var objects []*models.Object
	for _, r := range records {
		if !r.Labeled || len(r.Embedding) == 0 {
			continue
		}
		labels := make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			labels[k] = string(v)
		}
		labelsJSON, _ := json.Marshal(labels)
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%d:%s", r.Index, r.Text)))
		objects = append(objects, &models.Object{
			Class:  className,
			ID:     strfmt.UUID(id.String()),
			Vector: r.Embedding,
			Properties: map[string]interface{}{
				"text":        r.Text,
				"labels_json": string(labelsJSON),
				"item_index":  r.Index,
				"source":      r.Source,
			},
		})
	}
	return objects
}

// #endregion index

// #region search
// RetrieveSimilar implements Retriever with a nearVector query.
func (w *WeaviateRetriever) RetrieveSimilar(ctx context.Context, embedding []float32, topK int) ([]Example, error) {
	if len(embedding) == 0 || topK <= 0 {
		return []Example{}, nil
	}
	fields := []graphql.Field{
		{Name: "text"},
		{Name: "labels_json"},
		{Name: "item_index"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(embedding)
	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", result.Errors[0].Message)
	}
	return parseGetResponse(w.className, result.Data)
}

// parseGetResponse turns the Get section of a GraphQL response into exemplars.
func parseGetResponse(className string, data map[string]models.JSONObject) ([]Example, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("weaviate response missing Get")
	}
	rows, ok := get[className].([]interface{})
	if !ok {
		return []Example{}, nil
	}
	out := make([]Example, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		ex := Example{Labels: map[string]string{}, Metadata: map[string]any{}}
		ex.Text, _ = obj["text"].(string)
		if raw, ok := obj["labels_json"].(string); ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &ex.Labels); err != nil {
				return nil, fmt.Errorf("decode labels for %q: %w", ex.Text, err)
			}
		}
		if idx, ok := obj["item_index"].(float64); ok {
			ex.Metadata["index"] = int(idx)
		}
		if src, ok := obj["source"].(string); ok {
			ex.Metadata["source"] = src
		}
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			if d, ok := add["distance"].(float64); ok {
				ex.Distance = &d
			}
		}
		out = append(out, ex)
	}
	return out, nil
}

// #endregion search

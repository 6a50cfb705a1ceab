package codec

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/csdoge22/feedbackcurate/internal/retrieval"
	"github.com/csdoge22/feedbackcurate/internal/state"
)

// #region methods
// Full method names of the inference sidecar. Requests and replies are
// google.protobuf.Struct messages so no generated stubs are needed.
const (
	MethodEncode = "/curation.v1.Codec/Encode"
	MethodLabel  = "/curation.v1.Codec/Label"
	MethodSearch = "/curation.v1.Codec/Search"
)

// #endregion methods

// #region client-struct
// CodecClient wraps the gRPC connection to an inference sidecar that can
// embed text, answer labeling prompts and search stored exemplars.
type CodecClient struct {
	conn  *grpc.ClientConn
	cc    grpc.ClientConnInterface
	model string
}

// #endregion client-struct

// #region constructor
// NewCodecClient connects to the sidecar at addr.
func NewCodecClient(addr, model string) (*CodecClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &CodecClient{conn: conn, cc: conn, model: model}, nil
}

// NewCodecClientWithConn creates a CodecClient over an existing connection.
// Used for testing without a real server.
func NewCodecClientWithConn(cc grpc.ClientConnInterface, model string) *CodecClient {
	return &CodecClient{cc: cc, model: model}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *CodecClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// ModelID reports the model name sent with labeling requests.
func (c *CodecClient) ModelID() string {
	return c.model
}

// #endregion close

// #region encode
// Encode embeds a batch of texts. The reply must hold one vector per text.
func (c *CodecClient) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	items := make([]*structpb.Value, len(texts))
	for i, t := range texts {
		items[i] = structpb.NewStringValue(t)
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"texts": structpb.NewListValue(&structpb.ListValue{Values: items}),
	}}
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, MethodEncode, req, resp); err != nil {
		return nil, fmt.Errorf("encode rpc: %w", err)
	}

	rows := resp.GetFields()["embeddings"].GetListValue().GetValues()
	if len(rows) != len(texts) {
		return nil, fmt.Errorf("encode rpc: got %d embeddings for %d texts", len(rows), len(texts))
	}
	out := make([][]float32, len(rows))
	for i, row := range rows {
		out[i] = toFloat32s(row.GetListValue())
	}
	return out, nil
}

// #endregion encode

// #region label
// Label sends a labeling prompt and returns the raw model text.
func (c *CodecClient) Label(ctx context.Context, prompt string) (string, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"prompt": structpb.NewStringValue(prompt),
		"model":  structpb.NewStringValue(c.model),
	}}
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, MethodLabel, req, resp); err != nil {
		return "", fmt.Errorf("label rpc: %w", err)
	}
	return resp.GetFields()["text"].GetStringValue(), nil
}

// #endregion label

// #region search
// RetrieveSimilar asks the sidecar for the exemplars nearest to embedding.
func (c *CodecClient) RetrieveSimilar(ctx context.Context, embedding []float32, topK int) ([]state.Example, error) {
	vec := make([]*structpb.Value, len(embedding))
	for i, v := range embedding {
		vec[i] = structpb.NewNumberValue(float64(v))
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"embedding": structpb.NewListValue(&structpb.ListValue{Values: vec}),
		"top_k":     structpb.NewNumberValue(float64(topK)),
	}}
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, MethodSearch, req, resp); err != nil {
		return nil, fmt.Errorf("search rpc: %w", err)
	}

	results := resp.GetFields()["results"].GetListValue().GetValues()
	out := make([]state.Example, 0, len(results))
	for _, r := range results {
		fields := r.GetStructValue().GetFields()
		ex := state.Example{
			Text:     fields["text"].GetStringValue(),
			Labels:   map[string]string{},
			Metadata: map[string]any{},
		}
		for k, v := range fields["labels"].GetStructValue().GetFields() {
			ex.Labels[k] = v.GetStringValue()
		}
		if md := fields["metadata"].GetStructValue(); md != nil {
			ex.Metadata = md.AsMap()
		}
		if d, ok := fields["distance"]; ok {
			if _, isNum := d.GetKind().(*structpb.Value_NumberValue); isNum {
				dist := d.GetNumberValue()
				ex.Distance = &dist
			}
		}
		out = append(out, ex)
	}
	return retrieval.Rank(out, topK), nil
}

// #endregion search

func toFloat32s(l *structpb.ListValue) []float32 {
	vals := l.GetValues()
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(v.GetNumberValue())
	}
	return out
}

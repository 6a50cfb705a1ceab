package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

type countingEncoder struct {
	inner Encoder
	calls [][]string
	err   error
}

func (c *countingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, append([]string(nil), texts...))
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Encode(ctx, texts)
}

func TestHashEncoderDeterministicAndNormalized(t *testing.T) {
	enc := NewHashEncoder(64)
	a, err := enc.Encode(context.Background(), []string{"App crashes on login", "app crashes on LOGIN"})
	require.NoError(t, err)
	assert.Equal(t, a[0], a[1])
	assert.Len(t, a[0], 64)

	var norm float64
	for _, v := range a[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	empty, _ := enc.Encode(context.Background(), []string{"!!"})
	for _, v := range empty[0] {
		assert.Equal(t, float32(0), v)
	}
}

func TestHashEncoderSimilarTextsCloser(t *testing.T) {
	enc := NewHashEncoder(0)
	v, _ := enc.Encode(context.Background(), []string{"checkout page crashes", "checkout page crashes badly", "love the new colors"})
	dot := func(a, b []float32) float64 {
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s
	}
	assert.Greater(t, dot(v[0], v[1]), dot(v[0], v[2]))
}

func TestHashEncoderHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashEncoder(8).Encode(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCacheEncodesOnce(t *testing.T) {
	inner := &countingEncoder{inner: NewHashEncoder(8)}
	c := NewCache(inner)

	first, err := c.Encode(context.Background(), []string{"a b", "c d", "a b"})
	require.NoError(t, err)
	require.Len(t, inner.calls, 1)
	assert.Equal(t, []string{"a b", "c d"}, inner.calls[0])

	second, err := c.Encode(context.Background(), []string{"c d"})
	require.NoError(t, err)
	assert.Len(t, inner.calls, 1)
	assert.Equal(t, first[1], second[0])

	second[0][0] = 42
	third, _ := c.Encode(context.Background(), []string{"c d"})
	assert.NotEqual(t, float32(42), third[0][0])

	hits, misses := c.Stats()
	assert.Equal(t, 2, hits)
	assert.Equal(t, 3, misses)
}

func TestCachePropagatesError(t *testing.T) {
	boom := errors.New("sidecar down")
	c := NewCache(&countingEncoder{err: boom})
	_, err := c.Encode(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, boom)
}

func TestEncodePool(t *testing.T) {
	st, err := state.New([]string{"a", "b", "c"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, st.SetEmbedding(1, []float32{1}))

	inner := &countingEncoder{inner: NewHashEncoder(4)}
	n, err := EncodePool(context.Background(), st, inner, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, inner.calls, 2)

	for _, r := range st.Records() {
		assert.NotEmpty(t, r.Embedding)
	}
	rec, _ := st.Record(1)
	assert.Equal(t, []float32{1}, rec.Embedding)
}

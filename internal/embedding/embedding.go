package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/csdoge22/feedbackcurate/internal/state"
)

// DefaultDim is the HashEncoder output width.
const DefaultDim = 256

// #region encoder
// Encoder maps texts to fixed-length vectors. Identical input text must
// produce identical vectors.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// #endregion encoder

// #region hash-encoder
// HashEncoder is a deterministic feature-hashing encoder over lowercase word
// unigrams and bigrams. It needs no model and no network.
type HashEncoder struct {
	Dim int
}

// NewHashEncoder returns a HashEncoder; dim <= 0 selects DefaultDim.
func NewHashEncoder(dim int) *HashEncoder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &HashEncoder{Dim: dim}
}

// Encode hashes each text into an L2-normalized vector.
func (h *HashEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.encodeOne(t)
	}
	return out, nil
}

func (h *HashEncoder) encodeOne(text string) []float32 {
	vec := make([]float64, h.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	add := func(term string) {
		f := fnv.New64a()
		f.Write([]byte(term))
		sum := f.Sum64()
		sign := 1.0
		if sum&1 == 1 {
			sign = -1.0
		}
		vec[(sum>>1)%uint64(h.Dim)] += sign
	}
	for i, w := range words {
		add(w)
		if i+1 < len(words) {
			add(w + " " + words[i+1])
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, h.Dim)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

// #endregion hash-encoder

// #region cache
// Cache computes each distinct text's embedding once for the lifetime of
// the cache. It is safe for concurrent use.
type Cache struct {
	enc Encoder

	mu      sync.Mutex
	vectors map[string][]float32
	hits    int
	misses  int
}

// NewCache wraps enc.
func NewCache(enc Encoder) *Cache {
	return &Cache{enc: enc, vectors: make(map[string][]float32)}
}

// Encode returns cached vectors and encodes only the misses, in one call.
func (c *Cache) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	var missing []string
	queued := make(map[string]bool)
	for _, t := range texts {
		if _, ok := c.vectors[t]; ok {
			c.hits++
			continue
		}
		c.misses++
		if !queued[t] {
			queued[t] = true
			missing = append(missing, t)
		}
	}
	c.mu.Unlock()

	if len(missing) > 0 {
		vecs, err := c.enc.Encode(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("encode %d texts: %w", len(missing), err)
		}
		if len(vecs) != len(missing) {
			return nil, fmt.Errorf("encoder returned %d vectors for %d texts", len(vecs), len(missing))
		}
		c.mu.Lock()
		for i, t := range missing {
			c.vectors[t] = vecs[i]
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = append([]float32(nil), c.vectors[t]...)
	}
	return out, nil
}

// Stats returns the hit and miss counts.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// #endregion cache

// #region encode-pool
// EncodePool attaches an embedding to every record that lacks one, encoding
// in batches of batchSize. It returns the number of records embedded.
func EncodePool(ctx context.Context, st *state.CurationState, enc Encoder, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 64
	}
	var todo []state.Record
	for _, r := range st.Records() {
		if len(r.Embedding) == 0 {
			todo = append(todo, r)
		}
	}

	done := 0
	for start := 0; start < len(todo); start += batchSize {
		end := start + batchSize
		if end > len(todo) {
			end = len(todo)
		}
		texts := make([]string, end-start)
		for i, r := range todo[start:end] {
			texts[i] = r.Text
		}
		vecs, err := enc.Encode(ctx, texts)
		if err != nil {
			return done, fmt.Errorf("encode pool batch at %d: %w", start, err)
		}
		if len(vecs) != len(texts) {
			return done, fmt.Errorf("encoder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for i, r := range todo[start:end] {
			if err := st.SetEmbedding(r.Index, vecs[i]); err != nil {
				return done, err
			}
			done++
		}
	}
	return done, nil
}

// #endregion encode-pool

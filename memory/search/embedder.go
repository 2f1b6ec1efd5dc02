package search

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/hrygo/mnemos/memory"
)

// HashEmbedder is a deterministic, offline bag-of-words embedder: each
// token is hashed into a fixed-size vector which is then L2-normalized.
// It needs no model endpoint, which makes it the default for local
// development and for tests; production setups plug in an
// OpenAI-compatible memory.EmbeddingService instead.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder. dims <= 0 falls back to 256.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

var _ memory.EmbeddingService = (*HashEmbedder)(nil)

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum32()%uint32(e.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (e *HashEmbedder) Dimensions() int {
	return e.dims
}

package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"recalld/internal/domain"
)

// LocalOption configures the local embedding provider.
type LocalOption func(*LocalProvider)

// WithLocalDimensions sets the embedding dimensions.
func WithLocalDimensions(dims int) LocalOption {
	return func(p *LocalProvider) { p.dims = dims }
}

// LocalProvider is a deterministic, dependency-free embedding provider.
// Each token hashes to a fixed pseudo-random unit vector; a text embeds
// as the normalized sum of its token vectors. Texts sharing tokens
// therefore land close in cosine space, which is enough for offline use
// and for tests, without any external model.
type LocalProvider struct {
	dims int
}

// NewLocalProvider creates a local hashing embedder.
func NewLocalProvider(opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{dims: 256}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Embed implements domain.EmbeddingProvider.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	result := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result[i] = p.embedOne(text)
	}
	return result, nil
}

func (p *LocalProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dims)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		tokens = []string{text}
	}
	for _, tok := range tokens {
		mixToken(vec, tok)
	}
	return normalize(vec)
}

// mixToken adds the token's deterministic unit vector into vec.
func mixToken(vec []float32, token string) {
	h := fnv.New64a()
	h.Write([]byte(token))
	seed := h.Sum64()

	for i := range vec {
		// LCG over the token hash gives a stable pseudo-random stream.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] += float32(int64(seed)) / float32(math.MaxInt64)
	}
}

// tokenize splits text into lowercased word tokens.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize scales vec to unit length. A zero vector is returned as-is.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// Dimensions implements domain.EmbeddingProvider.
func (p *LocalProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *LocalProvider) Name() string { return "local" }

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*LocalProvider)(nil)

// Package index maintains the search-optimized projection of skills:
// embedding vectors plus denormalized metadata, answering nearest
// neighbor and filtered queries. The index is a derived cache; the
// versioned store stays authoritative and the index is rebuildable
// from it at any time.
package index

import (
	"hash/fnv"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"
)

// Embedder maps text to a fixed-dimension vector. The production
// deployment can plug in a model-backed implementation; the registry
// only requires that equal texts embed to equal vectors.
type Embedder interface {
	Embed(text string) []float64
	Dim() int
}

// DefaultDims is the vector width of the built-in embedder.
const DefaultDims = 256

// HashingEmbedder is a deterministic feature-hashing embedder: each
// token is hashed into one of Dim buckets with a hash-derived sign, and
// the result is l2-normalized. It needs no model download and gives
// stable, if shallow, lexical similarity. Suitable for LAN registries
// and as the test embedder.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates an embedder with the given vector width,
// falling back to DefaultDims for non-positive widths.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &HashingEmbedder{dims: dims}
}

// Dim returns the vector width.
func (e *HashingEmbedder) Dim() int { return e.dims }

// Embed projects text into a normalized feature-hashed vector.
func (e *HashingEmbedder) Embed(text string) []float64 {
	vec := make([]float64, e.dims)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % uint64(e.dims))
		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1.0
		}
		vec[bucket] += sign
	}

	if norm := floats.Norm(vec, 2); norm > 0 {
		floats.Scale(1/norm, vec)
	}
	return vec
}

// cosine returns the cosine similarity of two normalized vectors.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return floats.Dot(a, b)
}

// tokenize splits text into lowercase alphanumeric terms.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

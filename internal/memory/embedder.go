package memory

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/spaolacci/murmur3"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Embedder turns texts into fixed-dimension unit-norm vectors.
//
// Embed returns one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// DefaultDim is the HashingEmbedder dimension when none is configured.
const DefaultDim = 256

// HashingEmbedder is a deterministic bag-of-features embedder.
//
// Each text is NFC-normalized and case-folded, then split into features:
// every whitespace-separated token ("src_ip=10.0.10.21") plus its
// alphanumeric parts ("src_ip", "10.0.10.21"). Features are hashed into Dim
// buckets with murmur3, using a second hash for the sign, and the result is
// L2-normalized. Identical texts always embed identically and texts sharing
// most key=value pairs score close to 1.
//
// Thread-safety: HashingEmbedder is stateless and safe for concurrent use.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates an embedder with dim buckets. dim <= 0 uses
// DefaultDim.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &HashingEmbedder{dim: dim}
}

// Dim returns the vector dimension.
func (h *HashingEmbedder) Dim() int {
	return h.dim
}

// Embed implements Embedder.
func (h *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	fold := cases.Fold()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embedOne(fold.String(norm.NFC.String(text)))
	}
	return out, nil
}

func (h *HashingEmbedder) embedOne(text string) []float32 {
	acc := make([]float64, h.dim)
	for _, tok := range strings.Fields(text) {
		h.addFeature(acc, tok)
		parts := strings.FieldsFunc(tok, isSeparator)
		if len(parts) > 1 {
			for _, p := range parts {
				h.addFeature(acc, p)
			}
		}
	}
	return normalize(acc)
}

func (h *HashingEmbedder) addFeature(acc []float64, feature string) {
	data := []byte(feature)
	bucket := murmur3.Sum64WithSeed(data, 0) % uint64(h.dim)
	sign := 1.0
	if murmur3.Sum32WithSeed(data, 1)&1 == 1 {
		sign = -1.0
	}
	acc[bucket] += sign
}

// isSeparator splits key=value tokens while keeping ip addresses, host
// names and snake_case keys whole.
func isSeparator(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return false
	}
	switch r {
	case '.', '_', '-', ':':
		return false
	}
	return true
}

// normalize scales v to unit length. The zero vector stays zero.
func normalize(v []float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(x / n)
	}
	return out
}

// dot is the inner product of two equal-length vectors.
func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}

package retrieval

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// Embeddings are stored as little-endian float32 blobs.

func encodeVector(v []float32) []byte {
	out := make([]byte, 0, 4*len(v))
	for _, f := range v {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}

// decodeVector decodes b into dst, reusing its backing array when large
// enough.
func decodeVector(dst []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not a float32 array", len(b))
	}
	dst = slices.Grow(dst[:0], len(b)/4)[:len(b)/4]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return dst, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine returns the cosine similarity of q and v given q's norm.
// Vectors of different width, or a zero v, score 0.
func cosine(q []float32, qNorm float64, v []float32) float32 {
	if len(q) != len(v) || qNorm == 0 {
		return 0
	}
	var dot, vv float64
	for i, x := range v {
		dot += float64(q[i]) * float64(x)
		vv += float64(x) * float64(x)
	}
	if vv == 0 {
		return 0
	}
	return float32(dot / (qNorm * math.Sqrt(vv)))
}

type hit struct {
	id    string
	score float32
}

// rank orders hits best first: higher score, then smaller ID.
func rank(a, b hit) int {
	if c := cmp.Compare(b.score, a.score); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

// topK keeps the k best hits seen so far, best first.
type topK struct {
	k    int
	hits []hit
}

func newTopK(k int) *topK {
	return &topK{k: k, hits: make([]hit, 0, k)}
}

func (t *topK) offer(h hit) {
	if len(t.hits) == t.k && rank(h, t.hits[t.k-1]) >= 0 {
		return
	}
	i, _ := slices.BinarySearchFunc(t.hits, h, rank)
	t.hits = slices.Insert(t.hits, i, h)
	if len(t.hits) > t.k {
		t.hits = t.hits[:t.k]
	}
}

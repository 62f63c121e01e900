package vector

import (
	"math"
	"testing"

	"github.com/hyperjump/docvec/internal/models"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Cosine = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)
	if math.Abs(L2Norm(v)-1) > 1e-6 {
		t.Errorf("norm after normalize = %f", L2Norm(v))
	}
	zero := []float32{0, 0}
	NormalizeL2(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}

func TestEncodeDecode(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	b := Encode(in)
	if len(b) != 12 {
		t.Fatalf("encoded length = %d, want 12", len(b))
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}
	empty, err := Decode(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("Decode(nil) = %v, %v", empty, err)
	}
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated vector bytes")
	}
}

func TestRanker_ScopeAndOrder(t *testing.T) {
	r := NewRanker([]float32{1, 0}, []string{"demo", "chat"})
	r.Offer(&models.VectorRecord{ItemPK: "b", Application: "demo", Embedding: []float32{1, 0}})
	r.Offer(&models.VectorRecord{ItemPK: "a", Application: "chat", Embedding: []float32{2, 0}})
	r.Offer(&models.VectorRecord{ItemPK: "c", Application: "chat", Embedding: []float32{0, 1}})
	r.Offer(&models.VectorRecord{ItemPK: "d", Application: "unrelated", Embedding: []float32{1, 0}})
	r.Offer(&models.VectorRecord{ItemPK: "e", Application: "demo", Embedding: nil})
	r.Offer(&models.VectorRecord{ItemPK: "f", Application: "demochat", Embedding: []float32{1, 0}})

	hits := r.TopK(10)
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	// a and b tie at 1.0; PK ascending breaks the tie.
	want := []string{"a", "b", "c"}
	for i, h := range hits {
		if h.Record.ItemPK != want[i] {
			t.Errorf("hit %d = %s, want %s", i, h.Record.ItemPK, want[i])
		}
	}
	if top := r.TopK(1); len(top) != 1 || top[0].Record.ItemPK != "a" {
		t.Errorf("TopK(1) = %v", top)
	}
	if r.TopK(0) != nil {
		t.Error("TopK(0) should be nil")
	}
}

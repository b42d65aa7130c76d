package segment

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func almostEqual(a, b, tolerance float32) bool {
	return math.Abs(float64(a-b)) <= float64(tolerance)
}

func TestEmbeddingRoundTrip(t *testing.T) {

	data := []float32{0, 0.25, 0.5, -1.5, 3.140625, -0.125, 1, 2}

	emb := NewEmbedding(uuid.New(), data, 2, 2, 2)

	if emb.Size() != 8 {
		t.Errorf("size: expected 8, got %d", emb.Size())
	}

	got := emb.Unpack()

	if len(got) != len(data) {
		t.Fatalf("unpack length: expected %d, got %d", len(data), len(got))
	}

	// all inputs are exactly representable in half precision
	for i, want := range data {
		if got[i] != want {
			t.Errorf("value %d: expected %f, got %f", i, want, got[i])
		}
	}
}

func TestEmbeddingHalfPrecisionLoss(t *testing.T) {

	// 1/3 is not representable in half precision, reconstruction must be
	// close but is not required to be exact
	data := []float32{1.0 / 3.0}

	emb := NewEmbedding(uuid.New(), data, 1, 1, 1)
	got := emb.Unpack()

	if !almostEqual(got[0], data[0], 0.001) {
		t.Errorf("expected ~%f, got %f", data[0], got[0])
	}
}

func TestFloatsToBytes(t *testing.T) {

	if floatsToBytes(nil) != nil {
		t.Errorf("expected nil for empty input")
	}

	b := floatsToBytes([]float32{1.0})

	if len(b) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(b))
	}

	// float32(1.0) little endian
	want := []byte{0x00, 0x00, 0x80, 0x3f}

	for i := range want {
		if b[i] != want[i] {
			t.Errorf("byte %d: expected %#x, got %#x", i, want[i], b[i])
		}
	}
}

func TestSquashConfidences(t *testing.T) {

	tests := []struct {
		name     string
		input    []float32
		expected []float32
	}{
		{
			"probabilities pass through",
			[]float32{0.0, 0.5, 1.0},
			[]float32{0.0, 0.5, 1.0},
		},
		{
			"logits all squashed",
			[]float32{-4.0, 0.0, 4.0},
			[]float32{0.018, 0.5, 0.982},
		},
		{
			// one out of range value means the whole tensor is logits, the
			// in range values get the sigmoid too
			"mixed tensor squashed uniformly",
			[]float32{0.5, 1.01},
			[]float32{0.622, 0.733},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vals := make([]float32, len(tt.input))
			copy(vals, tt.input)

			squashConfidences(vals)

			for i, want := range tt.expected {
				if !almostEqual(vals[i], want, 0.001) {
					t.Errorf("value %d: expected %f, got %f", i, want, vals[i])
				}
			}
		})
	}
}

func TestSquashConfidencesMonotonic(t *testing.T) {

	// values straddling 1.0 must keep their ordering after squashing
	vals := []float32{0.99, 1.0, 1.01, 2.0}

	squashConfidences(vals)

	for i := 1; i < len(vals); i++ {
		if vals[i] <= vals[i-1] {
			t.Fatalf("ordering broken at %d: %f then %f", i, vals[i-1], vals[i])
		}
	}
}

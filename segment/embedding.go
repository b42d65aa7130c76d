package segment

import (
	"github.com/google/uuid"
	"github.com/x448/float16"
)

var f16LookupTable [65536]float32

func init() {
	// precompute float16 lookup table for faster conversion to float32
	for i := range f16LookupTable {
		f16 := float16.Frombits(uint16(i))
		f16LookupTable[i] = f16.Float32()
	}
}

// Embedding is a cached frame encoding held in half precision.  Encoder
// outputs are large and live in a bounded cache, storing them as float16
// halves the memory held per frame at no accuracy cost that survives the
// decoder anyway
type Embedding struct {
	// FrameID identifies the frame this embedding was encoded from
	FrameID uuid.UUID
	// Data holds the packed float16 embedding values
	Data []uint16
	// Channels, Height and Width describe the embedding tensor shape
	Channels int
	Height   int
	Width    int
}

// NewEmbedding packs a float32 encoder output tensor into half precision
func NewEmbedding(frameID uuid.UUID, data []float32, channels, height, width int) *Embedding {

	packed := make([]uint16, len(data))

	for i, v := range data {
		packed[i] = float16.Fromfloat32(v).Bits()
	}

	return &Embedding{
		FrameID:  frameID,
		Data:     packed,
		Channels: channels,
		Height:   height,
		Width:    width,
	}
}

// Unpack restores the embedding to float32 for decoder input
func (e *Embedding) Unpack() []float32 {

	out := make([]float32, len(e.Data))

	for i, bits := range e.Data {
		out[i] = f16LookupTable[bits]
	}

	return out
}

// Size returns the number of values in the embedding tensor
func (e *Embedding) Size() int {
	return e.Channels * e.Height * e.Width
}

package preparator

import "fmt"

// Kind tags the content of a Segmentation.
type Kind int

const (
	// KindMask is a binary mask with values {0, MAX}.
	KindMask Kind = iota
	// KindLabels is an instance label image with ids 0..Count.
	KindLabels
)

func (k Kind) String() string {
	switch k {
	case KindMask:
		return "mask"
	case KindLabels:
		return "labels"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Segmentation is the output of a threshold strategy: either a binary mask
// or an instance label image. Count is the number of instances for label
// images and 0 for masks.
type Segmentation struct {
	Kind  Kind
	Data  Mat
	Count int
}

// NewMask wraps a binary Mat.
func NewMask(m Mat) Segmentation { return Segmentation{Kind: KindMask, Data: m} }

// NewLabels wraps a label Mat holding ids 1..count.
func NewLabels(m Mat, count int) Segmentation {
	return Segmentation{Kind: KindLabels, Data: m, Count: count}
}

// Close releases the underlying Mat.
func (s *Segmentation) Close() { s.Data.Close() }

// Clone deep-copies the segmentation.
func (s Segmentation) Clone() Segmentation {
	return Segmentation{Kind: s.Kind, Data: s.Data.Clone(), Count: s.Count}
}

// Package mask holds the label volume shared by scoring, assignment and
// stitching. A value of 0 is background; any positive value is a track id.
package mask

import (
	"errors"
	"fmt"
	"sort"
)

// ErrGeometryMismatch is returned when two volumes are combined whose
// frame height or width differ.
var ErrGeometryMismatch = errors.New("mask geometry mismatch")

// Volume is a T×H×W label volume stored frame-major.
// A 2-D frame is a Volume with T == 1.
type Volume struct {
	T, H, W int
	Data    []int32
}

// New allocates a zeroed volume.
func New(t, h, w int) *Volume {
	return &Volume{T: t, H: h, W: w, Data: make([]int32, t*h*w)}
}

// FromFrames stacks equally sized frames into a volume. Each frame is
// copied; the inputs are not retained.
func FromFrames(h, w int, frames ...[]int32) (*Volume, error) {
	v := New(len(frames), h, w)
	n := h * w
	for i, f := range frames {
		if len(f) != n {
			return nil, fmt.Errorf("frame %d has %d pixels, want %d: %w", i, len(f), n, ErrGeometryMismatch)
		}
		copy(v.Data[i*n:(i+1)*n], f)
	}
	return v, nil
}

// FrameSize is the number of pixels per frame.
func (v *Volume) FrameSize() int { return v.H * v.W }

// Frame returns frame t as a slice sharing the volume's backing array.
func (v *Volume) Frame(t int) []int32 {
	n := v.FrameSize()
	return v.Data[t*n : (t+1)*n]
}

// At returns the label at (t, y, x).
func (v *Volume) At(t, y, x int) int32 {
	return v.Data[(t*v.H+y)*v.W+x]
}

// Set writes the label at (t, y, x).
func (v *Volume) Set(t, y, x int, id int32) {
	v.Data[(t*v.H+y)*v.W+x] = id
}

// Frames returns frames [from, to) as a view sharing the backing array.
// Callers must treat the view as read-only.
func (v *Volume) Frames(from, to int) *Volume {
	n := v.FrameSize()
	return &Volume{T: to - from, H: v.H, W: v.W, Data: v.Data[from*n : to*n]}
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	out := &Volume{T: v.T, H: v.H, W: v.W, Data: make([]int32, len(v.Data))}
	copy(out.Data, v.Data)
	return out
}

// SameGeometry reports whether both volumes have equal frame height and width.
func (v *Volume) SameGeometry(o *Volume) bool {
	return v.H == o.H && v.W == o.W
}

// IDs returns the distinct foreground ids in ascending order.
func (v *Volume) IDs() []int32 {
	return UniqueIDs(v.Data)
}

// MaxID returns the largest label in the volume, or 0 if empty.
func (v *Volume) MaxID() int32 {
	var m int32
	for _, id := range v.Data {
		if id > m {
			m = id
		}
	}
	return m
}

// PixelCounts counts foreground pixels per id.
func (v *Volume) PixelCounts() map[int32]int64 {
	counts := make(map[int32]int64)
	for _, id := range v.Data {
		if id > 0 {
			counts[id]++
		}
	}
	return counts
}

// Relabel writes a new volume where every pixel labelled k in v becomes
// mapping[k]. Ids absent from mapping become background. v is not modified.
func (v *Volume) Relabel(mapping map[int32]int32) *Volume {
	out := New(v.T, v.H, v.W)
	for i, id := range v.Data {
		if id == 0 {
			continue
		}
		out.Data[i] = mapping[id]
	}
	return out
}

// UniqueIDs returns the distinct positive values of labels in ascending order.
func UniqueIDs(labels []int32) []int32 {
	seen := make(map[int32]struct{})
	for _, id := range labels {
		if id > 0 {
			seen[id] = struct{}{}
		}
	}
	ids := make([]int32, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

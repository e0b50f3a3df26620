package clip

import (
	"errors"
	"fmt"

	"github.com/banshee-data/clipstitch/internal/vos/dataset"
)

// ErrUnknownSequence is returned by GetFrame for names not in the registry.
var ErrUnknownSequence = errors.New("unknown sequence")

// Dataset exposes every frame of a registry as one sample index.
type Dataset struct {
	reg *dataset.Registry
	asm *Assembler
}

// NewDataset pairs a registry with the assembler that builds its samples.
func NewDataset(reg *dataset.Registry, asm *Assembler) *Dataset {
	return &Dataset{reg: reg, asm: asm}
}

// Len is the number of items.
func (d *Dataset) Len() int { return d.reg.Len() }

// Registry returns the underlying sequence registry.
func (d *Dataset) Registry() *dataset.Registry { return d.reg }

// Get assembles the clip starting at flat item index item.
func (d *Dataset) Get(item int) (*Sample, error) {
	seq, frame, err := d.reg.Locate(item)
	if err != nil {
		return nil, err
	}
	return d.asm.Assemble(seq, frame)
}

// GetFrame assembles the clip starting at frame of the named sequence.
func (d *Dataset) GetFrame(name string, frame int) (*Sample, error) {
	seq, ok := d.reg.Sequence(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSequence, name)
	}
	return d.asm.Assemble(seq, frame)
}

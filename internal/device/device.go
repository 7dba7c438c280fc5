package device

import "fmt"

// Kind classifies the hardware a buffer can reside on.
type Kind int

const (
	KindCPU Kind = iota
	KindGPU
)

// Descriptor identifies a compute device. The zero value is the CPU.
// Descriptors are small value types and safe to compare with ==.
type Descriptor struct {
	kind    Kind
	ordinal int
}

// CPU returns the descriptor for host memory.
func CPU() Descriptor {
	return Descriptor{kind: KindCPU}
}

// GPU returns the descriptor for the GPU with the given ordinal.
func GPU(ordinal int) Descriptor {
	return Descriptor{kind: KindGPU, ordinal: ordinal}
}

func (d Descriptor) Kind() Kind {
	return d.kind
}

func (d Descriptor) Ordinal() int {
	return d.ordinal
}

// IsCPU reports whether buffers on this device are directly addressable.
func (d Descriptor) IsCPU() bool {
	return d.kind == KindCPU
}

func (d Descriptor) String() string {
	switch d.kind {
	case KindCPU:
		return "cpu"
	case KindGPU:
		return fmt.Sprintf("gpu:%d", d.ordinal)
	default:
		return fmt.Sprintf("unknown:%d", d.ordinal)
	}
}

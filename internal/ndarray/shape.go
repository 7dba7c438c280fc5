package ndarray

import (
	"fmt"
	"strings"
)

// Shape describes the dimensions of an Array, innermost axis first.
// A nil Shape is the scalar shape with total size 1.
type Shape []int

func (s Shape) Rank() int {
	return len(s)
}

// TotalSize returns the number of elements an array of this shape holds.
func (s Shape) TotalSize() int {
	total := 1
	for _, d := range s {
		total *= d
	}
	return total
}

// SubShape returns the half-open dimension range [begin, end).
func (s Shape) SubShape(begin, end int) Shape {
	return s[begin:end]
}

// Append returns a new shape with the given dimensions added as outer axes.
func (s Shape) Append(dims ...int) Shape {
	out := make(Shape, 0, len(s)+len(dims))
	out = append(out, s...)
	return append(out, dims...)
}

func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i, d := range s {
		if other[i] != d {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

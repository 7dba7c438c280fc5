package ndarray

// Element is the constraint for supported array element types.
type Element interface {
	float32 | float64
}

// DataType is runtime type information for array elements.
type DataType int

const (
	Float DataType = iota
	Double
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Float:
		return 4
	case Double:
		return 8
	default:
		panic("unknown data type")
	}
}

func (dt DataType) String() string {
	switch dt {
	case Float:
		return "float32"
	case Double:
		return "float64"
	default:
		return "unknown"
	}
}

// TypeOf returns the DataType for the element type T.
func TypeOf[T Element]() DataType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float
	case float64:
		return Double
	default:
		panic("unknown element type")
	}
}

// StorageFormat describes how an Array lays out its elements.
type StorageFormat int

const (
	Dense StorageFormat = iota
	SparseCSC
)

func (f StorageFormat) String() string {
	switch f {
	case Dense:
		return "dense"
	case SparseCSC:
		return "sparse-csc"
	default:
		return "unknown"
	}
}

package serialization

import "github.com/born-ml/sensim/internal/tensor"

// Format constants.
const (
	DTypeFloat64 = "F64"
	ElementSize  = 8
	MetadataKey  = "__metadata__"
	ChecksumKey  = "sha256"
)

// TensorHeader represents a tensor in the SafeTensors header.
type TensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Archive is the decoded content of a file.
type Archive struct {
	Tensors  map[string]*tensor.Dense
	Metadata map[string]string
}

// Names returns the tensor names in alphabetical order.
func (a *Archive) Names() []string {
	return sortedNames(a.Tensors)
}

// rowMajor returns the elements of d in row-major order.
func rowMajor(d *tensor.Dense) []float64 {
	out := make([]float64, 0, d.Len())
	for i := 0; i < d.Rows(); i++ {
		for j := 0; j < d.Cols(); j++ {
			out = append(out, d.At(i, j))
		}
	}
	return out
}

// fromRowMajor builds a column-major matrix from row-major values.
func fromRowMajor(rows, cols int, values []float64) *tensor.Dense {
	d := tensor.Zeros(tensor.NewShape(rows, cols))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d.Set(i, j, values[i*cols+j])
		}
	}
	return d
}

// Package tensor provides the dense numeric value type flowing through the
// metric aggregation engine and checkpoint artifacts.
//
// Tensors here are plain float64 buffers with a shape, a device tag and a
// gradient marker. Photon does not differentiate through them; the gradient
// marker only preserves the caller's intent (a training loss must keep its
// graph, logged metrics must not), and device transfer is a pure relocation
// of state that never alters numeric content.
package tensor

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/photonml/photon/pkg/errors"
)

// Tensor is a dense float64 array. Fields are exported for serialization.
type Tensor struct {
	Data         []float64
	Shape        []int
	Device       Device
	RequiresGrad bool
}

// New creates a tensor from data with the given shape. The product of the
// shape dimensions must match len(data); a nil shape denotes a scalar and
// requires exactly one element.
func New(data []float64, shape ...int) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, errors.NewValueError("tensor.New", "negative dimension")
		}
		n *= d
	}
	if n != len(data) {
		return nil, errors.Newf("tensor: shape %v does not match %d elements", shape, len(data))
	}
	return &Tensor{Data: data, Shape: shape, Device: CPU}, nil
}

// Scalar creates a zero-dimensional tensor holding v.
func Scalar(v float64) *Tensor {
	return &Tensor{Data: []float64{v}, Device: CPU}
}

// Vector creates a one-dimensional tensor from data.
func Vector(data ...float64) *Tensor {
	return &Tensor{Data: data, Shape: []int{len(data)}, Device: CPU}
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Data: make([]float64, n), Shape: shape, Device: CPU}
}

// NumElements returns the total element count.
func (t *Tensor) NumElements() int {
	return len(t.Data)
}

// Dim0 returns the leading-dimension size, or 1 for a scalar.
func (t *Tensor) Dim0() int {
	if len(t.Shape) == 0 {
		return 1
	}
	return t.Shape[0]
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float64, error) {
	if len(t.Data) != 1 {
		return 0, errors.NewValueError("tensor.Item", "tensor is not a scalar")
	}
	return t.Data[0], nil
}

// MustItem is Item for tensors known to be scalar. It panics otherwise.
func (t *Tensor) MustItem() float64 {
	v, err := t.Item()
	if err != nil {
		panic(err)
	}
	return v
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float64 {
	return floats.Sum(t.Data)
}

// Mean returns the arithmetic mean of all elements. An empty tensor yields NaN.
func (t *Tensor) Mean() float64 {
	if len(t.Data) == 0 {
		return math.NaN()
	}
	return stat.Mean(t.Data, nil)
}

// Max returns the largest element. An empty tensor yields -Inf.
func (t *Tensor) Max() float64 {
	if len(t.Data) == 0 {
		return math.Inf(-1)
	}
	return floats.Max(t.Data)
}

// Min returns the smallest element. An empty tensor yields +Inf.
func (t *Tensor) Min() float64 {
	if len(t.Data) == 0 {
		return math.Inf(1)
	}
	return floats.Min(t.Data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	var shape []int
	if t.Shape != nil {
		shape = make([]int, len(t.Shape))
		copy(shape, t.Shape)
	}
	return &Tensor{Data: data, Shape: shape, Device: t.Device, RequiresGrad: t.RequiresGrad}
}

// Detach returns a view of the tensor cut from any gradient path. The
// underlying buffer is shared.
func (t *Tensor) Detach() *Tensor {
	if !t.RequiresGrad {
		return t
	}
	return &Tensor{Data: t.Data, Shape: t.Shape, Device: t.Device}
}

// WithGrad returns a view of the tensor marked as carrying a gradient path.
func (t *Tensor) WithGrad() *Tensor {
	if t.RequiresGrad {
		return t
	}
	return &Tensor{Data: t.Data, Shape: t.Shape, Device: t.Device, RequiresGrad: true}
}

// To relocates the tensor to the given device. Relocation never changes
// numeric content.
func (t *Tensor) To(dev Device) *Tensor {
	if t.Device == dev {
		return t
	}
	out := t.Clone()
	out.Device = dev
	return out
}

// AllClose reports whether two tensors hold the same values within tol.
// Shape and device are ignored; only numeric content is compared.
func AllClose(a, b *Tensor, tol float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if math.Abs(a.Data[i]-b.Data[i]) > tol {
			return false
		}
	}
	return true
}

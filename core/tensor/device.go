package tensor

import "fmt"

// DeviceKind enumerates the accelerator classes a tensor can live on.
type DeviceKind int

const (
	KindCPU DeviceKind = iota
	KindGPU
	// KindTPU marks accelerators whose buffers cannot be cached across
	// steps; logged values placed there are moved to the default device.
	KindTPU
)

func (k DeviceKind) String() string {
	switch k {
	case KindCPU:
		return "cpu"
	case KindGPU:
		return "gpu"
	case KindTPU:
		return "tpu"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Device identifies a compute device by kind and ordinal.
type Device struct {
	Kind  DeviceKind
	Index int
}

// CPU is the default compute device.
var CPU = Device{Kind: KindCPU}

// GPU returns the GPU device with the given ordinal.
func GPU(index int) Device {
	return Device{Kind: KindGPU, Index: index}
}

// TPU returns the TPU device with the given ordinal.
func TPU(index int) Device {
	return Device{Kind: KindTPU, Index: index}
}

func (d Device) String() string {
	if d.Kind == KindCPU {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}

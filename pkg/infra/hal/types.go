package hal

import "time"

const (
	VendorNVIDIA  = "NVIDIA"
	VendorAMD     = "AMD"
	VendorUnknown = "Unknown"
)

const (
	DeviceTypeGPU = "gpu"
	DeviceTypeCPU = "cpu"
)

// Numeric precisions understood by the diffusion backends.
const (
	PrecisionFloat16 = "float16"
	PrecisionFloat32 = "float32"
)

type HardwareInfo struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Vendor string `json:"vendor" yaml:"vendor"`
	Type   string `json:"type" yaml:"type"`
	// Memory is in bytes; zero when the provider cannot tell.
	Memory       uint64    `json:"memory,omitempty" yaml:"memory,omitempty"`
	Driver       string    `json:"driver,omitempty" yaml:"driver,omitempty"`
	ComputeCap   string    `json:"compute_cap,omitempty" yaml:"compute_cap,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at" yaml:"discovered_at"`
}

// Accelerators is the result of probing the host for inference hardware.
type Accelerators struct {
	Devices []HardwareInfo `json:"devices" yaml:"devices"`
	// Source names the provider that found the devices.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

func (a Accelerators) HasGPU() bool {
	for _, d := range a.Devices {
		if d.Type == DeviceTypeGPU {
			return true
		}
	}
	return false
}

// Precision is reduced precision on a GPU and full precision otherwise.
func (a Accelerators) Precision() string {
	if a.HasGPU() {
		return PrecisionFloat16
	}
	return PrecisionFloat32
}

// Device is the torch-style device name a backend should run on.
func (a Accelerators) Device() string {
	if a.HasGPU() {
		return "cuda"
	}
	return "cpu"
}

package hal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceNodeProvider_EmptyRoot(t *testing.T) {
	p := NewDeviceNodeProvider(t.TempDir())
	assert.Equal(t, "devnode", p.Name())

	devices, err := p.Detect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestDeviceNodeProvider_DefaultRoot(t *testing.T) {
	p := NewDeviceNodeProvider("")
	assert.Equal(t, "/dev", p.root)
}

func TestAccelerators(t *testing.T) {
	cpu := Accelerators{Devices: []HardwareInfo{{Type: DeviceTypeCPU}}}
	assert.False(t, cpu.HasGPU())
	assert.Equal(t, PrecisionFloat32, cpu.Precision())

	gpu := Accelerators{Devices: []HardwareInfo{{Type: DeviceTypeGPU}}}
	assert.True(t, gpu.HasGPU())
	assert.Equal(t, PrecisionFloat16, gpu.Precision())
	assert.Equal(t, "cuda", gpu.Device())
}

type stubProvider struct {
	name      string
	available bool
	devices   []HardwareInfo
	err       error
}

func (s stubProvider) Name() string                       { return s.name }
func (s stubProvider) Available(ctx context.Context) bool { return s.available }

func (s stubProvider) Detect(ctx context.Context) ([]HardwareInfo, error) {
	return s.devices, s.err
}

func TestDetect(t *testing.T) {
	gpu := []HardwareInfo{{ID: "GPU-1", Type: DeviceTypeGPU}}

	acc := Detect(context.Background(),
		stubProvider{name: "off", devices: gpu},
		stubProvider{name: "broken", available: true, err: ErrProbe},
		stubProvider{name: "empty", available: true},
		stubProvider{name: "smi", available: true, devices: gpu},
	)
	assert.Equal(t, "smi", acc.Source)
	assert.True(t, acc.HasGPU())

	none := Detect(context.Background(), stubProvider{name: "off"})
	assert.False(t, none.HasGPU())
	assert.Equal(t, "cpu", none.Device())
	assert.Empty(t, none.Source)
}

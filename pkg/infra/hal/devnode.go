package hal

import (
	"context"
	"fmt"
	"time"
)

// DeviceNodeProvider finds GPUs from their device nodes. It works inside
// containers that expose the nodes without shipping vendor tools.
type DeviceNodeProvider struct {
	root string
}

// NewDeviceNodeProvider probes nodes under root (normally "/dev").
func NewDeviceNodeProvider(root string) *DeviceNodeProvider {
	if root == "" {
		root = "/dev"
	}
	return &DeviceNodeProvider{root: root}
}

func (p *DeviceNodeProvider) Name() string { return "devnode" }

func (p *DeviceNodeProvider) Available(ctx context.Context) bool {
	return deviceNodesSupported
}

func (p *DeviceNodeProvider) Detect(ctx context.Context) ([]HardwareInfo, error) {
	var devices []HardwareInfo

	for i := 0; i < 16; i++ {
		node := fmt.Sprintf("%s/nvidia%d", p.root, i)
		if !isCharDevice(node) {
			break
		}
		devices = append(devices, HardwareInfo{
			ID:           fmt.Sprintf("nvidia-%d", i),
			Name:         node,
			Vendor:       VendorNVIDIA,
			Type:         DeviceTypeGPU,
			DiscoveredAt: time.Now(),
		})
	}

	if len(devices) == 0 && isCharDevice(p.root+"/kfd") {
		devices = append(devices, HardwareInfo{
			ID:           "amd-0",
			Name:         p.root + "/kfd",
			Vendor:       VendorAMD,
			Type:         DeviceTypeGPU,
			DiscoveredAt: time.Now(),
		})
	}

	return devices, nil
}

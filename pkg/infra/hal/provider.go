// Package hal probes the host for accelerators so the image generator can
// pick a device and numeric precision.
package hal

import (
	"context"
	"errors"

	"github.com/jguan/picturebook/pkg/infra/logger"
)

// ErrProbe wraps failures of a vendor tool or device scan.
var ErrProbe = errors.New("accelerator probe failed")

// Provider is one way of finding accelerators, such as a vendor CLI or a
// device node scan.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	Detect(ctx context.Context) ([]HardwareInfo, error)
}

// Detect returns the devices of the first provider that finds any. A host
// where every provider is unavailable, fails, or finds nothing is CPU-only.
func Detect(ctx context.Context, providers ...Provider) Accelerators {
	log := logger.WithContext(ctx)
	for _, p := range providers {
		if !p.Available(ctx) {
			log.Debug("accelerator provider unavailable", "provider", p.Name())
			continue
		}
		devices, err := p.Detect(ctx)
		switch {
		case err != nil:
			log.Warn("accelerator probe failed", "provider", p.Name(), "error", err)
		case len(devices) > 0:
			return Accelerators{Devices: devices, Source: p.Name()}
		}
	}
	return Accelerators{}
}

// Package nvidia finds NVIDIA GPUs with nvidia-smi.
package nvidia

import (
	"context"
	"fmt"
	"time"

	"github.com/jguan/picturebook/pkg/infra/hal"
)

type Provider struct {
	run runFunc
}

type Option func(*Provider)

// WithSMIPath runs nvidia-smi from path instead of $PATH.
func WithSMIPath(path string) Option {
	return func(p *Provider) { p.run = execRunner(path, 10*time.Second) }
}

func withRunner(run runFunc) Option {
	return func(p *Provider) { p.run = run }
}

func NewProvider(opts ...Option) *Provider {
	p := &Provider{run: execRunner("nvidia-smi", 10*time.Second)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "nvidia" }

// Available reports whether nvidia-smi runs and can talk to the driver.
func (p *Provider) Available(ctx context.Context) bool {
	_, err := p.run(ctx, "-L")
	return err == nil
}

func (p *Provider) Detect(ctx context.Context) ([]hal.HardwareInfo, error) {
	out, err := p.run(ctx, queryArgs()...)
	if err != nil {
		return nil, err
	}
	rows, err := parseRows(out)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	devices := make([]hal.HardwareInfo, 0, len(rows))
	for _, row := range rows {
		id := row.UUID
		if id == "" {
			id = fmt.Sprintf("nvidia-%d", row.Index)
		}
		devices = append(devices, hal.HardwareInfo{
			ID:           id,
			Name:         row.Name,
			Vendor:       hal.VendorNVIDIA,
			Type:         hal.DeviceTypeGPU,
			Memory:       row.MemoryMiB << 20,
			Driver:       row.DriverVersion,
			ComputeCap:   row.ComputeCap,
			DiscoveredAt: now,
		})
	}
	return devices, nil
}

package nvidia

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jguan/picturebook/pkg/infra/hal"
)

// queryFields are requested in this order and parsed positionally.
var queryFields = []string{"index", "uuid", "name", "memory.total", "driver_version", "compute_cap"}

// gpuRow is one line of nvidia-smi --query-gpu output.
type gpuRow struct {
	Index         int
	UUID          string
	Name          string
	MemoryMiB     uint64
	DriverVersion string
	ComputeCap    string
}

// runFunc executes nvidia-smi with args and returns its stdout.
type runFunc func(ctx context.Context, args ...string) ([]byte, error)

func execRunner(path string, timeout time.Duration) runFunc {
	return func(ctx context.Context, args ...string) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, path, args...)
		cmd.Stderr = &stderr
		out, err := cmd.Output()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, fmt.Errorf("%w: nvidia-smi exit %d: %s", hal.ErrProbe, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
			}
			return nil, fmt.Errorf("%w: %v", hal.ErrProbe, err)
		}
		return out, nil
	}
}

func queryArgs() []string {
	return []string{"--query-gpu=" + strings.Join(queryFields, ","), "--format=csv,noheader,nounits"}
}

// parseRows reads the CSV nvidia-smi prints for queryArgs. Fields the driver
// cannot report come back as "[N/A]" and are left empty.
func parseRows(data []byte) ([]gpuRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(queryFields)
	r.TrimLeadingSpace = true

	var rows []gpuRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parse nvidia-smi output: %v", hal.ErrProbe, err)
		}
		for i, v := range rec {
			if v = strings.TrimSpace(v); v == "[N/A]" || v == "[Not Supported]" {
				v = ""
			}
			rec[i] = v
		}

		idx, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%w: bad gpu index %q", hal.ErrProbe, rec[0])
		}
		mem, _ := strconv.ParseUint(rec[3], 10, 64)
		rows = append(rows, gpuRow{
			Index:         idx,
			UUID:          rec[1],
			Name:          rec[2],
			MemoryMiB:     mem,
			DriverVersion: rec[4],
			ComputeCap:    rec[5],
		})
	}
}

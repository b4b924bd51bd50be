package docker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Runtime for tests.
type Fake struct {
	mu         sync.Mutex
	Containers map[string]*FakeContainer

	// RunErr, when set, fails Run.
	RunErr error
	// LogText is returned by Logs for every container.
	LogText string
	// Pulls records every image reference passed to Pull.
	Pulls []string

	seq int
}

type FakeContainer struct {
	ID    string
	Spec  ServerSpec
	State string
}

func NewFake() *Fake {
	return &Fake{Containers: make(map[string]*FakeContainer)}
}

// Add registers a container that was not started through Run, such as one
// owned by another program.
func (f *Fake) Add(id, state string, spec ServerSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Containers[id] = &FakeContainer{ID: id, Spec: spec, State: state}
}

func (f *Fake) Pull(ctx context.Context, image string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pulls = append(f.Pulls, image)
	return nil
}

func (f *Fake) Run(ctx context.Context, spec ServerSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RunErr != nil {
		return "", f.RunErr
	}

	f.seq++
	id := fmt.Sprintf("fake-%d", f.seq)
	spec.Labels = managedLabels(spec.Labels)
	f.Containers[id] = &FakeContainer{ID: id, Spec: spec, State: "running"}
	return id, nil
}

func (f *Fake) Remove(ctx context.Context, id string, grace time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Containers, id)
	return nil
}

func (f *Fake) State(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Containers[id]
	if !ok {
		return "", fmt.Errorf("no such container: %s", id)
	}
	return c.State, nil
}

func (f *Fake) Logs(ctx context.Context, id string, tail int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Containers[id]; !ok {
		return "", fmt.Errorf("no such container: %s", id)
	}
	return f.LogText, nil
}

func (f *Fake) Stopped(ctx context.Context, labels map[string]string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, c := range f.Containers {
		if isLive(c.State) || c.Spec.Labels[ManagedLabel] != "true" {
			continue
		}
		if hasLabels(c.Spec.Labels, labels) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *Fake) PortHolders(ctx context.Context, port int) ([]PortHolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	holders := []PortHolder{}
	for _, c := range f.Containers {
		if c.Spec.HostPort != port {
			continue
		}
		holders = append(holders, PortHolder{
			ID:      c.ID,
			Name:    c.Spec.Name,
			Image:   c.Spec.Image,
			Managed: c.Spec.Labels[ManagedLabel] == "true",
		})
	}
	return holders, nil
}

func hasLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

var (
	_ Runtime = (*Fake)(nil)
	_ Runtime = (*Engine)(nil)
)

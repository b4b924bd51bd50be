package docker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvList_Sorted(t *testing.T) {
	got := envList(map[string]string{
		"TORCH_DTYPE": "float16",
		"MODEL_ID":    "org/model",
		"DEVICE":      "cuda",
	})
	assert.Equal(t, []string{"DEVICE=cuda", "MODEL_ID=org/model", "TORCH_DTYPE=float16"}, got)
	assert.Empty(t, envList(nil))
}

func TestManagedLabels(t *testing.T) {
	labels := managedLabels(map[string]string{"picturebook.role": "diffusion"})
	assert.Equal(t, "true", labels[ManagedLabel])
	assert.Equal(t, "diffusion", labels["picturebook.role"])
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestFake_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	require.NoError(t, f.Pull(ctx, "sd:latest"))
	assert.Equal(t, []string{"sd:latest"}, f.Pulls)

	id, err := f.Run(ctx, ServerSpec{
		Name:          "picturebook-diffusion",
		Image:         "sd:latest",
		HostPort:      7861,
		ContainerPort: 7860,
		Labels:        map[string]string{"picturebook.role": "diffusion"},
		GPU:           true,
	})
	require.NoError(t, err)

	state, err := f.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "running", state)

	holders, err := f.PortHolders(ctx, 7861)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.True(t, holders[0].Managed)
	assert.Equal(t, "picturebook-diffusion", holders[0].Name)

	// Live containers are never offered for cleanup.
	ids, err := f.Stopped(ctx, map[string]string{"picturebook.role": "diffusion"})
	require.NoError(t, err)
	assert.Empty(t, ids)

	f.Containers[id].State = "exited"
	ids, err = f.Stopped(ctx, map[string]string{"picturebook.role": "diffusion"})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)

	require.NoError(t, f.Remove(ctx, id, 0))
	require.NoError(t, f.Remove(ctx, id, 0))
	_, err = f.State(ctx, id)
	assert.Error(t, err)
}

func TestFake_ForeignContainersNotStale(t *testing.T) {
	f := NewFake()
	f.Add("web", "exited", ServerSpec{Name: "webapp", Image: "nginx", HostPort: 8080})

	ids, err := f.Stopped(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)

	holders, err := f.PortHolders(context.Background(), 8080)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.False(t, holders[0].Managed)
}

func TestFake_RunErr(t *testing.T) {
	f := NewFake()
	f.RunErr = errors.New("port is already allocated")
	_, err := f.Run(context.Background(), ServerSpec{Name: "x", Image: "y"})
	assert.EqualError(t, err, "port is already allocated")
	assert.Empty(t, f.Containers)
}

func TestFake_Logs(t *testing.T) {
	f := NewFake()
	f.LogText = "CUDA out of memory"
	f.Add("sd", "exited", ServerSpec{Name: "picturebook-diffusion"})

	logs, err := f.Logs(context.Background(), "sd", 50)
	require.NoError(t, err)
	assert.Equal(t, "CUDA out of memory", logs)

	_, err = f.Logs(context.Background(), "missing", 50)
	assert.Error(t, err)
}

package builder

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDockerAPI struct {
	pingErr     error
	buildStream string
	buildErr    error
	inspectID   string
	inspectErr  error

	gotOptions types.ImageBuildOptions
	gotContext []byte
	removed    []string
	buildCalls int
}

func (f *fakeDockerAPI) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{}, f.pingErr
}

func (f *fakeDockerAPI) ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.buildCalls++
	f.gotOptions = options
	data, _ := io.ReadAll(buildContext)
	f.gotContext = data
	if f.buildErr != nil {
		return types.ImageBuildResponse{}, f.buildErr
	}
	return types.ImageBuildResponse{Body: io.NopCloser(bytes.NewReader([]byte(f.buildStream)))}, nil
}

func (f *fakeDockerAPI) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	if f.inspectErr != nil {
		return types.ImageInspect{}, nil, f.inspectErr
	}
	return types.ImageInspect{ID: f.inspectID}, nil, nil
}

func (f *fakeDockerAPI) ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error) {
	f.removed = append(f.removed, imageID)
	return nil, nil
}

func testBuilder(api dockerAPI) *DockerBuilder {
	return &DockerBuilder{api: api, logger: zerolog.Nop()}
}

func buildContextDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM alpine\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.txt"), []byte("payload"), 0o644))
	return dir
}

func tarNames(t *testing.T, data []byte) []string {
	t.Helper()
	reader := tar.NewReader(bytes.NewReader(data))
	var names []string
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, header.Name)
	}
	return names
}

func TestBuildSuccess(t *testing.T) {
	api := &fakeDockerAPI{
		buildStream: `{"stream":"Step 1/2 : FROM alpine\n"}` + "\n" + `{"stream":"Successfully built\n"}` + "\n",
		inspectID:   "sha256:abc123",
	}
	b := testBuilder(api)
	dir := buildContextDir(t)

	artifact, err := b.Build(context.Background(), dir, ImageSpec{AppName: "Demo", Version: "2.0.0", RunID: "run-1"})

	require.NoError(t, err)
	assert.Equal(t, "demo:2.0.0", artifact.LocalTag)
	assert.Equal(t, "sha256:abc123", artifact.ImageID)
	assert.Equal(t, "Demo", artifact.AppName)

	assert.True(t, api.gotOptions.NoCache, "builds must not reuse cached layers")
	assert.Equal(t, []string{"demo:2.0.0"}, api.gotOptions.Tags)
	assert.Equal(t, "Dockerfile", api.gotOptions.Dockerfile)
	assert.Equal(t, "run-1", api.gotOptions.Labels["deploy-engine.run"])

	names := tarNames(t, api.gotContext)
	assert.Contains(t, names, "Dockerfile")
	assert.Contains(t, names, "app.txt")
}

func TestBuildContextDirMissing(t *testing.T) {
	api := &fakeDockerAPI{}
	b := testBuilder(api)

	_, err := b.Build(context.Background(), filepath.Join(t.TempDir(), "nope"), ImageSpec{AppName: "demo", Version: "1.0.0"})

	var missing *ErrContextMissing
	require.True(t, errors.As(err, &missing))
	assert.Zero(t, api.buildCalls)
}

func TestBuildDockerfileMissing(t *testing.T) {
	api := &fakeDockerAPI{}
	b := testBuilder(api)
	dir := t.TempDir()

	_, err := b.Build(context.Background(), dir, ImageSpec{AppName: "demo", Version: "1.0.0"})

	var missing *ErrContextMissing
	require.True(t, errors.As(err, &missing))
	assert.Contains(t, missing.Path, "Dockerfile")
}

func TestBuildDaemonReportsError(t *testing.T) {
	api := &fakeDockerAPI{
		buildStream: `{"stream":"Step 1/2 : FROM alpine\n"}` + "\n" +
			`{"error":"step failed","errorDetail":{"message":"step failed: exit 1"}}` + "\n",
	}
	b := testBuilder(api)
	dir := buildContextDir(t)

	_, err := b.Build(context.Background(), dir, ImageSpec{AppName: "demo", Version: "1.0.0"})

	var buildErr *ErrBuildFailed
	require.True(t, errors.As(err, &buildErr))
	assert.Contains(t, buildErr.Output, "Step 1/2")
	assert.Contains(t, buildErr.Err.Error(), "exit 1")
}

func TestBuildDaemonUnreachable(t *testing.T) {
	api := &fakeDockerAPI{pingErr: errors.New("cannot connect to the Docker daemon")}
	b := testBuilder(api)
	dir := buildContextDir(t)

	_, err := b.Build(context.Background(), dir, ImageSpec{AppName: "demo", Version: "1.0.0"})

	require.Error(t, err)
	assert.Zero(t, api.buildCalls)
}

func TestBuildExcludesMetadataDirs(t *testing.T) {
	api := &fakeDockerAPI{buildStream: `{"stream":"ok\n"}` + "\n", inspectID: "sha256:x"}
	b := testBuilder(api)
	dir := buildContextDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "config"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SECRET=1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "debug.log"), []byte("x"), 0o644))

	_, err := b.Build(context.Background(), dir, ImageSpec{AppName: "demo", Version: "1.0.0"})
	require.NoError(t, err)

	names := tarNames(t, api.gotContext)
	for _, name := range names {
		assert.NotContains(t, name, ".git/")
		assert.NotEqual(t, ".env", name)
		assert.NotEqual(t, "debug.log", name)
	}
}

func TestCleanupRemovesLocalTag(t *testing.T) {
	api := &fakeDockerAPI{}
	b := testBuilder(api)

	err := b.Cleanup(context.Background(), &Artifact{LocalTag: "demo:1.0.0"})

	require.NoError(t, err)
	assert.Equal(t, []string{"demo:1.0.0"}, api.removed)
}

func TestCleanupNilArtifact(t *testing.T) {
	api := &fakeDockerAPI{}
	b := testBuilder(api)

	require.NoError(t, b.Cleanup(context.Background(), nil))
	assert.Empty(t, api.removed)
}

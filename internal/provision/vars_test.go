package provision

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVarfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vars.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildVarsMergesVarfileAndDerived(t *testing.T) {
	path := writeVarfile(t, "environment: prod\ninstance_count: 3\nenable_cdn: true\n")

	vars, err := BuildVars(path, map[string]string{
		"app_name":  "demo",
		"image_uri": "reg/demo:2.0.0",
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"environment":    "prod",
		"instance_count": "3",
		"enable_cdn":     "true",
		"app_name":       "demo",
		"image_uri":      "reg/demo:2.0.0",
	}, vars)
}

func TestBuildVarsWithoutVarfile(t *testing.T) {
	vars, err := BuildVars("", map[string]string{"app_name": "demo"})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app_name": "demo"}, vars)
}

func TestBuildVarsConflictFails(t *testing.T) {
	path := writeVarfile(t, "app_name: other-app\n")

	_, err := BuildVars(path, map[string]string{"app_name": "demo"})

	var conflict *ErrVarConflict
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "app_name", conflict.Key)
	assert.Equal(t, "other-app", conflict.CallerValue)
	assert.Equal(t, "demo", conflict.DerivedValue)
}

func TestBuildVarsAgreeingOverlapIsFine(t *testing.T) {
	path := writeVarfile(t, "app_name: demo\n")

	vars, err := BuildVars(path, map[string]string{"app_name": "demo"})

	require.NoError(t, err)
	assert.Equal(t, "demo", vars["app_name"])
}

func TestBuildVarsRejectsNestedValues(t *testing.T) {
	path := writeVarfile(t, "tags:\n  team: platform\n")

	_, err := BuildVars(path, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scalar")
}

func TestBuildVarsMissingFile(t *testing.T) {
	_, err := BuildVars(filepath.Join(t.TempDir(), "nope.yaml"), nil)

	require.Error(t, err)
}

func TestBuildVarsMalformedYAML(t *testing.T) {
	path := writeVarfile(t, "environment: [unclosed\n")

	_, err := BuildVars(path, nil)

	require.Error(t, err)
}

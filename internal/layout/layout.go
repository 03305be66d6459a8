// Package layout verifies the on-disk shape of a deployment before any stage
// runs: the image build context with its Dockerfile, and the provisioning
// workspace with its templates. Verification is read-only.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// DockerfileName is the build descriptor expected inside the context.
const DockerfileName = "Dockerfile"

// VarfileName is the optional caller-managed variable file inside the
// provisioning workspace.
const VarfileName = "vars.yaml"

// ErrInvalid reports a layout precondition that does not hold. The pipeline
// treats it as fatal before any external side effect.
type ErrInvalid struct {
	Path   string
	Reason string
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("invalid layout at %s: %s", e.Path, e.Reason)
}

// Layout describes a verified deployment tree. All paths are absolute.
type Layout struct {
	// ContextDir is the image build context directory.
	ContextDir string
	// DockerfilePath is the build descriptor inside ContextDir.
	DockerfilePath string
	// WorkspaceDir is the provisioning workspace.
	WorkspaceDir string
	// Templates are the workspace's top-level template files, sorted.
	Templates []string
	// VarfilePath is the workspace variable file, empty when absent.
	VarfilePath string
}

// Verify checks that the build context holds a Dockerfile and the workspace
// holds at least one terraform template. It returns the resolved layout or an
// ErrInvalid naming the first precondition that failed.
func Verify(contextDir, workspaceDir string) (*Layout, error) {
	ctxDir, err := requireDir(contextDir, "build context")
	if err != nil {
		return nil, err
	}
	wsDir, err := requireDir(workspaceDir, "provisioning workspace")
	if err != nil {
		return nil, err
	}

	dockerfile := filepath.Join(ctxDir, DockerfileName)
	if info, err := os.Stat(dockerfile); err != nil || info.IsDir() {
		return nil, &ErrInvalid{Path: ctxDir, Reason: fmt.Sprintf("%s not found in build context", DockerfileName)}
	}

	entries, err := os.ReadDir(wsDir)
	if err != nil {
		return nil, &ErrInvalid{Path: wsDir, Reason: fmt.Sprintf("failed to read workspace: %v", err)}
	}

	result := &Layout{
		ContextDir:     ctxDir,
		DockerfilePath: dockerfile,
		WorkspaceDir:   wsDir,
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".tf") {
			result.Templates = append(result.Templates, entry.Name())
		}
		if entry.Name() == VarfileName {
			result.VarfilePath = filepath.Join(wsDir, entry.Name())
		}
	}
	if len(result.Templates) == 0 {
		return nil, &ErrInvalid{Path: wsDir, Reason: "no terraform templates (*.tf) found in workspace"}
	}
	sort.Strings(result.Templates)

	log.Debug().
		Str("context", result.ContextDir).
		Str("workspace", result.WorkspaceDir).
		Int("templates", len(result.Templates)).
		Bool("has_varfile", result.VarfilePath != "").
		Msg("Layout verified")

	return result, nil
}

func requireDir(path, role string) (string, error) {
	if path == "" {
		return "", &ErrInvalid{Path: path, Reason: fmt.Sprintf("%s directory not configured", role)}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &ErrInvalid{Path: path, Reason: fmt.Sprintf("failed to resolve %s path: %v", role, err)}
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return "", &ErrInvalid{Path: abs, Reason: fmt.Sprintf("%s directory does not exist", role)}
	}
	if err != nil {
		return "", &ErrInvalid{Path: abs, Reason: fmt.Sprintf("failed to stat %s: %v", role, err)}
	}
	if !info.IsDir() {
		return "", &ErrInvalid{Path: abs, Reason: fmt.Sprintf("%s path is not a directory", role)}
	}
	return abs, nil
}

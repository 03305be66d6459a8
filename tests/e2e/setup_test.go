//go:build e2e

package e2e

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/alvesdmateus/deploy-engine/internal/command"
	"github.com/alvesdmateus/deploy-engine/internal/provision"
)

// E2E tests run the real provisioner binary against throwaway workspaces.
// They skip when the binary is not installed. Point them at another binary
// (tofu, a pinned terraform) with E2E_PROVISIONER_BINARY.

func provisionerBinary() string {
	if binary := os.Getenv("E2E_PROVISIONER_BINARY"); binary != "" {
		return binary
	}
	return "terraform"
}

// requireProvisioner builds an engine on the real binary or skips the test.
func requireProvisioner(t *testing.T) *provision.Engine {
	t.Helper()

	binary := provisionerBinary()
	if _, err := exec.LookPath(binary); err != nil {
		t.Skipf("%s not installed: %v", binary, err)
	}

	logger := zerolog.Nop()
	runner := command.NewExecRunner(logger, 256*1024)
	return provision.NewEngine(runner, provision.Config{
		Binary:         binary,
		InitTimeout:    2 * time.Minute,
		PlanTimeout:    2 * time.Minute,
		ApplyTimeout:   2 * time.Minute,
		DestroyTimeout: 2 * time.Minute,
	}, logger)
}

// writeWorkspace creates a throwaway workspace from the given files.
func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return dir
}

// outputOnlyConfig declares the engine-derived variables and exposes them as
// outputs. It needs no providers, so init works without network access.
const outputOnlyConfig = `
variable "app_name" {
  type = string
}

variable "image_uri" {
  type = string
}

variable "environment" {
  type    = string
  default = "development"
}

output "deployed_image" {
  value = var.image_uri
}

output "deployed_app" {
  value = "${var.app_name}-${var.environment}"
}
`

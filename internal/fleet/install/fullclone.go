package install

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/haasonsaas/toolmesh/internal/wire"
)

// FullClone installs a service by cloning its full source repository,
// for tool servers that need a build step or bundled resources the
// lightweight single-file method can't carry (spec.md §6's full_clone
// method).
type FullClone struct {
	GitBinary string
}

func (f FullClone) git() string {
	if f.GitBinary != "" {
		return f.GitBinary
	}
	return "git"
}

func (f FullClone) Install(ctx context.Context, storageRoot string, desc wire.ServiceDescriptor, source string) (*Result, error) {
	if source == "" {
		return nil, fmt.Errorf("install: full_clone method requires a source repository URL")
	}

	installDir := serviceInstallDir(storageRoot, desc.ServiceID)

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	_, err := stageThenActivate(installDir, func(stageDir string) error {
		repoDir := filepath.Join(stageDir, "repo")
		cmd := exec.CommandContext(ctx, f.git(), "clone", "--depth", "1", source, repoDir)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("clone %s: %w", source, err)
		}
		data, err := json.MarshalIndent(desc, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(stageDir, "service.json"), data, 0o644)
	})
	if err != nil {
		return nil, err
	}
	return &Result{Descriptor: desc, InstallDir: installDir, Installed: true}, nil
}

func (f FullClone) Uninstall(ctx context.Context, storageRoot string, serviceID string) error {
	return os.RemoveAll(serviceInstallDir(storageRoot, serviceID))
}

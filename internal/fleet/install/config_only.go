package install

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haasonsaas/toolmesh/internal/wire"
)

// ConfigOnly installs a service by writing only its descriptor to disk:
// no runnable artifact is fetched, because the service's entry point is
// expected to already exist on the host (spec.md §6's config_only method).
type ConfigOnly struct{}

func (ConfigOnly) Install(ctx context.Context, storageRoot string, desc wire.ServiceDescriptor, source string) (*Result, error) {
	installDir := serviceInstallDir(storageRoot, desc.ServiceID)
	_, err := stageThenActivate(installDir, func(stageDir string) error {
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

func (ConfigOnly) Uninstall(ctx context.Context, storageRoot string, serviceID string) error {
	dir := serviceInstallDir(storageRoot, serviceID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("install: uninstall config_only %s: %w", serviceID, err)
	}
	return nil
}

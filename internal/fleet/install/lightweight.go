package install

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/toolmesh/internal/wire"
)

// Lightweight installs a service by downloading a single entry-point
// artifact (e.g. a script or small binary) from source, grounded on the
// teacher's marketplace.Installer.extractArtifactToDir raw-binary case.
type Lightweight struct {
	HTTPClient *http.Client
}

func (l Lightweight) client() *http.Client {
	if l.HTTPClient != nil {
		return l.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (l Lightweight) Install(ctx context.Context, storageRoot string, desc wire.ServiceDescriptor, source string) (*Result, error) {
	if source == "" {
		return nil, fmt.Errorf("install: lightweight method requires a source URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("install: build download request: %w", err)
	}
	resp, err := l.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("install: download entry point: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("install: download entry point: unexpected status %s", resp.Status)
	}

	installDir := serviceInstallDir(storageRoot, desc.ServiceID)
	entryName := filepath.Base(desc.EntryPoint)
	if entryName == "" || entryName == "." {
		entryName = "entrypoint"
	}

	_, err = stageThenActivate(installDir, func(stageDir string) error {
		dst, err := os.OpenFile(filepath.Join(stageDir, entryName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			return err
		}
		defer dst.Close()
		if _, err := io.Copy(dst, resp.Body); err != nil {
			return err
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

func (l Lightweight) Uninstall(ctx context.Context, storageRoot string, serviceID string) error {
	return os.RemoveAll(serviceInstallDir(storageRoot, serviceID))
}

package fleet

import (
	"testing"

	"github.com/haasonsaas/toolmesh/internal/wire"
)

func TestWriteAndReadInstallationConfig(t *testing.T) {
	root := t.TempDir()
	cfg := wire.InstallationConfig{
		ServiceID:     "weather",
		InstallMethod: "config_only",
		InstalledAt:   1000,
		UpdatedAt:     1000,
		Descriptor:    wire.ServiceDescriptor{ServiceID: "weather", Name: "Weather"},
	}
	if err := WriteInstallationConfig(root, cfg); err != nil {
		t.Fatalf("WriteInstallationConfig: %v", err)
	}

	got, err := ReadInstallationConfig(root, "weather")
	if err != nil {
		t.Fatalf("ReadInstallationConfig: %v", err)
	}
	if got == nil || got.ServiceID != "weather" {
		t.Fatalf("unexpected config: %+v", got)
	}
}

func TestReadInstallationConfigMissingReturnsNil(t *testing.T) {
	root := t.TempDir()
	got, err := ReadInstallationConfig(root, "does-not-exist")
	if err != nil {
		t.Fatalf("ReadInstallationConfig: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing config, got %+v", got)
	}
}

func TestListInstalledServiceIDs(t *testing.T) {
	root := t.TempDir()
	for _, id := range []string{"a", "b"} {
		if err := WriteInstallationConfig(root, wire.InstallationConfig{ServiceID: id}); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}
	ids, err := ListInstalledServiceIDs(root)
	if err != nil {
		t.Fatalf("ListInstalledServiceIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	root := t.TempDir()
	if err := WritePIDFile(root, "weather", 4242); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	pid, err := ReadPIDFile(root, "weather")
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != 4242 {
		t.Fatalf("expected pid 4242, got %d", pid)
	}
	if err := RemovePIDFile(root, "weather"); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	pid, err = ReadPIDFile(root, "weather")
	if err != nil {
		t.Fatalf("ReadPIDFile after remove: %v", err)
	}
	if pid != 0 {
		t.Fatalf("expected 0 pid after removal, got %d", pid)
	}
}

package fleet

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverBuiltinsScansDescriptorFiles(t *testing.T) {
	dir := t.TempDir()
	svcDir := filepath.Join(dir, "weather")
	if err := os.MkdirAll(svcDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	descriptor := `
service_id: weather
name: Weather
entry_point: weather-server
transport: http
capabilities:
  - name: forecast
    required_params: [city]
`
	if err := os.WriteFile(filepath.Join(svcDir, "service.yaml"), []byte(descriptor), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}

	descriptors, err := DiscoverBuiltins(dir)
	if err != nil {
		t.Fatalf("DiscoverBuiltins: %v", err)
	}
	if len(descriptors) != 1 || descriptors[0].ServiceID != "weather" {
		t.Fatalf("unexpected discovery result: %+v", descriptors)
	}
}

func TestDiscoverBuiltinsMissingDirFallsBackToTemplates(t *testing.T) {
	descriptors, err := DiscoverBuiltins(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("DiscoverBuiltins: %v", err)
	}
	if len(descriptors) != len(BuiltinTemplates) {
		t.Fatalf("expected fallback to BuiltinTemplates, got %d entries", len(descriptors))
	}
}

func TestDiscoverBuiltinsDuplicateServiceIDErrors(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"a", "b"} {
		svcDir := filepath.Join(dir, sub)
		if err := os.MkdirAll(svcDir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		descriptor := `service_id: dup
name: Dup
`
		if err := os.WriteFile(filepath.Join(svcDir, "service.yaml"), []byte(descriptor), 0o644); err != nil {
			t.Fatalf("write descriptor: %v", err)
		}
	}

	if _, err := DiscoverBuiltins(dir); err == nil {
		t.Fatal("expected duplicate service_id to be an error")
	}
}

package fleet

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/toolmesh/internal/wire"
	"gopkg.in/yaml.v3"
)

const descriptorFilename = "service.yaml"
const descriptorFilenameJSON = "service.json"

// BuiltinTemplates is the hardcoded per-canonical-ID fallback catalog
// consulted when a builtin candidate directory has no service descriptor
// file of its own (spec.md §6's "falls back to a hardcoded per-tool
// template (keyed by canonical ID) that provides defaults for port,
// capabilities, and transport").
var BuiltinTemplates = []wire.ServiceDescriptor{
	{
		ServiceID:   "microsandbox",
		Name:        "microsandbox",
		Description: "Sandboxed code execution service",
		Port:        8101,
		Transport:   "websocket",
		Capabilities: []wire.CapabilitySpec{
			{Name: "run_code", RequiredParams: []string{"language", "code"}},
		},
		DefaultAction: "run_code",
		AutoStart:     boolPtr(true),
		AutoRestart:   boolPtr(true),
	},
	{
		ServiceID:   "deepsearch",
		Name:        "deepsearch",
		Description: "Multi-step research and retrieval service",
		Port:        8102,
		Transport:   "websocket",
		Capabilities: []wire.CapabilitySpec{
			{Name: "research", RequiredParams: []string{"query"}},
		},
		DefaultAction: "research",
		AutoStart:     boolPtr(true),
		AutoRestart:   boolPtr(true),
	},
	{
		ServiceID:   "browser_use",
		Name:        "browser_use",
		Description: "Headless browser automation service",
		Port:        8103,
		Transport:   "websocket",
		Capabilities: []wire.CapabilitySpec{
			{Name: "navigate", RequiredParams: []string{"url"}},
			{Name: "click", RequiredParams: []string{"selector"}},
		},
		DefaultAction: "navigate",
		AutoStart:     boolPtr(true),
		AutoRestart:   boolPtr(true),
	},
	{
		ServiceID:   "search_tool",
		Name:        "search_tool",
		Description: "Web search service",
		Port:        8104,
		Transport:   "http",
		Capabilities: []wire.CapabilitySpec{
			{Name: "search", RequiredParams: []string{"query"}},
		},
		DefaultAction: "search",
		AutoStart:     boolPtr(true),
		AutoRestart:   boolPtr(true),
	},
}

// boolPtr returns a pointer to b, used to set a descriptor's tri-state
// AutoStart/AutoRestart fields explicitly rather than leaving them nil
// (nil means "use the fleet default"; see fleet.Container.resolveSupervision).
func boolPtr(b bool) *bool { return &b }

type discoveryCacheEntry struct {
	expires     time.Time
	descriptors []wire.ServiceDescriptor
}

var discoveryCache = struct {
	mu      sync.Mutex
	entries map[string]discoveryCacheEntry
}{entries: make(map[string]discoveryCacheEntry)}

const defaultDiscoveryCacheTTL = 2 * time.Second

// DiscoverBuiltins scans dir for per-service descriptor files
// (service.yaml/service.json), one subdirectory per service. A direct
// subdirectory named after a BuiltinTemplates entry that has no descriptor
// gets that template; when dir doesn't exist or yields nothing at all,
// every template is returned (spec.md §6's "builtin discovery").
func DiscoverBuiltins(dir string) ([]wire.ServiceDescriptor, error) {
	if cached, ok := cachedDiscovery(dir); ok {
		return cached, nil
	}

	descriptors, err := scanBuiltinsDir(dir)
	if err != nil {
		return nil, err
	}
	if len(descriptors) == 0 {
		descriptors = append([]wire.ServiceDescriptor{}, BuiltinTemplates...)
	}

	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].ServiceID < descriptors[j].ServiceID })
	storeDiscovery(dir, descriptors)
	return descriptors, nil
}

func scanBuiltinsDir(dir string) ([]wire.ServiceDescriptor, error) {
	if dir == "" {
		return nil, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fleet: stat builtins dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fleet: builtins path %s is not a directory", dir)
	}

	seen := make(map[string]string) // service_id -> source path, for duplicate detection
	var descriptors []wire.ServiceDescriptor

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if name != descriptorFilename && name != descriptorFilenameJSON {
			return nil
		}
		desc, err := decodeDescriptorFile(path)
		if err != nil {
			return fmt.Errorf("fleet: load descriptor %s: %w", path, err)
		}
		if desc.ServiceID == "" {
			return fmt.Errorf("fleet: descriptor %s missing service_id", path)
		}
		if existing, dup := seen[desc.ServiceID]; dup {
			return fmt.Errorf("fleet: duplicate service_id %q (%s, %s)", desc.ServiceID, existing, path)
		}
		seen[desc.ServiceID] = path
		descriptors = append(descriptors, *desc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A direct subdirectory named after a template, with no descriptor for
	// that service_id, falls back to the template.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if _, described := seen[e.Name()]; !e.IsDir() || described {
			continue
		}
		for _, tmpl := range BuiltinTemplates {
			if tmpl.ServiceID == e.Name() {
				descriptors = append(descriptors, tmpl)
			}
		}
	}
	return descriptors, nil
}

func decodeDescriptorFile(path string) (*wire.ServiceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var desc wire.ServiceDescriptor
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &desc); err != nil {
			return nil, err
		}
		return &desc, nil
	}
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

func cachedDiscovery(dir string) ([]wire.ServiceDescriptor, bool) {
	discoveryCache.mu.Lock()
	defer discoveryCache.mu.Unlock()
	entry, ok := discoveryCache.entries[dir]
	if !ok || time.Now().After(entry.expires) {
		delete(discoveryCache.entries, dir)
		return nil, false
	}
	return append([]wire.ServiceDescriptor{}, entry.descriptors...), true
}

func storeDiscovery(dir string, descriptors []wire.ServiceDescriptor) {
	discoveryCache.mu.Lock()
	defer discoveryCache.mu.Unlock()
	discoveryCache.entries[dir] = discoveryCacheEntry{
		expires:     time.Now().Add(defaultDiscoveryCacheTTL),
		descriptors: append([]wire.ServiceDescriptor{}, descriptors...),
	}
}

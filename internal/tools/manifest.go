// ABOUTME: Builds, writes and reads the tool manifest presented to the model.
// ABOUTME: Writes are atomic so a failed build never leaves a partial manifest.

package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xiaolintangyuan/tool-foundry/internal/llm"
)

// Manifest is the ordered list of entries sent as "tools" on every model call.
type Manifest []llm.ToolParam

// Names returns the tool names in manifest order.
func (m Manifest) Names() []string {
	names := make([]string, 0, len(m))
	for _, entry := range m {
		if entry.Function != nil {
			names = append(names, entry.Function.Name)
		}
	}
	return names
}

// Entry converts a descriptor to its manifest projection.
func Entry(d *Descriptor) llm.ToolParam {
	return llm.ToolParam{
		Type: llm.ToolTypeFunction,
		Function: &llm.ToolFunction{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		},
	}
}

// ManifestOption configures BuildManifest.
type ManifestOption func(*manifestOptions)

type manifestOptions struct {
	allowOverride bool
}

// WithOverride makes a later candidate replace an earlier one of the same
// name, in the earlier one's position, matching RegistryConfig.AllowOverride.
func WithOverride(allow bool) ManifestOption {
	return func(o *manifestOptions) { o.allowOverride = allow }
}

// BuildManifest projects every complete candidate of every module, in module
// order. Incomplete candidates are skipped. Two complete candidates with the
// same name fail the build with ErrToolCollision unless WithOverride is set.
func BuildManifest(modules []Module, opts ...ManifestOption) (Manifest, error) {
	var o manifestOptions
	for _, opt := range opts {
		opt(&o)
	}

	manifest := Manifest{}
	owner := make(map[string]string)
	position := make(map[string]int)

	for _, m := range modules {
		candidates, err := m.Candidates()
		if err != nil {
			return nil, err
		}
		for _, d := range candidates {
			if !d.Complete() {
				continue
			}
			if !json.Valid(d.Parameters) {
				return nil, fmt.Errorf("%w: tool %q in module %q has invalid parameters JSON", ErrDiscovery, d.Name, m.Name)
			}
			if prev, exists := owner[d.Name]; exists {
				if !o.allowOverride {
					return nil, fmt.Errorf("%w: tool '%s' declared by module '%s' and '%s'",
						ErrToolCollision, d.Name, prev, m.Name)
				}
				owner[d.Name] = m.Name
				manifest[position[d.Name]] = Entry(d)
				continue
			}
			owner[d.Name] = m.Name
			position[d.Name] = len(manifest)
			manifest = append(manifest, Entry(d))
		}
	}

	return manifest, nil
}

// WriteManifest replaces path with the manifest. The file is written to a
// temporary sibling and renamed into place.
func WriteManifest(path string, manifest Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tools-*.json")
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp manifest: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting manifest permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	seen := make(map[string]bool, len(manifest))
	for i, entry := range manifest {
		if entry.Type != llm.ToolTypeFunction || entry.Function == nil || entry.Function.Name == "" {
			return nil, fmt.Errorf("manifest entry %d is not a named function tool", i)
		}
		if seen[entry.Function.Name] {
			return nil, fmt.Errorf("%w: manifest lists %q twice", ErrToolCollision, entry.Function.Name)
		}
		seen[entry.Function.Name] = true
	}

	return manifest, nil
}

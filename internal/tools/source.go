// ABOUTME: Loads declarative tool modules from a source directory.
// ABOUTME: TOML, YAML and JSON files may declare one tool or a table of tools.

package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Bindings maps handler keys (e.g. "calculator.add") to in-process callables
// that declarative tools can reference.
type Bindings map[string]Handler

// Keys returns the binding keys in sorted order.
func (b Bindings) Keys() []string {
	return sortedKeys(b)
}

// LoadDir reads every supported file in dir as one Module, in sorted file
// name order. A directory that cannot be listed, a file that cannot be
// decoded and an unknown handler key are all fatal.
func LoadDir(dir string, bindings Bindings) ([]Module, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", ErrDiscovery, dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if decoderFor(e.Name()) == nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	modules := make([]Module, 0, len(names))
	for _, name := range names {
		m, err := LoadFile(filepath.Join(dir, name), bindings)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

// LoadFile decodes one declarative tool module.
func LoadFile(path string, bindings Bindings) (Module, error) {
	base := filepath.Base(path)
	moduleName := strings.TrimSuffix(base, filepath.Ext(base))

	decode := decoderFor(base)
	if decode == nil {
		return Module{}, fmt.Errorf("%w: %s: unsupported file type", ErrDiscovery, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Module{}, fmt.Errorf("%w: reading %s: %v", ErrDiscovery, path, err)
	}

	var doc map[string]any
	if err := decode(data, &doc); err != nil {
		return Module{}, fmt.Errorf("%w: decoding %s: %v", ErrDiscovery, path, err)
	}

	// A top-level name means the file is a single tool.
	if _, single := doc["name"]; single {
		d, err := declaredTool(moduleName, doc, bindings)
		if err != nil {
			return Module{}, err
		}
		return Module{Name: moduleName, Export: d}, nil
	}

	table := doc
	if nested, ok := doc["tools"].(map[string]any); ok && len(doc) == 1 {
		table = nested
	}

	export := make(map[string]*Descriptor, len(table))
	for key, v := range table {
		fields, ok := v.(map[string]any)
		if !ok {
			continue
		}
		d, err := declaredTool(moduleName, fields, bindings)
		if err != nil {
			return Module{}, err
		}
		export[key] = d
	}
	return Module{Name: moduleName, Export: export}, nil
}

// declaredTool builds a descriptor from decoded fields. Missing or mistyped
// name and description leave the descriptor incomplete rather than failing.
func declaredTool(module string, fields map[string]any, bindings Bindings) (*Descriptor, error) {
	d := &Descriptor{}
	d.Name, _ = fields["name"].(string)
	d.Description, _ = fields["description"].(string)

	if params, ok := fields["parameters"]; ok && params != nil {
		obj, isObj := params.(map[string]any)
		if !isObj {
			return nil, fmt.Errorf("%w: module %q tool %q: parameters must be an object", ErrDiscovery, module, d.Name)
		}
		raw, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("%w: module %q tool %q: encoding parameters: %v", ErrDiscovery, module, d.Name, err)
		}
		d.Parameters = raw
	}

	if key, ok := fields["handler"].(string); ok && key != "" {
		h, found := bindings[key]
		if !found {
			return nil, fmt.Errorf("%w: module %q tool %q: unknown handler %q", ErrDiscovery, module, d.Name, key)
		}
		d.Invoke = h
	}

	return d, nil
}

type decodeFunc func(data []byte, v *map[string]any) error

func decoderFor(name string) decodeFunc {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		return func(data []byte, v *map[string]any) error {
			_, err := toml.Decode(string(data), v)
			return err
		}
	case ".yaml", ".yml":
		return func(data []byte, v *map[string]any) error {
			return yaml.Unmarshal(data, v)
		}
	case ".json":
		return func(data []byte, v *map[string]any) error {
			return json.Unmarshal(data, v)
		}
	default:
		return nil
	}
}

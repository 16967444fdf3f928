// ABOUTME: Tool descriptor and module contract shared by every tool source.
// ABOUTME: Flattens single-descriptor and mapping exports into an ordered candidate list.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrDiscovery marks a tool source that could not be loaded or is malformed.
// Discovery errors are fatal at build time and at startup.
var ErrDiscovery = errors.New("tool discovery failed")

// Handler executes a tool. args is the JSON object the model produced.
// The result must be JSON-serializable.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Descriptor is the schema + callable pair a tool exposes.
type Descriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Invoke      Handler
}

// Complete reports whether the descriptor can appear in a manifest.
func (d *Descriptor) Complete() bool {
	return d != nil && d.Name != "" && d.Description != "" && len(d.Parameters) > 0
}

// Callable reports whether the descriptor can be dispatched.
func (d *Descriptor) Callable() bool {
	return d != nil && d.Name != "" && d.Invoke != nil
}

// Module is one discovery unit. Export is either a single descriptor
// (Descriptor or *Descriptor) or a mapping of them
// (map[string]Descriptor or map[string]*Descriptor).
type Module struct {
	Name   string
	Export any
}

// Candidates flattens the module export. Mapping keys carry no meaning and
// are walked in sorted order so discovery is deterministic.
func (m Module) Candidates() ([]*Descriptor, error) {
	switch exp := m.Export.(type) {
	case nil:
		return nil, nil
	case *Descriptor:
		if exp == nil {
			return nil, nil
		}
		return []*Descriptor{exp}, nil
	case Descriptor:
		return []*Descriptor{&exp}, nil
	case []*Descriptor:
		return exp, nil
	case map[string]*Descriptor:
		out := make([]*Descriptor, 0, len(exp))
		for _, k := range sortedKeys(exp) {
			if exp[k] != nil {
				out = append(out, exp[k])
			}
		}
		return out, nil
	case map[string]Descriptor:
		out := make([]*Descriptor, 0, len(exp))
		for _, k := range sortedKeys(exp) {
			d := exp[k]
			out = append(out, &d)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: module %q exports unsupported type %T", ErrDiscovery, m.Name, m.Export)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

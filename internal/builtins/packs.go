// ABOUTME: Catalog of compiled-in tool packs and the handler bindings they expose.
// ABOUTME: Resolves pack names from configuration into tool modules.

package builtins

import (
	"errors"
	"fmt"
	"sort"

	"github.com/xiaolintangyuan/tool-foundry/internal/store"
	"github.com/xiaolintangyuan/tool-foundry/internal/tools"
)

// ErrUnknownPack is returned for a pack name that is not compiled in.
var ErrUnknownPack = errors.New("unknown builtin pack")

// ErrPackUnavailable is returned when a pack's dependencies are missing.
var ErrPackUnavailable = errors.New("builtin pack unavailable")

// Deps carries what packs may need. Nil fields disable the packs that need them.
type Deps struct {
	Notes store.NoteStore
}

// PackNames lists every compiled-in pack.
func PackNames() []string {
	return []string{"calculator", "notes"}
}

// Pack resolves a pack by name.
func Pack(name string, deps Deps) (tools.Module, error) {
	switch name {
	case "calculator":
		return CalculatorPack(), nil
	case "notes":
		if deps.Notes == nil {
			return tools.Module{}, fmt.Errorf("%w: %q needs database.path", ErrPackUnavailable, name)
		}
		return NotesPack(deps.Notes), nil
	default:
		return tools.Module{}, fmt.Errorf("%w: %q", ErrUnknownPack, name)
	}
}

// Packs resolves names in order.
func Packs(names []string, deps Deps) ([]tools.Module, error) {
	modules := make([]tools.Module, 0, len(names))
	for _, name := range names {
		m, err := Pack(name, deps)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

// Bindings exposes every available handler as "<pack>.<tool>" so declarative
// tool files can reuse compiled-in implementations under their own names.
func Bindings(deps Deps) tools.Bindings {
	bindings := tools.Bindings{}
	for _, name := range PackNames() {
		m, err := Pack(name, deps)
		if err != nil {
			continue
		}
		candidates, err := m.Candidates()
		if err != nil {
			continue
		}
		for _, d := range candidates {
			if d.Invoke != nil {
				bindings[m.Name+"."+d.Name] = d.Invoke
			}
		}
	}
	return bindings
}

// ToolNames returns the tool names a pack provides, sorted.
func ToolNames(m tools.Module) []string {
	candidates, _ := m.Candidates()
	names := make([]string, 0, len(candidates))
	for _, d := range candidates {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

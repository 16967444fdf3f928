// ABOUTME: Dispatch table mapping tool names to their callables.
// ABOUTME: Built once at startup, collision-checked, then sealed read-only.

package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// ErrRegistrySealed indicates a registration attempt after startup finished.
var ErrRegistrySealed = errors.New("registry sealed")

// Tool is a registered, dispatchable tool.
type Tool struct {
	Descriptor *Descriptor
	Module     string

	// schema is nil when the descriptor carries no parameter schema.
	schema *jsonschema.Resolved
}

// Registry is the dispatch table.
type Registry struct {
	mu            sync.RWMutex
	tools         map[string]*Tool
	order         []string
	sealed        bool
	allowOverride bool
	logger        *slog.Logger
}

// RegistryConfig contains configuration options for the Registry.
type RegistryConfig struct {
	Logger *slog.Logger

	// AllowOverride makes the last registration of a name win (with a
	// warning) instead of failing with ErrToolCollision.
	AllowOverride bool
}

// NewRegistry creates a new Registry instance.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:         make(map[string]*Tool),
		allowOverride: cfg.AllowOverride,
		logger:        logger,
	}
}

// Register adds one callable descriptor under module.
// Returns ErrToolCollision if the name exists and overrides are not allowed.
func (r *Registry) Register(module string, d *Descriptor) error {
	if !d.Callable() {
		return fmt.Errorf("%w: tool %q in module %q has no callable", ErrDiscovery, d.Name, module)
	}

	schema, err := compileSchema(d.Parameters)
	if err != nil {
		return fmt.Errorf("%w: tool %q in module %q: %v", ErrDiscovery, d.Name, module, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}

	if existing, exists := r.tools[d.Name]; exists {
		if !r.allowOverride {
			return fmt.Errorf("%w: tool '%s' already registered by module '%s'",
				ErrToolCollision, d.Name, existing.Module)
		}
		r.logger.Warn("tool overridden",
			"tool_name", d.Name,
			"previous_module", existing.Module,
			"module", module,
		)
	} else {
		r.order = append(r.order, d.Name)
	}

	r.tools[d.Name] = &Tool{Descriptor: d, Module: module, schema: schema}
	return nil
}

// RegisterModule registers every callable candidate of a module.
// Candidates without a callable are manifest-only and are skipped.
func (r *Registry) RegisterModule(m Module) error {
	candidates, err := m.Candidates()
	if err != nil {
		return err
	}

	registered := 0
	for _, d := range candidates {
		if !d.Callable() {
			r.logger.Debug("skipping non-callable tool", "module", m.Name, "tool_name", d.Name)
			continue
		}
		if err := r.Register(m.Name, d); err != nil {
			return err
		}
		registered++
	}

	r.logger.Info("=== MODULE REGISTERED ===",
		"module", m.Name,
		"tool_count", registered,
	)
	return nil
}

// Seal makes the registry read-only. Registration after Seal fails.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	r.logger.Info("registry sealed", "total_tools", len(r.tools))
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns the tool registered under name, or nil.
func (r *Registry) Lookup(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Missing returns the manifest names that have no callable in the registry.
func (r *Registry) Missing(m Manifest) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, name := range m.Names() {
		if _, ok := r.tools[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// compileSchema resolves a parameter schema for argument validation.
func compileSchema(raw json.RawMessage) (*jsonschema.Resolved, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parsing parameter schema: %w", err)
	}

	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("resolving parameter schema: %w", err)
	}
	return resolved, nil
}

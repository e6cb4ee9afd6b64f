package plugin

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Factory constructs plugin instances of one kind. ConfigSchema, when
// non-empty, is a draft-7 JSON schema the instance's Config map must satisfy
// before New is called; schema failures abort plugin load.
type Factory struct {
	New          func(cfg PluginConfig) (Plugin, error)
	ConfigSchema string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
	compiled   = map[string]*jsonschema.Schema{}
)

// Register adds a plugin factory under kind. Built-in plugins call it from
// init(); registering the same kind twice panics, since that is a programmer
// error caught at startup.
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("plugin kind %q registered twice", kind))
	}
	if f.New == nil {
		panic(fmt.Sprintf("plugin kind %q registered without a constructor", kind))
	}
	registry[kind] = f
}

// Lookup returns the factory for kind.
func Lookup(kind string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[kind]
	return f, ok
}

// Kinds returns the registered plugin kinds, sorted.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// ValidateConfig checks cfg.Config against the kind's declared schema.
// The config map is round-tripped through encoding/json first so YAML-decoded
// values (ints, map[string]any) reach the validator in canonical JSON types.
func ValidateConfig(cfg PluginConfig) error {
	f, ok := Lookup(cfg.Kind)
	if !ok {
		return fmt.Errorf("unknown plugin kind: %q", cfg.Kind)
	}
	if f.ConfigSchema == "" {
		return nil
	}

	sch, err := compileSchema(cfg.Kind, f.ConfigSchema)
	if err != nil {
		return fmt.Errorf("plugin kind %q has an invalid config schema: %w", cfg.Kind, err)
	}

	raw, err := json.Marshal(cfg.Config)
	if err != nil {
		return fmt.Errorf("plugin %q: config is not serializable: %w", cfg.Name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("plugin %q: config round-trip failed: %w", cfg.Name, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("plugin %q: invalid config: %w", cfg.Name, err)
	}
	return nil
}

func compileSchema(kind, schema string) (*jsonschema.Schema, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if sch, ok := compiled[kind]; ok {
		return sch, nil
	}
	sch, err := jsonschema.CompileString(kind+"-config.json", schema)
	if err != nil {
		return nil, err
	}
	compiled[kind] = sch
	return sch, nil
}

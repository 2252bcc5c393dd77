package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is one persona loaded from the personas directory.
type Definition struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
}

// Registry is the set of known personas, built once at startup and injected.
// Persona availability is a declared input, not a filesystem side effect at
// resolution time.
type Registry struct {
	defs map[string]Definition
}

func NewRegistry(defs []Definition) (*Registry, error) {
	byID := make(map[string]Definition, len(defs))
	for _, def := range defs {
		id := strings.TrimSpace(def.ID)
		if id == "" {
			return nil, fmt.Errorf("persona id is required")
		}
		if strings.TrimSpace(def.SystemPrompt) == "" {
			return nil, fmt.Errorf("persona %q: system_prompt is required", id)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("persona %q is defined twice", id)
		}
		def.ID = id
		byID[id] = def
	}
	return &Registry{defs: byID}, nil
}

// LoadRegistry reads every *.yaml / *.yml file under dir. A file without an
// explicit id uses its base name.
func LoadRegistry(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read personas dir %s: %w", dir, err)
	}

	var defs []Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read persona file %s: %w", name, err)
		}
		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse persona file %s: %w", name, err)
		}
		if strings.TrimSpace(def.ID) == "" {
			def.ID = strings.TrimSuffix(name, filepath.Ext(name))
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no persona definitions found in %s", dir)
	}
	return NewRegistry(defs)
}

func (r *Registry) Has(id string) bool {
	_, ok := r.defs[strings.TrimSpace(id)]
	return ok
}

func (r *Registry) Prompt(id string) (string, bool) {
	def, ok := r.defs[strings.TrimSpace(id)]
	if !ok {
		return "", false
	}
	return def.SystemPrompt, true
}

func (r *Registry) Get(id string) (Definition, bool) {
	def, ok := r.defs[strings.TrimSpace(id)]
	return def, ok
}

func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.defs))
	for id := range r.defs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

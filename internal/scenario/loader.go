package scenario

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/shared/errors"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFiles embed.FS

// Builtin returns the scenario documents compiled into the binary.
func Builtin() fs.FS {
	sub, err := fs.Sub(builtinFiles, "builtin")
	if err != nil {
		panic(fmt.Sprintf("builtin scenarios: %v", err))
	}
	return sub
}

// Loader turns scenario documents into registered configurations.
type Loader struct {
	registry  *Registry
	resources *ResourceRegistry
	logger    *slog.Logger
}

func NewLoader(registry *Registry, resources *ResourceRegistry, logger *slog.Logger) *Loader {
	return &Loader{
		registry:  registry,
		resources: resources,
		logger:    logger,
	}
}

// Parse strictly decodes one scenario document and validates it.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode scenario yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFS parses every *.yaml and *.yml file at the root of fsys and, when all
// of them are valid, registers them. Any invalid file leaves the registry
// untouched. It returns the ids it registered.
func (l *Loader) LoadFS(fsys fs.FS) ([]string, error) {
	logger := l.logger.With("component", "scenario_loader", "operation", "load_fs")
	logger.Debug("Loading scenario documents")

	configs, err := parseAll(fsys)
	if err != nil {
		logger.Error("Failed to load scenario documents", "error", err)
		return nil, err
	}

	ids := make([]string, 0, len(configs))
	for _, cfg := range configs {
		l.register(cfg)
		ids = append(ids, cfg.ID)
	}

	logger.Info("Scenario documents loaded", "scenarios", ids)
	return ids, nil
}

// LoadBytes parses and registers a single document.
func (l *Loader) LoadBytes(data []byte) (*Config, error) {
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	l.register(cfg)
	return cfg, nil
}

func (l *Loader) register(cfg *Config) {
	if l.resources != nil {
		l.resources.Register(cfg.ID, cfg.Resources, cfg.Conversions)
	}
	l.registry.Register(cfg)
}

func parseAll(fsys fs.FS) ([]*Config, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	var (
		configs []*Config
		errs    []error
		seen    = make(map[string]string)
	)
	for _, entry := range entries {
		if entry.IsDir() || !isScenarioFile(entry.Name()) {
			continue
		}

		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}

		cfg, err := Parse(bytes.NewReader(data))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}
		if prev, ok := seen[cfg.ID]; ok {
			errs = append(errs, fmt.Errorf("%s: scenario %q already defined in %s", entry.Name(), cfg.ID, prev))
			continue
		}
		seen[cfg.ID] = entry.Name()
		configs = append(configs, cfg)
	}

	if len(errs) > 0 {
		return nil, errors.WrapValidation("invalid scenario documents", errors.Join(errs...))
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs, nil
}

func isScenarioFile(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Validate checks cfg against the role and relation tables. It returns a
// joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.ID == "" {
		errs = append(errs, fmt.Errorf("id is required"))
	}
	if len(cfg.Roles) == 0 {
		errs = append(errs, fmt.Errorf("roles must configure at least one role"))
	}

	for role, rc := range cfg.Roles {
		if !role.Valid() {
			errs = append(errs, fmt.Errorf("roles.%s: unknown role", role))
		}
		if rc.Collection == "" {
			errs = append(errs, fmt.Errorf("roles.%s.collection is required", role))
		}
	}

	for key, rel := range cfg.Relations {
		from, to, many, ok := key.Endpoints()
		if !ok {
			errs = append(errs, fmt.Errorf("relations.%s: unknown relation", key))
			continue
		}
		if rel.From != from || rel.To != to {
			errs = append(errs, fmt.Errorf("relations.%s must connect %s to %s, got %s to %s", key, from, to, rel.From, rel.To))
		}
		if rel.Many != many {
			errs = append(errs, fmt.Errorf("relations.%s.many must be %t", key, many))
		}
		if rel.ViaField == "" {
			errs = append(errs, fmt.Errorf("relations.%s.viaField is required", key))
		}
		if !cfg.HasRole(rel.From) || !cfg.HasRole(rel.To) {
			errs = append(errs, fmt.Errorf("relations.%s uses a role not configured in roles", key))
		}
	}

	for key, def := range cfg.Attributes {
		if def.Min != nil && def.Max != nil && *def.Min > *def.Max {
			errs = append(errs, fmt.Errorf("attributes.%s: min %v is above max %v", key, *def.Min, *def.Max))
		}
	}
	for key, def := range cfg.Slots {
		if def.Max < 0 {
			errs = append(errs, fmt.Errorf("slots.%s.max must not be negative", key))
		}
	}

	resourceIDs := make(map[string]bool, len(cfg.Resources))
	for i, def := range cfg.Resources {
		prefix := fmt.Sprintf("resources[%d]", i)
		if def.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		}
		if resourceIDs[def.ID] {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate", prefix, def.ID))
		}
		resourceIDs[def.ID] = true
		if !def.Kind.Valid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: currency, material, capacity, abstract", prefix, def.Kind))
		}
		if def.Min != nil && def.Max != nil && *def.Min > *def.Max {
			errs = append(errs, fmt.Errorf("%s: min %v is above max %v", prefix, *def.Min, *def.Max))
		}
		if def.Precision < 0 || def.Precision > 8 {
			errs = append(errs, fmt.Errorf("%s.precision %d is out of range [0, 8]", prefix, def.Precision))
		}
	}

	for i, rule := range cfg.Conversions {
		prefix := fmt.Sprintf("conversions[%d]", i)
		if !resourceIDs[rule.From] {
			errs = append(errs, fmt.Errorf("%s.from %q is not a declared resource", prefix, rule.From))
		}
		if !resourceIDs[rule.To] {
			errs = append(errs, fmt.Errorf("%s.to %q is not a declared resource", prefix, rule.To))
		}
		if rule.From == rule.To {
			errs = append(errs, fmt.Errorf("%s converts %q into itself", prefix, rule.From))
		}
		if rule.Rate <= 0 {
			errs = append(errs, fmt.Errorf("%s.rate must be positive", prefix))
		}
		if rule.Fee < 0 {
			errs = append(errs, fmt.Errorf("%s.fee must not be negative", prefix))
		}
	}

	for i, f := range cfg.Seed.Factions {
		if f.ID == "" {
			errs = append(errs, fmt.Errorf("seed.factions[%d].id is required", i))
		}
	}
	for i, st := range cfg.Seed.SettlementTypes {
		if st.Weight <= 0 {
			errs = append(errs, fmt.Errorf("seed.settlementTypes[%d].weight must be positive", i))
		}
	}
	for id := range cfg.Seed.StartingResources {
		if !resourceIDs[id] {
			errs = append(errs, fmt.Errorf("seed.startingResources.%s is not a declared resource", id))
		}
	}
	if len(cfg.Seed.Factions) > 0 && !cfg.HasRole(entity.RoleFaction) {
		errs = append(errs, fmt.Errorf("seed.factions requires the faction role"))
	}

	if len(errs) == 0 {
		return nil
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	if cfg.ID != "" {
		return errors.WrapValidation(fmt.Sprintf("scenario %q is invalid", cfg.ID), errors.Join(errs...))
	}
	return errors.WrapValidation("scenario is invalid", errors.Join(errs...))
}

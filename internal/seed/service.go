// Package seed generates a starter world for a scenario from its seed
// configuration.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"hegemony-server/internal/edge"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/relation"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/shared/database"
	"hegemony-server/internal/shared/errors"

	"github.com/google/uuid"
)

type Stats struct {
	Factions    int `json:"factions"`
	Settlements int `json:"settlements"`
	Commanders  int `json:"commanders"`
	Forces      int `json:"forces"`
	Edges       int `json:"edges"`
}

type Service struct {
	db        *database.DB
	entities  *entity.Repository
	edges     *edge.Repository
	documents *relation.Repository
	scenarios *scenario.Registry
	rng       *rand.Rand
	logger    *slog.Logger
}

type Option func(*Service)

// WithSeed makes generation deterministic.
func WithSeed(seed uint64) Option {
	return func(s *Service) {
		s.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

func NewService(db *database.DB, entities *entity.Repository, edges *edge.Repository, documents *relation.Repository, scenarios *scenario.Registry, logger *slog.Logger, opts ...Option) *Service {
	logger.Debug("Initializing seed service")

	now := uint64(time.Now().UnixNano())
	s := &Service{
		db:        db,
		entities:  entities,
		edges:     edges,
		documents: documents,
		scenarios: scenarios,
		rng:       rand.New(rand.NewPCG(now, now>>1)),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedIfEmpty generates the scenario's starter world unless it already has
// entities. It returns nil stats when nothing was generated.
func (s *Service) SeedIfEmpty(ctx context.Context, scenarioID string) (*Stats, error) {
	logger := s.logger.With("component", "seed_service", "operation", "seed_if_empty", "scenario", scenarioID)

	refs, err := s.entities.ListRefs(ctx, scenarioID, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing entities: %w", err)
	}
	if len(refs) > 0 {
		logger.Debug("Scenario already populated", "entities", len(refs))
		return nil, nil
	}
	return s.Generate(ctx, scenarioID)
}

// Generate writes a starter world: factions, their settlements, commanders
// and forces, linked through refs, edges and role documents. Everything is
// written in one transaction.
func (s *Service) Generate(ctx context.Context, scenarioID string) (*Stats, error) {
	logger := s.logger.With("component", "seed_service", "operation", "generate", "scenario", scenarioID)
	logger.Info("Generating starter world")

	cfg, ok := s.scenarios.Get(scenarioID)
	if !ok {
		return nil, errors.Configurationf("scenario %s is not registered", scenarioID)
	}
	if len(cfg.Seed.Factions) == 0 {
		logger.Info("Scenario defines no seed factions, nothing to generate")
		return &Stats{}, nil
	}

	w := s.plan(cfg)

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		for _, e := range w.entities {
			if err := s.entities.Create(ctx, e, tx); err != nil {
				return fmt.Errorf("failed to create %s: %w", e.Ref().String(), err)
			}
			if err := s.documents.Put(ctx, e.Ref(), w.documents[e.Ref()], tx); err != nil {
				if errors.IsNotFound(err) {
					continue
				}
				return fmt.Errorf("failed to store %s document: %w", e.Ref().String(), err)
			}
		}
		for _, ed := range w.edges {
			if _, err := s.edges.CreateEdge(ctx, ed, tx); err != nil {
				return fmt.Errorf("failed to create %s edge: %w", ed.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("Failed to generate starter world", "error", err)
		return nil, fmt.Errorf("failed to generate starter world: %w", err)
	}

	logger.Info("Starter world generated",
		"factions", w.stats.Factions,
		"settlements", w.stats.Settlements,
		"commanders", w.stats.Commanders,
		"forces", w.stats.Forces,
		"edges", w.stats.Edges)

	return &w.stats, nil
}

// world is a generated but not yet stored starter world.
type world struct {
	cfg       *scenario.Config
	entities  []*entity.Entity
	documents map[entity.RoleRef]relation.Document
	edges     []*edge.Edge
	stats     Stats
}

func (w *world) add(e *entity.Entity, doc relation.Document) {
	w.entities = append(w.entities, e)
	w.documents[e.Ref()] = doc
}

// link records a relation three ways: on the entity's refs, in its role
// document under the scenario's field, and as an edge. Relations the
// scenario does not configure are skipped.
func (w *world) link(from *entity.Entity, key scenario.RelationKey, to entity.RoleRef) {
	rc, ok := w.cfg.Relations[key]
	if !ok {
		return
	}

	if from.Refs == nil {
		from.Refs = make(map[string]entity.RefValue)
	}
	from.Refs[string(key)] = entity.One(to)
	w.documents[from.Ref()][rc.ViaField] = to.ID
	w.edges = append(w.edges, edge.New(key, from.Ref(), to))
	w.stats.Edges++
}

func (s *Service) plan(cfg *scenario.Config) *world {
	w := &world{cfg: cfg, documents: make(map[entity.RoleRef]relation.Document)}
	names := s.settlementNames(cfg)
	seed := cfg.Seed

	for _, f := range seed.Factions {
		faction := entity.NewEntity(entity.Resolve(entity.RoleFaction, f.ID, cfg.ID), f.Name)
		faction.Resources = make(map[string]float64, len(seed.StartingResources))
		for id, amount := range seed.StartingResources {
			faction.Resources[id] = amount
		}
		w.add(faction, relation.Document{"name": f.Name})
		w.stats.Factions++

		var settlements []*entity.Entity
		for i := 0; i < seed.SettlementsPerFaction; i++ {
			name := names.next()
			st := s.pickSettlementType(seed.SettlementTypes)

			settlement := entity.NewEntity(entity.Resolve(entity.RoleSettlement, slug(name), cfg.ID), name)
			settlement.Attributes = make(map[string]float64)
			for key, def := range cfg.Attributes {
				if def.Default != 0 {
					settlement.Attributes[key] = def.Default
				}
			}
			for key, v := range st.Attributes {
				settlement.Attributes[key] = v
			}
			settlement.Ext = map[string]any{"type": st.Type}
			cfg.Clamp(settlement)

			w.add(settlement, relation.Document{"name": name, "type": st.Type})
			w.link(settlement, scenario.RelationOwnedBy, faction.Ref())
			settlements = append(settlements, settlement)
			w.stats.Settlements++
		}

		for i := 0; i < seed.CommandersPerFaction; i++ {
			name := fmt.Sprintf("%s %s %d", f.Name, label(cfg, entity.RoleCommander), i+1)
			commander := entity.NewEntity(entity.Resolve(entity.RoleCommander, uuid.NewString(), cfg.ID), name)
			commander.Attributes = map[string]float64{"loyalty": float64(60 + s.rng.IntN(41))}
			cfg.Clamp(commander)

			w.add(commander, relation.Document{"name": name})
			w.link(commander, scenario.RelationMemberOf, faction.Ref())
			if i == 0 {
				w.link(faction, scenario.RelationLedBy, commander.Ref())
			}
			w.stats.Commanders++

			if len(settlements) == 0 {
				continue
			}
			base := settlements[i%len(settlements)]
			w.link(commander, scenario.RelationLocatedAt, base.Ref())

			if !cfg.HasRole(entity.RoleForce) {
				continue
			}
			forceName := fmt.Sprintf("%s %s", name, label(cfg, entity.RoleForce))
			force := entity.NewEntity(entity.Resolve(entity.RoleForce, uuid.NewString(), cfg.ID), forceName)
			if seed.ForceStrength > 0 {
				force.Attributes = map[string]float64{"strength": seed.ForceStrength}
				cfg.Clamp(force)
			}
			w.add(force, relation.Document{"name": forceName})
			w.link(force, scenario.RelationGarrisonedAt, base.Ref())
			w.link(force, scenario.RelationCommandedBy, commander.Ref())
			w.stats.Forces++
		}
	}

	return w
}

// pickSettlementType makes a weighted random choice.
func (s *Service) pickSettlementType(types []scenario.SettlementType) scenario.SettlementType {
	if len(types) == 0 {
		return scenario.SettlementType{Type: "settlement"}
	}

	total := 0
	for _, t := range types {
		total += t.Weight
	}

	roll := s.rng.IntN(total)
	current := 0
	for _, t := range types {
		current += t.Weight
		if roll < current {
			return t
		}
	}
	return types[len(types)-1]
}

type namePool struct {
	names []string
	base  string
	used  int
}

// next hands out the configured names in shuffled order, then numbered
// fallbacks.
func (p *namePool) next() string {
	p.used++
	if p.used <= len(p.names) {
		return p.names[p.used-1]
	}
	return fmt.Sprintf("%s %d", p.base, p.used)
}

func (s *Service) settlementNames(cfg *scenario.Config) *namePool {
	names := append([]string(nil), cfg.Seed.SettlementNames...)
	s.rng.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	return &namePool{names: names, base: label(cfg, entity.RoleSettlement)}
}

func label(cfg *scenario.Config, role entity.Role) string {
	if rc, ok := cfg.Roles[role]; ok && rc.Label != "" {
		return rc.Label
	}
	return string(role)
}

func slug(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "-"))
}

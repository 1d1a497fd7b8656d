package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/shared/errors"
)

// World is the read-only view of game state handed to action handlers.
// Handlers describe their writes as Changes; they never write themselves.
type World interface {
	LoadEntity(ctx context.Context, ref entity.RoleRef) (*entity.Entity, error)
	LoadSystemState(ctx context.Context, scenarioID, systemID string, owner *entity.RoleRef) (*gamesystem.SystemState, error)
	Scenario(id string) (*scenario.Config, bool)
	Resources() *scenario.ResourceRegistry
}

// ActionContext identifies who runs an action and where.
type ActionContext struct {
	Type     string
	Scenario string
	PlayerID string
	Actor    *entity.RoleRef
	Faction  *entity.RoleRef
	World    World
}

// ActionHandler implements one action type.
type ActionHandler interface {
	Type() string
	Category() string
	// Scenarios lists the worlds the action is available in; empty means
	// every world.
	Scenarios() []string
	// Validate is a pure check; a non-empty result rejects the action and
	// Execute is not called.
	Validate(ctx context.Context, ac ActionContext, payload json.RawMessage) []string
	Execute(ctx context.Context, ac ActionContext, payload json.RawMessage) (*Outcome, error)
}

// Outcome is what a handler's Execute produced.
type Outcome struct {
	Success bool
	Message string
	Data    any
	Changes Changes
}

// EntityPatch patches an entity as it was loaded; the loaded version is the
// one the save is checked against.
type EntityPatch struct {
	Entity *entity.Entity
	Patch  entity.Patch
}

type SystemPatch struct {
	State *gamesystem.SystemState
	Next  json.RawMessage
}

// Changes are applied in order: created entities, entity patches, system
// patches.
type Changes struct {
	Created  []*entity.Entity
	Entities []EntityPatch
	Systems  []SystemPatch
}

func (c Changes) Len() int {
	return len(c.Created) + len(c.Entities) + len(c.Systems)
}

type ResultCode string

const (
	CodeUnknownAction       ResultCode = "unknown_action"
	CodeUnsupportedScenario ResultCode = "unsupported_scenario"
	CodeValidationFailed    ResultCode = "validation_failed"
	CodeExecutionFailed     ResultCode = "execution_failed"
	CodeDeclined            ResultCode = "declined"
	CodeApplyFailed         ResultCode = "apply_failed"
	CodeConflict            ResultCode = "conflict"
)

// ActionResult is the structured outcome of ExecuteAction. Failures never
// surface as Go errors.
type ActionResult struct {
	Success  bool             `json:"success"`
	Type     string           `json:"type"`
	Code     ResultCode       `json:"code,omitempty"`
	Message  string           `json:"message,omitempty"`
	Errors   []string         `json:"errors,omitempty"`
	Data     any              `json:"data,omitempty"`
	Applied  int              `json:"applied"`
	Entities []*entity.Entity `json:"entities,omitempty"`
}

// ActionRegistry maps action types to handlers. Handlers are registered at
// startup.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{handlers: make(map[string]ActionHandler)}
}

func (r *ActionRegistry) Register(h ActionHandler) error {
	if h == nil {
		return errors.Validation("action handler is required")
	}
	t := strings.TrimSpace(h.Type())
	if t == "" {
		return errors.Validation("action type is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return errors.Conflictf("action %s already registered", t)
	}
	r.handlers[t] = h
	return nil
}

func (r *ActionRegistry) Get(actionType string) (ActionHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	if !ok {
		return nil, errors.Configurationf("action %s is not registered", actionType)
	}
	return h, nil
}

func (r *ActionRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TypesFor returns the sorted types whose handlers accept scenarioID.
func (r *ActionRegistry) TypesFor(scenarioID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for t, h := range r.handlers {
		if supports(h, scenarioID) {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func supports(h ActionHandler, scenarioID string) bool {
	worlds := h.Scenarios()
	return len(worlds) == 0 || slices.Contains(worlds, scenarioID)
}

// ExecuteAction runs ac.Type through validate, execute and apply.
func (e *Engine) ExecuteAction(ctx context.Context, ac ActionContext, payload json.RawMessage) (result *ActionResult) {
	start := time.Now()
	logger := e.logger.With(
		"component", "engine",
		"operation", "execute_action",
		"type", ac.Type,
		"scenario", ac.Scenario,
	)
	defer func() {
		status := "success"
		if !result.Success {
			status = string(result.Code)
		}
		e.metrics.RecordAction(ctx, ac.Type, status, time.Since(start))
	}()

	h, err := e.actions.Get(ac.Type)
	if err != nil {
		logger.Error("Action type not registered", "error", err)
		return failure(ac, CodeUnknownAction, err.Error())
	}
	if _, ok := e.scenarios.Get(ac.Scenario); !ok || !supports(h, ac.Scenario) {
		logger.Warn("Action not available in scenario")
		return failure(ac, CodeUnsupportedScenario,
			fmt.Sprintf("action %s is not available in scenario %s", ac.Type, ac.Scenario))
	}
	ac.World = e

	var problems []string
	if err := safely(func() error {
		problems = h.Validate(ctx, ac, payload)
		return nil
	}); err != nil {
		logHandlerError(logger, "Action validation failed", err)
		return failure(ac, CodeExecutionFailed, err.Error())
	}
	if len(problems) > 0 {
		logger.Debug("Action rejected by validation", "errors", problems)
		res := failure(ac, CodeValidationFailed, "validation failed")
		res.Errors = problems
		return res
	}

	var outcome *Outcome
	if err := safely(func() error {
		var err error
		outcome, err = h.Execute(ctx, ac, payload)
		return err
	}); err != nil {
		logHandlerError(logger, "Action execution failed", err)
		return failure(ac, CodeExecutionFailed, err.Error())
	}
	if outcome == nil {
		outcome = &Outcome{Success: true}
	}
	if !outcome.Success {
		logger.Info("Action declined by handler", "message", outcome.Message)
		res := failure(ac, CodeDeclined, outcome.Message)
		res.Data = outcome.Data
		return res
	}

	saved, applied, err := e.apply(ctx, outcome.Changes)
	if err != nil {
		code := CodeApplyFailed
		if errors.IsConflict(err) {
			code = CodeConflict
		}
		logger.Warn("Failed to apply action changes", "applied", applied, "error", err)
		res := failure(ac, code, err.Error())
		res.Applied = applied
		res.Entities = saved
		return res
	}

	logger.Info("Action executed", "applied", applied)
	return &ActionResult{
		Success:  true,
		Type:     ac.Type,
		Message:  outcome.Message,
		Data:     outcome.Data,
		Applied:  applied,
		Entities: saved,
	}
}

func failure(ac ActionContext, code ResultCode, message string) *ActionResult {
	return &ActionResult{Success: false, Type: ac.Type, Code: code, Message: message}
}

// apply writes changes in order and stops at the first failure. Changes
// applied before the failure stay applied.
func (e *Engine) apply(ctx context.Context, c Changes) ([]*entity.Entity, int, error) {
	var (
		saved   []*entity.Entity
		applied int
	)

	for _, ent := range c.Created {
		out, err := e.CreateEntity(ctx, ent)
		if err != nil {
			return saved, applied, err
		}
		saved = append(saved, out)
		applied++
	}
	for _, ch := range c.Entities {
		if ch.Entity == nil {
			return saved, applied, errors.Validation("entity change without a loaded entity")
		}
		out, err := e.SaveEntity(ctx, ch.Entity, ch.Patch)
		if err != nil {
			return saved, applied, err
		}
		saved = append(saved, out)
		applied++
	}
	for _, ch := range c.Systems {
		if ch.State == nil {
			return saved, applied, errors.Validation("system change without a loaded state")
		}
		if _, err := e.SaveSystemState(ctx, ch.State, ch.Next); err != nil {
			return saved, applied, err
		}
		applied++
	}
	return saved, applied, nil
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", p.value)
}

// safely runs fn and turns a panic into a *panicError.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn()
}

func logHandlerError(logger *slog.Logger, msg string, err error) {
	var pe *panicError
	if errors.As(err, &pe) {
		logger.Error(msg, "error", err, "stack", string(pe.stack))
		return
	}
	logger.Error(msg, "error", err)
}

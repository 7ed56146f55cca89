package attack

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/virtuaplant/virtuaplant/pkg/telemetry"
)

// Manager runs named scenarios on top of an Injector.
type Manager struct {
	injector *Injector
	logger   zerolog.Logger

	mu        sync.RWMutex
	scenarios map[string]Scenario
}

// ManagerStatus summarizes the attack engine.
type ManagerStatus struct {
	ActiveAttacks int               `json:"active_attacks"`
	Attacks       map[string]Config `json:"attack_list"`
	Scenarios     []string          `json:"available_scenarios"`
}

// NewManager creates a manager with the built-in scenarios.
func NewManager(injector *Injector, logger zerolog.Logger) *Manager {
	m := &Manager{
		injector: injector,
		logger:   logger.With().Str("component", "attack-manager").Logger(),
	}
	if err := m.SetScenarios(DefaultScenarios()); err != nil {
		panic(fmt.Sprintf("built-in scenarios: %v", err))
	}
	return m
}

// Injector returns the underlying injector.
func (m *Manager) Injector() *Injector {
	return m.injector
}

// SetScenarios replaces the catalog. Nothing changes if any scenario is
// invalid or a name repeats.
func (m *Manager) SetScenarios(list []Scenario) error {
	next := make(map[string]Scenario, len(list))
	for _, s := range list {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := next[s.Name]; dup {
			return fmt.Errorf("duplicate scenario: %s", s.Name)
		}
		next[s.Name] = s
	}

	m.mu.Lock()
	m.scenarios = next
	m.mu.Unlock()

	m.logger.Debug().Int("count", len(next)).Msg("scenario catalog updated")
	return nil
}

// Scenario returns a scenario by name.
func (m *Manager) Scenario(name string) (Scenario, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenarios[name]
	return s, ok
}

// ListScenarios returns the scenario names in sorted order.
func (m *Manager) ListScenarios() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.scenarios))
	for name := range m.scenarios {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RunScenario starts every attack of the scenario that targets the
// injector's plant and returns their ids. Attacks for other plants are
// skipped. If a start fails, the ids started so far are returned with the
// error and those attacks keep running.
func (m *Manager) RunScenario(ctx context.Context, name string) ([]string, error) {
	s, ok := m.Scenario(name)
	if !ok {
		return nil, &UnknownScenarioError{Name: name}
	}

	plant := m.injector.Plant()
	ctx, span := m.injector.tracer.StartScenarioSpan(ctx, name, string(plant))
	defer span.End()

	ids := make([]string, 0, len(s.Attacks))
	for _, cfg := range s.Attacks {
		if cfg.Plant != plant {
			m.logger.Info().
				Str("scenario", name).
				Str("kind", string(cfg.Kind)).
				Str("plant", string(cfg.Plant)).
				Msg("skipping attack for another plant")
			continue
		}
		id, err := m.injector.StartAttack(ctx, cfg)
		if err != nil {
			telemetry.RecordError(span, err)
			return ids, fmt.Errorf("scenario %s: %w", name, err)
		}
		ids = append(ids, id)
	}

	m.logger.Info().Str("scenario", name).Strs("attacks", ids).Msg("scenario started")
	_ = m.injector.events.PublishScenarioStarted(name, string(plant), ids)
	telemetry.RecordSuccess(span)
	return ids, nil
}

// Status reports the active attacks and the catalog.
func (m *Manager) Status() ManagerStatus {
	attacks := m.injector.ListAttacks()
	return ManagerStatus{
		ActiveAttacks: len(attacks),
		Attacks:       attacks,
		Scenarios:     m.ListScenarios(),
	}
}

// StopAll stops every active attack.
func (m *Manager) StopAll() int {
	return m.injector.StopAllAttacks()
}

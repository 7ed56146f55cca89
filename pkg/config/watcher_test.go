package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
)

type appliedScenarios struct {
	mu    sync.Mutex
	names [][]string
	ch    chan struct{}
}

func newAppliedScenarios() *appliedScenarios {
	return &appliedScenarios{ch: make(chan struct{}, 16)}
}

func (a *appliedScenarios) apply(list []attack.Scenario) error {
	names := make([]string, 0, len(list))
	for _, sc := range list {
		names = append(names, sc.Name)
	}
	a.mu.Lock()
	a.names = append(a.names, names)
	a.mu.Unlock()
	a.ch <- struct{}{}
	return nil
}

func (a *appliedScenarios) last() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.names[len(a.names)-1]
}

func (a *appliedScenarios) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.names)
}

func (a *appliedScenarios) wait(t *testing.T) {
	t.Helper()
	select {
	case <-a.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a reload")
	}
}

func TestScenarioWatcher_InitialLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "one.star", `scenario(name = "one", attacks = [attack("stop_all", plant = "bottle")])`)

	applied := newAppliedScenarios()
	w := NewScenarioWatcher(newTestLoader(), dir, 20*time.Millisecond, applied.apply, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Close() })

	applied.wait(t)
	assert.Equal(t, []string{"one"}, applied.last())

	writeScript(t, dir, "two.star", `scenario(name = "two", attacks = [attack("stop_all", plant = "refinery")])`)
	applied.wait(t)
	assert.Equal(t, []string{"one", "two"}, applied.last())
}

func TestScenarioWatcher_BadScriptKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "one.star", `scenario(name = "one", attacks = [attack("stop_all", plant = "bottle")])`)

	applied := newAppliedScenarios()
	w := NewScenarioWatcher(newTestLoader(), dir, 20*time.Millisecond, applied.apply, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Close() })
	applied.wait(t)

	writeScript(t, dir, "broken.star", `scenario(`)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, applied.count())

	require.NoError(t, os.Remove(filepath.Join(dir, "broken.star")))
	applied.wait(t)
	assert.Equal(t, []string{"one"}, applied.last())
}

func TestScenarioWatcher_InitialFailure(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken.star", `scenario(`)

	applied := newAppliedScenarios()
	w := NewScenarioWatcher(newTestLoader(), dir, 0, applied.apply, zerolog.Nop())

	assert.Error(t, w.Start(context.Background()))
	assert.Equal(t, 0, applied.count())
	assert.NoError(t, w.Close())
}

func TestScenarioWatcher_ContextStops(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "one.star", `scenario(name = "one", attacks = [attack("stop_all", plant = "bottle")])`)

	applied := newAppliedScenarios()
	w := NewScenarioWatcher(newTestLoader(), dir, 20*time.Millisecond, applied.apply, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	applied.wait(t)

	cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after cancellation")
	}
}

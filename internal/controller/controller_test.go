package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"recurd/internal/agent"
	"recurd/internal/engine"
	"recurd/internal/eventbus"
	"recurd/internal/schedule"
	logx "recurd/pkg/logx"
)

type memStore struct {
	mu sync.Mutex
	m  map[string]schedule.Config
}

func newMemStore() *memStore { return &memStore{m: map[string]schedule.Config{}} }

func (s *memStore) Put(_ context.Context, c schedule.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[c.SessionID] = c
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (schedule.Config, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[id]
	return c, ok, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

func (s *memStore) List(_ context.Context) ([]schedule.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schedule.Config, 0, len(s.m))
	for _, c := range s.m {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

// fakeEngine mirrors the real engine's Update contract (read, merge,
// validate, persist) without timers or cycles.
type fakeEngine struct {
	st       *memStore
	updates  []schedule.Config
	disarmed []string
}

func (f *fakeEngine) Update(ctx context.Context, id string, fn func(prev schedule.Config, found bool) (schedule.Config, error)) (schedule.Config, error) {
	prev, found, err := f.st.Get(ctx, id)
	if err != nil {
		return schedule.Config{}, err
	}
	next, err := fn(prev, found)
	if err != nil {
		return schedule.Config{}, err
	}
	next.SessionID = id
	if err := schedule.Validate(next); err != nil {
		return schedule.Config{}, err
	}
	if err := f.st.Put(ctx, next); err != nil {
		return schedule.Config{}, err
	}
	f.updates = append(f.updates, next)
	return next, nil
}

func (f *fakeEngine) Disarm(id string) { f.disarmed = append(f.disarmed, id) }

func input() schedule.Config {
	return schedule.Config{
		Enabled:   true,
		Interval:  time.Hour,
		Prompt:    "triage the queue",
		Policy:    schedule.PolicyAllowSafe,
		MaxErrors: 5,
	}
}

func setup(t *testing.T) (*Controller, *memStore, *fakeEngine) {
	t.Helper()
	st := newMemStore()
	eng := &fakeEngine{st: st}
	return New(st, eng, logx.Nop()), st, eng
}

func TestSetScheduleRoundTrip(t *testing.T) {
	c, st, eng := setup(t)
	ctx := context.Background()

	if err := c.SetSchedule(ctx, "s1", input()); err != nil {
		t.Fatalf("SetSchedule() = %v", err)
	}
	got, ok, err := c.GetSchedule(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("GetSchedule() = ok=%v err=%v", ok, err)
	}
	if got.SessionID != "s1" || got.Prompt != "triage the queue" {
		t.Fatalf("stored record: %+v", got)
	}
	if len(eng.updates) != 1 || eng.updates[0].SessionID != "s1" {
		t.Fatalf("engine updates: %+v", eng.updates)
	}
	if _, ok, _ := st.Get(ctx, "s1"); !ok {
		t.Fatal("record missing from store")
	}
}

func TestSetScheduleValidatesBeforePersist(t *testing.T) {
	c, st, eng := setup(t)
	ctx := context.Background()

	bad := input()
	bad.Prompt = " "
	err := c.SetSchedule(ctx, "s1", bad)
	if !errors.Is(err, schedule.ErrInvalidConfig) {
		t.Fatalf("SetSchedule() = %v, want ErrInvalidConfig", err)
	}
	if _, ok, _ := st.Get(ctx, "s1"); ok {
		t.Fatal("invalid config was persisted")
	}
	if len(eng.updates) != 0 {
		t.Fatal("invalid config was installed")
	}
}

func TestSetSchedulePreservesEngineOwnedFields(t *testing.T) {
	c, st, _ := setup(t)
	ctx := context.Background()

	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	existing := input()
	existing.SessionID = "s1"
	existing.ErrorCount = 4
	existing.LastExecutedAt = &at
	if err := st.Put(ctx, existing); err != nil {
		t.Fatal(err)
	}

	// A full form resubmission tries to zero the engine-owned fields.
	edit := input()
	edit.Interval = 15 * time.Minute
	edit.ErrorCount = 0
	edit.LastExecutedAt = nil
	if err := c.SetSchedule(ctx, "s1", edit); err != nil {
		t.Fatalf("SetSchedule() = %v", err)
	}

	got, _, _ := c.GetSchedule(ctx, "s1")
	if got.ErrorCount != 4 {
		t.Fatalf("error count = %d, want carried-over 4", got.ErrorCount)
	}
	if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(at) {
		t.Fatalf("last executed at = %v", got.LastExecutedAt)
	}
	if got.Interval != 15*time.Minute {
		t.Fatalf("edit not applied: %+v", got)
	}
}

func TestSetScheduleDefaultsMaxErrors(t *testing.T) {
	c, _, _ := setup(t)
	in := input()
	in.MaxErrors = 0
	if err := c.SetSchedule(context.Background(), "s1", in); err != nil {
		t.Fatalf("SetSchedule() = %v", err)
	}
	got, _, _ := c.GetSchedule(context.Background(), "s1")
	if got.MaxErrors != schedule.DefaultMaxErrors {
		t.Fatalf("max errors = %d, want default %d", got.MaxErrors, schedule.DefaultMaxErrors)
	}
}

func TestPauseResume(t *testing.T) {
	c, _, eng := setup(t)
	ctx := context.Background()

	if err := c.SetSchedule(ctx, "s1", input()); err != nil {
		t.Fatal(err)
	}

	if err := c.Pause(ctx, "s1"); err != nil {
		t.Fatalf("Pause() = %v", err)
	}
	got, _, _ := c.GetSchedule(ctx, "s1")
	if got.Enabled {
		t.Fatal("still enabled after Pause")
	}

	// Simulate an accumulated streak, then resume without reset.
	got.ErrorCount = 3
	_ = c.store.Put(ctx, got)
	if err := c.Resume(ctx, "s1"); err != nil {
		t.Fatalf("Resume() = %v", err)
	}
	got, _, _ = c.GetSchedule(ctx, "s1")
	if !got.Enabled || got.ErrorCount != 3 {
		t.Fatalf("Resume changed the streak: %+v", got)
	}

	if err := c.ResumeOpt(ctx, "s1", ResumeOptions{ResetErrors: true}); err != nil {
		t.Fatalf("ResumeOpt() = %v", err)
	}
	got, _, _ = c.GetSchedule(ctx, "s1")
	if got.ErrorCount != 0 {
		t.Fatalf("ResetErrors ignored: %+v", got)
	}

	// Every toggle went through the engine with the new state.
	if len(eng.updates) != 4 {
		t.Fatalf("engine updated %d times, want 4", len(eng.updates))
	}
	if eng.updates[1].Enabled {
		t.Fatal("Pause installed an enabled record")
	}
}

func TestPauseMissingSchedule(t *testing.T) {
	c, _, _ := setup(t)
	if err := c.Pause(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Pause(ghost) = %v, want ErrNotFound", err)
	}
}

func TestRemoveSchedule(t *testing.T) {
	c, st, eng := setup(t)
	ctx := context.Background()

	if err := c.SetSchedule(ctx, "s1", input()); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveSchedule(ctx, "s1"); err != nil {
		t.Fatalf("RemoveSchedule() = %v", err)
	}
	if _, ok, _ := st.Get(ctx, "s1"); ok {
		t.Fatal("record still stored after remove")
	}
	if len(eng.disarmed) != 1 || eng.disarmed[0] != "s1" {
		t.Fatalf("engine disarmed: %+v", eng.disarmed)
	}
	// Removing again is harmless.
	if err := c.RemoveSchedule(ctx, "s1"); err != nil {
		t.Fatalf("second RemoveSchedule() = %v", err)
	}
}

func TestList(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()
	_ = c.SetSchedule(ctx, "a", input())
	off := input()
	off.Enabled = false
	_ = c.SetSchedule(ctx, "b", off)

	all, err := c.List(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("List() = %d records, err=%v", len(all), err)
	}
}

// TestEditDuringFailingCycleKeepsStreak drives the real engine: an edit
// submitted while a failing cycle is in flight must wait for the cycle and
// carry over the incremented counter, so the schedule still disables after
// exactly MaxErrors consecutive failures.
func TestEditDuringFailingCycleKeepsStreak(t *testing.T) {
	st := newMemStore()
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	inv := agent.Func(func(ctx context.Context, r agent.Request) (agent.Result, error) {
		entered <- struct{}{}
		<-release
		return agent.Result{}, errors.New("agent down")
	})
	bus := eventbus.New()
	eng := engine.New(engine.Config{
		PersistBackoff: time.Millisecond,
		PersistRetries: 1,
	}, engine.Deps{Store: st, Invoker: inv, Bus: bus, Log: logx.Nop()})
	if err := eng.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	ctl := New(st, eng, logx.Nop())
	ctx := context.Background()

	in := input()
	in.Interval = 200 * time.Millisecond
	in.MaxErrors = 2
	if err := ctl.SetSchedule(ctx, "s1", in); err != nil {
		t.Fatalf("SetSchedule() = %v", err)
	}

	// Cycle 1 fires and blocks inside the invoker.
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("first cycle never started")
	}

	// Edit while the failing cycle is in flight.
	edited := make(chan error, 1)
	go func() {
		edit := in
		edit.Prompt = "updated rounds"
		edited <- ctl.SetSchedule(ctx, "s1", edit)
	}()
	select {
	case err := <-edited:
		t.Fatalf("edit returned mid-cycle (err=%v), want it queued behind the cycle", err)
	case <-time.After(50 * time.Millisecond):
	}

	release <- struct{}{}
	select {
	case err := <-edited:
		if err != nil {
			t.Fatalf("edit = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("edit never completed after the cycle finished")
	}

	got, _, _ := st.Get(ctx, "s1")
	if got.ErrorCount != 1 {
		t.Fatalf("edit erased the failure streak: count = %d, want 1", got.ErrorCount)
	}
	if got.Prompt != "updated rounds" {
		t.Fatalf("edit not applied: %+v", got)
	}

	// Cycle 2 (fresh window from the edit) reaches the threshold.
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("second cycle never started")
	}
	release <- struct{}{}

	deadline := time.Now().Add(3 * time.Second)
	for {
		got, _, _ = st.Get(ctx, "s1")
		if !got.Enabled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("schedule still enabled after %d consecutive failures: %+v", got.ErrorCount, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got.ErrorCount != 2 {
		t.Fatalf("error count = %d, want 2", got.ErrorCount)
	}

	var disabled int
	timeout := time.After(200 * time.Millisecond)
	for {
		select {
		case ev := <-ch:
			if ev.Type == engine.EventScheduleDisabled {
				disabled++
			}
			continue
		case <-timeout:
		}
		break
	}
	if disabled != 1 {
		t.Fatalf("got %d disablement events, want exactly 1", disabled)
	}

	// No third cycle fires on the disabled schedule.
	select {
	case <-entered:
		t.Fatal("cycle fired after auto-disable")
	case <-time.After(300 * time.Millisecond):
	}
}

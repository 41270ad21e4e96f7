package system

import (
	"context"
	"errors"
	"testing"
)

type fakeService struct {
	name      string
	startErr  error
	stopErr   error
	started   *[]string
	stopped   *[]string
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	*s.started = append(*s.started, s.name)
	return nil
}

func (s *fakeService) Stop(ctx context.Context) error {
	*s.stopped = append(*s.stopped, s.name)
	return s.stopErr
}

func TestManagerStartsInRegistrationOrder(t *testing.T) {
	var started, stopped []string
	m := NewManager()
	_ = m.Register(&fakeService{name: "a", started: &started, stopped: &stopped})
	_ = m.Register(&fakeService{name: "b", started: &started, stopped: &stopped})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(started) != 2 || started[0] != "a" || started[1] != "b" {
		t.Fatalf("expected [a b], got %v", started)
	}
}

func TestManagerStopsInReverseOrder(t *testing.T) {
	var started, stopped []string
	m := NewManager()
	_ = m.Register(&fakeService{name: "a", started: &started, stopped: &stopped})
	_ = m.Register(&fakeService{name: "b", started: &started, stopped: &stopped})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(stopped) != 2 || stopped[0] != "b" || stopped[1] != "a" {
		t.Fatalf("expected [b a], got %v", stopped)
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var started, stopped []string
	m := NewManager()
	failure := errors.New("boom")
	_ = m.Register(&fakeService{name: "a", started: &started, stopped: &stopped})
	_ = m.Register(&fakeService{name: "b", startErr: failure, started: &started, stopped: &stopped})
	_ = m.Register(&fakeService{name: "c", started: &started, stopped: &stopped})

	err := m.Start(context.Background())
	if err == nil || !errors.Is(err, failure) {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
	if len(started) != 1 || started[0] != "a" {
		t.Fatalf("expected only a to have started, got %v", started)
	}
	if len(stopped) != 1 || stopped[0] != "a" {
		t.Fatalf("expected rollback to stop a, got %v", stopped)
	}
	for _, name := range started {
		if name == "c" {
			t.Fatal("c must never have started")
		}
	}
}

func TestManagerStopIsIdempotent(t *testing.T) {
	var started, stopped []string
	m := NewManager()
	_ = m.Register(&fakeService{name: "a", started: &started, stopped: &stopped})

	_ = m.Start(context.Background())
	_ = m.Stop(context.Background())
	_ = m.Stop(context.Background())

	if len(stopped) != 1 {
		t.Fatalf("expected Stop to be idempotent, got %d stops", len(stopped))
	}
}

func TestManagerStopReturnsFirstError(t *testing.T) {
	var started, stopped []string
	m := NewManager()
	failA := errors.New("fail-a")
	failB := errors.New("fail-b")
	_ = m.Register(&fakeService{name: "a", stopErr: failA, started: &started, stopped: &stopped})
	_ = m.Register(&fakeService{name: "b", stopErr: failB, started: &started, stopped: &stopped})

	_ = m.Start(context.Background())
	err := m.Stop(context.Background())
	if !errors.Is(err, failB) {
		t.Fatalf("expected first (reverse-order) error to be b's, got %v", err)
	}
	if len(stopped) != 2 {
		t.Fatalf("expected both services stopped despite b's error, got %v", stopped)
	}
}

func TestRegisterAfterStartFails(t *testing.T) {
	var started, stopped []string
	m := NewManager()
	_ = m.Register(&fakeService{name: "a", started: &started, stopped: &stopped})
	_ = m.Start(context.Background())

	if err := m.Register(&fakeService{name: "b", started: &started, stopped: &stopped}); err == nil {
		t.Fatal("expected an error registering after Start")
	}
}

package system

import (
	"context"
	"fmt"
	"testing"
)

// recordingService notes start/stop order in a shared log.
type recordingService struct {
	name    string
	log     *[]string
	failure error
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(context.Context) error {
	if s.failure != nil {
		return s.failure
	}
	*s.log = append(*s.log, "start:"+s.name)
	return nil
}

func (s *recordingService) Stop(context.Context) error {
	*s.log = append(*s.log, "stop:"+s.name)
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	var log []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recordingService{name: name, log: &log}); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("unexpected log %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("at %d expected %s, got %s (full log %v)", i, want[i], log[i], log)
		}
	}
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	var log []string
	m := NewManager()
	if err := m.Register(&recordingService{name: "a", log: &log}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := m.Register(&recordingService{name: "a", log: &log}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var log []string
	m := NewManager()
	_ = m.Register(&recordingService{name: "a", log: &log})
	_ = m.Register(&recordingService{name: "b", log: &log, failure: fmt.Errorf("boom")})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}

	// a started before b failed, so a must have been stopped again
	want := []string{"start:a", "stop:a"}
	if len(log) != len(want) || log[0] != want[0] || log[1] != want[1] {
		t.Fatalf("unexpected log %v", log)
	}
}

func TestNoopService(t *testing.T) {
	svc := NoopService{ServiceName: "placeholder"}
	if svc.Name() != "placeholder" {
		t.Fatalf("unexpected name %q", svc.Name())
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

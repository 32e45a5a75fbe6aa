package health

import (
	"context"
	"testing"
	"time"
)

type fakeChecker struct {
	result Result
	typ    CheckType
}

func (f fakeChecker) Type() CheckType { return f.typ }

func (f fakeChecker) Check(ctx context.Context) Result {
	return f.result
}

func TestMonitor_SnapshotReflectsRegisteredDependencies(t *testing.T) {
	m := NewMonitor()
	m.Add("catalogue", fakeChecker{result: Result{Healthy: true}, typ: CheckTypeTCP}, DefaultConfig())
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap := m.Snapshot()
		if status, ok := snap["catalogue"]; ok && !status.LastCheck.IsZero() {
			if !status.Healthy {
				t.Errorf("expected catalogue dependency to be healthy")
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("catalogue dependency never reported a check result")
}

func TestMonitor_HealthyFalseWhenADependencyFails(t *testing.T) {
	m := NewMonitor()
	cfg := DefaultConfig()
	cfg.Retries = 1
	m.Add("catalogue", fakeChecker{result: Result{Healthy: true}, typ: CheckTypeTCP}, cfg)
	m.Add("backup-store", fakeChecker{result: Result{Healthy: false, Message: "unreachable"}, typ: CheckTypeHTTP}, cfg)
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !m.Healthy() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected Monitor.Healthy to report false once a dependency fails its retry threshold")
}

func TestMonitor_AddAfterStartBeginsCheckingImmediately(t *testing.T) {
	m := NewMonitor()
	m.Start()
	defer m.Stop()

	m.Add("late-resource", fakeChecker{result: Result{Healthy: true}, typ: CheckTypeTCP}, DefaultConfig())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap := m.Snapshot()
		if status, ok := snap["late-resource"]; ok && !status.LastCheck.IsZero() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("dependency added after Start never ran a check")
}

func TestMonitor_EmptyMonitorIsHealthy(t *testing.T) {
	m := NewMonitor()
	if !m.Healthy() {
		t.Error("expected an empty Monitor to report healthy")
	}
}

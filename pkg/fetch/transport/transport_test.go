package transport

import (
	"testing"
	"time"
)

func TestStatusUpdateTripsAfterRetries(t *testing.T) {
	s := NewStatus()
	policy := Policy{Retries: 3}

	fail := Result{Healthy: false, CheckedAt: time.Now()}
	s.Update(fail, policy)
	s.Update(fail, policy)
	if !s.Up {
		t.Fatal("expected status to remain up before reaching the retry threshold")
	}
	s.Update(fail, policy)
	if s.Up {
		t.Fatal("expected status to flip down after Retries consecutive failures")
	}
}

func TestStatusUpdateRecoversOnSuccess(t *testing.T) {
	s := NewStatus()
	policy := Policy{Retries: 1}

	s.Update(Result{Healthy: false, CheckedAt: time.Now()}, policy)
	if s.Up {
		t.Fatal("expected status down after one failure with Retries=1")
	}
	s.Update(Result{Healthy: true, CheckedAt: time.Now()}, policy)
	if !s.Up {
		t.Fatal("expected status to recover on the next success")
	}
	if s.ConsecutiveFailures != 0 {
		t.Errorf("expected failure count reset, got %d", s.ConsecutiveFailures)
	}
}

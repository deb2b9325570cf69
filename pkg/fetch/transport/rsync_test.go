package transport

import (
	"context"
	"testing"
	"time"
)

func TestRsyncDialerSuccess(t *testing.T) {
	dialer := &RsyncDialer{Command: []string{"true"}, Timeout: time.Second}
	result := dialer.Dial(context.Background())
	if !result.Healthy {
		t.Errorf("expected healthy, got: %s", result.Message)
	}
}

func TestRsyncDialerFailure(t *testing.T) {
	dialer := &RsyncDialer{Command: []string{"false"}, Timeout: time.Second}
	result := dialer.Dial(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy for a nonzero exit")
	}
}

func TestRsyncDialerEmptyCommand(t *testing.T) {
	dialer := &RsyncDialer{Timeout: time.Second}
	result := dialer.Dial(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy for an empty command")
	}
}

func TestRsyncDialerProtocol(t *testing.T) {
	dialer := NewRsyncDialer("rsync://rpki.example/repo/", "/var/cache/rpki/repo")
	if dialer.Protocol() != ProtocolRsync {
		t.Errorf("expected protocol %s, got %s", ProtocolRsync, dialer.Protocol())
	}
}

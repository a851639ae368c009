package database

import (
	"errors"
	"testing"
)

func TestConnectRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := connectRetry(5, 0, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("connectRetry = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestConnectRetryReturnsLastError(t *testing.T) {
	pingErr := errors.New("ping: connection reset")
	calls := 0
	err := connectRetry(3, 0, func() error {
		calls++
		return pingErr
	})
	if !errors.Is(err, pingErr) {
		t.Fatalf("connectRetry = %v, want the ping error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_DB_MAX_CONNS", "42")
	if got := envInt("TEST_DB_MAX_CONNS", 20); got != 42 {
		t.Errorf("envInt = %d, want 42", got)
	}
	t.Setenv("TEST_DB_MAX_CONNS", "-3")
	if got := envInt("TEST_DB_MAX_CONNS", 20); got != 20 {
		t.Errorf("envInt with negative value = %d, want fallback 20", got)
	}
	if got := envInt("TEST_DB_MAX_CONNS_UNSET", 20); got != 20 {
		t.Errorf("envInt unset = %d, want fallback 20", got)
	}
}

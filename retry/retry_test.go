package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{Attempts: 3, Delay: time.Millisecond}
}

func TestFirstAttemptSucceeds(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	}, nil, false)
	if err != nil {
		t.Error(err)
	}

	if result != 42 {
		t.Errorf("result=%d, expected 42", result)
	}

	if calls != 1 {
		t.Errorf("calls=%d, expected 1", calls)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, nil, false)
	if err != nil {
		t.Error(err)
	}

	if result != "ok" {
		t.Errorf("result=%q, expected ok", result)
	}

	if calls != 3 {
		t.Errorf("calls=%d, expected 3", calls)
	}
}

func TestExhaustionReturnsJoinedErrors(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	}, nil, false)
	if err == nil {
		t.Fatal("expected error, got none")
	}

	if calls != 3 {
		t.Errorf("calls=%d, expected 3", calls)
	}
}

func TestExhaustionSwallowed(t *testing.T) {
	result, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	}, nil, true)
	if err != nil {
		t.Errorf("expected swallowed exhaustion, got %v", err)
	}

	if result != 0 {
		t.Errorf("result=%d, expected zero value", result)
	}
}

func TestZeroResultIsInvalidByDefault(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	}, nil, false)
	if err == nil {
		t.Error("expected error for all-zero results, got none")
	}

	if calls != 3 {
		t.Errorf("calls=%d, expected 3", calls)
	}
}

func TestCustomValidity(t *testing.T) {
	result, err := Do(context.Background(), fastPolicy(), func(ctx context.Context) (int, error) {
		return 0, nil
	}, func(result int) bool { return true }, false)
	if err != nil {
		t.Error(err)
	}

	if result != 0 {
		t.Errorf("result=%d, expected 0", result)
	}
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{Attempts: 5, Delay: 10 * time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	}, nil, false)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err=%v, expected context.Canceled", err)
	}

	if calls != 1 {
		t.Errorf("calls=%d, expected 1", calls)
	}
}

package failover

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testController(p Policy) *Controller {
	p.RetryBackoff = 0
	return NewController(p, nil, quietLogger())
}

func TestExecuteSuccess(t *testing.T) {
	ctrl := testController(DefaultPolicy())
	calls := 0
	err := ctrl.Execute(context.Background(), []string{"gemini"}, func(_ context.Context, b string) error {
		calls++
		if b != "gemini" {
			t.Errorf("backend = %q", b)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteRetriesTransientOnce(t *testing.T) {
	ctrl := testController(DefaultPolicy())
	calls := 0
	err := ctrl.Execute(context.Background(), []string{"gemini"}, func(context.Context, string) error {
		calls++
		if calls == 1 {
			return &ProviderError{StatusCode: 503, Body: "overloaded"}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestExecuteRetryBudgetIsBounded(t *testing.T) {
	ctrl := testController(DefaultPolicy())
	calls := 0
	err := ctrl.Execute(context.Background(), []string{"gemini"}, func(context.Context, string) error {
		calls++
		return &ProviderError{StatusCode: 429, Body: "slow down"}
	})
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls)
	}
	if !IsRateLimitError(err) {
		t.Errorf("err = %v, want rate limit error", err)
	}
	if !strings.Contains(err.Error(), "slow down") {
		t.Errorf("error should carry the body: %v", err)
	}
}

func TestExecuteNoRetryOnClientError(t *testing.T) {
	ctrl := testController(DefaultPolicy())
	calls := 0
	err := ctrl.Execute(context.Background(), []string{"gemini", "openai"}, func(context.Context, string) error {
		calls++
		return &ProviderError{StatusCode: 400, Body: "bad request"}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != 400 {
		t.Errorf("err = %v", err)
	}
}

func TestExecuteFallsBackToNextBackend(t *testing.T) {
	ctrl := testController(DefaultPolicy())
	var order []string
	err := ctrl.Execute(context.Background(), []string{"gemini", "openai"}, func(_ context.Context, b string) error {
		order = append(order, b)
		if b == "gemini" {
			return &ProviderError{StatusCode: 500, Body: "boom"}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"gemini", "gemini", "openai"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestExecuteAllExhausted(t *testing.T) {
	ctrl := testController(Policy{MaxRetries: 0})
	err := ctrl.Execute(context.Background(), []string{"gemini", "openai"}, func(context.Context, string) error {
		return &ProviderError{StatusCode: 502, Body: "gateway"}
	})
	var ae *AllExhaustedError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %T %v, want *AllExhaustedError", err, err)
	}
	if len(ae.Attempted) != 2 {
		t.Errorf("attempted = %v", ae.Attempted)
	}
	if !IsRetryable(err) {
		t.Error("exhausted error should unwrap to the last transient error")
	}
}

func TestExecuteCoolingBackendMovedLast(t *testing.T) {
	ctrl := testController(Policy{MaxRetries: 0})
	ctrl.cooldowns.PutInCooldown("gemini", time.Now())

	var order []string
	err := ctrl.Execute(context.Background(), []string{"gemini", "openai"}, func(_ context.Context, b string) error {
		order = append(order, b)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 1 || order[0] != "openai" {
		t.Errorf("order = %v, want [openai]", order)
	}
}

func TestExecuteCoolingOnlyBackendStillTried(t *testing.T) {
	ctrl := testController(Policy{MaxRetries: 0})
	ctrl.cooldowns.PutInCooldown("gemini", time.Now())

	calls := 0
	err := ctrl.Execute(context.Background(), []string{"gemini"}, func(context.Context, string) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
	if ctrl.cooldowns.InCooldown("gemini", time.Now()) {
		t.Error("success should clear the cooldown")
	}
}

func TestExecutePerAttemptTimeout(t *testing.T) {
	ctrl := testController(Policy{Timeout: 20 * time.Millisecond, MaxRetries: 1})
	calls := 0
	err := ctrl.Execute(context.Background(), []string{"gemini"}, func(ctx context.Context, _ string) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestExecuteParentCancelled(t *testing.T) {
	ctrl := testController(DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := ctrl.Execute(ctx, []string{"gemini", "openai"}, func(context.Context, string) error {
		calls++
		cancel()
		return &ProviderError{StatusCode: 503}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestClassification(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
		rate      bool
		auth      bool
	}{
		{&ProviderError{StatusCode: 429}, true, true, false},
		{&ProviderError{StatusCode: 401}, false, false, true},
		{&ProviderError{StatusCode: 403}, false, false, true},
		{&ProviderError{StatusCode: 500}, true, false, false},
		{&ProviderError{StatusCode: 400}, false, false, false},
		{&ProviderError{StatusCode: 418, Retryable: true}, true, false, false},
		{io.ErrUnexpectedEOF, true, false, false},
		{errors.New("plain"), false, false, false},
		{nil, false, false, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.retryable {
			t.Errorf("IsRetryable(%v) = %v", tc.err, got)
		}
		if got := IsRateLimitError(tc.err); got != tc.rate {
			t.Errorf("IsRateLimitError(%v) = %v", tc.err, got)
		}
		if got := IsAuthError(tc.err); got != tc.auth {
			t.Errorf("IsAuthError(%v) = %v", tc.err, got)
		}
	}
}

func TestCooldownEscalates(t *testing.T) {
	ct := NewCooldownTracker(CooldownConfig{Initial: time.Second, Max: 10 * time.Second, Multiplier: 4})
	now := time.Now()
	if d := ct.PutInCooldown("a", now); d != time.Second {
		t.Errorf("first = %v", d)
	}
	if d := ct.PutInCooldown("a", now); d != 4*time.Second {
		t.Errorf("second = %v", d)
	}
	if d := ct.PutInCooldown("a", now); d != 10*time.Second {
		t.Errorf("third = %v, want capped", d)
	}
	if !ct.InCooldown("a", now.Add(5*time.Second)) {
		t.Error("expected cooldown")
	}
	if ct.InCooldown("a", now.Add(11*time.Second)) {
		t.Error("cooldown should have expired")
	}
	ct.Reset("a")
	if ct.InCooldown("a", now) {
		t.Error("reset should clear")
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{Backend: "gemini", StatusCode: 400, Body: `{"error":"bad"}`}
	if err.Error() != `gemini: provider error 400: {"error":"bad"}` {
		t.Errorf("got %q", err.Error())
	}
}

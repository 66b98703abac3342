package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

type step struct {
	res *domain.GenerationResult
	err error
}

// scriptedBackend replays steps in order and repeats the last one.
type scriptedBackend struct {
	steps []step
	calls int
}

func (b *scriptedBackend) Generate(context.Context, *domain.GenerationRequest) (*domain.GenerationResult, error) {
	s := b.steps[min(b.calls, len(b.steps)-1)]
	b.calls++
	return s.res, s.err
}

type recordingSleep struct {
	waits []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func transient(code int) step {
	return step{err: &domain.BackendError{Kind: domain.BackendTransient, StatusCode: code, Err: errors.New("unavailable")}}
}

func success(text string) step {
	return step{res: &domain.GenerationResult{Text: text, Usage: domain.Usage{TotalTokens: 12}}}
}

func newTestDispatcher(t *testing.T, backend Backend, policy Policy, sleeper *recordingSleep) *Dispatcher {
	t.Helper()
	d, err := New(backend, policy,
		WithSleep(sleeper.sleep),
		WithRand(func() float64 { return 0.5 }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func testPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
	}
}

func TestDispatchSucceedsAfterTransientFailures(t *testing.T) {
	backend := &scriptedBackend{steps: []step{transient(503), transient(500), transient(502), success("hi there")}}
	sleeper := &recordingSleep{}
	d := newTestDispatcher(t, backend, testPolicy(5), sleeper)

	out := d.Dispatch(context.Background(), &domain.GenerationRequest{Model: "m"})

	if out.State != StateSuccess {
		t.Fatalf("expected %s, got %s (%v)", StateSuccess, out.State, out.Err)
	}
	if out.Retries != 3 || out.Attempts != 4 {
		t.Errorf("expected 3 retries over 4 attempts, got %d retries over %d attempts", out.Retries, out.Attempts)
	}
	if out.Turn == nil || out.Turn.Role != domain.RoleModel || out.Turn.Text() != "hi there" {
		t.Errorf("unexpected turn %+v", out.Turn)
	}
	if out.Turn.ID == "" {
		t.Error("model turn must get an id")
	}
	if out.Usage.TotalTokens != 12 {
		t.Errorf("expected usage to be carried, got %+v", out.Usage)
	}
	if len(sleeper.waits) != 3 {
		t.Errorf("expected 3 waits, got %v", sleeper.waits)
	}
}

func TestDispatchBlockedIsNotRetried(t *testing.T) {
	backend := &scriptedBackend{steps: []step{
		{res: &domain.GenerationResult{Blocked: true, BlockCategory: string(domain.HarmCategoryHarassment)}},
		success("never reached"),
	}}
	sleeper := &recordingSleep{}
	d := newTestDispatcher(t, backend, testPolicy(5), sleeper)

	out := d.Dispatch(context.Background(), &domain.GenerationRequest{})

	if out.State != StateBlocked {
		t.Fatalf("expected %s, got %s", StateBlocked, out.State)
	}
	if out.BlockCategory != string(domain.HarmCategoryHarassment) {
		t.Errorf("unexpected block category %q", out.BlockCategory)
	}
	if backend.calls != 1 || out.Retries != 0 || len(sleeper.waits) != 0 {
		t.Errorf("blocked request was retried: %d calls, %d retries", backend.calls, out.Retries)
	}
	if out.Turn != nil {
		t.Error("blocked outcome must not carry a turn")
	}
}

func TestDispatchGivesUpAtMaxAttempts(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
	}{
		{"single attempt", 1},
		{"three attempts", 3},
		{"default", DefaultPolicy.MaxAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &scriptedBackend{steps: []step{transient(503)}}
			sleeper := &recordingSleep{}
			d := newTestDispatcher(t, backend, testPolicy(tt.maxAttempts), sleeper)

			out := d.Dispatch(context.Background(), &domain.GenerationRequest{})

			if out.State != StateFailed {
				t.Fatalf("expected %s, got %s", StateFailed, out.State)
			}
			if backend.calls != tt.maxAttempts {
				t.Errorf("expected %d backend calls, got %d", tt.maxAttempts, backend.calls)
			}
			if out.Retries != tt.maxAttempts-1 {
				t.Errorf("expected %d retries, got %d", tt.maxAttempts-1, out.Retries)
			}
			var be *domain.BackendError
			if !errors.As(out.Err, &be) || be.Kind != domain.BackendTransient {
				t.Errorf("expected wrapped transient backend error, got %v", out.Err)
			}
		})
	}
}

func TestDispatchDelaysAreNonDecreasing(t *testing.T) {
	backend := &scriptedBackend{steps: []step{transient(500)}}
	sleeper := &recordingSleep{}
	jitter := []float64{0.9, 0.0, 0.9, 0.0, 0.9, 0.0, 0.9}
	n := 0
	d, err := New(backend, testPolicy(8),
		WithSleep(sleeper.sleep),
		WithRand(func() float64 { v := jitter[n%len(jitter)]; n++; return v }),
	)
	if err != nil {
		t.Fatal(err)
	}

	out := d.Dispatch(context.Background(), &domain.GenerationRequest{})

	if len(out.Delays) != 7 {
		t.Fatalf("expected 7 delays, got %v", out.Delays)
	}
	for i := 1; i < len(out.Delays); i++ {
		if out.Delays[i] < out.Delays[i-1] {
			t.Errorf("delay %d decreased: %v", i, out.Delays)
		}
	}
	if last := out.Delays[len(out.Delays)-1]; last != 10*time.Second {
		t.Errorf("expected delays to reach the cap, got %v", last)
	}
}

func TestDispatchHonorsRetryAfter(t *testing.T) {
	backend := &scriptedBackend{steps: []step{
		{err: &domain.BackendError{Kind: domain.BackendRateLimited, StatusCode: 429, RetryAfter: 7 * time.Second, Err: errors.New("quota")}},
		{err: &domain.BackendError{Kind: domain.BackendRateLimited, StatusCode: 429, Err: errors.New("quota")}},
		success("ok"),
	}}
	sleeper := &recordingSleep{}
	d := newTestDispatcher(t, backend, testPolicy(5), sleeper)

	out := d.Dispatch(context.Background(), &domain.GenerationRequest{})

	if out.State != StateSuccess {
		t.Fatalf("expected %s, got %s", StateSuccess, out.State)
	}
	if out.Delays[0] != 7*time.Second {
		t.Errorf("expected server hint of 7s, got %v", out.Delays[0])
	}
	if out.Delays[1] < out.Delays[0] {
		t.Errorf("delay after hint decreased: %v", out.Delays)
	}
}

func TestDispatchPermanentFailsImmediately(t *testing.T) {
	backend := &scriptedBackend{steps: []step{
		{err: &domain.BackendError{Kind: domain.BackendPermanent, StatusCode: 400, Err: errors.New("bad request")}},
	}}
	sleeper := &recordingSleep{}
	d := newTestDispatcher(t, backend, testPolicy(5), sleeper)

	out := d.Dispatch(context.Background(), &domain.GenerationRequest{})

	if out.State != StateFailed || backend.calls != 1 || out.Retries != 0 {
		t.Errorf("expected immediate failure, got %s after %d calls", out.State, backend.calls)
	}
}

func TestDispatchUnclassifiedErrorIsRetried(t *testing.T) {
	backend := &scriptedBackend{steps: []step{{err: errors.New("connection reset by peer")}, success("ok")}}
	sleeper := &recordingSleep{}
	d := newTestDispatcher(t, backend, testPolicy(3), sleeper)

	if out := d.Dispatch(context.Background(), &domain.GenerationRequest{}); out.State != StateSuccess || out.Retries != 1 {
		t.Errorf("expected success after one retry, got %s with %d retries", out.State, out.Retries)
	}
}

func TestDispatchCanceledDuringWait(t *testing.T) {
	backend := &scriptedBackend{steps: []step{transient(503)}}
	ctx, cancel := context.WithCancel(context.Background())
	d, err := New(backend, testPolicy(5), WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	if err != nil {
		t.Fatal(err)
	}

	out := d.Dispatch(ctx, &domain.GenerationRequest{})

	if out.State != StateFailed || !errors.Is(out.Err, context.Canceled) {
		t.Errorf("expected canceled failure, got %s: %v", out.State, out.Err)
	}
	if backend.calls != 1 {
		t.Errorf("expected no attempt after cancellation, got %d calls", backend.calls)
	}
}

type countingObserver struct {
	attempts int
	retries  int
	outcomes []State
}

func (o *countingObserver) ObserveAttempt(time.Duration, error)  { o.attempts++ }
func (o *countingObserver) ObserveRetry(domain.BackendErrorKind) { o.retries++ }
func (o *countingObserver) ObserveOutcome(s State)               { o.outcomes = append(o.outcomes, s) }

func TestDispatchReportsToObserver(t *testing.T) {
	backend := &scriptedBackend{steps: []step{transient(503), success("ok")}}
	obs := &countingObserver{}
	d, err := New(backend, testPolicy(3), WithSleep((&recordingSleep{}).sleep), WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}

	d.Dispatch(context.Background(), &domain.GenerationRequest{})

	if obs.attempts != 2 || obs.retries != 1 || len(obs.outcomes) != 1 || obs.outcomes[0] != StateSuccess {
		t.Errorf("unexpected observations %+v", obs)
	}
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	bad := testPolicy(0)
	if _, err := New(&scriptedBackend{}, bad); err == nil {
		t.Error("expected error for zero max attempts")
	}
	if _, err := New(nil, DefaultPolicy); err == nil {
		t.Error("expected error for missing backend")
	}
}

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/metronome/internal/outcome"
	"github.com/muaviaUsmani/metronome/internal/schedule"
)

// mockRecorder captures post-run write-backs
type mockRecorder struct {
	mu        sync.Mutex
	successes []string
	failures  []string
	lastErr   error
}

func (m *mockRecorder) RecordRunSuccess(ctx context.Context, ownerID, id string, finishedAt time.Time) (*schedule.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, id)
	return &schedule.Schedule{ID: id, OwnerID: ownerID, Status: schedule.StatusActive}, nil
}

func (m *mockRecorder) RecordRunFailure(ctx context.Context, ownerID, id string, finishedAt time.Time, runErr error) (*schedule.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, id)
	m.lastErr = runErr
	return &schedule.Schedule{ID: id, OwnerID: ownerID, Status: schedule.StatusActive}, nil
}

func claimedSchedule(id string) *schedule.Schedule {
	return &schedule.Schedule{
		ID:          id,
		OwnerID:     "owner-1",
		Target:      schedule.Target{ChatID: "chat-1"},
		Instruction: "summarize inbox",
		Status:      schedule.StatusActive,
	}
}

func runToCompletion(t *testing.T, runner Runner, rec Recorder, outcomes outcome.Backend, schedules ...*schedule.Schedule) {
	t.Helper()

	executions := make(chan *schedule.Schedule, len(schedules))
	for _, sc := range schedules {
		executions <- sc
	}
	close(executions)

	exec := NewExecutor(runner, rec, outcomes, executions, 2, time.Second)
	exec.Start(context.Background())
	exec.Wait()
}

func TestExecute_Success(t *testing.T) {
	rec := &mockRecorder{}
	var got *RunRequest
	runner := FuncRunner(func(ctx context.Context, req *RunRequest) (*RunResult, error) {
		got = req
		return &RunResult{Output: json.RawMessage(`"done"`)}, nil
	})

	runToCompletion(t, runner, rec, nil, claimedSchedule("s-1"))

	if len(rec.successes) != 1 || rec.successes[0] != "s-1" {
		t.Fatalf("expected one success for s-1, got %v", rec.successes)
	}
	if len(rec.failures) != 0 {
		t.Fatalf("unexpected failures: %v", rec.failures)
	}
	if got == nil || got.Instruction != "summarize inbox" || got.Target.ChatID != "chat-1" {
		t.Error("run request did not carry the schedule payload")
	}
}

func TestExecute_Failure(t *testing.T) {
	rec := &mockRecorder{}
	runner := FuncRunner(func(ctx context.Context, req *RunRequest) (*RunResult, error) {
		return nil, errors.New("agent unavailable")
	})

	runToCompletion(t, runner, rec, nil, claimedSchedule("s-1"))

	if len(rec.failures) != 1 {
		t.Fatalf("expected one failure, got %v", rec.failures)
	}
	if rec.lastErr == nil || rec.lastErr.Error() != "agent unavailable" {
		t.Errorf("expected run error recorded, got %v", rec.lastErr)
	}
}

func TestExecute_PanicIsContained(t *testing.T) {
	rec := &mockRecorder{}
	var calls atomic.Int32
	runner := FuncRunner(func(ctx context.Context, req *RunRequest) (*RunResult, error) {
		calls.Add(1)
		if req.ScheduleID == "s-panic" {
			panic("runner exploded")
		}
		return &RunResult{}, nil
	})

	runToCompletion(t, runner, rec, nil, claimedSchedule("s-panic"), claimedSchedule("s-ok"))

	if calls.Load() != 2 {
		t.Fatalf("a panic must not stop the pool, got %d calls", calls.Load())
	}
	if len(rec.failures) != 1 || rec.failures[0] != "s-panic" {
		t.Errorf("panic should be recorded as a run failure, got %v", rec.failures)
	}
	if len(rec.successes) != 1 || rec.successes[0] != "s-ok" {
		t.Errorf("the surviving run should succeed, got %v", rec.successes)
	}
}

func TestExecutor_DrainsOnClose(t *testing.T) {
	rec := &mockRecorder{}
	runner := FuncRunner(func(ctx context.Context, req *RunRequest) (*RunResult, error) {
		return &RunResult{}, nil
	})

	schedules := make([]*schedule.Schedule, 10)
	for i := range schedules {
		schedules[i] = claimedSchedule("s-" + string(rune('a'+i)))
	}

	runToCompletion(t, runner, rec, nil, schedules...)

	if len(rec.successes) != 10 {
		t.Fatalf("all enqueued work must drain, got %d of 10", len(rec.successes))
	}
}

func TestExecutor_DrainWriteBackSurvivesShutdown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	outcomes := outcome.NewRedisBackend(client, time.Hour, 24*time.Hour)

	rec := &mockRecorder{}
	var ran atomic.Int32
	runner := FuncRunner(func(ctx context.Context, req *RunRequest) (*RunResult, error) {
		ran.Add(1)
		return &RunResult{}, nil
	})

	executions := make(chan *schedule.Schedule, 1)
	executions <- claimedSchedule("s-1")
	close(executions)

	// The shutdown signal lands before the drain even begins
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewExecutor(runner, rec, outcomes, executions, 1, time.Second)
	exec.Start(ctx)
	exec.Wait()

	if ran.Load() != 1 {
		t.Fatal("enqueued work must still run during the drain")
	}
	if len(rec.successes) != 1 || rec.successes[0] != "s-1" {
		t.Fatalf("a drained run's write-back must persist after shutdown, got %v", rec.successes)
	}

	o, err := outcomes.GetOutcome(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("expected stored outcome, got %v", err)
	}
	if o == nil {
		t.Fatal("a drained run's outcome must be stored after shutdown")
	}
}

func TestExecute_StoresOutcome(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	outcomes := outcome.NewRedisBackend(client, time.Hour, 24*time.Hour)

	rec := &mockRecorder{}
	runner := FuncRunner(func(ctx context.Context, req *RunRequest) (*RunResult, error) {
		return &RunResult{Output: json.RawMessage(`{"summary":"3 new emails"}`)}, nil
	})

	runToCompletion(t, runner, rec, outcomes, claimedSchedule("s-1"))

	o, err := outcomes.GetOutcome(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("expected stored outcome, got %v", err)
	}
	if o == nil {
		t.Fatal("expected an outcome to be stored")
	}
	if !o.Succeeded() {
		t.Errorf("expected a succeeded outcome, got %s", o.Status)
	}
	if string(o.Output) != `{"summary":"3 new emails"}` {
		t.Errorf("unexpected output %s", o.Output)
	}
}

func TestHTTPRunner_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode run request: %v", err)
		}
		if req.ScheduleID != "s-1" {
			t.Errorf("expected schedule id s-1, got %s", req.ScheduleID)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output":{"summary":"ok"}}`))
	}))
	defer srv.Close()

	runner := NewHTTPRunner(srv.URL, time.Second)
	result, err := runner.Run(context.Background(), &RunRequest{ScheduleID: "s-1", OwnerID: "owner-1", Instruction: "go"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(result.Output) != `{"summary":"ok"}` {
		t.Errorf("unexpected output %s", result.Output)
	}
}

func TestHTTPRunner_NonJSONBodyKeptAsOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text reply"))
	}))
	defer srv.Close()

	runner := NewHTTPRunner(srv.URL, time.Second)
	result, err := runner.Run(context.Background(), &RunRequest{ScheduleID: "s-1", Instruction: "go"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(result.Output) != `"plain text reply"` {
		t.Errorf("expected raw body kept as output, got %s", result.Output)
	}
}

func TestHTTPRunner_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent crashed", http.StatusBadGateway)
	}))
	defer srv.Close()

	runner := NewHTTPRunner(srv.URL, time.Second)
	if _, err := runner.Run(context.Background(), &RunRequest{ScheduleID: "s-1", Instruction: "go"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

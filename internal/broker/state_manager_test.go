package broker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/events"
)

func testManager(t *testing.T) (*StateManager, *Handle) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(10, events.NewHub(32), logger)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(cancel)
	return m, m.Handle()
}

func TestDispatchThenPollDeliversTask(t *testing.T) {
	_, h := testManager(t)

	ta := NewToolArguments(RunCommand{Command: "print(1)"})
	resultTx := make(chan Result, 1)
	if err := h.DispatchTask(ta, resultTx); err != nil {
		t.Fatalf("DispatchTask: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := h.PollForTask(ctx)
	if err != nil {
		t.Fatalf("PollForTask: %v", err)
	}
	if got == nil || got.ID != ta.ID {
		t.Fatalf("expected task %s, got %+v", ta.ID, got)
	}
}

func TestPollParksThenDispatchHandsOffDirectly(t *testing.T) {
	_, h := testManager(t)

	type pollResult struct {
		task *ToolArguments
		err  error
	}
	done := make(chan pollResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		task, err := h.PollForTask(ctx)
		done <- pollResult{task, err}
	}()

	time.Sleep(50 * time.Millisecond) // let the poller park as waiter

	ta := NewToolArguments(InsertModel{Query: "tree"})
	resultTx := make(chan Result, 1)
	if err := h.DispatchTask(ta, resultTx); err != nil {
		t.Fatalf("DispatchTask: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("PollForTask: %v", r.err)
		}
		if r.task == nil || r.task.ID != ta.ID {
			t.Fatalf("expected direct handoff of %s, got %+v", ta.ID, r.task)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for parked poller to receive task")
	}
}

// TestDispatchAfterWaiterExpiredQueuesTask pins the tie-break for a
// dispatch that finds a parked waiter whose long-poll deadline already
// elapsed, with no intervening poll to clear the slot: the task must
// land on the queue for the next poller, never be lost into the dead
// waiter's channel.
func TestDispatchAfterWaiterExpiredQueuesTask(t *testing.T) {
	_, h := testManager(t)

	pollCtx, pollCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer pollCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		task, err := h.PollForTask(pollCtx)
		if err != nil || task != nil {
			t.Errorf("expired poll: task=%v err=%v", task, err)
		}
	}()

	<-done // poller parked, timed out, and returned; slot still holds it
	time.Sleep(20 * time.Millisecond)

	ta := NewToolArguments(RunCommand{Command: "print(1)"})
	resultTx := make(chan Result, 1)
	if err := h.DispatchTask(ta, resultTx); err != nil {
		t.Fatalf("DispatchTask: %v", err)
	}

	// A fresh poller must find the task on the queue.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := h.PollForTask(ctx)
	if err != nil {
		t.Fatalf("PollForTask: %v", err)
	}
	if got == nil || got.ID != ta.ID {
		t.Fatalf("expected queued task %s after waiter expiry, got %+v", ta.ID, got)
	}
}

func TestQueuedTasksDeliveredInDispatchOrder(t *testing.T) {
	_, h := testManager(t)

	first := NewToolArguments(RunCommand{Command: "a"})
	second := NewToolArguments(RunCommand{Command: "b"})
	for _, ta := range []ToolArguments{first, second} {
		if err := h.DispatchTask(ta, make(chan Result, 1)); err != nil {
			t.Fatalf("DispatchTask: %v", err)
		}
	}

	for i, want := range []ToolArguments{first, second} {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		got, err := h.PollForTask(ctx)
		cancel()
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if got == nil || got.ID != want.ID {
			t.Fatalf("poll %d: expected %s, got %+v", i, want.ID, got)
		}
	}
}

func TestSubmitResultDeliversToDispatcher(t *testing.T) {
	_, h := testManager(t)

	ta := NewToolArguments(RunCommand{Command: "print(1)"})
	resultTx := make(chan Result, 1)
	if err := h.DispatchTask(ta, resultTx); err != nil {
		t.Fatalf("DispatchTask: %v", err)
	}

	want := TextResult("1")
	if err := h.SubmitTaskResult(ta.ID.String(), want); err != nil {
		t.Fatalf("SubmitTaskResult: %v", err)
	}

	select {
	case got := <-resultTx:
		if got.Content[0].Text != "1" {
			t.Fatalf("expected result text %q, got %q", "1", got.Content[0].Text)
		}
	case <-time.After(time.Second):
		t.Fatal("result never delivered")
	}
}

func TestStaleSubmitIsDroppedSilently(t *testing.T) {
	_, h := testManager(t)
	// No DispatchTask happened for this id; this must not panic or block.
	if err := h.SubmitTaskResult("00000000-0000-0000-0000-000000000000", TextResult("late")); err != nil {
		t.Fatalf("SubmitTaskResult: %v", err)
	}
}

func TestCleanupOnTimeoutThenSubmitIsNoop(t *testing.T) {
	_, h := testManager(t)

	ta := NewToolArguments(RunCommand{Command: "print(1)"})
	resultTx := make(chan Result, 1)
	if err := h.DispatchTask(ta, resultTx); err != nil {
		t.Fatalf("DispatchTask: %v", err)
	}
	if err := h.CleanupTaskOnTimeout(ta.ID.String()); err != nil {
		t.Fatalf("CleanupTaskOnTimeout: %v", err)
	}

	// A submission arriving after cleanup must be a silent no-op, and the
	// result channel must never receive anything.
	if err := h.SubmitTaskResult(ta.ID.String(), TextResult("too late")); err != nil {
		t.Fatalf("SubmitTaskResult: %v", err)
	}
	select {
	case got := <-resultTx:
		t.Fatalf("expected no delivery after cleanup, got %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSupersedingPollerCancelsOlder(t *testing.T) {
	_, h := testManager(t)

	type pollResult struct {
		task *ToolArguments
		err  error
	}
	firstDone := make(chan pollResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		task, err := h.PollForTask(ctx)
		firstDone <- pollResult{task, err}
	}()

	time.Sleep(50 * time.Millisecond)

	secondDone := make(chan pollResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		task, err := h.PollForTask(ctx)
		secondDone <- pollResult{task, err}
	}()

	select {
	case r := <-firstDone:
		if r.err != nil {
			t.Fatalf("first poller: %v", r.err)
		}
		if r.task != nil {
			t.Fatalf("expected superseded poller to see no task, got %+v", r.task)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("superseded poller never woke")
	}

	ta := NewToolArguments(RunCommand{Command: "x"})
	resultTx := make(chan Result, 1)
	if err := h.DispatchTask(ta, resultTx); err != nil {
		t.Fatalf("DispatchTask: %v", err)
	}

	select {
	case r := <-secondDone:
		if r.err != nil {
			t.Fatalf("second poller: %v", r.err)
		}
		if r.task == nil || r.task.ID != ta.ID {
			t.Fatalf("expected second poller to receive %s, got %+v", ta.ID, r.task)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second poller never received the task")
	}
}

// TestConcurrentCallsCorrelateResults drives many dispatchers against a
// single polling loop at once and checks the correlation invariants:
// every handed-out id is unique, and each dispatcher receives exactly
// the result submitted under its own task's id.
func TestConcurrentCallsCorrelateResults(t *testing.T) {
	_, h := testManager(t)

	const n = 50
	type call struct {
		ta       ToolArguments
		resultTx chan Result
	}
	calls := make([]call, n)
	for i := range calls {
		calls[i] = call{
			ta:       NewToolArguments(RunCommand{Command: "print(1)"}),
			resultTx: make(chan Result, 1),
		}
	}

	var wg sync.WaitGroup
	for _, c := range calls {
		wg.Add(1)
		go func(c call) {
			defer wg.Done()
			if err := h.DispatchTask(c.ta, c.resultTx); err != nil {
				t.Errorf("DispatchTask: %v", err)
			}
		}(c)
	}
	wg.Wait()

	// One plugin: poll every task out and echo its id back as the result.
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		task, err := h.PollForTask(ctx)
		cancel()
		if err != nil || task == nil {
			t.Fatalf("poll %d: task=%v err=%v", i, task, err)
		}
		id := task.ID.String()
		if seen[id] {
			t.Fatalf("task %s handed out twice", id)
		}
		seen[id] = true
		if err := h.SubmitTaskResult(id, TextResult(id)); err != nil {
			t.Fatalf("SubmitTaskResult: %v", err)
		}
	}

	for _, c := range calls {
		select {
		case got := <-c.resultTx:
			if got.Content[0].Text != c.ta.ID.String() {
				t.Fatalf("dispatcher for %s received result for %s", c.ta.ID, got.Content[0].Text)
			}
		case <-time.After(time.Second):
			t.Fatalf("dispatcher for %s never received its result", c.ta.ID)
		}
		select {
		case extra := <-c.resultTx:
			t.Fatalf("dispatcher for %s received a second result: %+v", c.ta.ID, extra)
		default:
		}
	}
}

func TestShutdownWakesOutstandingPoller(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(10, events.NewHub(8), logger)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	h := m.Handle()

	pollCtx, pollCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pollCancel()

	done := make(chan struct{})
	go func() {
		_, _ = h.PollForTask(pollCtx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel() // shut down the state manager

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller never woke after state manager shutdown")
	}
}

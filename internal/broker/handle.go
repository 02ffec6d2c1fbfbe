package broker

import (
	"context"
	"errors"
)

// ErrBrokerUnavailable is returned when a command cannot be delivered
// because the State Manager has stopped.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// Handle is what the Dispatcher and the HTTP Poll/Submit handlers hold
// to talk to the State Manager. It carries no mutable state of its own.
type Handle struct {
	cmdCh chan<- Command
	done  <-chan struct{}
}

func (h *Handle) send(cmd Command) error {
	select {
	case h.cmdCh <- cmd:
		return nil
	case <-h.done:
		return ErrBrokerUnavailable
	}
}

// DispatchTask registers resultTx as the channel that will receive the
// result for args.ID and enqueues (or hands off) the task.
func (h *Handle) DispatchTask(args ToolArguments, resultTx chan Result) error {
	return h.send(DispatchTask{Args: args, ResponseTx: resultTx})
}

// PollForTask asks for the next task, parking as the waiter if the queue
// is empty. It blocks until a task arrives, ctx is cancelled, or the
// broker stops. A nil, nil return means "no task" (204-equivalent).
func (h *Handle) PollForTask(ctx context.Context) (*ToolArguments, error) {
	respTx := make(chan *ToolArguments, 1)
	if err := h.send(PollForTask{ResponseTx: respTx, Done: ctx.Done()}); err != nil {
		return nil, err
	}
	select {
	case task := <-respTx:
		return task, nil
	case <-h.done:
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	}
}

// SubmitTaskResult delivers result to whoever is waiting on taskID, or
// logs a stale-result drop if nobody is.
func (h *Handle) SubmitTaskResult(taskID string, result Result) error {
	return h.send(SubmitTaskResult{TaskID: taskID, Result: result})
}

// CleanupTaskOnTimeout removes a pending entry the Dispatcher gave up
// waiting on, so a later stale submission is recognized as such.
func (h *Handle) CleanupTaskOnTimeout(taskID string) error {
	return h.send(CleanupTaskOnTimeout{TaskID: taskID})
}

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrBrokerLostResponse indicates the result channel was closed before
// a value arrived. Not expected in practice since the channel is never
// closed by either side.
var ErrBrokerLostResponse = errors.New("broker lost response")

// Dispatcher is the per-call coordinator: it assigns an id, submits a
// DispatchTask command, and awaits the correlated result under a hard
// deadline. It is stateless between calls.
type Dispatcher struct {
	handle  *Handle
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher builds a Dispatcher bound to handle, enforcing timeout
// (TOOL_EXECUTION_TIMEOUT) on every call.
func NewDispatcher(handle *Handle, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{handle: handle, timeout: timeout, logger: logger}
}

// Call builds a ToolArguments around args, dispatches it, and waits for
// its result or the timeout, whichever comes first.
func (d *Dispatcher) Call(ctx context.Context, args ArgVariant) (ToolArguments, Result, error) {
	ta := NewToolArguments(args)
	resultTx := make(chan Result, 1)

	if err := d.handle.DispatchTask(ta, resultTx); err != nil {
		return ta, Result{}, fmt.Errorf("broker unavailable: %w", err)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case result, ok := <-resultTx:
		if !ok {
			return ta, Result{}, ErrBrokerLostResponse
		}
		return ta, result, nil

	case <-timer.C:
		if err := d.handle.CleanupTaskOnTimeout(ta.ID.String()); err != nil {
			d.logger.Warn("cleanup after timeout failed", "task_id", ta.ID.String(), "error", err)
		}
		return ta, Result{}, fmt.Errorf("tool execution timed out after %ds", int(d.timeout.Seconds()))

	case <-ctx.Done():
		if err := d.handle.CleanupTaskOnTimeout(ta.ID.String()); err != nil {
			d.logger.Warn("cleanup after cancellation failed", "task_id", ta.ID.String(), "error", err)
		}
		return ta, Result{}, ctx.Err()
	}
}

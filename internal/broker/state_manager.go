package broker

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/events"
)

// StateManager is the sole mutator of the task queue, the pending-result
// table, and the at-most-one waiter slot. It owns all three exclusively;
// nothing outside its Run loop ever touches them, so none of them need a
// lock. All access goes through a serialized command channel.
type StateManager struct {
	cmdCh  chan Command
	closed chan struct{}
	hub    *events.Hub
	logger *slog.Logger
}

// New builds a StateManager with the given command-channel capacity.
// Call Run in its own goroutine to start serving.
func New(capacity int, hub *events.Hub, logger *slog.Logger) *StateManager {
	if capacity <= 0 {
		capacity = 100
	}
	return &StateManager{
		cmdCh:  make(chan Command, capacity),
		closed: make(chan struct{}),
		hub:    hub,
		logger: logger,
	}
}

// Handle returns a handle producers use to submit commands. Handles are
// cheap to create and share: they wrap only channels.
func (m *StateManager) Handle() *Handle {
	return &Handle{cmdCh: m.cmdCh, done: m.closed}
}

type waiterSlot struct {
	respTx chan *ToolArguments
	done   <-chan struct{}
}

// Run serves commands until ctx is cancelled. On exit it closes the
// manager's closed channel so that every Handle.send in flight fails
// fast with ErrBrokerUnavailable, satisfying the "no deadlock under
// shutdown" property.
func (m *StateManager) Run(ctx context.Context) {
	defer close(m.closed)

	var (
		queue   []ToolArguments
		pending = make(map[string]chan Result)
		waiter  *waiterSlot
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("state manager stopping")
			return

		case cmd := <-m.cmdCh:
			switch c := cmd.(type) {

			case DispatchTask:
				id := c.Args.ID.String()
				if _, exists := pending[id]; exists {
					m.logger.Error("task id reuse", "task_id", id)
				}
				pending[id] = c.ResponseTx

				if waiter != nil {
					w := waiter
					waiter = nil
					// Check the poller's cancellation before sending:
					// w.respTx is buffered, so a send into it always
					// succeeds even when the poller already returned,
					// and a two-case select would pick between the two
					// ready cases at random, sometimes losing the task
					// into a channel nobody reads. The task is already
					// committed to pending_results, so an abandoned
					// waiter means it goes on the queue, never away.
					select {
					case <-w.done:
						queue = append(queue, c.Args)
						m.hub.Publish(events.TypeTaskQueued, events.TaskEvent{TaskID: id})
					default:
						w.respTx <- &c.Args
						m.hub.Publish(events.TypeTaskDispatched, events.TaskEvent{TaskID: id})
					}
				} else {
					queue = append(queue, c.Args)
					m.hub.Publish(events.TypeTaskQueued, events.TaskEvent{TaskID: id})
				}

			case PollForTask:
				if len(queue) > 0 {
					task := queue[0]
					queue = queue[1:]
					// Same deterministic check as the DispatchTask
					// handoff: the response channel is buffered, so
					// cancellation must be inspected first. A poller
					// that gave up means the task is discarded, not
					// re-queued; the dispatcher's own timeout cleans
					// up the pending entry.
					select {
					case <-c.Done:
						m.logger.Warn("poller gave up before task delivery, discarding", "task_id", task.ID.String())
					default:
						c.ResponseTx <- &task
						m.hub.Publish(events.TypeTaskDispatched, events.TaskEvent{TaskID: task.ID.String()})
					}
				} else if waiter == nil {
					waiter = &waiterSlot{respTx: c.ResponseTx, done: c.Done}
				} else {
					old := waiter
					select {
					case old.respTx <- nil:
					default:
					}
					waiter = &waiterSlot{respTx: c.ResponseTx, done: c.Done}
					m.hub.Publish(events.TypePollerSuperseded, events.TaskEvent{})
				}

			case SubmitTaskResult:
				tx, ok := pending[c.TaskID]
				delete(pending, c.TaskID)
				if ok {
					select {
					case tx <- c.Result:
						m.hub.Publish(events.TypeTaskCompleted, events.TaskEvent{TaskID: c.TaskID})
					default:
						m.logger.Warn("result arrived after dispatcher gave up", "task_id", c.TaskID)
					}
				} else {
					m.logger.Warn("stale result for unknown task", "task_id", c.TaskID)
					m.hub.Publish(events.TypeResultStale, events.TaskEvent{TaskID: c.TaskID})
				}

			case CleanupTaskOnTimeout:
				if _, ok := pending[c.TaskID]; ok {
					delete(pending, c.TaskID)
					m.hub.Publish(events.TypeTaskTimedOut, events.TaskEvent{TaskID: c.TaskID})
				}
			}
		}
	}
}

package broker

// Command is one message accepted by the State Manager's command channel.
// All mutation of queue/pending-table/waiter state happens only inside
// the State Manager's receive loop, never by a caller directly.
type Command interface {
	isCommand()
}

// DispatchTask is sent by the Dispatcher to enqueue a task and register
// the channel its eventual result will be delivered on.
type DispatchTask struct {
	Args       ToolArguments
	ResponseTx chan Result
}

func (DispatchTask) isCommand() {}

// PollForTask is sent by the HTTP Poll handler. Done is the poller's own
// context cancellation signal: the State Manager selects on it so a
// poller that already gave up (local long-poll timeout fired) never
// causes the manager to block, and so a handed-out task whose poller
// vanished is discarded rather than silently lost to a blocked send.
type PollForTask struct {
	ResponseTx chan *ToolArguments
	Done       <-chan struct{}
}

func (PollForTask) isCommand() {}

// SubmitTaskResult is sent by the HTTP Submit handler with the plugin's
// result for a previously dispatched task id.
type SubmitTaskResult struct {
	TaskID string
	Result Result
}

func (SubmitTaskResult) isCommand() {}

// CleanupTaskOnTimeout is sent by the Dispatcher after its deadline
// elapses with no result, so a later stale submission is recognized and
// dropped instead of waking nobody.
type CleanupTaskOnTimeout struct {
	TaskID string
}

func (CleanupTaskOnTimeout) isCommand() {}

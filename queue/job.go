package queue

import (
	"encoding/json"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Queue is a queue name. A queue marked Global is discoverable
// cluster-wide rather than only on the local node (see Registry).
type Queue struct {
	Name   string
	Global bool
}

// Task is the wire form of a job's work: a handler identifier the worker
// pool resolves from its registered map, plus the handler's argument blob.
// This is the tagged-variant replacement for dynamic (name, args) dispatch.
type Task struct {
	Handler string          `json:"handler"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// ReplyAddr identifies the caller that should receive the job's result.
type ReplyAddr struct {
	CallerID  string
	RequestID string
}

// ResultKind tags the three shapes a Job's Result can take once it has
// been executed: successful completion, a failure exit, or a reroute by
// a Move failure mode.
type ResultKind int

const (
	ResultNone ResultKind = iota
	ResultOK
	ResultExit
	ResultMoved
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultExit:
		return "exit"
	case ResultMoved:
		return "moved"
	default:
		return "none"
	}
}

// Result is populated on a Job once the pipeline has executed it.
type Result struct {
	Kind  ResultKind
	Value any
	Err   error
}

// PKValue is one (field, value) pair of a row's primary key.
type PKValue struct {
	Field string
	Value any
}

// PrimaryKey is the ordered list of primary-key pairs identifying a row.
// Honeydew treats primary keys opaquely: marshaling is the Schema's job.
type PrimaryKey []PKValue

// Values returns the primary key's values in field order, for passing to
// SQL parameter binding or a task_fn hook.
func (pk PrimaryKey) Values() []any {
	out := make([]any, len(pk))
	for i, v := range pk {
		out[i] = v.Value
	}
	return out
}

// Job is a single unit of queued work.
type Job struct {
	Queue string

	// Task is the work to perform. For the Ecto Poll Queue backend this
	// is produced by the queue's task_fn hook from the reserved row's
	// primary key, defaulting to handler "run" with the key as its sole
	// argument.
	Task Task

	// Private identifies the backing row: the ordered primary-key pairs
	// that ack/nack/cancel use to address it again.
	Private PrimaryKey

	// FailurePrivate is the opaque blob persisted between attempts
	// (retry counters, etc.), round-tripped through the row's private
	// column.
	FailurePrivate []byte

	// From is set when the caller wants the result delivered back.
	From *ReplyAddr

	// Result is populated after execution; nil before then.
	Result *Result

	// CompletedAt distinguishes "acked after success" from "acked while
	// still pending" (moved or abandoned). Nil means the latter.
	CompletedAt *time.Time
}

// WithReply returns a copy of the job carrying addr as its reply address.
func (j Job) WithReply(addr ReplyAddr) Job {
	j.From = &addr
	return j
}

// DefaultTask builds the default task_fn result: handler "run" with the
// primary key values as its argument.
func DefaultTask(pk PrimaryKey) Task {
	args, _ := json.Marshal(pk.Values())
	return Task{Handler: "run", Args: args}
}

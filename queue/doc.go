/*
Package queue implements an Ecto-style poll queue: a job queue whose storage
is rows in an existing user table, where a single integer lock column
encodes queue membership, execution order, visibility timeouts,
cancellation and terminal disposition.

# Components

The package is organized around five collaborating pieces:

  - Dialect (dialect.go, dialect_postgres.go, dialect_cockroachdb.go) emits
    the engine-specific SQL for reserve, delay, cancel, status, reset-stale
    and filter.
  - Source (source.go) owns the lock-field state machine: it translates
    queue operations into dialect SQL and loads/dumps primary keys and the
    private blob through the Schema capability interface.
  - PollQueue (pollqueue.go) is the generic single-owner event loop that
    drives reservation and dispatch for one queue instance.
  - The job pipeline (pipeline.go) executes a reserved job through a
    Worker, monitors the outcome, and runs the reply protocol.
  - Failure modes (failuremode.go and friends) decide what happens when a
    worker's execution raises: abandon, retry, or move to another queue.

# Manager

Manager (manager.go) wires these together behind the external surface
described by the queue configuration: Enqueue, Async, Yield, Suspend,
Resume, Status, Filter, Cancel and Move.

	mgr, err := queue.New(pool, nil)
	mgr.StartQueue(ctx, queue.QueueConfig{
		Name:     "resize-photo",
		Schema:   schema,
		Handlers: handlers,
	})
	job, err := mgr.Async("resize-photo", task, pk, queue.AsyncOpt{Reply: true, CallerID: "caller-a"})
	result, err := mgr.Yield(ctx, job, "caller-a", 5*time.Second)
*/
package queue

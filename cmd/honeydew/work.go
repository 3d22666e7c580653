package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	// Packages
	cron "github.com/robfig/cron/v3"
	queue "github.com/koudelka/honeydew/queue"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type WorkCommands struct {
	Work WorkCommand `cmd:"" name:"work" help:"Run the poll loop and worker pool for the queue." group:"WORK"`
}

type WorkCommand struct {
	Workers      int           `name:"workers" help:"Worker pool size" default:"4"`
	PollInterval time.Duration `name:"poll-interval" help:"Idle poll cadence" default:"10s"`
	Retries      int           `name:"retries" help:"Retry attempts before abandoning a row" default:"0"`
	RetryDelay   time.Duration `name:"retry-delay" help:"Backoff between retries" default:"30s"`

	// MoveTo and MoveCron, together, demonstrate the Move failure mode
	// on a schedule rather than on handler failure: every tick, every
	// abandoned row is moved onto MoveTo.
	MoveTo   string `name:"move-to" help:"Queue to move abandoned rows onto, on a schedule"`
	MoveCron string `name:"move-cron" help:"Cron expression for the move-abandoned ticker" default:"@every 1m"`
}

////////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *WorkCommand) Run(ctx *Globals) error {
	conn, err := ctx.Conn()
	if err != nil {
		return err
	}

	manager, err := queue.New(conn, nil)
	if err != nil {
		return err
	}

	var failureMode queue.FailureMode = queue.AbandonMode{}
	if cmd.Retries > 0 {
		failureMode = queue.NewRetryMode(cmd.Retries, cmd.RetryDelay)
	}

	handlers := map[string]queue.Handler{
		"run": func(ctx context.Context, task queue.Task) (any, error) {
			fmt.Println("ran task", task.Handler, string(task.Args))
			return nil, nil
		},
	}

	handle, err := manager.StartQueue(ctx.ctx, queue.QueueConfig{
		Name:         ctx.Queue,
		Schema:       ctx.schema(),
		Dialect:      ctx.dialect(),
		PollInterval: cmd.PollInterval,
		FailureMode:  failureMode,
		Handlers:     handlers,
		Workers:      cmd.Workers,
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if cmd.MoveTo != "" {
		if _, err := manager.StartQueue(ctx.ctx, queue.QueueConfig{
			Name:     cmd.MoveTo,
			Schema:   ctx.schema(),
			Dialect:  ctx.dialect(),
			Handlers: handlers,
			Workers:  1,
		}); err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			runMoveTicker(ctx.ctx, manager, handle.Queue, cmd.MoveTo, cmd.MoveCron)
		}()
	}

	fmt.Println("...working on", ctx.Queue)
	manager.Wait()
	wg.Wait()
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// runMoveTicker fires on expr and moves every currently abandoned row on
// fromQueue onto toQueue (spec §4.5's Move, driven on a schedule rather
// than from inside a failure mode).
func runMoveTicker(ctx context.Context, manager *queue.Manager, fromQueue, toQueue, expr string) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		fmt.Println("move ticker: invalid cron expression:", err)
		return
	}

	next := schedule.Next(time.Now())
	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		next = schedule.Next(time.Now())

		jobs, err := manager.Filter(ctx, fromQueue)
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Println("move ticker: filter:", err)
			continue
		}
		for _, job := range jobs {
			if _, err := manager.Move(ctx, fromQueue, job.Private, toQueue); err != nil {
				fmt.Println("move ticker: move:", err)
			}
		}
	}
}

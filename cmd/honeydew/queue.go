package main

import (
	"fmt"

	// Packages
	queue "github.com/koudelka/honeydew/queue"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type EnqueueCommands struct {
	Enqueue EnqueueCommand `cmd:"" name:"enqueue" help:"Ready a row for the queue to pick up." group:"QUEUE"`
	Status  StatusCommand  `cmd:"" name:"status" help:"Print the queue's row-count breakdown." group:"QUEUE"`
	Cancel  CancelCommand  `cmd:"" name:"cancel" help:"Cancel a ready or delayed row." group:"QUEUE"`
	Filter  FilterCommand  `cmd:"" name:"abandoned" help:"List rows abandoned by a failure mode." group:"QUEUE"`
}

type EnqueueCommand struct {
	ID int64 `arg:"" name:"id" help:"Row primary key"`
}

type StatusCommand struct{}

type CancelCommand struct {
	ID int64 `arg:"" name:"id" help:"Row primary key"`
}

type FilterCommand struct{}

////////////////////////////////////////////////////////////////////////////////
// COMMANDS

// Run readies cmd.ID's row directly against the Source, the same way
// Manager.moveFn readies a row on a Move target: there is no
// in-process Manager to route through from a one-shot CLI invocation,
// since StartQueue only ever runs inside the long-lived "work"
// subcommand.
func (cmd *EnqueueCommand) Run(ctx *Globals) error {
	conn, err := ctx.Conn()
	if err != nil {
		return err
	}

	source, err := queue.NewSource(conn, ctx.Queue, ctx.schema(), ctx.dialect())
	if err != nil {
		return err
	}

	job := &queue.Job{Queue: ctx.Queue, Private: pk(cmd.ID)}
	if err := source.Nack(ctx.ctx, job, 0); err != nil {
		return err
	}

	fmt.Printf("queued %s row %d\n", ctx.Queue, cmd.ID)
	return nil
}

func (cmd *StatusCommand) Run(ctx *Globals) error {
	conn, err := ctx.Conn()
	if err != nil {
		return err
	}

	source, err := queue.NewSource(conn, ctx.Queue, ctx.schema(), ctx.dialect())
	if err != nil {
		return err
	}

	status, err := source.Status(ctx.ctx)
	if err != nil {
		return err
	}

	fmt.Printf("ready=%d in_progress=%d delayed=%d abandoned=%d\n",
		status.Ready, status.InProgress, status.Delayed, status.Abandoned)
	return nil
}

func (cmd *CancelCommand) Run(ctx *Globals) error {
	conn, err := ctx.Conn()
	if err != nil {
		return err
	}

	source, err := queue.NewSource(conn, ctx.Queue, ctx.schema(), ctx.dialect())
	if err != nil {
		return err
	}

	if err := source.Cancel(ctx.ctx, pk(cmd.ID)); err != nil {
		return err
	}

	fmt.Println("cancelled row", cmd.ID)
	return nil
}

func (cmd *FilterCommand) Run(ctx *Globals) error {
	conn, err := ctx.Conn()
	if err != nil {
		return err
	}

	source, err := queue.NewSource(conn, ctx.Queue, ctx.schema(), ctx.dialect())
	if err != nil {
		return err
	}

	pks, err := source.FilterAbandoned(ctx.ctx)
	if err != nil {
		return err
	}

	for _, key := range pks {
		fmt.Println(key.Values())
	}
	return nil
}

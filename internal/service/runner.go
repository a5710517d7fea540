package service

import (
	"context"
	"io"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Command is a single external process invocation
type Command struct {
	Name   string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// Runner starts external processes and waits for them to exit
type Runner interface {
	Run(ctx context.Context, c Command) error
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	// Don't hang on pipes held open by orphaned children after a kill
	cmd.WaitDelay = 5 * time.Second

	zap.L().Debug("Running command", zap.String("cmd", cmd.String()))

	return cmd.Run()
}

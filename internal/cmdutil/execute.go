package cmdutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Result holds what a finished command wrote and how it exited.
type Result struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Runner runs external commands. Run returns a *CommandError when the command
// exits non-zero; the Result is populated in either case so best-effort
// callers can inspect it and move on.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// CommandError describes a command that could not be started or exited
// non-zero.
type CommandError struct {
	Args       []string
	ExitStatus int
	Stderr     string
	Err        error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("`%s` failed: rc=%d, err=%s", strings.Join(e.Args, " "),
		e.ExitStatus, strings.TrimSpace(e.Stderr))
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands on the local host.
type ExecRunner struct {
	execCommand func(context.Context, string, ...string) *exec.Cmd
	log         logrus.FieldLogger
}

type option func(*ExecRunner)

func withExecCommand(f func(context.Context, string, ...string) *exec.Cmd) option {
	return func(r *ExecRunner) {
		r.execCommand = f
	}
}

// New returns an ExecRunner that logs every invocation at debug level.
func New(log logrus.FieldLogger, opts ...option) *ExecRunner {
	r := &ExecRunner{
		execCommand: exec.CommandContext,
		log:         log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes name with args and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := r.execCommand(ctx, name, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	argv := append([]string{name}, args...)
	r.log.WithField("cmd", strings.Join(argv, " ")).Debug("running command")

	err := cmd.Run()
	res := Result{Stdout: out.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	res.ExitStatus = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitStatus = exitErr.ExitCode()
	}
	return res, &CommandError{
		Args:       argv,
		ExitStatus: res.ExitStatus,
		Stderr:     res.Stderr,
		Err:        err,
	}
}

// Output runs a command through r and returns its stdout.
func Output(ctx context.Context, r Runner, name string, args ...string) (string, error) {
	res, err := r.Run(ctx, name, args...)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

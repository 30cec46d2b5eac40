// Package runner is the boundary to the external provisioning tool.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"restylinchpin/internal/domain"
)

// Result describes one finished invocation.
type Result struct {
	Args     []string
	ExitCode int
	Output   string
	Duration time.Duration
	TimedOut bool
}

// Runner invokes the tool synchronously and reports how it exited.
type Runner interface {
	Run(ctx context.Context, args []string) (*Result, error)
}

// ExitError is returned when the tool could not be started, exited non-zero
// or ran past its timeout. It matches domain.ErrToolFailure.
type ExitError struct {
	Result *Result
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Result.Args[0], e.Result.ExitCode)
	if e.Result.TimedOut {
		msg += " (timed out)"
	}
	if tail := lastLine(e.Result.Output); tail != "" {
		msg += ": " + tail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

func (e *ExitError) Is(target error) bool {
	return target == domain.ErrToolFailure
}

type Config struct {
	Binary        string
	Timeout       time.Duration
	MaxConcurrent int
	MaxOutput     int
	Logger        *logrus.Logger
}

// Exec runs the tool as a subprocess.
type Exec struct {
	cfg Config
	sem chan struct{}
}

func NewExec(cfg Config) *Exec {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = 64 << 10
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Exec{
		cfg: cfg,
		sem: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Run executes args. args[0] is dropped when it names the configured binary.
// Once the process has started it runs to completion or to the timeout;
// cancelling ctx only abandons a wait for a free slot.
func (e *Exec) Run(ctx context.Context, args []string) (*Result, error) {
	program, params := e.resolve(args)
	if program == "" {
		return nil, fmt.Errorf("%w: empty command", domain.ErrValidation)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	}

	runCtx := context.WithoutCancel(ctx)
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, e.cfg.Timeout)
		defer cancel()
	}

	output := &tailBuffer{max: e.cfg.MaxOutput}
	command := exec.CommandContext(runCtx, program, params...)
	command.Stdout = output
	command.Stderr = output
	command.WaitDelay = 5 * time.Second

	start := time.Now()
	err := command.Run()
	result := &Result{
		Args:     append([]string{program}, params...),
		Output:   output.String(),
		Duration: time.Since(start),
	}

	logger := e.cfg.Logger.WithField("args", strings.Join(result.Args, " ")).WithField("duration", result.Duration.Round(time.Millisecond))
	if err == nil {
		logger.WithField("exit_code", 0).Info("tool finished")
		return result, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}
	result.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
	logger.WithField("exit_code", result.ExitCode).WithField("timed_out", result.TimedOut).Warn("tool failed")
	return result, &ExitError{Result: result, Err: err}
}

func (e *Exec) resolve(args []string) (string, []string) {
	if e.cfg.Binary == "" {
		if len(args) == 0 {
			return "", nil
		}
		return args[0], args[1:]
	}
	if len(args) > 0 && args[0] == e.cfg.Binary {
		return e.cfg.Binary, args[1:]
	}
	return e.cfg.Binary, args
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

var _ Runner = (*Exec)(nil)

package runner

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restylinchpin/internal/domain"
)

func newShell(cfg Config) *Exec {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg.Binary = "/bin/sh"
	cfg.Logger = logger
	return NewExec(cfg)
}

func TestExec_Success(t *testing.T) {
	r := newShell(Config{})

	res, err := r.Run(context.Background(), []string{"/bin/sh", "-c", "echo hello; echo oops >&2"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "hello")
	assert.Contains(t, res.Output, "oops")
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hello; echo oops >&2"}, res.Args)
}

func TestExec_BinaryPrepended(t *testing.T) {
	r := newShell(Config{})

	res, err := r.Run(context.Background(), []string{"-c", "echo ok"})
	require.NoError(t, err)
	assert.Equal(t, "/bin/sh", res.Args[0])
}

func TestExec_NonZeroExit(t *testing.T) {
	r := newShell(Config{})

	res, err := r.Run(context.Background(), []string{"-c", "echo failing step; exit 3"})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrToolFailure)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Result.ExitCode)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "failing step")
}

func TestExec_Timeout(t *testing.T) {
	r := newShell(Config{Timeout: 100 * time.Millisecond})

	res, err := r.Run(context.Background(), []string{"-c", "exec sleep 5"})
	require.ErrorIs(t, err, domain.ErrToolFailure)
	assert.True(t, res.TimedOut)
	assert.Less(t, res.Duration, 5*time.Second)
}

func TestExec_CallerCancellationDoesNotAbortRunningTool(t *testing.T) {
	r := newShell(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	res, err := r.Run(ctx, []string{"-c", "sleep 0.3; echo done"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "done")
}

func TestExec_ConcurrencyBound(t *testing.T) {
	r := newShell(Config{MaxConcurrent: 1})

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Run(context.Background(), []string{"-c", "sleep 0.1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond, "invocations are serialized")

	r.sem <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, []string{"-c", "true"})
	require.ErrorIs(t, err, context.DeadlineExceeded, "waiting for a slot honours the caller")
	<-r.sem
}

func TestExec_MissingBinary(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := NewExec(Config{Binary: "/nonexistent/linchpin", Logger: logger})

	res, err := r.Run(context.Background(), []string{"/nonexistent/linchpin", "init"})
	require.ErrorIs(t, err, domain.ErrToolFailure)
	assert.Equal(t, -1, res.ExitCode)
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 4}
	_, _ = b.Write([]byte("ab"))
	_, _ = b.Write([]byte("cdef"))
	require.Equal(t, "cdef", b.String())
}

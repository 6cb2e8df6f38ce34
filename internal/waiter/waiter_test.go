package waiter_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/superslots/internal/dispatch"
	"github.com/loykin/superslots/internal/prober"
	"github.com/loykin/superslots/internal/registry"
	"github.com/loykin/superslots/internal/registry/sqlite"
	"github.com/loykin/superslots/internal/waiter"
)

// scriptedRunner returns codes in order; once exhausted it returns the last one.
type scriptedRunner struct {
	mu    sync.Mutex
	codes []int
	err   error
	calls chan waiter.Command
}

func newRunner(codes ...int) *scriptedRunner {
	return &scriptedRunner{codes: codes, calls: make(chan waiter.Command, 16)}
}

func (r *scriptedRunner) Run(c waiter.Command) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls <- c
	code := 0
	if len(r.codes) > 0 {
		code = r.codes[0]
		if len(r.codes) > 1 {
			r.codes = r.codes[1:]
		}
	}
	return code, r.err
}

type runResult struct {
	code int
	err  error
}

type harness struct {
	w      *waiter.Waiter
	db     *sqlite.DB
	states chan waiter.State
	done   chan runResult
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func start(t *testing.T, ctx context.Context, db *sqlite.DB, cfg waiter.Config, opts ...waiter.Option) *harness {
	t.Helper()
	h := &harness{db: db, states: make(chan waiter.State, 256), done: make(chan runResult, 1)}
	opts = append([]waiter.Option{
		waiter.WithLogger(quietLogger()),
		waiter.WithStateHook(func(s waiter.State) { h.states <- s }),
	}, opts...)
	w, err := waiter.New(db, cfg, opts...)
	require.NoError(t, err)
	h.w = w
	go func() {
		code, err := w.Run(ctx)
		h.done <- runResult{code, err}
	}()
	return h
}

func (h *harness) await(t *testing.T, want waiter.State) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("waiter never reached state %s", want)
		}
	}
}

func (h *harness) result(t *testing.T) runResult {
	t.Helper()
	select {
	case r := <-h.done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not exit")
		return runResult{}
	}
}

func awaitCall(t *testing.T, r *scriptedRunner) waiter.Command {
	t.Helper()
	select {
	case c := <-r.calls:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("command was not run")
		return waiter.Command{}
	}
}

func entries(t *testing.T, db *sqlite.DB) []registry.Entry {
	t.Helper()
	all, err := db.ListAll(context.Background())
	require.NoError(t, err)
	return all
}

func TestNewValidates(t *testing.T) {
	db := newStore(t)
	_, err := waiter.New(db, waiter.Config{PID: 1, Slot: "s", Command: waiter.Command{Args: []string{"true"}}})
	assert.ErrorIs(t, err, registry.ErrInvalidPID)
	_, err = waiter.New(db, waiter.Config{PID: 10, Slot: "", Command: waiter.Command{Args: []string{"true"}}})
	assert.ErrorIs(t, err, registry.ErrEmptySlot)
	_, err = waiter.New(db, waiter.Config{PID: 10, Slot: "s"})
	assert.ErrorIs(t, err, waiter.ErrNoCommand)
}

func TestRegistersAndDeregistersOnStop(t *testing.T) {
	db := newStore(t)
	runner := newRunner(0)
	h := start(t, context.Background(), db, waiter.Config{
		PID: 4242, Slot: "build", Command: waiter.Command{Args: []string{"make", "-j4"}},
	}, waiter.WithRunner(runner))

	h.await(t, waiter.Idle)
	got := entries(t, db)
	require.Len(t, got, 1)
	assert.Equal(t, 4242, got[0].PID)
	assert.Equal(t, "build", got[0].Slot)
	assert.Equal(t, "make -j4", got[0].Command)

	h.w.Flags().RequestStop()
	r := h.result(t)
	assert.Equal(t, waiter.ExitOK, r.code)
	assert.NoError(t, r.err)
	assert.Empty(t, entries(t, db))
	assert.Empty(t, runner.calls)
	assert.Equal(t, waiter.Exited, h.w.State())
}

func TestWakeRunsCommandAndLoops(t *testing.T) {
	db := newStore(t)
	runner := newRunner(0)
	h := start(t, context.Background(), db, waiter.Config{
		PID: 4242, Slot: "build", Command: waiter.Command{Args: []string{"make"}},
	}, waiter.WithRunner(runner))
	h.await(t, waiter.Idle)

	for i := 0; i < 3; i++ {
		h.w.Flags().RequestWake()
		c := awaitCall(t, runner)
		assert.Equal(t, []string{"make"}, c.Args)
		h.await(t, waiter.Idle)
		assert.False(t, h.w.Flags().Woken(), "wake flag cleared after run")
	}
	require.Len(t, entries(t, db), 1, "still registered between runs")

	h.w.Flags().RequestStop()
	r := h.result(t)
	assert.Equal(t, waiter.ExitOK, r.code)
	assert.Empty(t, entries(t, db))
}

func TestSpuriousResumeAndNudgeDoNotRun(t *testing.T) {
	db := newStore(t)
	runner := newRunner(0)
	h := start(t, context.Background(), db, waiter.Config{
		PID: 300, Slot: "s", Command: waiter.Command{Args: []string{"true"}},
	}, waiter.WithRunner(runner))
	h.await(t, waiter.Idle)

	h.w.Flags().Poke()
	h.await(t, waiter.Woken)
	h.await(t, waiter.Idle)
	h.w.Flags().RequestNudge()
	h.await(t, waiter.Woken)
	h.await(t, waiter.Idle)
	assert.Empty(t, runner.calls)

	h.w.Flags().RequestStop()
	assert.Equal(t, waiter.ExitOK, h.result(t).code)
}

func TestFailureWithoutKeepAliveEndsLoop(t *testing.T) {
	db := newStore(t)
	runner := newRunner(3)
	h := start(t, context.Background(), db, waiter.Config{
		PID: 301, Slot: "s", Command: waiter.Command{Args: []string{"false"}},
	}, waiter.WithRunner(runner))
	h.await(t, waiter.Idle)

	h.w.Flags().RequestWake()
	r := h.result(t)
	assert.Equal(t, 3, r.code)
	var cf *waiter.CommandFailedError
	require.ErrorAs(t, r.err, &cf)
	assert.Equal(t, 3, cf.Code)
	assert.Empty(t, entries(t, db), "deregistered on failure exit")
}

func TestKeepAliveSurvivesFailures(t *testing.T) {
	db := newStore(t)
	runner := newRunner(1, 2, 0)
	h := start(t, context.Background(), db, waiter.Config{
		PID: 302, Slot: "s", Command: waiter.Command{Args: []string{"flaky"}}, KeepAlive: true,
	}, waiter.WithRunner(runner))
	h.await(t, waiter.Idle)

	for i := 0; i < 3; i++ {
		h.w.Flags().RequestWake()
		awaitCall(t, runner)
		h.await(t, waiter.Idle)
	}
	require.Len(t, entries(t, db), 1)

	h.w.Flags().RequestStop()
	r := h.result(t)
	assert.Equal(t, waiter.ExitOK, r.code)
	assert.NoError(t, r.err)
}

func TestCommandNotFound(t *testing.T) {
	db := newStore(t)
	h := start(t, context.Background(), db, waiter.Config{
		PID: 303, Slot: "s", Command: waiter.Command{Args: []string{"/nonexistent/superslots-test-binary"}}, KeepAlive: true,
	})
	h.await(t, waiter.Idle)

	h.w.Flags().RequestWake()
	r := h.result(t)
	assert.Equal(t, waiter.ExitCommandNotFound, r.code)
	assert.ErrorIs(t, r.err, waiter.ErrCommandNotFound)
	assert.Empty(t, entries(t, db))
}

func TestContextCancelIsGraceful(t *testing.T) {
	db := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	h := start(t, ctx, db, waiter.Config{
		PID: 304, Slot: "s", Command: waiter.Command{Args: []string{"true"}},
	}, waiter.WithRunner(newRunner(0)))
	h.await(t, waiter.Idle)

	cancel()
	r := h.result(t)
	assert.Equal(t, waiter.ExitOK, r.code)
	assert.NoError(t, r.err)
	assert.Empty(t, entries(t, db))
}

func TestStopWinsOverPendingWake(t *testing.T) {
	db := newStore(t)
	runner := newRunner(0)
	flags := waiter.NewFlags()
	flags.RequestWake()
	flags.RequestStop()
	h := start(t, context.Background(), db, waiter.Config{
		PID: 305, Slot: "s", Command: waiter.Command{Args: []string{"true"}},
	}, waiter.WithRunner(runner), waiter.WithFlags(flags))

	assert.Equal(t, waiter.ExitOK, h.result(t).code)
	assert.Empty(t, runner.calls)
	assert.Empty(t, entries(t, db))
}

func TestRegisterFailureLeavesNothing(t *testing.T) {
	db := newStore(t)
	require.NoError(t, db.Close())
	w, err := waiter.New(db, waiter.Config{
		PID: 306, Slot: "s", Command: waiter.Command{Args: []string{"true"}},
	}, waiter.WithLogger(quietLogger()))
	require.NoError(t, err)

	code, err := w.Run(context.Background())
	assert.Equal(t, 1, code)
	assert.ErrorIs(t, err, registry.ErrStoreUnavailable)
}

func TestTriggerWakesWaiterThroughSignal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires SIGUSR1")
	}
	db := newStore(t)
	runner := newRunner(0)
	flags := waiter.NewFlags()
	stop := waiter.ListenSignals(flags)
	defer stop()

	h := start(t, context.Background(), db, waiter.Config{
		PID: os.Getpid(), Slot: "build", Command: waiter.Command{Args: []string{"make"}},
	}, waiter.WithRunner(runner), waiter.WithFlags(flags))
	h.await(t, waiter.Idle)

	d := dispatch.New(db, dispatch.WithProber(prober.SignalProber{}), dispatch.WithLogger(quietLogger()))
	res, err := d.Trigger(context.Background(), "build")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, dispatch.Result{PID: os.Getpid(), Outcome: prober.Alive}, res[0])
	awaitCall(t, runner)
	h.await(t, waiter.Idle)

	// no other waiter on this slot is affected, and an empty slot is a no-op
	res, err = d.Trigger(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, res)

	flags.RequestStop()
	assert.Equal(t, waiter.ExitOK, h.result(t).code)
	assert.Empty(t, entries(t, db))
}

func TestHandleMapsSignals(t *testing.T) {
	f := waiter.NewFlags()
	f.Handle(os.Interrupt)
	assert.True(t, f.Stopped())
	select {
	case <-f.Notify():
	default:
		t.Fatal("handle must resume the loop")
	}
}

func TestPokeCoalesces(t *testing.T) {
	f := waiter.NewFlags()
	f.RequestWake()
	f.RequestWake()
	f.Poke()
	<-f.Notify()
	select {
	case <-f.Notify():
		t.Fatal("pending resumes should coalesce")
	default:
	}
	assert.True(t, f.Woken())
	assert.False(t, f.TakeNudge())
}

// flagProber stands in for signal delivery: probing a known pid sets that
// waiter's wake flag.
type flagProber map[int]*waiter.Flags

func (p flagProber) Probe(pid int) (prober.Outcome, error) {
	f, ok := p[pid]
	if !ok {
		return prober.Dead, nil
	}
	f.RequestWake()
	return prober.Alive, nil
}

func (p flagProber) Nudge(pid int) (prober.Outcome, error) {
	f, ok := p[pid]
	if !ok {
		return prober.Dead, nil
	}
	f.RequestNudge()
	return prober.Alive, nil
}

func TestBuildSlotEndToEnd(t *testing.T) {
	db := newStore(t)
	runner := newRunner(0)
	flags := waiter.NewFlags()
	h := start(t, context.Background(), db, waiter.Config{
		PID: 4242, Slot: "build", Command: waiter.Command{Args: []string{"make", "-j4"}},
	}, waiter.WithRunner(runner), waiter.WithFlags(flags))
	h.await(t, waiter.Idle)

	d := dispatch.New(db, dispatch.WithProber(flagProber{4242: flags}), dispatch.WithLogger(quietLogger()))
	res, err := d.Trigger(context.Background(), "build")
	require.NoError(t, err)
	assert.Equal(t, []dispatch.Result{{PID: 4242, Outcome: prober.Alive}}, res)

	c := awaitCall(t, runner)
	assert.Equal(t, "make -j4", c.String())
	h.await(t, waiter.Idle)
	require.Len(t, entries(t, db), 1)

	res, err = d.Trigger(context.Background(), "idle-slot")
	require.NoError(t, err)
	assert.Empty(t, res)

	flags.RequestStop()
	assert.Equal(t, waiter.ExitOK, h.result(t).code)
	assert.Empty(t, entries(t, db))
}

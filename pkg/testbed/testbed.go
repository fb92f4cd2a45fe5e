package testbed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"testbed/internal/api"
	"testbed/internal/config"
	"testbed/internal/orchestrator"

	// Registers the built-in providers with the process-wide registry.
	_ "testbed/internal/providers/builtin"
)

type (
	// TestContext is the assembled environment handed to a test body.
	TestContext = orchestrator.TestContext
	// Body is a test body.
	Body = orchestrator.Body
	// Result describes how a run ended.
	Result = orchestrator.Result
)

type options struct {
	orch  *orchestrator.Orchestrator
	dir   string
	level api.TestLevel
	ctx   context.Context
}

// Option customizes a single Run.
type Option func(*options)

// WithOrchestrator runs the fixture on o instead of the process-wide one.
func WithOrchestrator(o *orchestrator.Orchestrator) Option {
	return func(opts *options) { opts.orch = o }
}

// WithConfigDir loads the configuration from dir instead.
func WithConfigDir(dir string) Option {
	return func(opts *options) { opts.dir = dir }
}

// WithLevel overrides the configured test level.
func WithLevel(level api.TestLevel) Option {
	return func(opts *options) { opts.level = level }
}

// WithContext sets the parent context of setup and body.
func WithContext(ctx context.Context) Option {
	return func(opts *options) { opts.ctx = ctx }
}

var defaultOrchestrator = sync.OnceValues(func() (*orchestrator.Orchestrator, error) {
	return fromDir(config.DefaultDir(), "")
})

func fromDir(dir string, level api.TestLevel) (*orchestrator.Orchestrator, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if level != "" {
		cfg.Level = level
	}
	return orchestrator.New(orchestrator.FromFile(cfg))
}

func (o *options) orchestrator() (*orchestrator.Orchestrator, error) {
	switch {
	case o.orch != nil:
		return o.orch, nil
	case o.dir != "" || o.level != "":
		dir := o.dir
		if dir == "" {
			dir = config.DefaultDir()
		}
		return fromDir(dir, o.level)
	default:
		return defaultOrchestrator()
	}
}

// Run assembles a test context for fixture, runs body and tears the context
// down. Any setup, body or verification failure fails t. Teardown failures
// are logged on t without failing it.
func Run(t testing.TB, fixture any, body Body, opts ...Option) *Result {
	t.Helper()
	o := &options{ctx: context.Background()}
	for _, opt := range opts {
		opt(o)
	}
	orch, err := o.orchestrator()
	if err != nil {
		t.Fatalf("testbed: %v", err)
		return nil
	}

	res, err := orch.Run(o.ctx, fixture, guard(body))
	if res != nil && res.TeardownErr != nil {
		t.Logf("testbed: %v", res.TeardownErr)
	}
	switch {
	case errors.Is(err, errBodyExited):
		// The body already reported through t.
		t.FailNow()
	case err != nil:
		t.Fatalf("testbed: %s: %v", res.Outcome, err)
	}
	return res
}

var errBodyExited = errors.New("test body exited early")

// guard runs body on its own goroutine so that runtime.Goexit from
// t.FailNow ends the body but not the teardown.
func guard(body Body) Body {
	if body == nil {
		return nil
	}
	return func(ctx context.Context, tc *TestContext) error {
		type outcome struct {
			err      error
			panicked any
			returned bool
		}
		done := make(chan outcome, 1)
		go func() {
			out := outcome{}
			defer func() {
				out.panicked = recover()
				done <- out
			}()
			out.err = body(ctx, tc)
			out.returned = true
		}()
		out := <-done
		switch {
		case out.panicked != nil:
			panic(out.panicked)
		case !out.returned:
			return errBodyExited
		}
		return out.err
	}
}

// Resolve returns the instance bound to (T, name) in tc.
func Resolve[T any](tc *TestContext, name string) (T, error) {
	return orchestrator.Resolve[T](tc, name)
}

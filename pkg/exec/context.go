package exec

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fnuworsu/rdgql/pkg/logging"
	"github.com/fnuworsu/rdgql/pkg/storage"
)

// Context is the per-statement execution state shared by every step of a
// plan and its sub-plans. Variables are shared by reference: a child context
// reads through to its parent but writes locally.
type Context struct {
	ID        string
	Session   storage.Session
	Profiling bool
	Logger    *slog.Logger

	params  map[string]any
	parent  *Context
	goctx   context.Context
	timeout time.Duration
	started time.Time

	mu   sync.RWMutex
	vars map[string]any
}

// Option configures a Context
type Option func(*Context)

// WithSession sets the data session
func WithSession(s storage.Session) Option {
	return func(c *Context) { c.Session = s }
}

// WithTimeout bounds the statement; zero disables the bound
func WithTimeout(d time.Duration) Option {
	return func(c *Context) { c.timeout = d }
}

// WithProfiling turns on per-step cost accounting
func WithProfiling(enabled bool) Option {
	return func(c *Context) { c.Profiling = enabled }
}

// WithParams sets statement parameters
func WithParams(params map[string]any) Option {
	return func(c *Context) { c.params = params }
}

// WithLogger overrides the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) { c.Logger = l }
}

// WithGoContext attaches a context.Context for cancellation
func WithGoContext(ctx context.Context) Option {
	return func(c *Context) { c.goctx = ctx }
}

// NewContext creates a root execution context
func NewContext(opts ...Option) *Context {
	c := &Context{
		ID:      uuid.NewString(),
		goctx:   context.Background(),
		started: time.Now(),
		vars:    make(map[string]any),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = logging.WithQuery(c.ID)
	}
	return c
}

// NewChild creates a context that shares everything with c except that
// variable writes stay local to the child
func (c *Context) NewChild(opts ...Option) *Context {
	child := &Context{
		ID:        c.ID,
		Session:   c.Session,
		Profiling: c.Profiling,
		Logger:    c.Logger,
		params:    c.params,
		parent:    c,
		goctx:     c.goctx,
		timeout:   c.timeout,
		started:   c.started,
		vars:      make(map[string]any),
	}
	for _, opt := range opts {
		opt(child)
	}
	return child
}

// Context returns the attached context.Context
func (c *Context) Context() context.Context { return c.goctx }

// Database returns the session's database name, or "" without a session
func (c *Context) Database() string {
	if c.Session == nil {
		return ""
	}
	return c.Session.Name()
}

// Variable looks a variable up in this context and then its ancestors
func (c *Context) Variable(name string) (any, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.vars[name]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// SetVariable sets a variable in this context
func (c *Context) SetVariable(name string, value any) {
	c.mu.Lock()
	c.vars[name] = value
	c.mu.Unlock()
}

// Param returns a statement parameter
func (c *Context) Param(name string) (any, bool) {
	v, ok := c.params[name]
	return v, ok
}

// Timeout returns the statement time budget
func (c *Context) Timeout() time.Duration { return c.timeout }

// Elapsed returns the time since the statement started
func (c *Context) Elapsed() time.Duration { return time.Since(c.started) }

// CheckTimeout reports a *TimeoutError once the statement budget is spent,
// or the cancellation cause once the attached context is done
func (c *Context) CheckTimeout() error {
	if err := c.goctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Limit: c.timeout, Elapsed: c.Elapsed()}
		}
		return err
	}
	if c.timeout > 0 && c.Elapsed() > c.timeout {
		return &TimeoutError{Limit: c.timeout, Elapsed: c.Elapsed()}
	}
	return nil
}

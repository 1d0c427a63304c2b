package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ggoodman/debugsession-go/debugger"
	"github.com/ggoodman/debugsession-go/store"
)

const ledgerKey = "debugctl:breakpoints"

var errNotAttached = errors.New("no attached session (run debugctl attach)")

// client is one invocation's session over a freshly dialled backend.
type client struct {
	sess    *debugger.Session
	backend *backend
	printer *printer
	store   store.Store
}

func (r *rootOptions) open(ctx context.Context, out io.Writer) (*client, error) {
	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	b, err := r.dial(dctx, r)
	if err != nil {
		return nil, fmt.Errorf("connect %s backend: %w", r.kind, err)
	}
	opts := []debugger.Option{
		debugger.WithLogger(r.log),
		debugger.WithStore(r.store),
		debugger.WithIOTimeout(r.timeout),
	}
	if res := r.resolver(); res != nil {
		opts = append(opts, debugger.WithResolver(res), debugger.WithFileOpener(sourceOpener{out: out}))
	}
	p := newPrinter(out)
	sess := debugger.New(b.tr, opts...)
	sess.AddObserver(p)
	return &client{sess: sess, backend: b, printer: p, store: r.store}, nil
}

// Close releases the local session and backend. The remote session, if
// any, stays attached.
func (c *client) Close() error {
	c.sess.Close()
	<-c.sess.Done()
	if c.backend.close != nil {
		return c.backend.close()
	}
	return nil
}

// restore resumes the persisted session and reports whether one was alive.
func (c *client) restore(ctx context.Context) (bool, error) {
	return c.sess.Restore().Await(ctx)
}

func (c *client) requireAttached(ctx context.Context) error {
	ok, err := c.restore(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errNotAttached
	}
	return nil
}

// ledgerEntry is a breakpoint the user asked for, kept across invocations
// so it can be staged again on the next attach. Line is 1-based.
type ledgerEntry struct {
	File string `json:"file,omitempty"`
	Type string `json:"type"`
	Line int    `json:"line"`
}

func (e ledgerEntry) location() debugger.Location {
	return debugger.Location{TypeIdentifier: e.Type, Line: e.Line - 1}
}

func (e ledgerEntry) String() string {
	if e.File == "" {
		return fmt.Sprintf("%s:%d", e.Type, e.Line)
	}
	return fmt.Sprintf("%s:%d (%s)", e.Type, e.Line, e.File)
}

func (c *client) ledger(ctx context.Context) ([]ledgerEntry, error) {
	data, ok, err := c.store.Get(ctx, ledgerKey)
	if err != nil {
		return nil, err
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}
	var entries []ledgerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode breakpoint list: %w", err)
	}
	return entries, nil
}

func (c *client) saveLedger(ctx context.Context, entries []ledgerEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, ledgerKey, data)
}

// printer reports session callbacks on out.
type printer struct {
	debugger.NopObserver

	mu        sync.Mutex
	out       io.Writer
	activated chan struct{}
	detached  chan struct{}
	once      sync.Once
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, activated: make(chan struct{}, 64), detached: make(chan struct{})}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) OnStoppedAt(typeID string, line int) {
	p.printf("stopped at %s:%d", typeID, line+1)
}

func (p *printer) OnBreakpointActivated(path string, line int) {
	p.printf("breakpoint active at %s:%d", path, line+1)
	select {
	case p.activated <- struct{}{}:
	default:
	}
}

func (p *printer) OnDetached() {
	p.once.Do(func() { close(p.detached) })
}

// waitActivated waits for n activation callbacks or ctx.
func (p *printer) waitActivated(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		select {
		case <-p.activated:
		case <-ctx.Done():
			return
		}
	}
}

// sourceOpener reports the first candidate that exists on disk.
type sourceOpener struct {
	out io.Writer
}

func (o sourceOpener) OpenFile(_ context.Context, path string, line int) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "  source %s:%d\n", path, line+1)
	return nil
}

package pending

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/debugsession-go/internal/jsonrpc"
	"github.com/ggoodman/debugsession-go/transport"
)

type captureSender struct {
	mu   sync.Mutex
	reqs []*jsonrpc.Request
	err  error
}

func (c *captureSender) Send(_ context.Context, req *jsonrpc.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.reqs = append(c.reqs, req)
	return nil
}

func (c *captureSender) last() *jsonrpc.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqs[len(c.reqs)-1]
}

func TestCallResolvesOnMatchingResponse(t *testing.T) {
	s := &captureSender{}
	d := New(s)

	f := d.Call(context.Background(), "debugger/resume", map[string]string{"sessionId": "abc"})
	req := s.last()
	if req.Method != "debugger/resume" || req.ID == nil {
		t.Fatalf("unexpected request %+v", req)
	}
	var params map[string]string
	if err := json.Unmarshal(req.Params, &params); err != nil || params["sessionId"] != "abc" {
		t.Fatalf("params = %s (%v)", req.Params, err)
	}

	if d.OnResponse(&jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, ID: jsonrpc.StringID("999"), Result: json.RawMessage(`1`)}) {
		t.Fatal("unmatched response should be ignored")
	}
	if !d.OnResponse(&jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, ID: req.ID, Result: json.RawMessage(`"done"`)}) {
		t.Fatal("matching response not delivered")
	}

	res, err := f.Await(context.Background())
	if err != nil || string(res) != `"done"` {
		t.Fatalf("got (%s, %v)", res, err)
	}
	if d.Pending() != 0 {
		t.Fatalf("expected no pending calls, got %d", d.Pending())
	}
}

func TestCallRejectsWithRemoteError(t *testing.T) {
	s := &captureSender{}
	d := New(s)
	f := d.Call(context.Background(), "debugger/stepOver", nil)
	d.OnResponse(jsonrpc.NewErrorResponse(s.last().ID, jsonrpc.ErrorCodeNotFound, "no such session"))

	_, err := f.Await(context.Background())
	var re *transport.RemoteError
	if !errors.As(err, &re) || !transport.IsNotFound(err) {
		t.Fatalf("expected not-found RemoteError, got %v", err)
	}
}

func TestSendFailureRejects(t *testing.T) {
	boom := errors.New("write failed")
	d := New(&captureSender{err: boom})
	f := d.Call(context.Background(), "m", nil)
	if !errors.Is(f.Err(), boom) {
		t.Fatalf("expected send error, got %v", f.Err())
	}
	if d.Pending() != 0 {
		t.Fatal("failed send must not leave a pending call")
	}
}

func TestContextCancellationRejects(t *testing.T) {
	d := New(&captureSender{})
	ctx, cancel := context.WithCancel(context.Background())
	f := d.Call(ctx, "m", nil)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if _, err := f.Await(waitCtx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCloseRejectsPendingAndFutureCalls(t *testing.T) {
	d := New(&captureSender{})
	f := d.Call(context.Background(), "m", nil)
	gone := errors.New("connection lost")
	d.Close(gone)
	d.Close(errors.New("second close ignored"))

	if !errors.Is(f.Err(), gone) {
		t.Fatalf("pending call: got %v", f.Err())
	}
	if err := d.Call(context.Background(), "m", nil).Err(); !errors.Is(err, gone) {
		t.Fatalf("post-close call: got %v", err)
	}
}

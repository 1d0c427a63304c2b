package debugger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ggoodman/debugsession-go/future"
	"github.com/ggoodman/debugsession-go/internal/logctx"
	"github.com/ggoodman/debugsession-go/transport"
)

// precheck is the synchronous gate for operations that need an attached
// session. It never blocks and never touches the transport.
func (s *Session) precheck() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.State() != Attached {
		return ErrNotConnected
	}
	return nil
}

// invoke issues one RPC against the attached session from the loop.
func invoke[T any](s *Session, method string, params func(sessionID string) any, done func(raw json.RawMessage, out *future.Future[T])) *future.Future[T] {
	if err := s.precheck(); err != nil {
		return future.Failed[T](err)
	}
	return submit(s, func(out *future.Future[T]) {
		if s.state != Attached {
			out.Reject(ErrNotConnected)
			return
		}
		rpc(s, out, method, params(s.info.SessionID), func(raw json.RawMessage) { done(raw, out) })
	})
}

// rpc must run on the loop while attached. done runs on the loop only if the
// call succeeds and the session is still the one it was issued against;
// otherwise out is failed. A not-found answer means the backend has lost the
// session, so it detaches, unless a restore is still confirming the session
// and will clear it on its own.
func rpc[T any](s *Session, out *future.Future[T], method string, params any, done func(raw json.RawMessage)) {
	gen := s.gen
	ctx := logctx.WithRPCMessage(s.logCtx(), &logctx.RPCMessage{Method: method})
	call := s.tr.Call(ctx, method, params)
	whenDone(s, call, out, func(raw json.RawMessage, err error) {
		current := gen == s.gen && s.state == Attached
		if err != nil {
			s.log.ErrorContext(ctx, "debugger.rpc.failed", slog.String("err", err.Error()))
			out.Reject(fmt.Errorf("%s: %w", method, err))
			if current && gen != s.probeGen && transport.IsNotFound(err) {
				s.log.WarnContext(ctx, "debugger.session.lost")
				s.detach(future.New[struct{}]())
			}
			return
		}
		if !current {
			s.log.DebugContext(ctx, "debugger.rpc.stale")
			out.Reject(ErrDetached)
			return
		}
		done(raw)
	})
}

func onlySession(id string) any { return sessionParams{SessionID: id} }

func resolveEmpty(_ json.RawMessage, out *future.Future[struct{}]) { out.Resolve(struct{}{}) }

func (s *Session) command(method string, notify func(ExecutionObserver)) *future.Future[struct{}] {
	return invoke(s, method, onlySession, func(raw json.RawMessage, out *future.Future[struct{}]) {
		each(&s.observers, s.log, notify)
		resolveEmpty(raw, out)
	})
}

// StepInto steps into the next call.
func (s *Session) StepInto() *future.Future[struct{}] {
	return s.command(MethodStepInto, ExecutionObserver.OnStepInto)
}

// StepOver steps over the next line.
func (s *Session) StepOver() *future.Future[struct{}] {
	return s.command(MethodStepOver, ExecutionObserver.OnStepOver)
}

// StepOut runs until the current frame returns.
func (s *Session) StepOut() *future.Future[struct{}] {
	return s.command(MethodStepOut, ExecutionObserver.OnStepOut)
}

// Resume continues execution.
func (s *Session) Resume() *future.Future[struct{}] {
	return s.command(MethodResume, ExecutionObserver.OnResumed)
}

func (s *Session) text(method string, params func(string) any) *future.Future[string] {
	return invoke(s, method, params, func(raw json.RawMessage, out *future.Future[string]) {
		out.Settle(resultString(raw))
	})
}

// EvaluateExpression evaluates expr in the current frame.
func (s *Session) EvaluateExpression(expr string) *future.Future[string] {
	return s.text(MethodEvaluate, func(id string) any { return evaluateParams{SessionID: id, Expression: expr} })
}

// GetValue fetches the value of the variable named by ref.
func (s *Session) GetValue(ref string) *future.Future[string] {
	return s.text(MethodGetValue, func(id string) any { return getValueParams{SessionID: id, Variable: ref} })
}

// GetStackFrameDump fetches a dump of the current stack frame.
func (s *Session) GetStackFrameDump() *future.Future[string] {
	return s.text(MethodStackFrameDump, onlySession)
}

// ChangeVariableValue assigns value to the variable at path.
func (s *Session) ChangeVariableValue(path []string, value string) *future.Future[struct{}] {
	path = append([]string(nil), path...)
	return invoke(s, MethodSetValue, func(id string) any {
		return setValueParams{SessionID: id, Path: path, Value: value}
	}, func(raw json.RawMessage, out *future.Future[struct{}]) {
		each(&s.observers, s.log, func(o ValueObserver) { o.OnValueChanged(append([]string(nil), path...), value) })
		resolveEmpty(raw, out)
	})
}

// resultString unquotes a JSON string result and renders anything else as
// compact JSON.
func resultString(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("decode result: %w", err)
	}
	return buf.String(), nil
}

package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With("component", "test")

	ctx := WithSessionData(context.Background(), &SessionData{SessionID: "s1", Host: "localhost", Port: 8000, State: "attached"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "debugger/resume", ID: "7"})
	ctx = WithChannel(ctx, "debugger:events:s1")
	log.InfoContext(ctx, "rpc.call.start")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	dbg, _ := rec["dbg"].(map[string]any)
	if dbg["session_id"] != "s1" || dbg["port"] != float64(8000) {
		t.Fatalf("dbg group = %v", rec["dbg"])
	}
	rpc, _ := rec["rpc"].(map[string]any)
	if rpc["method"] != "debugger/resume" {
		t.Fatalf("rpc group = %v", rec["rpc"])
	}
	if rec["channel"] != "debugger:events:s1" || rec["component"] != "test" {
		t.Fatalf("record = %v", rec)
	}
}

func TestHandlerWithoutContextData(t *testing.T) {
	var buf bytes.Buffer
	slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).Info("plain")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if _, ok := rec["dbg"]; ok {
		t.Fatal("unexpected dbg group")
	}
}

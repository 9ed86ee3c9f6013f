package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbourn/go-interview-backend/internal/services"
	"github.com/tbourn/go-interview-backend/internal/session"
	"github.com/tbourn/go-interview-backend/internal/transcript"
)

// ---- fakes & harness ----

type fakeFeedback struct {
	mu    sync.Mutex
	calls int
	got   services.CreateFeedbackParams
	res   services.Result
}

func (f *fakeFeedback) CreateFeedback(_ context.Context, p services.CreateFeedbackParams) services.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.got = p
	return f.res
}

func (f *fakeFeedback) snapshot() (int, services.CreateFeedbackParams) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.got
}

func newBridgeServer(t *testing.T, cfg session.Config, vcfg Config) (string, <-chan struct{}) {
	t.Helper()
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(ws, vcfg)
		c := cfg
		c.Channel = conn
		Bridge(context.Background(), conn, session.New(c))
		close(done)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), done
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	if err := conn.WriteJSON(f); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Frame) bool) Frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if match(f) {
			return f
		}
	}
}

func ofType(typ string) func(Frame) bool {
	return func(f Frame) bool { return f.Type == typ }
}

func finishedState(f Frame) bool {
	return f.Type == TypeState && f.State != nil && f.State.Outcome != nil
}

func phaseState(p session.Phase) func(Frame) bool {
	return func(f Frame) bool { return f.Type == TypeState && f.State != nil && f.State.Phase == p }
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("bridge did not return")
	}
}

func finalMsg(role, text string) Frame {
	return Frame{Type: "message", Message: &transcript.Event{
		Type: transcript.MessageTypeTranscript, TranscriptType: transcript.TypeFinal, Role: role, Transcript: text,
	}}
}

// ---- tests ----

func TestBridge_FullCall(t *testing.T) {
	fb := &fakeFeedback{res: services.Result{Success: true, Message: "ok", ID: "fb-1"}}
	url, done := newBridgeServer(t, session.Config{
		InterviewID: "iv1", UserID: "u1", AssistantID: "asst",
		Questions: []string{"Why Go?", "What is a channel?"},
		Feedback:  fb,
	}, Config{})
	conn := dial(t, url)

	first := readUntil(t, conn, ofType(TypeState))
	if first.State.Phase != session.PhaseIdle {
		t.Fatalf("initial phase = %v", first.State.Phase)
	}

	send(t, conn, Frame{Type: TypeConnect})
	start := readUntil(t, conn, ofType(TypeStart))
	if start.Assistant != "asst" || start.VariableValues["questions"] != "- Why Go?\n- What is a channel?" {
		t.Fatalf("unexpected start frame: %+v", start)
	}
	send(t, conn, Frame{Type: TypeAck})
	send(t, conn, Frame{Type: "call-start"})
	readUntil(t, conn, phaseState(session.PhaseActive))

	send(t, conn, finalMsg("assistant", "Why Go?"))
	send(t, conn, Frame{Type: "message", Message: &transcript.Event{
		Type: transcript.MessageTypeTranscript, TranscriptType: transcript.TypePartial, Role: "user", Transcript: "Becau",
	}})
	send(t, conn, finalMsg("user", "Because it is simple."))
	send(t, conn, finalMsg("user", "And fast."))
	send(t, conn, Frame{Type: "error", Error: "Meeting has ended"})
	send(t, conn, Frame{Type: "call-end"})

	end := readUntil(t, conn, finishedState)
	if !end.State.Outcome.Success || end.State.Outcome.Redirect != "/iv1/feedback" || end.State.Outcome.FeedbackID != "fb-1" {
		t.Fatalf("unexpected outcome: %+v", end.State.Outcome)
	}
	waitDone(t, done)

	calls, got := fb.snapshot()
	if calls != 1 {
		t.Fatalf("feedback calls = %d, want 1", calls)
	}
	if got.InterviewID != "iv1" || got.UserID != "u1" || len(got.Transcript) != 2 {
		t.Fatalf("unexpected params: %+v", got)
	}
	if got.Transcript[1].Content != "Because it is simple. And fast." {
		t.Fatalf("user turn = %q", got.Transcript[1].Content)
	}
}

func TestBridge_StartRefused(t *testing.T) {
	fb := &fakeFeedback{}
	url, done := newBridgeServer(t, session.Config{InterviewID: "iv1", UserID: "u1", Feedback: fb}, Config{})
	conn := dial(t, url)

	send(t, conn, Frame{Type: TypeConnect})
	readUntil(t, conn, ofType(TypeStart))
	send(t, conn, Frame{Type: TypeStartFailed, Error: "microphone denied"})

	end := readUntil(t, conn, finishedState)
	if end.State.Outcome.Success || end.State.Outcome.Redirect != "/" {
		t.Fatalf("unexpected outcome: %+v", end.State.Outcome)
	}
	waitDone(t, done)
	if calls, _ := fb.snapshot(); calls != 0 {
		t.Fatalf("feedback must not run for a call that never started")
	}
}

func TestBridge_StartTimeout(t *testing.T) {
	fb := &fakeFeedback{}
	url, done := newBridgeServer(t, session.Config{InterviewID: "iv1", UserID: "u1", Feedback: fb},
		Config{StartTimeout: 50 * time.Millisecond})
	conn := dial(t, url)

	send(t, conn, Frame{Type: TypeConnect})
	readUntil(t, conn, ofType(TypeStart))
	// No ack: the call must not be left connecting.
	end := readUntil(t, conn, finishedState)
	if end.State.Outcome.Success || end.State.Outcome.Redirect != "/" {
		t.Fatalf("unexpected outcome: %+v", end.State.Outcome)
	}
	waitDone(t, done)
	if calls, _ := fb.snapshot(); calls != 0 {
		t.Fatalf("feedback must not run after a start timeout")
	}
}

func TestBridge_BrowserLeavesDuringActiveCall(t *testing.T) {
	fb := &fakeFeedback{res: services.Result{Success: true, ID: "fb-2"}}
	url, done := newBridgeServer(t, session.Config{InterviewID: "iv1", UserID: "u1", Feedback: fb}, Config{})
	conn := dial(t, url)

	send(t, conn, Frame{Type: TypeConnect})
	readUntil(t, conn, ofType(TypeStart))
	send(t, conn, Frame{Type: TypeAck})
	send(t, conn, Frame{Type: "call-start"})
	send(t, conn, finalMsg("user", "Hello."))
	readUntil(t, conn, func(f Frame) bool { return f.Type == TypeState && f.State != nil && len(f.State.Turns) == 1 })

	conn.Close()
	waitDone(t, done)

	calls, got := fb.snapshot()
	if calls != 1 || len(got.Transcript) != 1 {
		t.Fatalf("active call should be scored once, calls=%d params=%+v", calls, got)
	}
}

func TestBridge_DisconnectCommand(t *testing.T) {
	fb := &fakeFeedback{res: services.Result{Success: false, Message: "model down"}}
	url, done := newBridgeServer(t, session.Config{InterviewID: "iv1", UserID: "u1", Feedback: fb}, Config{})
	conn := dial(t, url)

	send(t, conn, Frame{Type: TypeConnect})
	readUntil(t, conn, ofType(TypeStart))
	send(t, conn, Frame{Type: TypeAck})
	send(t, conn, Frame{Type: "call-start"})
	readUntil(t, conn, phaseState(session.PhaseActive))
	send(t, conn, finalMsg("user", "Hi"))
	send(t, conn, Frame{Type: TypeDisconnect})

	readUntil(t, conn, ofType(TypeStop))
	end := readUntil(t, conn, finishedState)
	if end.State.Outcome.Success || end.State.Outcome.Redirect != "/" || end.State.Outcome.Message != "model down" {
		t.Fatalf("unexpected outcome: %+v", end.State.Outcome)
	}
	waitDone(t, done)
}

func TestBridge_BadFrameIsReported(t *testing.T) {
	url, _ := newBridgeServer(t, session.Config{InterviewID: "iv1", UserID: "u1", Feedback: &fakeFeedback{}}, Config{})
	conn := dial(t, url)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"nope":`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readUntil(t, conn, ofType(TypeError))
	if !strings.Contains(f.Error, "bad frame") {
		t.Fatalf("error = %q", f.Error)
	}
}

func TestDecodeAndToEvent(t *testing.T) {
	if _, err := Decode([]byte(`{}`)); err == nil {
		t.Fatalf("missing type must fail")
	}
	if _, err := Decode([]byte(`{"type":"message"}`)); err == nil {
		t.Fatalf("message without payload must fail")
	}
	var de *DecodeError
	if _, err := Decode([]byte(`[`)); !errors.As(err, &de) {
		t.Fatalf("want DecodeError, got %v", err)
	}

	f, err := Decode([]byte(`{"type":"message","message":{"type":"transcript","transcriptType":"final","role":"user","transcript":"hi"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ev, ok := ToEvent(f)
	if !ok || ev.Kind != session.EventMessage || !ev.Message.Final() || ev.Message.Transcript != "hi" {
		t.Fatalf("event = %+v, ok=%v", ev, ok)
	}

	for _, typ := range []string{"call-start", "call-end", "speech-start", "speech-end"} {
		if ev, ok := ToEvent(Frame{Type: typ}); !ok || string(ev.Kind) != typ {
			t.Fatalf("%s: event = %+v, ok=%v", typ, ev, ok)
		}
	}
	if ev, ok := ToEvent(Frame{Type: "error", Error: "x"}); !ok || ev.Error != "x" {
		t.Fatalf("error event = %+v", ev)
	}
	for _, typ := range []string{TypeAck, TypeConnect, "volume-level"} {
		if _, ok := ToEvent(Frame{Type: typ}); ok {
			t.Fatalf("%s must not map to an event", typ)
		}
	}
}

func TestStartRefusedError(t *testing.T) {
	if got := (&StartRefusedError{}).Error(); got != "voice: call refused" {
		t.Fatalf("got %q", got)
	}
	if got := (&StartRefusedError{Reason: "busy"}).Error(); got != "voice: call refused: busy" {
		t.Fatalf("got %q", got)
	}
}

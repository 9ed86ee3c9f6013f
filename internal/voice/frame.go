// Package voice bridges a browser-hosted voice call to a server-side
// interview session over a WebSocket.
//
// The voice provider SDK runs in the browser. The browser relays every SDK
// event to the server as a JSON frame and executes the "start" and "stop"
// frames the server sends back. Conn implements session.Channel on top of
// that relay; Bridge wires a Conn to a session.Machine for the lifetime of
// one connection.
//
// Frames, browser to server:
//
//	{"type":"connect"}                      user pressed "call"
//	{"type":"disconnect"}                   user pressed "end call"
//	{"type":"ack"}                          provider accepted the last "start"
//	{"type":"start-failed","error":"..."}   provider refused the last "start"
//	{"type":"call-start"} {"type":"call-end"}
//	{"type":"speech-start"} {"type":"speech-end"}
//	{"type":"message","message":{"type":"transcript","transcriptType":"final","role":"user","transcript":"..."}}
//	{"type":"error","error":"..."}
//
// Frames, server to browser:
//
//	{"type":"start","assistant":"...","variableValues":{"questions":"- ..."}}
//	{"type":"stop"}
//	{"type":"state","state":{...session.Snapshot...}}
//	{"type":"error","error":"..."}
package voice

import (
	"encoding/json"
	"fmt"

	"github.com/tbourn/go-interview-backend/internal/session"
	"github.com/tbourn/go-interview-backend/internal/transcript"
)

// Frame types.
const (
	TypeConnect     = "connect"
	TypeDisconnect  = "disconnect"
	TypeAck         = "ack"
	TypeStartFailed = "start-failed"
	TypeStart       = "start"
	TypeStop        = "stop"
	TypeState       = "state"
	TypeError       = "error"
)

// Frame is the JSON envelope exchanged in both directions.
type Frame struct {
	Type           string            `json:"type"`
	Assistant      string            `json:"assistant,omitempty"`
	VariableValues map[string]string `json:"variableValues,omitempty"`
	Message        *transcript.Event `json:"message,omitempty"`
	Error          string            `json:"error,omitempty"`
	State          *session.Snapshot `json:"state,omitempty"`
}

// DecodeError reports a frame the server could not understand.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "voice: bad frame: " + e.Reason }

// Decode parses one inbound frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, &DecodeError{Reason: err.Error()}
	}
	if f.Type == "" {
		return Frame{}, &DecodeError{Reason: "missing type"}
	}
	if f.Type == string(session.EventMessage) && f.Message == nil {
		return Frame{}, &DecodeError{Reason: "message frame without message"}
	}
	return f, nil
}

// ToEvent maps a relayed provider frame to a session event. ok is false for
// frames that are not provider events (commands, acks, unknown types).
func ToEvent(f Frame) (ev session.Event, ok bool) {
	switch kind := session.EventKind(f.Type); kind {
	case session.EventCallStart, session.EventCallEnd, session.EventSpeechStart, session.EventSpeechEnd:
		return session.Event{Kind: kind}, true
	case session.EventMessage:
		if f.Message == nil {
			return session.Event{}, false
		}
		return session.Event{Kind: kind, Message: *f.Message}, true
	case session.EventError:
		return session.Event{Kind: kind, Error: f.Error}, true
	}
	return session.Event{}, false
}

// StartRefusedError is returned by Conn.Start when the provider refused the
// call.
type StartRefusedError struct {
	Reason string
}

func (e *StartRefusedError) Error() string {
	if e.Reason == "" {
		return "voice: call refused"
	}
	return fmt.Sprintf("voice: call refused: %s", e.Reason)
}

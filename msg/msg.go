// Package msg implements the ZOCP wire format.
//
// Every frame is a UTF-8 JSON object with exactly one top level key, the
// verb, whose value is the verb's payload:
//
//	{"SET": {"speed": {"value": 0.5}}}
//
// Peer ids inside payloads travel as 32 hex characters without dashes.
// The codec accepts frames from whisper and shout alike; routing is the
// engine's business, not the format's.
package msg

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Verb is the single top level key of a frame.
type Verb string

// The eight canonical verbs.
const (
	Get   Verb = "GET"
	Set   Verb = "SET"
	Call  Verb = "CALL"
	Sub   Verb = "SUB"
	Unsub Verb = "UNSUB"
	Rep   Verb = "REP"
	Mod   Verb = "MOD"
	Sig   Verb = "SIG"
)

// ErrInvalidFrame is wrapped by every decode error in this package.
var ErrInvalidFrame = errors.New("msg: invalid frame")

// Frame is one decoded frame: the verb and its still-raw payload.
type Frame struct {
	Verb Verb
	Data json.RawMessage
}

// Marshal encodes payload under verb. A nil payload encodes as null,
// which GET uses to request a peer's whole capability tree.
func Marshal(verb Verb, payload interface{}) ([]byte, error) {
	return json.Marshal(map[string]interface{}{string(verb): payload})
}

// Unmarshal decodes one frame. The frame must be a JSON object with
// exactly one key. The key is returned as the verb without further
// checks, so frames carrying extension verbs pass through to whatever
// handler is registered for them.
func Unmarshal(data []byte) (*Frame, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("%w: %d top level keys, want 1", ErrInvalidFrame, len(obj))
	}

	f := &Frame{}
	for verb, payload := range obj {
		f.Verb = Verb(verb)
		f.Data = payload
	}
	return f, nil
}

// IDString renders a peer id the way it travels in payloads and the way
// the presence substrate names peers: 32 hex characters, uppercase, no
// dashes.
func IDString(id uuid.UUID) string {
	return fmt.Sprintf("%X", id[:])
}

// ParseID parses a peer id. Either case is accepted, with or without
// dashes, so ids from other ZOCP implementations parse too.
func ParseID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// Subscription is the payload of SUB and UNSUB, the four element array
// [emit_peer, emitter, recv_peer, receiver]. An empty Emitter stands for
// every emitter on the emitting peer; an empty Receiver means no
// capability on the receiving peer is written, only its callback runs.
// Both travel as JSON null.
type Subscription struct {
	EmitPeer uuid.UUID
	Emitter  string
	RecvPeer uuid.UUID
	Receiver string
}

func (s Subscription) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{
		IDString(s.EmitPeer), nullable(s.Emitter),
		IDString(s.RecvPeer), nullable(s.Receiver),
	})
}

func (s *Subscription) UnmarshalJSON(data []byte) error {
	var parts []*string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: subscription: %v", ErrInvalidFrame, err)
	}
	if len(parts) != 4 {
		return fmt.Errorf("%w: subscription has %d elements, want 4", ErrInvalidFrame, len(parts))
	}
	if parts[0] == nil || parts[2] == nil {
		return fmt.Errorf("%w: subscription peer ids must not be null", ErrInvalidFrame)
	}

	emitPeer, err := ParseID(*parts[0])
	if err != nil {
		return fmt.Errorf("%w: emit peer: %v", ErrInvalidFrame, err)
	}
	recvPeer, err := ParseID(*parts[2])
	if err != nil {
		return fmt.Errorf("%w: recv peer: %v", ErrInvalidFrame, err)
	}

	s.EmitPeer = emitPeer
	s.Emitter = deref(parts[1])
	s.RecvPeer = recvPeer
	s.Receiver = deref(parts[3])
	return nil
}

// Signal is the payload of SIG, the two element array [emitter, value].
type Signal struct {
	Emitter string
	Value   interface{}
}

func (s Signal) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{s.Emitter, s.Value})
}

func (s *Signal) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: signal: %v", ErrInvalidFrame, err)
	}
	if len(parts) != 2 {
		return fmt.Errorf("%w: signal has %d elements, want 2", ErrInvalidFrame, len(parts))
	}
	if err := json.Unmarshal(parts[0], &s.Emitter); err != nil {
		return fmt.Errorf("%w: signal emitter: %v", ErrInvalidFrame, err)
	}
	if err := json.Unmarshal(parts[1], &s.Value); err != nil {
		return fmt.Errorf("%w: signal value: %v", ErrInvalidFrame, err)
	}
	return nil
}

// Invocation is the payload of CALL, the two element array
// [method, [args...]].
type Invocation struct {
	Method string
	Args   []interface{}
}

func (c Invocation) MarshalJSON() ([]byte, error) {
	args := c.Args
	if args == nil {
		args = []interface{}{}
	}
	return json.Marshal([]interface{}{c.Method, args})
}

func (c *Invocation) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: call: %v", ErrInvalidFrame, err)
	}
	if len(parts) != 2 {
		return fmt.Errorf("%w: call has %d elements, want 2", ErrInvalidFrame, len(parts))
	}
	if err := json.Unmarshal(parts[0], &c.Method); err != nil {
		return fmt.Errorf("%w: call method: %v", ErrInvalidFrame, err)
	}
	if err := json.Unmarshal(parts[1], &c.Args); err != nil {
		return fmt.Errorf("%w: call args: %v", ErrInvalidFrame, err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

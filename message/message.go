// Package message defines the RPC envelope exchanged with the phone.
//
// On the wire an envelope is a JSON object of one of two shapes:
//
//	call:  {"callId": 4711, "func": "ep_deliver", "args": {...}}
//	reply: {"answerId": 4711, "answer": {...}}
//
// A failed call is answered with {"answerId": N, "answer": {"error": "..."}}.
// Decode inspects the shape once at the boundary and returns a tagged
// Envelope, so the rest of the stack never sniffs object keys.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("message: malformed envelope")

// Kind tags an Envelope.
type Kind byte

const (
	KindCall  Kind = 1
	KindReply Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindReply:
		return "reply"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Call asks the peer to run Func with Args. ID is chosen by the caller and
// must come back unchanged in the Reply.
type Call struct {
	ID   uint16
	Func string
	Args json.RawMessage
}

// Reply answers the Call with the same ID. Error is non-empty if the handler
// failed, in which case Answer is ignored.
type Reply struct {
	ID     uint16
	Answer json.RawMessage
	Error  string
}

// Envelope is either a Call or a Reply.
type Envelope struct {
	Kind  Kind
	Call  *Call
	Reply *Reply
}

func NewCall(id uint16, fn string, args json.RawMessage) *Envelope {
	return &Envelope{Kind: KindCall, Call: &Call{ID: id, Func: fn, Args: args}}
}

func NewReply(id uint16, answer json.RawMessage) *Envelope {
	return &Envelope{Kind: KindReply, Reply: &Reply{ID: id, Answer: answer}}
}

func NewErrorReply(id uint16, msg string) *Envelope {
	return &Envelope{Kind: KindReply, Reply: &Reply{ID: id, Error: msg}}
}

type callWire struct {
	CallID uint16          `json:"callId"`
	Func   string          `json:"func"`
	Args   json.RawMessage `json:"args,omitempty"`
}

type replyWire struct {
	AnswerID uint16          `json:"answerId"`
	Answer   json.RawMessage `json:"answer,omitempty"`
}

type errorAnswer struct {
	Error string `json:"error"`
}

// MarshalJSON writes the wire shape of the envelope.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindCall:
		if e.Call == nil {
			return nil, ErrMalformed
		}
		return json.Marshal(callWire{CallID: e.Call.ID, Func: e.Call.Func, Args: e.Call.Args})
	case KindReply:
		if e.Reply == nil {
			return nil, ErrMalformed
		}
		answer := e.Reply.Answer
		if e.Reply.Error != "" {
			b, err := json.Marshal(errorAnswer{Error: e.Reply.Error})
			if err != nil {
				return nil, err
			}
			answer = b
		}
		return json.Marshal(replyWire{AnswerID: e.Reply.ID, Answer: answer})
	}
	return nil, fmt.Errorf("%w: unknown kind %v", ErrMalformed, e.Kind)
}

// UnmarshalJSON classifies a wire object as a call or a reply.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if rawID, ok := fields["answerId"]; ok {
		var id uint16
		if err := json.Unmarshal(rawID, &id); err != nil {
			return fmt.Errorf("%w: answerId: %v", ErrMalformed, err)
		}
		reply := &Reply{ID: id, Answer: fields["answer"]}
		if msg, ok := errorOnly(reply.Answer); ok {
			reply.Answer = nil
			reply.Error = msg
		}
		*e = Envelope{Kind: KindReply, Reply: reply}
		return nil
	}

	rawFunc, hasFunc := fields["func"]
	rawID, hasID := fields["callId"]
	if !hasFunc || !hasID {
		return fmt.Errorf("%w: neither a call nor a reply", ErrMalformed)
	}
	call := &Call{Args: fields["args"]}
	if err := json.Unmarshal(rawFunc, &call.Func); err != nil {
		return fmt.Errorf("%w: func: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(rawID, &call.ID); err != nil {
		return fmt.Errorf("%w: callId: %v", ErrMalformed, err)
	}
	*e = Envelope{Kind: KindCall, Call: call}
	return nil
}

// errorOnly reports whether answer is an object whose only key is a string
// "error".
func errorOnly(answer json.RawMessage) (string, bool) {
	answer = bytes.TrimSpace(answer)
	if len(answer) == 0 || answer[0] != '{' {
		return "", false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(answer, &obj); err != nil || len(obj) != 1 {
		return "", false
	}
	raw, ok := obj["error"]
	if !ok {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil || msg == "" {
		return "", false
	}
	return msg, true
}

// Decode parses one envelope.
func Decode(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := env.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return env, nil
}

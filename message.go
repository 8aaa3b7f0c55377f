package jsonmessenger

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Reserved message types.
const (
	TypeConnect    = "connect"
	TypeDisconnect = "disconnect"
	TypePing       = "ping"
	TypeEcho       = "echo"
)

// MessageKind classifies a message by its declared type.
// Every type outside the four reserved ones is KindApplication.
type MessageKind int

const (
	// KindApplication is any type not reserved by the messenger.
	KindApplication MessageKind = iota
	// KindConnect is a peer-announced connect notice.
	KindConnect
	// KindDisconnect is a peer-announced disconnect notice.
	KindDisconnect
	// KindPing is a diagnostic message.
	KindPing
	// KindEcho is an echo request or reply.
	KindEcho
	// KindInvalid marks a framed text that could not be decoded. It is never
	// the kind of a decoded Message.
	KindInvalid
)

func (k MessageKind) String() string {
	switch k {
	case KindConnect:
		return TypeConnect
	case KindDisconnect:
		return TypeDisconnect
	case KindPing:
		return TypePing
	case KindEcho:
		return TypeEcho
	case KindInvalid:
		return "invalid"
	default:
		return "application"
	}
}

func kindOf(typ string) MessageKind {
	switch typ {
	case TypeConnect:
		return KindConnect
	case TypeDisconnect:
		return KindDisconnect
	case TypePing:
		return KindPing
	case TypeEcho:
		return KindEcho
	default:
		return KindApplication
	}
}

// Message is a decoded envelope.
type Message struct {
	Kind MessageKind
	// Type is the declared "type" value.
	Type string
	// Payload holds the remaining fields of the envelope as a JSON object.
	Payload json.RawMessage
	// Raw is the framed text exactly as received.
	Raw []byte
}

// echoFields are the correlation fields carried by echo messages.
type echoFields struct {
	EchoID *uint64 `json:"echo_id,omitempty"`
	Reply  bool    `json:"reply,omitempty"`
}

type echoMessage struct {
	Type string `json:"type"`
	echoFields
}

func (m *Message) echo() echoFields {
	var f echoFields
	_ = json.Unmarshal(m.Payload, &f)
	return f
}

// IsEchoReply reports whether m answers an echo request.
// An echo message without "reply":true is a request.
func (m *Message) IsEchoReply() bool {
	return m.Kind == KindEcho && m.echo().Reply
}

// EchoID returns the correlation id of an echo message, if it carries one.
func (m *Message) EchoID() (uint64, bool) {
	if m.Kind != KindEcho {
		return 0, false
	}
	f := m.echo()
	if f.EchoID == nil {
		return 0, false
	}
	return *f.EchoID, true
}

// Decode parses one framed text. The envelope is a JSON object with a string
// "type" field; a one-element array wrapping such an object is accepted too.
func Decode(raw []byte) (*Message, error) {
	text := bytes.TrimSpace(raw)

	if len(text) > 0 && text[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(text, &elems); err != nil {
			return nil, errors.Wrapf(ErrDecode, "invalid json (%v)", err)
		}
		if len(elems) != 1 {
			return nil, errors.Wrapf(ErrDecode, "array envelope holds %d elements", len(elems))
		}
		text = elems[0]
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(text, &fields); err != nil {
		return nil, errors.Wrapf(ErrDecode, "invalid json (%v)", err)
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, ErrMissingType
	}
	var typ *string
	if err := json.Unmarshal(rawType, &typ); err != nil || typ == nil {
		return nil, errors.Wrap(ErrMissingType, "type is not a string")
	}
	delete(fields, "type")

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(ErrDecode, "re-encode payload")
	}

	return &Message{
		Kind:    kindOf(*typ),
		Type:    *typ,
		Payload: payload,
		Raw:     raw,
	}, nil
}

// EchoRequest returns the wire form of an echo request with the given id.
func EchoRequest(id uint64) []byte {
	b, _ := json.Marshal(echoMessage{Type: TypeEcho, echoFields: echoFields{EchoID: &id}})
	return b
}

// EchoReply returns the wire form of the reply to req.
func EchoReply(req *Message) []byte {
	f := req.echo()
	b, _ := json.Marshal(echoMessage{Type: TypeEcho, echoFields: echoFields{EchoID: f.EchoID, Reply: true}})
	return b
}

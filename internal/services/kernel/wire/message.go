package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the messaging protocol version sent in headers.
const ProtocolVersion = "5.3"

// Header is a Jupyter message header. The zero Header encodes as "{}".
type Header struct {
	MsgID    string `json:"msg_id"`
	Session  string `json:"session"`
	Username string `json:"username"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// IsZero reports whether h carries no message id.
func (h Header) IsZero() bool {
	return h.MsgID == ""
}

// Message is one decoded Jupyter message.
type Message struct {
	Identities   [][]byte
	Header       Header
	ParentHeader Header
	Metadata     map[string]any
	Content      json.RawMessage
	Buffers      [][]byte
}

// NewMessage builds a request message with a fresh msg_id.
func NewMessage(session, username, msgType string, content any) (Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s content: %w", msgType, err)
	}
	if content == nil {
		raw = json.RawMessage("{}")
	}
	return Message{
		Header: Header{
			MsgID:    uuid.NewString(),
			Session:  session,
			Username: username,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			MsgType:  msgType,
			Version:  ProtocolVersion,
		},
		Metadata: map[string]any{},
		Content:  raw,
	}, nil
}

// Reply builds a message whose parent is m, as a kernel does.
func (m Message) Reply(session, msgType string, content any) (Message, error) {
	reply, err := NewMessage(session, m.Header.Username, msgType, content)
	if err != nil {
		return Message{}, err
	}
	reply.ParentHeader = m.Header
	reply.Identities = m.Identities
	return reply, nil
}

// MsgType returns the header message type.
func (m Message) MsgType() string {
	return m.Header.MsgType
}

// ParentID returns the msg_id this message replies to, if any.
func (m Message) ParentID() string {
	return m.ParentHeader.MsgID
}

// DecodeContent unmarshals the content into v.
func (m Message) DecodeContent(v any) error {
	if len(m.Content) == 0 {
		return fmt.Errorf("%s message has no content", m.Header.MsgType)
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("decode %s content: %w", m.Header.MsgType, err)
	}
	return nil
}

func encodeHeader(h Header) ([]byte, error) {
	if h.IsZero() {
		return []byte("{}"), nil
	}
	return json.Marshal(h)
}

func decodeHeader(data []byte) (Header, error) {
	var h Header
	if len(data) == 0 {
		return h, nil
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, err
	}
	return h, nil
}

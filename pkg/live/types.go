package live

import "fmt"

// MessageType is the first byte of every binary frame
type MessageType uint8

const (
	// FrameCall carries a request: id, method, body
	FrameCall MessageType = 0x00
	// FrameReply answers a call: id, error text, body
	FrameReply MessageType = 0x01
	// FrameHello is sent by the server once per connection with the session id
	FrameHello MessageType = 0x02
)

func (t MessageType) String() string {
	switch t {
	case FrameCall:
		return "call"
	case FrameReply:
		return "reply"
	case FrameHello:
		return "hello"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// Message is one decoded frame
type Message struct {
	Type   MessageType
	ID     uint64
	Method string
	Err    string
	Body   []byte
}

// RemoteError is a failure reported by the handler on the other end
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("live: remote %s: %s", e.Method, e.Message)
}

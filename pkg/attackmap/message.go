package attackmap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidMessage = errors.New("invalid message")

const CommandFlush = "flush"

type MessageKind int

const (
	MessageData MessageKind = iota
	MessageControl
)

func (k MessageKind) String() string {
	switch k {
	case MessageData:
		return "data"
	case MessageControl:
		return "control"
	}
	return "unknown"
}

// Message is one inbound frame: either a control message carrying a command or a
// data message carrying one record.
type Message struct {
	Kind    MessageKind
	Command string
	Record  EventRecord
}

// messageSchema accepts exactly the two frame shapes of the feed. Anything else is
// rejected before decoding.
const messageSchema = `{
  "oneOf": [
    {
      "type": "object",
      "required": ["command"],
      "properties": {"command": {"type": "string"}}
    },
    {
      "type": "array",
      "minItems": 1,
      "items": [{"type": "object"}]
    }
  ]
}`

var compiledMessageSchema = mustCompileSchema(messageSchema)

func mustCompileSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("attackmap: compiling message schema: %v", err))
	}
	return schema
}

// DecodeMessage validates and decodes one frame. All failures wrap ErrInvalidMessage.
func DecodeMessage(data []byte, receivedAt time.Time) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Message{}, fmt.Errorf("%w: empty frame", ErrInvalidMessage)
	}
	result, err := compiledMessageSchema.Validate(gojsonschema.NewBytesLoader(trimmed))
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}
		return Message{}, fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(reasons, "; "))
	}

	if trimmed[0] == '{' {
		var cmd struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(trimmed, &cmd); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return Message{Kind: MessageControl, Command: cmd.Command}, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	rec, err := NewEventRecord(elems[0], receivedAt)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: MessageData, Record: rec}, nil
}

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Method names a protocol operation. It doubles as the inbound command tag and
// as the method_name reported in outbound responses.
type Method string

const (
	MethodJoin    Method = "JOIN"
	MethodLeave   Method = "LEAVE"
	MethodMessage Method = "MESSAGE"
	// MethodUnknown is reported when a frame could not be attributed to a command.
	MethodUnknown Method = "unknown"
	// MethodClose is the method carried by the synthetic close acknowledgement.
	MethodClose Method = "parse_close_message"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrEmptyRoom      = errors.New("room name must not be empty")
	ErrMalformed      = errors.New("malformed command")
)

// Command is a decoded inbound frame.
type Command struct {
	Method Method
	Room   string
	// Text is only set for MESSAGE commands.
	Text string
}

// DecodeError reports a frame that could not be decoded. Method is the
// command tag that was being decoded, or MethodUnknown.
type DecodeError struct {
	Method Method
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type roomMessage struct {
	Room    string `json:"room"`
	Message string `json:"message"`
}

// DecodeCommand parses a single inbound text frame.
func DecodeCommand(raw []byte) (Command, error) {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return Command{}, &DecodeError{Method: MethodUnknown, Err: errors.Wrap(ErrMalformed, err.Error())}
	}
	if len(tagged) != 1 {
		return Command{}, &DecodeError{
			Method: MethodUnknown,
			Err:    errors.Wrapf(ErrMalformed, "expected exactly one command tag, got %d", len(tagged)),
		}
	}

	for tag, body := range tagged {
		method := Method(tag)
		switch method {
		case MethodJoin, MethodLeave:
			var room string
			if err := json.Unmarshal(body, &room); err != nil {
				return Command{}, &DecodeError{Method: method, Err: errors.Wrap(ErrMalformed, err.Error())}
			}
			if room == "" {
				return Command{}, &DecodeError{Method: method, Err: ErrEmptyRoom}
			}
			return Command{Method: method, Room: room}, nil

		case MethodMessage:
			var msg roomMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				return Command{}, &DecodeError{Method: method, Err: errors.Wrap(ErrMalformed, err.Error())}
			}
			if msg.Room == "" {
				return Command{}, &DecodeError{Method: method, Err: ErrEmptyRoom}
			}
			return Command{Method: method, Room: msg.Room, Text: msg.Message}, nil

		default:
			return Command{}, &DecodeError{Method: method, Err: ErrUnknownCommand}
		}
	}

	// unreachable: len(tagged) == 1
	return Command{}, &DecodeError{Method: MethodUnknown, Err: ErrMalformed}
}

// EncodeCommand is the inverse of DecodeCommand. It is used by clients and tests.
func EncodeCommand(cmd Command) ([]byte, error) {
	switch cmd.Method {
	case MethodJoin, MethodLeave:
		return json.Marshal(map[Method]string{cmd.Method: cmd.Room})
	case MethodMessage:
		return json.Marshal(map[Method]roomMessage{cmd.Method: {Room: cmd.Room, Message: cmd.Text}})
	default:
		return nil, errors.Wrapf(ErrUnknownCommand, "encode %q", cmd.Method)
	}
}

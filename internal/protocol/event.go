package protocol

import "encoding/json"

// EventKind distinguishes outbound mailbox events.
type EventKind int

const (
	KindOK EventKind = iota
	KindError
	// KindClose instructs the connection writer to close the transport.
	KindClose
)

func (k EventKind) String() string {
	switch k {
	case KindOK:
		return "Ok"
	case KindError:
		return "Error"
	case KindClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// Response types on the wire.
const (
	ResponseOK    = "Ok"
	ResponseError = "Error"
)

// SocketClose is the message carried by the close acknowledgement.
const SocketClose = "SocketClose"

// Response is the outbound frame written to clients.
type Response struct {
	Message      string  `json:"message"`
	Data         *string `json:"data"`
	ResponseType string  `json:"response_type"`
	MethodName   string  `json:"method_name"`
}

// Event is queued in a connection mailbox and written by its writer.
type Event struct {
	Kind    EventKind
	Message string
	Data    *string
	Method  Method
}

// OK builds a successful response event without data.
func OK(method Method, message string) Event {
	return Event{Kind: KindOK, Message: message, Method: method}
}

// OKWithData builds a successful response event carrying data.
func OKWithData(method Method, message, data string) Event {
	return Event{Kind: KindOK, Message: message, Data: &data, Method: method}
}

// Error builds an error response event.
func Error(method Method, message string) Event {
	return Event{Kind: KindError, Message: message, Method: method}
}

// Close builds the close instruction for a connection writer.
func Close() Event {
	return Event{Kind: KindClose, Message: SocketClose, Method: MethodClose}
}

// Response converts the event to its wire representation. Close events are
// reported as an Ok acknowledgement.
func (e Event) Response() Response {
	responseType := ResponseOK
	if e.Kind == KindError {
		responseType = ResponseError
	}
	return Response{
		Message:      e.Message,
		Data:         e.Data,
		ResponseType: responseType,
		MethodName:   string(e.Method),
	}
}

// MarshalJSON encodes the event as a Response.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Response())
}

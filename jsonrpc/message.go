package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/m4xw311/tadpole/errors"
)

// Version is the protocol version carried by every message.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ID is a request identifier. The raw JSON is kept so string and number ids
// round-trip byte for byte.
type ID struct {
	raw json.RawMessage
}

// Int64ID returns a numeric id.
func Int64ID(n int64) *ID {
	return &ID{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// StringID returns a string id.
func StringID(s string) *ID {
	raw, _ := json.Marshal(s)
	return &ID{raw: raw}
}

// Int64 returns the id as an integer if it is a JSON integer.
func (id *ID) Int64() (int64, bool) {
	if id == nil || len(id.raw) == 0 || id.raw[0] == '"' {
		return 0, false
	}
	n, err := strconv.ParseInt(string(id.raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (id *ID) String() string {
	if id == nil {
		return "<none>"
	}
	return string(id.raw)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty id")
	}
	switch c := data[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
	default:
		return errors.New("id must be a string or number, got %s", data)
	}
	id.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Error is the structured error object of a response. It is also the error
// value a caller observes when the peer answers a call with an error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError builds an error object; data is marshalled when non-nil.
func NewError(code int, message string, data any) *Error {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

func (e *Error) Error() string {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return fmt.Sprintf("json-rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// Is lets errors.Is match remote errors against the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrMethodNotFound:
		return e.Code == CodeMethodNotFound
	case ErrInvalidParams:
		return e.Code == CodeInvalidParams
	case ErrMalformedMessage:
		return e.Code == CodeParseError || e.Code == CodeInvalidRequest
	}
	return false
}

// Kind classifies a decoded message.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	}
	return "invalid"
}

// Message is a single JSON-RPC message: a request, a notification or a
// response. Field order matches the order written on the wire.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      *ID             `json:"id,omitempty"`

	hasResult bool
}

// Kind reports what the message is. A message carrying result or error is a
// response, and when it carries both the error is its outcome; otherwise a
// method makes it a request (with id) or a notification (without).
func (m *Message) Kind() Kind {
	switch {
	case m.hasResult || m.Result != nil || m.Error != nil:
		return KindResponse
	case m.Method != "" && m.ID != nil:
		return KindRequest
	case m.Method != "":
		return KindNotification
	}
	return KindInvalid
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var out Message
	if raw, ok := fields["jsonrpc"]; ok {
		if err := json.Unmarshal(raw, &out.JSONRPC); err != nil {
			return errors.Wrapf(err, "decode jsonrpc version")
		}
		if out.JSONRPC != Version {
			return errors.New("unsupported jsonrpc version %q", out.JSONRPC)
		}
	}
	if raw, ok := fields["method"]; ok {
		if err := json.Unmarshal(raw, &out.Method); err != nil {
			return errors.Wrapf(err, "decode method")
		}
	}
	if raw, ok := fields["params"]; ok {
		out.Params = raw
	}
	if raw, ok := fields["result"]; ok {
		out.Result = raw
		out.hasResult = true
	}
	if raw, ok := fields["error"]; ok && string(bytes.TrimSpace(raw)) != "null" {
		out.Error = &Error{}
		if err := json.Unmarshal(raw, out.Error); err != nil {
			return errors.Wrapf(err, "decode error object")
		}
	}
	if raw, ok := fields["id"]; ok && string(bytes.TrimSpace(raw)) != "null" {
		out.ID = &ID{}
		if err := out.ID.UnmarshalJSON(raw); err != nil {
			return err
		}
	}
	*m = out
	return nil
}

// NewRequest builds a request with a numeric id.
func NewRequest(id int64, method string, params any) (Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Message{}, errors.Wrapf(err, "encode params for %s", method)
	}
	return Message{JSONRPC: Version, Method: method, Params: raw, ID: Int64ID(id)}, nil
}

// NewNotification builds a message without an id.
func NewNotification(method string, params any) (Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Message{}, errors.Wrapf(err, "encode params for %s", method)
	}
	return Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResponse builds a successful response. A nil result is sent as null.
func NewResponse(id *ID, result any) (Message, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return Message{}, errors.Wrapf(err, "encode result")
	}
	if raw == nil {
		raw = json.RawMessage("null")
	}
	return Message{JSONRPC: Version, Result: raw, ID: id, hasResult: true}, nil
}

// NewErrorResponse builds a response carrying an error object.
func NewErrorResponse(id *ID, rpcErr *Error) Message {
	return Message{JSONRPC: Version, Error: rpcErr, ID: id}
}

func marshalParams(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	return json.Marshal(v)
}

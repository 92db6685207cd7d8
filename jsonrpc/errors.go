package jsonrpc

import (
	"fmt"

	"github.com/m4xw311/tadpole/errors"
)

var (
	// ErrMalformedMessage marks a line or message that is not valid JSON-RPC.
	// The stream is never torn down for it.
	ErrMalformedMessage = errors.Sentinel("malformed json-rpc message")
	// ErrMethodNotFound is reported for requests to unregistered methods.
	ErrMethodNotFound = errors.Sentinel("method not found")
	// ErrInvalidParams is returned by handlers whose params do not decode.
	ErrInvalidParams = errors.Sentinel("invalid params")
	// ErrConnectionClosed fails every call still pending when the stream ends.
	ErrConnectionClosed = errors.Sentinel("json-rpc connection closed")
	// ErrCancelled resolves a call abandoned before its response arrived.
	ErrCancelled = errors.Sentinel("json-rpc call cancelled")
	// ErrUnresolvedResponse describes a response with no pending call. It is
	// only ever logged.
	ErrUnresolvedResponse = errors.Sentinel("response has no pending call")
)

// wireError converts a handler outcome into the error object sent back to
// the peer.
func wireError(err error) *Error {
	var rpcErr *Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, ErrInvalidParams):
		return NewError(CodeInvalidParams, "Invalid params", err.Error())
	case errors.Is(err, ErrMethodNotFound):
		return NewError(CodeMethodNotFound, "Method not found", err.Error())
	}
	return NewError(CodeInternalError, "Internal error", err.Error())
}

func malformed(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, a...))
}

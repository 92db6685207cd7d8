package jsonrpc

import (
	"bytes"
	"encoding/json"

	"github.com/m4xw311/tadpole/errors"
)

// DecodeLine decodes one line of the stream. An object yields one message, an
// array yields its elements in array order. Blank lines yield nothing. A batch
// object that does not decode is left out and reported in the error while
// its siblings are still returned; a batch holding anything but objects is
// rejected whole.
func DecodeLine(line []byte) ([]Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}
	switch line[0] {
	case '{':
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, malformed("%v", err)
		}
		return []Message{msg}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(line, &items); err != nil {
			return nil, malformed("%v", err)
		}
		if len(items) == 0 {
			return nil, malformed("empty batch")
		}
		for i, item := range items {
			item = bytes.TrimSpace(item)
			if len(item) == 0 || item[0] != '{' {
				return nil, malformed("batch element %d is not an object", i)
			}
		}
		batch := make([]Message, 0, len(items))
		var bad []error
		for i, item := range items {
			var msg Message
			if err := json.Unmarshal(item, &msg); err != nil {
				bad = append(bad, malformed("batch element %d: %v", i, err))
				continue
			}
			batch = append(batch, msg)
		}
		return batch, errors.Join(bad...)
	}
	if !json.Valid(line) {
		return nil, malformed("invalid json")
	}
	return nil, malformed("top-level value is neither object nor array")
}

// Encode serializes a message as compact JSON terminated by a single newline.
func Encode(msg Message) ([]byte, error) {
	msg.JSONRPC = Version
	return encodeLine(msg)
}

// EncodeBatch serializes messages as one batch line.
func EncodeBatch(msgs []Message) ([]byte, error) {
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		msg.JSONRPC = Version
		out[i] = msg
	}
	return encodeLine(out)
}

func encodeLine(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

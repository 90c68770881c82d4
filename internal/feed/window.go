package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidWindow marks a window snapshot that does not match WindowSchema.
var ErrInvalidWindow = errors.New("invalid feed window")

const windowSchemaURL = "https://beer-counter.local/schemas/window.json"

// WindowSchema is the wire shape shared by spool snapshots and bridge
// responses. Message ids are optional here; a message without one is skipped
// downstream rather than rejecting the whole window.
const WindowSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["messages"],
  "properties": {
    "messages": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "time_label": {"type": "string"},
          "author": {"type": "string"},
          "payload": {
            "type": "object",
            "properties": {
              "has_image": {"type": "boolean"},
              "has_gif": {"type": "boolean"},
              "has_video": {"type": "boolean"},
              "view_once": {"type": "boolean"},
              "text": {"type": "string"}
            },
            "additionalProperties": false
          }
        }
      }
    }
  }
}`

// Window is one screenful, newest message first.
type Window struct {
	Messages []Message `json:"messages"`
}

var compileWindowSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(WindowSchema)))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(windowSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(windowSchemaURL)
})

// DecodeWindow validates raw against WindowSchema and decodes it.
func DecodeWindow(raw []byte) ([]Message, error) {
	sch, err := compileWindowSchema()
	if err != nil {
		return nil, fmt.Errorf("compile window schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWindow, err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWindow, err)
	}
	var w Window
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWindow, err)
	}
	return w.Messages, nil
}

// ReadWindow is DecodeWindow over a reader.
func ReadWindow(r io.Reader) ([]Message, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeWindow(raw)
}

// EncodeWindow renders msgs in the wire shape.
func EncodeWindow(msgs []Message) ([]byte, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	return json.Marshal(Window{Messages: msgs})
}

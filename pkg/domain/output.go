package domain

import (
	"encoding/json"
	"fmt"
)

// OutputKind tags the variant held by an Output.
type OutputKind int

const (
	OutputNone OutputKind = iota
	OutputText
	OutputJSON
)

func (k OutputKind) String() string {
	switch k {
	case OutputText:
		return "text"
	case OutputJSON:
		return "json"
	default:
		return "none"
	}
}

// Output is the turn's payload: either plain text or a JSON document.
type Output struct {
	kind OutputKind
	text string
	json json.RawMessage
}

// TextOutput builds the Text variant.
func TextOutput(text string) Output {
	return Output{kind: OutputText, text: text}
}

// JSONOutput builds the Json variant. The raw message is copied.
func JSONOutput(raw json.RawMessage) Output {
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return Output{kind: OutputJSON, json: cp}
}

func (o Output) Kind() OutputKind { return o.kind }

// Text returns the text of a Text output, or the raw JSON of a Json output.
func (o Output) Text() string {
	if o.kind == OutputJSON {
		return string(o.json)
	}
	return o.text
}

// JSON returns the raw document of a Json output.
func (o Output) JSON() json.RawMessage { return o.json }

// IsZero reports whether no output was set.
func (o Output) IsZero() bool { return o.kind == OutputNone }

// Value unwraps the output to a plain value: a string, a decoded JSON value, or nil.
func (o Output) Value() any {
	switch o.kind {
	case OutputText:
		return o.text
	case OutputJSON:
		var v any
		if err := json.Unmarshal(o.json, &v); err != nil {
			return string(o.json)
		}
		return v
	default:
		return nil
	}
}

type outputWire struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	JSON json.RawMessage `json:"json,omitempty"`
}

func (o Output) MarshalJSON() ([]byte, error) {
	switch o.kind {
	case OutputText:
		return json.Marshal(outputWire{Type: "text", Text: o.text})
	case OutputJSON:
		return json.Marshal(outputWire{Type: "json", JSON: o.json})
	default:
		return []byte("null"), nil
	}
}

func (o *Output) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Output{}
		return nil
	}
	var w outputWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case "text":
		*o = TextOutput(w.Text)
	case "json":
		*o = JSONOutput(w.JSON)
	default:
		return fmt.Errorf("unknown output type %q", w.Type)
	}
	return nil
}

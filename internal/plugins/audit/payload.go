package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// On the wire every payload is a flat JSON object of field -> value, the
// same shape rows had before tags existed. The typed views below are read
// from that object; nothing about the stored shape depends on them.

// StatusChangePayload is the typed view of a status_change row.
type StatusChangePayload struct {
	Status string
	Reason string
}

// Fields returns the wire form: status plus declined_reason or
// withdrawn_reason when a reason applies.
func (p StatusChangePayload) Fields() map[string]any {
	out := map[string]any{"status": p.Status}
	if key := reasonKeyFor(p.Status); key != "" && p.Reason != "" {
		out[key] = p.Reason
	}
	return out
}

// UnqualifiedPayload is the typed view of an unqualified_status row.
type UnqualifiedPayload struct {
	IsUnqualified bool
	Reason        string
}

// Fields returns the wire form. Clearing the flag also clears the reason.
func (p UnqualifiedPayload) Fields() map[string]any {
	out := map[string]any{"is_unqualified": p.IsUnqualified, "unqualified_reason": nil}
	if p.IsUnqualified && p.Reason != "" {
		out["unqualified_reason"] = p.Reason
	}
	return out
}

// FieldGroupPayload is the typed view of every other row: the changed
// fields of one category.
type FieldGroupPayload struct {
	Tag    FieldTag
	Fields map[string]any
}

// OpaquePayload holds a stored value that is not a JSON object.
type OpaquePayload struct {
	Raw string
}

// ParsePayload decodes a stored new_value into the typed view for tag. It
// never fails: values that are not JSON objects come back as OpaquePayload.
func ParsePayload(tag FieldTag, raw *string) any {
	p := decodePayload(raw)
	if p.fields == nil {
		return OpaquePayload{Raw: p.raw}
	}
	switch tag {
	case TagStatusChange:
		return statusChangeFrom(p.fields)
	case TagUnqualifiedStatus:
		if u, ok := unqualifiedFrom(p.fields); ok {
			return u
		}
	}
	return FieldGroupPayload{Tag: tag, Fields: p.fields}
}

// payload is a decoded stored value.
type payload struct {
	fields map[string]any // nil unless the value is a JSON object
	raw    string
}

func decodePayload(raw *string) payload {
	if raw == nil {
		return payload{}
	}
	p := payload{raw: *raw}

	dec := json.NewDecoder(strings.NewReader(*raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return p
	}
	// Anything after the object makes the whole value malformed.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return p
	}
	p.fields = fields
	return p
}

func statusChangeFrom(fields map[string]any) StatusChangePayload {
	p := StatusChangePayload{Status: stringValue(fields["status"])}
	if key := reasonKeyFor(p.Status); key != "" {
		p.Reason = stringValue(fields[key])
	}
	if p.Reason == "" {
		p.Reason = stringValue(fields["reason"])
	}
	return p
}

// unqualifiedFrom reads the flag; ok is false when the payload carries no
// usable is_unqualified value.
func unqualifiedFrom(fields map[string]any) (UnqualifiedPayload, bool) {
	flag, ok := boolValue(fields["is_unqualified"])
	if !ok {
		return UnqualifiedPayload{}, false
	}
	return UnqualifiedPayload{
		IsUnqualified: flag,
		Reason:        stringValue(fields["unqualified_reason"]),
	}, true
}

// reasonKeyFor names the reason field that accompanies a terminal status.
func reasonKeyFor(status string) string {
	switch status {
	case "declined":
		return "declined_reason"
	case "withdrawn":
		return "withdrawn_reason"
	}
	return ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}

// boolValue accepts the encodings seen in stored rows: JSON booleans, 0/1
// numbers and their string forms.
func boolValue(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case json.Number:
		switch t.String() {
		case "1":
			return true, true
		case "0":
			return false, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes":
			return true, true
		case "0", "false", "no":
			return false, true
		}
	}
	return false, false
}

// rawJSON returns raw as a JSON value for the history feed: valid JSON is
// passed through, anything else becomes a JSON string, nil becomes null.
func rawJSON(raw *string) json.RawMessage {
	if raw == nil {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(*raw)) {
		return json.RawMessage(bytes.TrimSpace([]byte(*raw)))
	}
	quoted, _ := json.Marshal(*raw)
	return quoted
}

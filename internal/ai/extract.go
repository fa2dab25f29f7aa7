package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrNoJSON = errors.New("no JSON object found in provider output")

// MissingKeysError lists the required keys absent, null or blank in a provider answer.
type MissingKeysError struct {
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("provider answer missing keys: %s", strings.Join(e.Keys, ", "))
}

var fenceReplacer = strings.NewReplacer("```json", "", "```JSON", "", "```", "")

// ExtractJSON strips code fences and returns the first well-formed JSON object in text.
func ExtractJSON(text string) ([]byte, error) {
	clean := strings.TrimSpace(fenceReplacer.Replace(text))
	for i := 0; i < len(clean); i++ {
		if clean[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(clean[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '{' {
			return raw, nil
		}
	}
	return nil, ErrNoJSON
}

// Decode extracts the JSON object from text, checks that every required key is present
// and neither null nor a blank string, and unmarshals it into out. Optional keys whose
// value does not fit out are dropped; a required key that does not fit is an error. It
// returns the object as decoded into out.
func Decode(text string, out any, required ...string) (json.RawMessage, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	isRequired := make(map[string]bool, len(required))
	var missing []string
	for _, k := range required {
		isRequired[k] = true
		if v, ok := fields[k]; !ok || blank(v) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingKeysError{Keys: missing}
	}

	for dropped := 0; ; dropped++ {
		err := json.Unmarshal(raw, out)
		if err == nil {
			return raw, nil
		}
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) || dropped >= len(fields) {
			return nil, fmt.Errorf("provider answer has unexpected shape: %w", err)
		}
		key, _, _ := strings.Cut(typeErr.Field, ".")
		if _, ok := fields[key]; !ok || isRequired[key] {
			return nil, fmt.Errorf("provider answer has unexpected shape: %w", err)
		}
		delete(fields, key)
		if raw, err = json.Marshal(fields); err != nil {
			return nil, err
		}
	}
}

func blank(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	if string(v) == "null" {
		return true
	}
	var s string
	if len(v) > 0 && v[0] == '"' && json.Unmarshal(v, &s) == nil {
		return strings.TrimSpace(s) == ""
	}
	return false
}

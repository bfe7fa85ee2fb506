package services

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

// lookupOutput finds key in a workflow outputs object. Keys are escaped, so
// names such as "json response" or "a.b" are matched literally.
func lookupOutput(outputs json.RawMessage, key string) (gjson.Result, error) {
	if len(outputs) == 0 || !gjson.ValidBytes(outputs) {
		return gjson.Result{}, &OutputError{Key: key, Err: ErrOutputMissing}
	}
	r := gjson.GetBytes(outputs, gjson.Escape(key))
	if !r.Exists() || r.Type == gjson.Null {
		return gjson.Result{}, &OutputError{Key: key, Err: ErrOutputMissing}
	}
	return r, nil
}

// OutputString returns the string stored under key.
func OutputString(outputs json.RawMessage, key string) (string, error) {
	r, err := lookupOutput(outputs, key)
	if err != nil {
		return "", err
	}
	if r.Type != gjson.String {
		return "", &OutputError{Key: key, Err: ErrOutputNotString}
	}
	return r.String(), nil
}

// OutputJSON returns the JSON document stored under key. The value is either
// a JSON-encoded string, which is decoded, or a structured value used as is.
func OutputJSON(outputs json.RawMessage, key string) (json.RawMessage, error) {
	r, err := lookupOutput(outputs, key)
	if err != nil {
		return nil, err
	}
	if r.Type != gjson.String {
		return json.RawMessage(r.Raw), nil
	}

	doc := stripCodeFence(r.String())
	if doc == "" || !gjson.Valid(doc) {
		return nil, &OutputError{Key: key, Err: ErrOutputMalformed}
	}
	return json.RawMessage(doc), nil
}

// OutputKeys lists the top-level keys of an outputs object in document order.
func OutputKeys(outputs json.RawMessage) []string {
	if len(outputs) == 0 || !gjson.ValidBytes(outputs) {
		return nil
	}
	var keys []string
	gjson.ParseBytes(outputs).ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	return keys
}

// stripCodeFence removes a surrounding markdown code fence, which LLM nodes
// tend to add around JSON answers.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	// drop the info string, e.g. ```json, on its own line or before the body
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && isInfoString(s[:nl]) {
		s = s[nl+1:]
	} else if i := strings.IndexAny(s, "{["); i > 0 && isInfoString(s[:i]) {
		s = s[i:]
	}
	return strings.TrimSpace(s)
}

func isInfoString(s string) bool {
	s = strings.TrimSpace(s)
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

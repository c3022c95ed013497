package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty LLM response")

// DecodeJSON strips markdown fences and any prose around the outermost JSON
// value, then decodes it into v.
func DecodeJSON(text string, v any) error {
	text = stripFences(strings.TrimSpace(text))
	if text == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	// Models sometimes wrap the object in a sentence.
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return json.Unmarshal([]byte(text), v)
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return json.Unmarshal([]byte(text), v)
	}
	return json.Unmarshal([]byte(text[start:end+1]), v)
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	if endIdx <= 1 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// ErrSchema marks a model response that could not be decoded into, or failed
// validation against, the expected structure.
var ErrSchema = errors.New("llm response does not match the expected schema")

// Validator is implemented by response records that check their own invariants.
type Validator interface {
	Validate() error
}

var (
	// \x60 is a backtick; raw strings cannot contain one.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	jsonArrayRegex  = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")

	strictJSON = jsoniter.Config{
		EscapeHTML:             true,
		ValidateJsonRawMessage: true,
		DisallowUnknownFields:  true,
	}.Froze()
)

// ExtractJSON pulls the JSON document out of a model response that may be
// wrapped in a markdown fence or surrounded by prose.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)
	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			return matches[1]
		}
		return response
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	if isObject {
		fb, lb := strings.Index(response, "{"), strings.LastIndex(response, "}")
		if fb != -1 && lb > fb {
			return response[fb : lb+1]
		}
	}
	if isArray {
		fb, lb := strings.Index(response, "["), strings.LastIndex(response, "]")
		if fb != -1 && lb > fb {
			return response[fb : lb+1]
		}
	}
	return response
}

// DecodeStrict decodes a model response into T, rejecting unknown fields and
// trailing data. Every failure wraps ErrSchema.
func DecodeStrict[T any](response string) (*T, error) {
	payload := ExtractJSON(response)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty response", ErrSchema)
	}
	var result T
	if err := strictJSON.UnmarshalFromString(payload, &result); err != nil {
		return nil, fmt.Errorf("%w: %v. Extracted JSON (truncated): %s", ErrSchema, err, truncateString(payload, 500))
	}
	return &result, nil
}

// DecodeValidated is DecodeStrict followed by the record's own Validate.
func DecodeValidated[T any, PT interface {
	*T
	Validator
}](response string) (*T, error) {
	result, err := DecodeStrict[T](response)
	if err != nil {
		return nil, err
	}
	if err := PT(result).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return result, nil
}

func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

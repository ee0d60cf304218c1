package diaglog

import "strings"

// sensitiveKeys are payload keys whose values never reach the log file.
// Matching is case-insensitive.
var sensitiveKeys = map[string]bool{
	"token":              true,
	"api_key":            true,
	"apikey":             true,
	"authorization":      true,
	"password":           true,
	"secret":             true,
	"hugging_face_token": true,
	"hf_token":           true,
	"dsn":                true,
}

const redacted = "[REDACTED]"

// Redact returns a copy of v with sensitive map values replaced by
// "[REDACTED]". Nested maps and slices are walked; v is not mutated.
// String values that embed a bearer token are also masked.
func Redact(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if sensitiveKeys[strings.ToLower(k)] {
				out[k] = redacted
				continue
			}
			out[k] = Redact(child)
		}
		return out
	case map[string]string:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			out[k] = child
		}
		return Redact(out)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = Redact(elem)
		}
		return out
	case string:
		if i := strings.Index(strings.ToLower(val), "bearer "); i >= 0 {
			return val[:i+len("bearer ")] + redacted
		}
		return val
	default:
		return v
	}
}

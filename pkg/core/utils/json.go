package utils

import (
	"encoding/json"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
	"github.com/rotisserie/eris"
)

// ExtractFirstObject returns the first balanced {...} substring of s, ignoring braces
// inside JSON string literals. It reports false when no complete object exists.
func ExtractFirstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
		// Unbalanced from this brace; try the next opening brace.
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// RepairJSON attempts to fix common JSON errors from LLM outputs.
// Uses github.com/RealAlexandreAI/json-repair for:
// - Missing quotes around keys
// - Single quotes instead of double quotes
// - Trailing commas
// - Comments in JSON
func RepairJSON(malformedJSON string) (string, error) {
	repaired, err := jsonrepair.RepairJSON(malformedJSON)
	if err != nil {
		return "", eris.Wrap(err, "JSON_REPAIR_FAILED")
	}
	return repaired, nil
}

// ParseHJSON parses Human-friendly JSON (Hjson) and returns standard JSON.
func ParseHJSON(hjsonData string) (string, error) {
	var result interface{}
	if err := hjson.Unmarshal([]byte(hjsonData), &result); err != nil {
		return "", eris.Wrap(err, "HJSON_PARSE_ERROR")
	}

	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return "", eris.Wrap(err, "JSON_MARSHAL_ERROR")
	}
	return string(jsonBytes), nil
}

// SmartParse tries multiple parsing strategies to decode input into target.
// Order of attempts:
// 1. Standard JSON parse
// 2. JSON repair
// 3. Hjson parse (most lenient)
func SmartParse(input string, target interface{}) (string, error) {
	if err := json.Unmarshal([]byte(input), target); err == nil {
		return input, nil
	}

	if repaired, err := RepairJSON(input); err == nil {
		if err := json.Unmarshal([]byte(repaired), target); err == nil {
			return repaired, nil
		}
	}

	if hjsonResult, err := ParseHJSON(input); err == nil {
		if err := json.Unmarshal([]byte(hjsonResult), target); err == nil {
			return hjsonResult, nil
		}
	}

	return "", eris.New("SMART_PARSE_FAILED: all parsing strategies failed for input")
}

// MissingKeys returns the keys of required that obj lacks, in order.
func MissingKeys(obj map[string]json.RawMessage, required ...string) []string {
	var missing []string
	for _, k := range required {
		raw, ok := obj[k]
		if !ok || string(raw) == "null" {
			missing = append(missing, k)
		}
	}
	return missing
}

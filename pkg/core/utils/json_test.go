package utils

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestExtractFirstObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"prose around", "Here you go:\n{\"a\":{\"b\":2}}\nThanks!", `{"a":{"b":2}}`, true},
		{"brace in string", `x {"a":"}{","b":1} y`, `{"a":"}{","b":1}`, true},
		{"escaped quote", `{"a":"say \"}\"","b":1}`, `{"a":"say \"}\"","b":1}`, true},
		{"second object ignored", `{"a":1} {"b":2}`, `{"a":1}`, true},
		{"unbalanced", `{"a":1`, "", false},
		{"none", "no json here", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFirstObject(tt.input)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ExtractFirstObject(%q) = %q,%v want %q,%v", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSmartParse(t *testing.T) {
	inputs := []string{
		`{"income_statement": {"Revenue": "100"}}`,
		`{"income_statement": {"Revenue": "100",},}`,
		`{income_statement: {Revenue: "100"}}`,
	}
	for _, in := range inputs {
		var out map[string]map[string]string
		if _, err := SmartParse(in, &out); err != nil {
			t.Errorf("SmartParse(%q) error: %v", in, err)
			continue
		}
		if out["income_statement"]["Revenue"] != "100" {
			t.Errorf("SmartParse(%q) = %v", in, out)
		}
	}
}

func TestMissingKeys(t *testing.T) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(`{"a":{},"b":null}`), &obj); err != nil {
		t.Fatal(err)
	}
	got := MissingKeys(obj, "a", "b", "c")
	if strings.Join(got, ",") != "b,c" {
		t.Errorf("MissingKeys() = %v, want [b c]", got)
	}
}

func TestFencedBlocks(t *testing.T) {
	md := "Sure:\n\n```json\n{\"a\": 1}\n```\n\n```python\nprint(1)\n```\n"
	blocks := FencedBlocks(md, "json")
	if len(blocks) != 1 {
		t.Fatalf("FencedBlocks() returned %d blocks, want 1", len(blocks))
	}
	if strings.TrimSpace(blocks[0]) != `{"a": 1}` {
		t.Errorf("block = %q", blocks[0])
	}
}

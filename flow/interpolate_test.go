package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testScope() map[string]any {
	return map[string]any{
		"variables": map[string]any{
			"greeting": "namaste",
			"count":    float64(3),
			"ready":    true,
		},
		"collected": map[string]any{
			"address": map[string]any{"city": "Mumbai", "pin": "400001"},
		},
		"session": map[string]any{"phone": "9999999999"},
		"input":   map[string]any{"text": "order pizza"},
	}
}

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"plain string untouched", "hello", "hello"},
		{"simple variable", "{{variables.greeting}} ji", "namaste ji"},
		{"deep path", "Deliver to {{collected.address.city}}, {{collected.address.pin}}", "Deliver to Mumbai, 400001"},
		{"input text", "You said: {{input.text}}", "You said: order pizza"},
		{"number formatting", "{{variables.count}} items", "3 items"},
		{"bool formatting", "ready={{variables.ready}}", "ready=true"},
		{"missing path yields empty", "hi {{variables.nope}}!", "hi !"},
		{"whitespace tolerated", "{{ session.phone }}", "9999999999"},
	}

	scope := testScope()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Interpolate(tt.template, scope))
		})
	}
}

func TestInterpolateStrict(t *testing.T) {
	scope := testScope()

	_, missing := InterpolateStrict("{{variables.greeting}}", scope)
	assert.Empty(t, missing)

	_, missing = InterpolateStrict("{{variables.nope}} and {{collected.gone}}", scope)
	assert.Equal(t, []string{"variables.nope", "collected.gone"}, missing)
}

func TestInterpolateConfig(t *testing.T) {
	scope := testScope()
	config := map[string]any{
		"text": "Hi {{variables.greeting}}",
		"body": map[string]any{
			"phone": "{{session.phone}}",
			// Sole placeholder keeps the raw type.
			"address": "{{collected.address}}",
		},
		"items":  []any{"{{input.text}}", "static"},
		"number": float64(7),
	}

	out := InterpolateConfig(config, scope)
	assert.Equal(t, "Hi namaste", out["text"])

	body := out["body"].(map[string]any)
	assert.Equal(t, "9999999999", body["phone"])
	assert.Equal(t, map[string]any{"city": "Mumbai", "pin": "400001"}, body["address"])

	items := out["items"].([]any)
	assert.Equal(t, "order pizza", items[0])
	assert.Equal(t, "static", items[1])
	assert.Equal(t, float64(7), out["number"])

	// Original config is untouched.
	assert.Equal(t, "Hi {{variables.greeting}}", config["text"])
}

func TestSetPath(t *testing.T) {
	root := map[string]any{}
	SetPath(root, "address.city", "Pune")
	SetPath(root, "address.pin", "411001")
	SetPath(root, "name", "Asha")

	assert.Equal(t, "Asha", root["name"])
	addr := root["address"].(map[string]any)
	assert.Equal(t, "Pune", addr["city"])
	assert.Equal(t, "411001", addr["pin"])

	// Overwriting a leaf with a subtree.
	SetPath(root, "name.first", "A")
	assert.Equal(t, map[string]any{"first": "A"}, root["name"])
}

package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_Eval(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	scope := map[string]any{
		"variables": map[string]any{"score": 0.91},
		"collected": map[string]any{"address": map[string]any{"city": "Delhi"}},
		"session":   map[string]any{"authenticated": true, "phone": "9999999999"},
		"input":     map[string]any{"text": "yes"},
		"flow":      map[string]any{"id": "food_order_v1"},
	}

	tests := []struct {
		name     string
		expr     string
		expected bool
	}{
		{"equality true", `session.phone == "9999999999"`, true},
		{"equality false", `session.phone == "1234"`, false},
		{"bool field", `session.authenticated == true`, true},
		{"numeric comparison", `variables.score > 0.8`, true},
		{"deep path", `collected.address.city == "Delhi"`, true},
		{"existence via in", `"address" in collected`, true},
		{"existence absent", `"slot" in collected`, false},
		{"boolean combination", `session.authenticated == true && variables.score >= 0.9`, true},
		{"missing key is false not fatal", `variables.missing == "x"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.Eval(tt.expr, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluator_Check(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	assert.NoError(t, eval.Check(`session.authenticated == true`))
	assert.Error(t, eval.Check(`session.authenticated ==`), "syntax error must be refused")
	assert.Error(t, eval.Check(`unknown_root.key == 1`), "undeclared root must be refused")
}

func TestEvaluator_NonBooleanIsFalse(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	got, err := eval.Eval(`session.phone`, map[string]any{
		"variables": map[string]any{}, "collected": map[string]any{},
		"session": map[string]any{"phone": "99"}, "input": map[string]any{},
		"flow": map[string]any{},
	})
	require.NoError(t, err)
	assert.False(t, got)
}

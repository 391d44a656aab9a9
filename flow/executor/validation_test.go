package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaanihq/vaani/flow"
)

func testContext() *flow.Context {
	return &flow.Context{
		RunID:         "r1",
		FlowID:        "f1",
		Variables:     map[string]any{},
		CollectedData: map[string]any{},
		Session:       map[string]any{},
	}
}

func TestValidation_Phone(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		event     string
		collected string
	}{
		{"plain ten digits", "9999999999", EventValid, "9999999999"},
		{"with +91 prefix", "+919876543210", EventValid, "9876543210"},
		{"with 0 prefix", "09876543210", EventValid, "9876543210"},
		{"spaces stripped", "98765 43210", EventValid, "9876543210"},
		{"too short", "123", flow.EventInvalid, ""},
		{"starts below 6", "5999999999", flow.EventInvalid, ""},
		{"letters", "99999abcde", flow.EventInvalid, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := testContext()
			res, err := (Validation{}).Execute(context.Background(),
				map[string]any{"type": "phone"}, fc, &flow.Input{Text: tt.input})
			require.NoError(t, err)
			assert.Equal(t, tt.event, res.Event)
			if tt.collected != "" {
				assert.Equal(t, tt.collected, fc.CollectedData["phone"])
			}
		})
	}
}

func TestValidation_OTPAndPincode(t *testing.T) {
	fc := testContext()

	res, _ := (Validation{}).Execute(context.Background(),
		map[string]any{"type": "otp"}, fc, &flow.Input{Text: "4321"})
	assert.Equal(t, EventValid, res.Event)

	res, _ = (Validation{}).Execute(context.Background(),
		map[string]any{"type": "otp"}, fc, &flow.Input{Text: "12"})
	assert.Equal(t, flow.EventInvalid, res.Event)

	res, _ = (Validation{}).Execute(context.Background(),
		map[string]any{"type": "pincode", "save_to": "address.pin"}, fc, &flow.Input{Text: "400001"})
	assert.Equal(t, EventValid, res.Event)
	addr := fc.CollectedData["address"].(map[string]any)
	assert.Equal(t, "400001", addr["pin"])
}

func TestValidation_YesNo(t *testing.T) {
	tests := []struct {
		input string
		event string
	}{
		{"yes", EventYes},
		{"haan", EventYes},
		{"OK", EventYes},
		{"haan ji", EventYes},
		{"yes please!", EventYes},
		{"no", EventNo},
		{"nahi", EventNo},
		{"no way", EventNo},
		{"nope never", EventNo},
		{"maybe", flow.EventInvalid},
		{"anyway", flow.EventInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res, err := (Validation{}).Execute(context.Background(),
				map[string]any{"type": "yes_no"}, testContext(), &flow.Input{Text: tt.input})
			require.NoError(t, err)
			assert.Equal(t, tt.event, res.Event)
		})
	}
}

func TestValidation_NumberRange(t *testing.T) {
	config := map[string]any{"type": "number", "min": float64(1), "max": float64(10), "save_to": "qty"}

	fc := testContext()
	res, _ := (Validation{}).Execute(context.Background(), config, fc, &flow.Input{Text: "3"})
	assert.Equal(t, EventValid, res.Event)
	assert.Equal(t, 3.0, fc.CollectedData["qty"])

	res, _ = (Validation{}).Execute(context.Background(), config, testContext(), &flow.Input{Text: "42"})
	assert.Equal(t, flow.EventInvalid, res.Event)

	res, _ = (Validation{}).Execute(context.Background(), config, testContext(), &flow.Input{Text: "lots"})
	assert.Equal(t, flow.EventInvalid, res.Event)
}

func TestValidation_ButtonReplyFallback(t *testing.T) {
	res, err := (Validation{}).Execute(context.Background(),
		map[string]any{"type": "yes_no"}, testContext(), &flow.Input{ButtonReply: "yes"})
	require.NoError(t, err)
	assert.Equal(t, EventYes, res.Event)
}

func TestValidation_ExplicitValueOverridesInput(t *testing.T) {
	fc := testContext()
	res, err := (Validation{}).Execute(context.Background(),
		map[string]any{"type": "phone", "value": "9876543210"}, fc, &flow.Input{Text: "garbage"})
	require.NoError(t, err)
	assert.Equal(t, EventValid, res.Event)
}

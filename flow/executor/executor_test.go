package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaanihq/vaani/channel"
	"github.com/vaanihq/vaani/flow"
	"github.com/vaanihq/vaani/llm"
	"github.com/vaanihq/vaani/nlu"
)

func TestResponse_Shapes(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		res, err := (Response{}).Execute(context.Background(),
			map[string]any{"text": "hello"}, testContext(), nil)
		require.NoError(t, err)
		require.Len(t, res.Outbound, 1)
		assert.Equal(t, channel.OutboundText, res.Outbound[0].Kind)
		assert.Equal(t, "hello", res.Outbound[0].Text)
	})

	t.Run("buttons", func(t *testing.T) {
		res, err := (Response{}).Execute(context.Background(), map[string]any{
			"text": "Pick one",
			"buttons": []any{
				map[string]any{"id": "a", "label": "Option A"},
				map[string]any{"id": "b", "label": "Option B"},
			},
		}, testContext(), nil)
		require.NoError(t, err)
		require.Len(t, res.Outbound, 1)
		assert.Equal(t, channel.OutboundButtons, res.Outbound[0].Kind)
		require.Len(t, res.Outbound[0].Buttons, 2)
		assert.Equal(t, "Option A", res.Outbound[0].Buttons[0].Label)
	})

	t.Run("list", func(t *testing.T) {
		res, err := (Response{}).Execute(context.Background(), map[string]any{
			"text": "Menu",
			"list": []any{
				map[string]any{"id": "1", "title": "Margherita", "description": "Classic"},
			},
		}, testContext(), nil)
		require.NoError(t, err)
		assert.Equal(t, channel.OutboundList, res.Outbound[0].Kind)
		assert.Equal(t, "Margherita", res.Outbound[0].Items[0].Title)
	})

	t.Run("location request", func(t *testing.T) {
		res, err := (Response{}).Execute(context.Background(),
			map[string]any{"text": "Share location", "request_location": true}, testContext(), nil)
		require.NoError(t, err)
		assert.Equal(t, channel.OutboundLocationRequest, res.Outbound[0].Kind)
	})
}

func TestSet(t *testing.T) {
	fc := testContext()

	res, err := (Set{}).Execute(context.Background(),
		map[string]any{"path": "address.city", "value": "Pune"}, fc, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	addr := fc.CollectedData["address"].(map[string]any)
	assert.Equal(t, "Pune", addr["city"])

	res, err = (Set{}).Execute(context.Background(),
		map[string]any{"path": "variables.attempts", "value": float64(2)}, fc, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, float64(2), fc.Variables["attempts"])

	// Strict mode rejects values that interpolated to empty.
	res, err = (Set{}).Execute(context.Background(),
		map[string]any{"path": "address.pin", "value": "", "strict": true}, fc, nil)
	require.NoError(t, err)
	assert.Equal(t, flow.EventInvalid, res.Event)
	assert.NotContains(t, fc.CollectedData["address"], "pin")
}

func TestScore(t *testing.T) {
	fc := testContext()
	fc.Variables["confidence"] = 0.9
	fc.Session["completeness"] = 50.0

	res, err := (Score{}).Execute(context.Background(), map[string]any{
		"weights": map[string]any{
			"variables.confidence": 1.0,
			"session.completeness": 0.01,
		},
		"threshold": 1.0,
		"save_to":   "score",
	}, fc, nil)
	require.NoError(t, err)
	assert.Equal(t, EventHigh, res.Event)
	assert.InDelta(t, 1.4, fc.Variables["score"].(float64), 0.0001)

	res, err = (Score{}).Execute(context.Background(), map[string]any{
		"weights":   map[string]any{"variables.missing": 1.0},
		"threshold": 0.5,
	}, fc, nil)
	require.NoError(t, err)
	assert.Equal(t, EventLow, res.Event)
}

type fakeLLM struct {
	reply string
	fail  bool
}

func (f *fakeLLM) Chat(context.Context, []llm.Message, *llm.Options) (string, *llm.CallStats, error) {
	if f.fail {
		return "", nil, errors.New("upstream timeout")
	}
	return f.reply, &llm.CallStats{TotalTokens: 7}, nil
}

func (f *fakeLLM) ChatStream(context.Context, []llm.Message, *llm.Options) (<-chan string, <-chan error) {
	c := make(chan string)
	e := make(chan error)
	close(c)
	close(e)
	return c, e
}

func (f *fakeLLM) Warmup(context.Context) {}

func TestLLM_QueuesReply(t *testing.T) {
	exec := NewLLM(&fakeLLM{reply: "Welcome to Vaani!"})

	fc := testContext()
	res, err := exec.Execute(context.Background(), map[string]any{
		"system": "You are a friendly assistant",
		"prompt": "Greet the user",
	}, fc, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Outbound, 1)
	assert.Equal(t, "Welcome to Vaani!", res.Outbound[0].Text)

	output := res.Output.(map[string]any)
	assert.Equal(t, 7, output["total_tokens"])
}

func TestLLM_FailureEmitsErrorEvent(t *testing.T) {
	exec := NewLLM(&fakeLLM{fail: true})

	res, err := exec.Execute(context.Background(),
		map[string]any{"prompt": "hi"}, testContext(), nil)
	require.NoError(t, err, "llm failures must stay inside the state machine")
	assert.Equal(t, flow.EventError, res.Event)
	assert.Empty(t, res.Outbound)
}

func TestLLM_SendFalseKeepsCompletionInternal(t *testing.T) {
	exec := NewLLM(&fakeLLM{reply: `{"dietary":"veg"}`})

	fc := testContext()
	res, err := exec.Execute(context.Background(), map[string]any{
		"prompt": "extract", "json_only": true, "save_to": "extraction",
	}, fc, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Outbound)
	assert.Equal(t, `{"dietary":"veg"}`, fc.Variables["extraction"])
}

type fakeClassifier struct {
	result *nlu.Classification
	err    error
}

func (f *fakeClassifier) Classify(context.Context, string, string) (*nlu.Classification, error) {
	return f.result, f.err
}

func TestNLU_ConfidenceTiers(t *testing.T) {
	t.Run("high confidence", func(t *testing.T) {
		exec := NewNLU(&fakeClassifier{result: &nlu.Classification{Intent: "order_food", Confidence: 0.93}})
		res, err := exec.Execute(context.Background(), map[string]any{},
			testContext(), &flow.Input{Text: "order pizza"})
		require.NoError(t, err)
		assert.Equal(t, EventHighConf, res.Event)

		output := res.Output.(map[string]any)
		assert.Equal(t, "order_food", output["intent"])
	})

	t.Run("low confidence", func(t *testing.T) {
		exec := NewNLU(&fakeClassifier{result: &nlu.Classification{Intent: "unknown", Confidence: 0.3}})
		res, err := exec.Execute(context.Background(), map[string]any{},
			testContext(), &flow.Input{Text: "fkjhdsf"})
		require.NoError(t, err)
		assert.Equal(t, EventLowConf, res.Event)
	})

	t.Run("classifier error degrades to low confidence", func(t *testing.T) {
		exec := NewNLU(&fakeClassifier{err: errors.New("nlu down")})
		res, err := exec.Execute(context.Background(), map[string]any{},
			testContext(), &flow.Input{Text: "hi"})
		require.NoError(t, err)
		assert.Equal(t, EventLowConf, res.Event)
	})

	t.Run("custom source path", func(t *testing.T) {
		exec := NewNLU(&fakeClassifier{result: &nlu.Classification{Intent: "track_order", Confidence: 0.9}})
		fc := testContext()
		fc.Variables["transcript"] = "where is my order"
		res, err := exec.Execute(context.Background(),
			map[string]any{"source_path": "variables.transcript"}, fc, nil)
		require.NoError(t, err)
		assert.Equal(t, EventHighConf, res.Event)
	})
}

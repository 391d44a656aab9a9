package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService counts calls and fails on demand.
type fakeService struct {
	calls int
	fail  bool
	reply string
}

func (f *fakeService) Chat(context.Context, []Message, *Options) (string, *CallStats, error) {
	f.calls++
	if f.fail {
		return "", nil, errors.New("upstream 503")
	}
	return f.reply, &CallStats{TotalTokens: 5}, nil
}

func (f *fakeService) ChatStream(context.Context, []Message, *Options) (<-chan string, <-chan error) {
	content := make(chan string, 1)
	errs := make(chan error, 1)
	content <- f.reply
	close(content)
	close(errs)
	return content, errs
}

func (f *fakeService) Warmup(context.Context) {}

func TestPool_RoutesToHealthyProvider(t *testing.T) {
	good := &fakeService{reply: "ok"}
	bad := &fakeService{fail: true}
	p := NewPoolFromServices(map[string]Service{"bad": bad, "good": good})

	for i := 0; i < 5; i++ {
		content, stats, err := p.Chat(context.Background(), []Message{UserMessage("hi")}, nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", content)
		assert.Equal(t, 5, stats.TotalTokens)
	}

	assert.Equal(t, 5, good.calls)
	assert.LessOrEqual(t, bad.calls, failureThreshold, "failing provider benched after threshold")
}

func TestPool_AllProvidersFailing(t *testing.T) {
	bad1 := &fakeService{fail: true}
	bad2 := &fakeService{fail: true}
	p := NewPoolFromServices(map[string]Service{"a": bad1, "b": bad2})

	_, _, err := p.Chat(context.Background(), []Message{UserMessage("hi")}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoHealthyProvider)
}

func TestPool_RecoversAfterSuccess(t *testing.T) {
	flaky := &fakeService{fail: true}
	p := NewPoolFromServices(map[string]Service{"flaky": flaky})

	_, _, err := p.Chat(context.Background(), nil, nil)
	require.Error(t, err)

	flaky.fail = false
	content, _, err := p.Chat(context.Background(), nil, nil)
	require.NoError(t, err, "benched provider still gets a last-resort attempt")
	assert.Equal(t, "", content)
}

func TestPool_Empty(t *testing.T) {
	p := NewPoolFromServices(nil)
	_, _, err := p.Chat(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoHealthyProvider)
}

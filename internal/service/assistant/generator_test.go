package assistant

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubGeneratorsHonourCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for intent, g := range DefaultGenerators() {
		_, err := g.Generate(ctx, Request{Prompt: "x"})
		assert.ErrorIs(t, err, context.Canceled, string(intent))
	}
}

func TestWithPolicyZeroIsIdentity(t *testing.T) {
	g := CodeGenerator{}
	assert.Equal(t, Generator(g), WithPolicy(g, Policy{}))
}

func TestWithPolicyRetriesUntilExhausted(t *testing.T) {
	var calls atomic.Int32
	failing := GeneratorFunc(func(context.Context, Request) (*Result, error) {
		calls.Add(1)
		return nil, errors.New("nope")
	})
	g := WithPolicy(failing, Policy{Retries: 3, Backoff: time.Millisecond})

	_, err := g.Generate(context.Background(), Request{})
	assert.EqualError(t, err, "nope")
	assert.Equal(t, int32(4), calls.Load())
}

func TestWithPolicyBackoffGrows(t *testing.T) {
	var calls atomic.Int32
	flaky := GeneratorFunc(func(ctx context.Context, req Request) (*Result, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return ConversationGenerator{}.Generate(ctx, req)
	})
	g := WithPolicy(flaky, Policy{Retries: 2, Backoff: 10 * time.Millisecond})

	start := time.Now()
	res, err := g.Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "conversation", res.Generator)
	// 10ms then 20ms
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWithPolicyTimeout(t *testing.T) {
	slow := GeneratorFunc(func(ctx context.Context, _ Request) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g := WithPolicy(slow, Policy{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := g.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithPolicyStopsWhenParentCancelled(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	failing := GeneratorFunc(func(context.Context, Request) (*Result, error) {
		calls.Add(1)
		cancel()
		return nil, errors.New("fail")
	})
	g := WithPolicy(failing, Policy{Retries: 5})

	_, err := g.Generate(ctx, Request{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

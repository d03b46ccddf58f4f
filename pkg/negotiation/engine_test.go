package negotiation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfqflow/rfqflow/pkg/rfqflow/checkpoint"
	"github.com/rfqflow/rfqflow/pkg/rfqflow/config"
)

func newTestEngine(t *testing.T, classifier *mockClassifier, generator *mockGenerator) (*Engine, *checkpoint.MemoryStore) {
	t.Helper()
	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	engine, err := NewEngine(testCaps(t, classifier, generator, nil), store)
	require.NoError(t, err)
	return engine, store
}

func TestEngine_WithEngineConfig(t *testing.T) {
	cfg, err := config.FromYAML([]byte("negotiation:\n  capability_timeout: 5s\n"))
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	engine, err := NewEngine(testCaps(t, nil, nil, nil), store, WithEngineConfig(cfg))
	require.NoError(t, err)

	res, err := engine.StartThread(context.Background(), testBuilder())
	require.NoError(t, err)
	assert.NotEmpty(t, res.ThreadID)
}

func TestEngine_WithEngineConfig_Invalid(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	// The negotiation key must be a mapping, not a scalar.
	cfg, err := config.FromYAML([]byte("negotiation: 5s\n"))
	require.NoError(t, err)
	_, err = NewEngine(testCaps(t, nil, nil, nil), store, WithEngineConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a mapping")

	// An unparsable timeout fails instead of silently using the default.
	cfg, err = config.FromYAML([]byte("negotiation:\n  capability_timeout: soon\n"))
	require.NoError(t, err)
	_, err = NewEngine(testCaps(t, nil, nil, nil), store, WithEngineConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capability_timeout")
}

func TestEngine_StartThreadSuspendsForFirstMessage(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	res, err := engine.StartThread(context.Background(), testBuilder())
	require.NoError(t, err)
	assert.NotEmpty(t, res.ThreadID)
	assert.Empty(t, res.Transcript)
	assert.False(t, res.Ended)
}

func TestEngine_InquiryProducesOffer(t *testing.T) {
	classifier := &mockClassifier{intents: []IntentResult{inquiryExtraction()}}
	generator := &mockGenerator{}
	engine, _ := newTestEngine(t, classifier, generator)

	ctx := context.Background()
	start, err := engine.StartThread(ctx, testBuilder())
	require.NoError(t, err)

	res, err := engine.ResumeThread(ctx, start.ThreadID, "What's your rate for 500 bags of ACC cement?")
	require.NoError(t, err)
	require.Len(t, res.Transcript, 2)
	assert.Equal(t, RoleBuyer, res.Transcript[0].Role)
	assert.Equal(t, RoleAssistant, res.Transcript[1].Role)
	assert.Contains(t, res.Transcript[1].Content, "400")
	assert.False(t, res.Ended)
	assert.Equal(t, 1, generator.calls)
}

func TestEngine_ClarificationLoop(t *testing.T) {
	// First message carries no quantity, the second completes the inquiry.
	classifier := &mockClassifier{intents: []IntentResult{
		{Intent: IntentInquiry, MaterialName: "cement", Brand: "ACC"},
		{Intent: IntentInquiry, Quantity: 500},
	}}
	engine, _ := newTestEngine(t, classifier, nil)

	ctx := context.Background()
	start, err := engine.StartThread(ctx, testBuilder())
	require.NoError(t, err)

	res, err := engine.ResumeThread(ctx, start.ThreadID, "Do you stock ACC cement?")
	require.NoError(t, err)
	require.Len(t, res.Transcript, 2)
	assert.Contains(t, res.Transcript[1].Content, "Quantity with Units")

	res, err = engine.ResumeThread(ctx, start.ThreadID, "I need 500 bags")
	require.NoError(t, err)
	require.Len(t, res.Transcript, 4)
	assert.Equal(t, RoleAssistant, res.Transcript[3].Role)
	assert.NotContains(t, res.Transcript[3].Content, "I need the following information")
}

func TestEngine_ResumeWithoutMessage(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	ctx := context.Background()
	start, err := engine.StartThread(ctx, testBuilder())
	require.NoError(t, err)

	// A bare continue: no buyer turn is appended, and the default
	// non-inquiry classification produces a single decline turn.
	res, err := engine.ResumeThread(ctx, start.ThreadID, "")
	require.NoError(t, err)
	require.Len(t, res.Transcript, 1)
	assert.Equal(t, RoleAssistant, res.Transcript[0].Role)
	assert.False(t, res.Ended)
}

func TestEngine_DealWonClosesThread(t *testing.T) {
	classifier := &mockClassifier{
		intents: []IntentResult{inquiryExtraction()},
		reviews: []ReviewResult{{Action: ActionDealWon}},
	}
	engine, _ := newTestEngine(t, classifier, nil)

	ctx := context.Background()
	start, err := engine.StartThread(ctx, testBuilder())
	require.NoError(t, err)

	_, err = engine.ResumeThread(ctx, start.ThreadID, "Quote me 500 bags of ACC cement")
	require.NoError(t, err)

	res, err := engine.ResumeThread(ctx, start.ThreadID, "Deal, let's do it")
	require.NoError(t, err)
	assert.True(t, res.Ended)
	require.Len(t, res.Transcript, 4)
	assert.Contains(t, res.Transcript[3].Content, "Congratulations")
}

func TestEngine_DealLostClosesThread(t *testing.T) {
	classifier := &mockClassifier{
		intents: []IntentResult{inquiryExtraction()},
		reviews: []ReviewResult{{Action: ActionDealLost}},
	}
	engine, _ := newTestEngine(t, classifier, nil)

	ctx := context.Background()
	start, err := engine.StartThread(ctx, testBuilder())
	require.NoError(t, err)

	_, err = engine.ResumeThread(ctx, start.ThreadID, "Quote me 500 bags of ACC cement")
	require.NoError(t, err)

	res, err := engine.ResumeThread(ctx, start.ThreadID, "Too expensive, I'll pass")
	require.NoError(t, err)
	assert.True(t, res.Ended)
	require.Len(t, res.Transcript, 4)
	assert.Contains(t, res.Transcript[3].Content, "sorry to hear")
}

func TestEngine_ClosedThreadStaysClosed(t *testing.T) {
	classifier := &mockClassifier{
		intents: []IntentResult{inquiryExtraction()},
		reviews: []ReviewResult{{Action: ActionDealWon}},
	}
	engine, _ := newTestEngine(t, classifier, nil)

	ctx := context.Background()
	start, err := engine.StartThread(ctx, testBuilder())
	require.NoError(t, err)

	_, err = engine.ResumeThread(ctx, start.ThreadID, "Quote me 500 bags of ACC cement")
	require.NoError(t, err)
	closed, err := engine.ResumeThread(ctx, start.ThreadID, "Deal")
	require.NoError(t, err)
	require.True(t, closed.Ended)

	_, err = engine.ResumeThread(ctx, start.ThreadID, "Actually, one more thing")
	assert.ErrorIs(t, err, ErrConversationClosed)

	// The close must not have touched the transcript.
	history, err := engine.History(ctx, start.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, closed.Transcript, history)
}

func TestEngine_UnknownThread(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	_, err := engine.ResumeThread(context.Background(), "no-such-thread", "hello")
	assert.ErrorIs(t, err, ErrNoSuchThread)

	_, err = engine.History(context.Background(), "no-such-thread")
	assert.ErrorIs(t, err, ErrNoSuchThread)
}

func TestEngine_ResetThread(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	ctx := context.Background()
	start, err := engine.StartThread(ctx, testBuilder())
	require.NoError(t, err)

	require.NoError(t, engine.ResetThread(ctx, start.ThreadID))

	_, err = engine.ResumeThread(ctx, start.ThreadID, "hello again")
	assert.ErrorIs(t, err, ErrNoSuchThread)
}

func TestEngine_TranscriptOnlyGrows(t *testing.T) {
	classifier := &mockClassifier{intents: []IntentResult{inquiryExtraction()}}
	engine, _ := newTestEngine(t, classifier, nil)

	ctx := context.Background()
	start, err := engine.StartThread(ctx, testBuilder())
	require.NoError(t, err)

	prev := 0
	messages := []string{
		"Quote me 500 bags of ACC cement",
		"Can you do 380?",
		"What about 385?",
	}
	for _, msg := range messages {
		res, err := engine.ResumeThread(ctx, start.ThreadID, msg)
		require.NoError(t, err)
		assert.Greater(t, len(res.Transcript), prev)
		prev = len(res.Transcript)
	}
}

func TestEngine_ConcurrentResumesSerialized(t *testing.T) {
	classifier := &mockClassifier{intents: []IntentResult{inquiryExtraction()}}
	engine, _ := newTestEngine(t, classifier, nil)

	ctx := context.Background()
	start, err := engine.StartThread(ctx, testBuilder())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, msg := range []string{"Quote me 500 bags of ACC cement", "Can you do 380?"} {
		wg.Add(1)
		go func(i int, msg string) {
			defer wg.Done()
			_, errs[i] = engine.ResumeThread(ctx, start.ThreadID, msg)
		}(i, msg)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	history, err := engine.History(ctx, start.ThreadID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestEngine_SurvivesRestart(t *testing.T) {
	classifier := &mockClassifier{intents: []IntentResult{inquiryExtraction()}}
	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	caps := testCaps(t, classifier, nil, nil)
	engine, err := NewEngine(caps, store)
	require.NoError(t, err)

	ctx := context.Background()
	start, err := engine.StartThread(ctx, testBuilder())
	require.NoError(t, err)

	first, err := engine.ResumeThread(ctx, start.ThreadID, "Quote me 500 bags of ACC cement")
	require.NoError(t, err)
	require.Len(t, first.Transcript, 2)

	// A fresh engine over the same store recovers the thread from its
	// checkpoints.
	restarted, err := NewEngine(caps, store)
	require.NoError(t, err)

	res, err := restarted.ResumeThread(ctx, start.ThreadID, "Can you do 380?")
	require.NoError(t, err)
	require.Len(t, res.Transcript, 4)
	assert.Equal(t, first.Transcript, res.Transcript[:2])
}

package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"surgiplan/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClient struct {
	mu        sync.Mutex
	threads   int
	messages  map[string][]string
	statuses  []RunStatus // returned by successive GetRun calls; last one repeats
	polls     int
	runs      int
	cancelled []string
	active    bool
	overlap   bool
	lastError string
}

func newFakeClient(statuses ...RunStatus) *fakeClient {
	return &fakeClient{messages: map[string][]string{}, statuses: statuses}
}

func (f *fakeClient) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads++
	return fmt.Sprintf("thread_%d", f.threads), nil
}

func (f *fakeClient) AddMessage(_ context.Context, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.overlap = true
	}
	f.messages[threadID] = append(f.messages[threadID], text)
	return nil
}

func (f *fakeClient) StartRun(context.Context, string) (Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	f.polls = 0
	f.active = true
	return Run{ID: fmt.Sprintf("run_%d", f.runs), Status: RunQueued}, nil
}

func (f *fakeClient) GetRun(_ context.Context, _, runID string) (Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := RunCompleted
	if len(f.statuses) > 0 {
		i := f.polls
		if i >= len(f.statuses) {
			i = len(f.statuses) - 1
		}
		st = f.statuses[i]
	}
	f.polls++
	if st.Terminal() {
		f.active = false
	}
	return Run{ID: runID, Status: st, LastError: f.lastError}, nil
}

func (f *fakeClient) CancelRun(_ context.Context, _, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, runID)
	f.active = false
	return nil
}

func (f *fakeClient) LatestReply(_ context.Context, threadID, runID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[threadID]
	return fmt.Sprintf("%s answered %d messages", runID, len(msgs)), nil
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]domain.AssistantSession
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]domain.AssistantSession{}}
}

func (m *memStore) SaveSession(_ context.Context, s domain.AssistantSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) LoadSession(_ context.Context, id string) (*domain.AssistantSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fastOptions() Options {
	return Options{PollInterval: time.Millisecond, MaxWait: time.Second, SessionTTL: time.Hour}
}

func TestAskReusesThreadAcrossQuestions(t *testing.T) {
	client := newFakeClient(RunInProgress, RunCompleted)
	svc := NewService(client, nil, fastOptions())
	ctx := context.Background()

	sess, err := svc.StartSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, sess.ThreadID)

	ans, err := svc.Ask(ctx, sess.ID, "Are there conflicts?", "Surgical schedule: 3 cases")
	require.NoError(t, err)
	assert.Equal(t, "run_1 answered 1 messages", ans.Reply)
	assert.Equal(t, sess.ID, ans.SessionID)

	ans, err = svc.Ask(ctx, sess.ID, "And tomorrow?", "")
	require.NoError(t, err)
	assert.Equal(t, "run_2 answered 2 messages", ans.Reply)

	assert.Equal(t, 1, client.threads)
	msgs := client.messages["thread_1"]
	require.Len(t, msgs, 2)
	assert.Equal(t, "Context from the current surgical schedule:\nSurgical schedule: 3 cases\n\nQuestion: Are there conflicts?", msgs[0])
	assert.Equal(t, "And tomorrow?", msgs[1])

	got, err := svc.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "thread_1", got.ThreadID)
}

func TestAskWithoutClientIsUnavailable(t *testing.T) {
	svc := NewService(nil, nil, fastOptions())
	sess, err := svc.StartSession(context.Background())
	require.NoError(t, err)
	assert.False(t, svc.Available())
	_, err = svc.Ask(context.Background(), sess.ID, "hello", "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSessionErrorsBeforeUnavailable(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewService(nil, store, fastOptions())
	sess, err := svc.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.EndSession(ctx, sess.ID))

	_, err = svc.Ask(ctx, sess.ID, "hello", "")
	assert.ErrorIs(t, err, ErrSessionEnded)
	_, err = svc.Ask(ctx, "missing", "hello", "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAskTimesOutAndCancelsRun(t *testing.T) {
	client := newFakeClient(RunInProgress)
	opts := fastOptions()
	opts.MaxWait = 20 * time.Millisecond
	svc := NewService(client, nil, opts)
	sess, err := svc.StartSession(context.Background())
	require.NoError(t, err)

	_, err = svc.Ask(context.Background(), sess.ID, "slow question", "")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, []string{"run_1"}, client.cancelled)
}

func TestAskHonoursCallerContext(t *testing.T) {
	client := newFakeClient(RunInProgress)
	svc := NewService(client, nil, fastOptions())
	sess, err := svc.StartSession(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = svc.Ask(ctx, sess.ID, "q", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestFailedRunIsUnavailable(t *testing.T) {
	client := newFakeClient(RunFailed)
	client.lastError = "rate limit"
	svc := NewService(client, nil, fastOptions())
	sess, err := svc.StartSession(context.Background())
	require.NoError(t, err)

	_, err = svc.Ask(context.Background(), sess.ID, "q", "")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "failed: rate limit")
}

func TestSessionLifecycle(t *testing.T) {
	svc := NewService(newFakeClient(), nil, fastOptions())
	ctx := context.Background()

	_, err := svc.Ask(ctx, "nope", "q", "")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sess, err := svc.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.EndSession(ctx, sess.ID))
	_, err = svc.Ask(ctx, sess.ID, "q", "")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Ask(ctx, sess.ID, "  ", "")
	assert.Error(t, err)
}

func TestSessionResumesFromStore(t *testing.T) {
	store := newMemStore()
	client := newFakeClient()
	ctx := context.Background()

	first := NewService(client, store, fastOptions())
	sess, err := first.StartSession(ctx)
	require.NoError(t, err)
	_, err = first.Ask(ctx, sess.ID, "q1", "")
	require.NoError(t, err)

	second := NewService(client, store, fastOptions())
	ans, err := second.Ask(ctx, sess.ID, "q2", "")
	require.NoError(t, err)
	assert.Equal(t, "run_2 answered 2 messages", ans.Reply)
	assert.Equal(t, 1, client.threads)

	require.NoError(t, second.EndSession(ctx, sess.ID))
	third := NewService(client, store, fastOptions())
	_, err = third.Ask(ctx, sess.ID, "q3", "")
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestIdleSessionsExpire(t *testing.T) {
	clk := &clock{now: time.Date(2025, 6, 24, 8, 0, 0, 0, time.UTC)}
	store := newMemStore()
	opts := fastOptions()
	opts.SessionTTL = 30 * time.Minute
	opts.Now = clk.Now
	svc := NewService(newFakeClient(), store, opts)
	ctx := context.Background()

	idle, err := svc.StartSession(ctx)
	require.NoError(t, err)
	busy, err := svc.StartSession(ctx)
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)
	_, err = svc.Ask(ctx, busy.ID, "still here", "")
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)
	_, err = svc.Ask(ctx, idle.ID, "too late", "")
	assert.ErrorIs(t, err, ErrSessionEnded)

	clk.Advance(20 * time.Minute)
	assert.Equal(t, 2, svc.Sweep(ctx))
	stored, err := store.LoadSession(ctx, busy.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.EndedAt)
}

func TestConcurrentQuestionsAreSerialised(t *testing.T) {
	client := newFakeClient(RunInProgress, RunInProgress, RunCompleted)
	svc := NewService(client, nil, fastOptions())
	sess, err := svc.StartSession(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Ask(context.Background(), sess.ID, fmt.Sprintf("q%d", i), "")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.False(t, client.overlap, "a message was added while a run was active")
	assert.Equal(t, 4, client.runs)
}

func TestComposePrompt(t *testing.T) {
	assert.Equal(t, "q?", ComposePrompt("  ", " q? "))
	assert.Equal(t, "Context from the current surgical schedule:\nS\n\nQuestion: q?", ComposePrompt("S\n", "q?"))
}

func TestSuggestedQuestionsAreCopies(t *testing.T) {
	q := SuggestedQuestions()
	require.NotEmpty(t, q)
	q[0] = "changed"
	assert.NotEqual(t, "changed", SuggestedQuestions()[0])
}

func TestRunStatusTerminal(t *testing.T) {
	for _, st := range []RunStatus{RunQueued, RunInProgress, RunCancelling} {
		assert.False(t, st.Terminal(), st)
	}
	for _, st := range []RunStatus{RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete} {
		assert.True(t, st.Terminal(), st)
	}
	assert.True(t, errors.Is(fmt.Errorf("wrap: %w", ErrTimeout), ErrTimeout))
}

// ABOUTME: In-memory platform client and scripted model provider for session tests
// ABOUTME: The fake platform records bot output into thread history like a real chat service

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HuMoN-Research-Lab/chatbot/internal/agent"
	"github.com/HuMoN-Research-Lab/chatbot/internal/llm"
	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
	"github.com/HuMoN-Research-Lab/chatbot/internal/store"
)

const (
	botID     = "bot-1"
	botName   = "Chatbot"
	humanID   = "human-1"
	humanName = "alice"
	adminID   = "admin-1"
)

var epoch = time.Date(2023, 5, 8, 12, 0, 0, 0, time.UTC)

type fakeThread struct {
	parent   string
	owner    string
	messages []platform.Message
}

type fakeClient struct {
	mu          sync.Mutex
	threads     map[platform.ThreadID]*fakeThread
	channelMsgs map[string]platform.Message
	seq         int
	started     []platform.ThreadID

	infoCalls    atomic.Int32
	historyCalls atomic.Int32

	infoErr      error
	historyErr   error
	historyBlock bool
	editErr      error

	// historyGate, when set, holds FetchHistory until it is closed.
	// historyEntered is closed when the first call arrives.
	historyGate    chan struct{}
	historyEntered chan struct{}
	enteredOnce    sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		threads:     make(map[platform.ThreadID]*fakeThread),
		channelMsgs: make(map[string]platform.Message),
	}
}

func (c *fakeClient) Name() string     { return "fake" }
func (c *fakeClient) SelfID() string   { return botID }
func (c *fakeClient) SelfName() string { return botName }

func (c *fakeClient) nextID() string {
	c.seq++
	return fmt.Sprintf("m%03d", c.seq)
}

// post appends a message to a thread as if a user had written it.
func (c *fakeClient) post(threadID platform.ThreadID, authorID, authorName, text string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[threadID]
	if !ok {
		th = &fakeThread{parent: "chan-1", owner: botID}
		c.threads[threadID] = th
	}
	id := c.nextID()
	th.messages = append(th.messages, platform.Message{
		ID:         id,
		AuthorID:   authorID,
		AuthorName: authorName,
		AuthorBot:  authorID == botID,
		Content:    text,
		Timestamp:  epoch.Add(time.Duration(c.seq) * time.Second),
	})
	return id
}

func (c *fakeClient) history(threadID platform.ThreadID) []platform.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[threadID]
	if !ok {
		return nil
	}
	out := make([]platform.Message, len(th.messages))
	copy(out, th.messages)
	return out
}

func (c *fakeClient) ThreadInfo(ctx context.Context, threadID platform.ThreadID) (platform.ThreadInfo, error) {
	c.infoCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.infoErr != nil {
		return platform.ThreadInfo{}, c.infoErr
	}
	th, ok := c.threads[threadID]
	if !ok {
		return platform.ThreadInfo{}, platform.ErrNotFound
	}
	return platform.ThreadInfo{ID: threadID, ParentID: th.parent, OwnerID: th.owner, MessageCount: len(th.messages)}, nil
}

func (c *fakeClient) FetchHistory(ctx context.Context, threadID platform.ThreadID) ([]platform.Message, error) {
	c.historyCalls.Add(1)
	c.mu.Lock()
	block, err := c.historyBlock, c.historyErr
	gate, entered := c.historyGate, c.historyEntered
	c.mu.Unlock()

	if gate != nil {
		c.enteredOnce.Do(func() { close(entered) })
		<-gate
	}

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return c.history(threadID), nil
}

func (c *fakeClient) GetMessage(ctx context.Context, channelID, messageID string) (platform.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.channelMsgs[messageID]
	if !ok {
		return platform.Message{}, platform.ErrNotFound
	}
	return msg, nil
}

func (c *fakeClient) Send(ctx context.Context, threadID platform.ThreadID, text string) (string, error) {
	return c.post(threadID, botID, botName, text), nil
}

func (c *fakeClient) Edit(ctx context.Context, threadID platform.ThreadID, messageID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.editErr != nil {
		return c.editErr
	}
	th, ok := c.threads[threadID]
	if !ok {
		return platform.ErrNotFound
	}
	for i := range th.messages {
		if th.messages[i].ID == messageID {
			th.messages[i].Content = text
			return nil
		}
	}
	return platform.ErrNotFound
}

func (c *fakeClient) Typing(ctx context.Context, threadID platform.ThreadID) error {
	return nil
}

func (c *fakeClient) StartThread(ctx context.Context, channelID, messageID, title string) (platform.ThreadID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageID == "" {
		messageID = c.nextID()
	}
	id := platform.ThreadID(messageID)
	if _, ok := c.threads[id]; !ok {
		c.threads[id] = &fakeThread{parent: channelID, owner: botID}
	}
	c.started = append(c.started, id)
	return id, nil
}

func (c *fakeClient) startedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.started)
}

// scriptedProvider echoes the last message after an optional delay.
type scriptedProvider struct {
	mu       sync.Mutex
	order    []string
	delays   map[string]time.Duration
	failures map[string]error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		delays:   make(map[string]time.Duration),
		failures: make(map[string]error),
	}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		cur := p.maxInFlight.Load()
		if n <= cur || p.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	text := req.Messages[len(req.Messages)-1].Content
	p.mu.Lock()
	p.order = append(p.order, text)
	delay := p.delays[text]
	failure := p.failures[text]
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return llm.Response{}, fmt.Errorf("scripted: %w: %w", llm.ErrUpstreamUnavailable, ctx.Err())
		}
	}
	if failure != nil {
		return llm.Response{}, failure
	}
	return llm.Response{Text: "reply to " + text}, nil
}

func (p *scriptedProvider) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

type harness struct {
	client   *fakeClient
	provider *scriptedProvider
	archive  *store.MockStore
	manager  *Manager
}

type harnessOption func(*Options)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	client := newFakeClient()
	provider := newScriptedProvider()
	archive := store.NewMockStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	factory, err := agent.NewFactory(provider, agent.FactoryConfig{
		Model:       "test-model",
		MaxTokens:   256,
		TokenBudget: 4000,
	})
	require.NoError(t, err)

	o := Options{
		Client:   client,
		Registry: NewRegistry(logger),
		Agents:   factory,
		Archive:  archive,
		Policy: Policy{
			AdminUsers:    []string{adminID},
			ReactionEmoji: "🧠",
			IgnorePrefix:  "~",
			NoticePrefix:  "> 🤖",
		},
		ReconstructTimeout: 2 * time.Second,
		Logger:             logger,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m, err := NewManager(o)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, m.Shutdown(ctx))
	})

	return &harness{client: client, provider: provider, archive: archive, manager: m}
}

func wait(t *testing.T, p *Pending) (string, error) {
	t.Helper()
	require.NotNil(t, p)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reply, err := p.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		t.Fatal("timed out waiting for turn")
	}
	return reply, err
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/question-extractor/internal/extraction"
	"github.com/JakeFAU/question-extractor/internal/retry"
	"github.com/JakeFAU/question-extractor/internal/status"
)

const validPayload = `{"question":"Solve $x^2=4$","image_url":"","options":[{"text":"2","image":""},{"text":"-2","image":""},{"text":"\\pm 2","image":""},{"text":"0","image":""}],"correct_option_index":2,"youtube_id":"abc","chapter_id":2}`

type harness struct {
	client    *fakeClient
	sink      *fakeSink
	clock     *fakeClock
	register  *status.Register
	blobStore *fakeBlobStore
	publisher *fakePublisher
	worker    *Worker
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		client:    newFakeClient(),
		sink:      &fakeSink{},
		clock:     &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()},
		register:  status.NewRegister(nil),
		blobStore: &fakeBlobStore{},
		publisher: &fakePublisher{},
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	h.worker = New(
		h.client,
		h.sink,
		h.register,
		h.clock,
		&fakeIDs{},
		retry.NewPolicy(),
		h.blobStore,
		h.publisher,
		cfg,
		zap.NewNop(),
	)
	return h
}

func rateLimited() error {
	return fmt.Errorf("generate content: %w", statusErr{code: 429})
}

func TestWorker_RateLimitExhaustionStopsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.client.script("u1", result{text: "Here you go:\n" + validPayload + "\nThanks"})
	for i := 0; i < 5; i++ {
		h.client.script("u2", result{err: rateLimited()})
	}

	summary, err := h.worker.Run(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)

	require.Len(t, h.sink.all(), 1)
	require.JSONEq(t, validPayload, string(h.sink.all()[0].Payload))

	snap := h.register.Snapshot()
	require.False(t, snap.Active)
	require.Equal(t, 2, snap.Current)
	require.Equal(t, 2, snap.Total)
	require.NotNil(t, snap.Error)
	require.Contains(t, *snap.Error, "Failed u2:")
	require.Contains(t, *snap.Error, "429")

	// One cooldown after u1, then the doubling rate-limit schedule; no trailing wait.
	require.Equal(t, []time.Duration{
		DefaultCooldown,
		4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second,
	}, h.clock.sleeps())
	require.Equal(t, 5, h.client.calls("u2"))

	require.Equal(t, extraction.RunStatusFailed, summary.Status)
	require.Equal(t, 1, summary.Records)
	require.Equal(t, 6, summary.Attempts)
}

func TestWorker_RateLimitDelayRestartsPerItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.client.script("a", result{err: rateLimited()}, result{text: validPayload})
	h.client.script("b", result{err: rateLimited()}, result{text: validPayload})

	summary, err := h.worker.Run(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	require.Equal(t, []time.Duration{4 * time.Second, DefaultCooldown, 4 * time.Second}, h.clock.sleeps())
	require.Len(t, h.sink.all(), 2)
	require.Equal(t, extraction.RunStatusSucceeded, summary.Status)
	require.Equal(t, 2, summary.Records)
	require.Equal(t, 4, summary.Attempts)
}

func TestWorker_SingleURLHasNoCooldown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.client.script("only", result{text: validPayload})

	summary, err := h.worker.Run(context.Background(), []string{"only"})
	require.NoError(t, err)
	require.Empty(t, h.clock.sleeps())
	require.Len(t, h.sink.all(), 1)
	require.Equal(t, extraction.RunStatusSucceeded, summary.Status)

	snap := h.register.Snapshot()
	require.False(t, snap.Active)
	require.Nil(t, snap.Error)
	require.Equal(t, 1, snap.Current)
}

func TestWorker_CooldownBetweenSuccesses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.client.script("a", result{text: validPayload})
	h.client.script("b", result{text: validPayload})

	_, err := h.worker.Run(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{DefaultCooldown}, h.clock.sleeps())
	require.Len(t, h.sink.all(), 2)
	require.Equal(t, "a", h.sink.all()[0].SourceURL)
	require.Equal(t, "run-1", h.sink.all()[0].RunID)
}

func TestWorker_BlankEntriesAreSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.client.script("a", result{text: validPayload})

	_, err := h.worker.Run(context.Background(), []string{"a", "   "})
	require.NoError(t, err)
	require.Equal(t, 0, h.client.calls(""))
	require.Equal(t, 1, h.client.total())

	snap := h.register.Snapshot()
	require.Equal(t, 2, snap.Current)
	require.Nil(t, snap.Error)
}

func TestWorker_TransientErrorsUseFixedWait(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.client.script("u",
		result{err: errors.New("connection reset")},
		result{text: "no json here"},
		result{text: validPayload},
	)

	_, err := h.worker.Run(context.Background(), []string{"u"})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, h.clock.sleeps())
	require.Len(t, h.sink.all(), 1)
	require.Nil(t, h.register.Snapshot().Error)
}

func TestWorker_SinkFailureIsAnAttemptError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.sink.failures = 1
	h.client.script("u", result{text: validPayload}, result{text: validPayload})

	_, err := h.worker.Run(context.Background(), []string{"u"})
	require.NoError(t, err)
	require.Equal(t, 2, h.client.calls("u"))
	require.Len(t, h.sink.all(), 1)
}

func TestWorker_ParseFailureExhaustsBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	for i := 0; i < 5; i++ {
		h.client.script("u", result{text: "} nothing {"})
	}

	summary, err := h.worker.Run(context.Background(), []string{"u", "never"})
	require.NoError(t, err)
	require.Empty(t, h.sink.all())
	require.Equal(t, 0, h.client.calls("never"))
	require.Len(t, h.clock.sleeps(), 4)
	require.Contains(t, summary.Error, "no structured payload found")
	require.Equal(t, 1, h.register.Snapshot().Current)
}

func TestWorker_StartRunsDetachedAndRejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	release := make(chan struct{})
	h.client.block = release
	h.client.script("u", result{text: validPayload})

	runID, err := h.worker.Start([]string{"u"})
	require.NoError(t, err)
	require.Equal(t, "run-1", runID)

	require.Eventually(t, func() bool {
		return h.register.Snapshot().Active
	}, time.Second, 5*time.Millisecond)

	_, err = h.worker.Start([]string{"other"})
	require.ErrorIs(t, err, status.ErrRunActive)

	close(release)
	h.worker.Wait()

	snap := h.register.Snapshot()
	require.False(t, snap.Active)
	require.Nil(t, snap.Error)
	require.Len(t, h.sink.all(), 1)
}

func TestWorker_StartRejectsEmptyList(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	_, err := h.worker.Start(nil)
	require.ErrorIs(t, err, ErrNoURLs)
	require.NoError(t, h.register.TryReserve(), "a rejected start leaves the register free")
}

func TestWorker_PanicIsRecordedAsRunError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.client.panicWith = "boom"

	_, err := h.worker.Start([]string{"u"})
	require.NoError(t, err)
	h.worker.Wait()

	snap := h.register.Snapshot()
	require.False(t, snap.Active)
	require.NotNil(t, snap.Error)
	require.Contains(t, *snap.Error, "boom")
}

func TestWorker_ArchivesAndPublishesSummary(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "extracted_questions.txt")
	require.NoError(t, os.WriteFile(output, []byte(validPayload+"\n"), 0o600))

	h := newHarness(t, Config{OutputPath: output, BlobPrefix: "runs", Topic: "extractor-runs"})
	h.client.script("u", result{text: validPayload})

	summary, err := h.worker.Run(context.Background(), []string{"u"})
	require.NoError(t, err)

	require.Equal(t, "runs/run-1/extracted_questions.txt", h.blobStore.lastPath)
	require.Equal(t, "application/x-ndjson", h.blobStore.lastContentType)
	require.Equal(t, validPayload+"\n", string(h.blobStore.lastData))
	require.Equal(t, "mem://runs/run-1/extracted_questions.txt", summary.Artifact)

	require.Len(t, h.publisher.messages, 1)
	published, ok := h.publisher.messages[0].(*extraction.RunSummary)
	require.True(t, ok)
	require.Equal(t, "run-1", published.RunID)
	require.Equal(t, extraction.RunStatusSucceeded, published.Status)
}

func TestWorker_NotifierFailuresDoNotChangeOutcome(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(output, []byte(validPayload+"\n"), 0o600))

	h := newHarness(t, Config{OutputPath: output, Topic: "runs"})
	h.blobStore.err = errors.New("bucket missing")
	h.publisher.err = errors.New("topic missing")
	h.client.script("u", result{text: validPayload})

	summary, err := h.worker.Run(context.Background(), []string{"u"})
	require.NoError(t, err)
	require.Equal(t, extraction.RunStatusSucceeded, summary.Status)
	require.Empty(t, summary.Artifact)
	require.Nil(t, h.register.Snapshot().Error)
}

type result struct {
	text string
	err  error
}

type fakeClient struct {
	mu        sync.Mutex
	scripts   map[string][]result
	counts    map[string]int
	block     chan struct{}
	panicWith string
}

func newFakeClient() *fakeClient {
	return &fakeClient{scripts: map[string][]result{}, counts: map[string]int{}}
}

func (f *fakeClient) script(url string, results ...result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[url] = append(f.scripts[url], results...)
}

func (f *fakeClient) Extract(_ context.Context, url string) (string, error) {
	if f.block != nil {
		<-f.block
	}
	if f.panicWith != "" {
		panic(f.panicWith)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[url]++
	queue := f.scripts[url]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted result for %s", url)
	}
	next := queue[0]
	f.scripts[url] = queue[1:]
	return next.text, next.err
}

func (f *fakeClient) calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[url]
}

func (f *fakeClient) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.counts {
		n += c
	}
	return n
}

type fakeSink struct {
	mu       sync.Mutex
	records  []extraction.Record
	failures int
}

func (f *fakeSink) Append(_ context.Context, rec extraction.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("disk full")
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeSink) all() []extraction.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]extraction.Record(nil), f.records...)
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	slept  []time.Duration
	sleepE error
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return c.sleepE
}

func (c *fakeClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDs) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("run-%d", f.n), nil
}

type fakeBlobStore struct {
	mu              sync.Mutex
	lastPath        string
	lastContentType string
	lastData        []byte
	err             error
}

func (f *fakeBlobStore) PutObject(_ context.Context, path, contentType string, data io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPath = path
	f.lastContentType = contentType
	f.lastData = body
	return "mem://" + path, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []any
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, payload)
	return fmt.Sprintf("msg-%d", len(f.messages)), nil
}

type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("upstream status %d", e.code) }
func (e statusErr) StatusCode() int { return e.code }

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clipstream/clipstream/internal/config"
	"github.com/clipstream/clipstream/internal/dispatcher"
	"github.com/clipstream/clipstream/internal/extractor"
	"github.com/clipstream/clipstream/internal/news"
	queuemem "github.com/clipstream/clipstream/internal/queue/memory"
	storemem "github.com/clipstream/clipstream/internal/storage/memory"
	"github.com/clipstream/clipstream/internal/worker"
)

const samplePage = "<html><head><title>Test Article</title></head><body><p>Hello world</p></body></html>"

type testEnv struct {
	server *Server
	store  *storemem.Store
	queue  *queuemem.Queue
	probe  *fakeProbe
	clock  *fakeClock
}

func newTestEnv() *testEnv {
	store := storemem.NewStore()
	queue := queuemem.NewQueue(16)
	probe := &fakeProbe{body: []byte(samplePage)}
	clock := &fakeClock{now: time.Unix(100, 0)}
	cfg := config.Config{
		Server: config.ServerConfig{Port: 8080, MaxPageSize: 100},
		HTTP:   config.HTTPConfig{TimeoutSeconds: 5, ProbeTimeoutSeconds: 1},
	}
	verifier := NewStaticVerifier(map[string]string{
		"tok-1": "user-1",
		"tok-2": "user-2",
	})
	server := NewServer(
		store,
		dispatcher.New(queue, nil),
		probe,
		verifier,
		&fakeIDGen{},
		clock,
		cfg,
		zap.NewNop(),
	)
	return &testEnv{server: server, store: store, queue: queue, probe: probe, clock: clock}
}

func (e *testEnv) do(method, target, token string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedChannel(t *testing.T, id, owner string) {
	t.Helper()
	require.NoError(t, e.store.CreateChannel(context.Background(), news.Channel{
		ID:      id,
		Name:    "channel " + id,
		OwnerID: owner,
	}))
}

func (e *testEnv) seedEnriched(t *testing.T, id, channelID string, wordCount int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.CreateArticle(ctx, news.Article{
		ID:        id,
		URL:       "https://example.com/" + id,
		ChannelID: channelID,
		OwnerID:   "user-1",
		State:     news.StatePending,
	}))
	ok, err := e.store.UpdateEnrichment(ctx, id, news.StatePending, news.Enrichment{
		Title:     "t",
		Content:   "c",
		WordCount: wordCount,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestServer_SubmitArticle_CreatesPendingAndEnqueues(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.seedChannel(t, "chan-1", "user-1")

	rec := env.do(http.MethodPost, "/v1/articles", "tok-1",
		[]byte(`{"url":"https://example.com/story","channel_id":"chan-1"}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"pending"`)
	require.Contains(t, rec.Body.String(), "https://example.com/story")

	job, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)

	article, err := env.store.GetArticle(context.Background(), job.ArticleID)
	require.NoError(t, err)
	require.Equal(t, news.StatePending, article.State)
	require.Equal(t, "user-1", article.OwnerID)
	require.Nil(t, article.WordCount)
}

func TestServer_SubmitArticle_RequiresAuth(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rec := env.do(http.MethodPost, "/v1/articles", "",
		[]byte(`{"url":"https://example.com","channel_id":"chan-1"}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/v1/articles", "tok-bogus",
		[]byte(`{"url":"https://example.com","channel_id":"chan-1"}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_SubmitArticle_InvalidJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rec := env.do(http.MethodPost, "/v1/articles", "tok-1", []byte("{invalid"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitArticle_RejectsBadURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.seedChannel(t, "chan-1", "user-1")

	rec := env.do(http.MethodPost, "/v1/articles", "tok-1",
		[]byte(`{"url":"ftp://example.com/story","channel_id":"chan-1"}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "url")
}

func TestServer_SubmitArticle_RejectsUnknownChannel(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rec := env.do(http.MethodPost, "/v1/articles", "tok-1",
		[]byte(`{"url":"https://example.com","channel_id":"nope"}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "channel does not exist")
}

func TestServer_SubmitArticle_UnreachableURLCreatesNothing(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.seedChannel(t, "chan-1", "user-1")
	env.probe.err = errors.New("dial tcp: connection refused")

	rec := env.do(http.MethodPost, "/v1/articles", "tok-1",
		[]byte(`{"url":"https://dead.example.com","channel_id":"chan-1"}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "not reachable")

	articles, err := env.store.ListArticles(context.Background(), news.ArticleFilter{}, news.Page{})
	require.NoError(t, err)
	require.Empty(t, articles)
}

func TestServer_SubmitArticle_QueueFailureRollsBack(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.seedChannel(t, "chan-1", "user-1")
	env.queue.Close()

	rec := env.do(http.MethodPost, "/v1/articles", "tok-1",
		[]byte(`{"url":"https://example.com/story","channel_id":"chan-1"}`))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	articles, err := env.store.ListArticles(context.Background(), news.ArticleFilter{}, news.Page{})
	require.NoError(t, err)
	require.Empty(t, articles)
}

func TestServer_GetArticle_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rec := env.do(http.MethodGet, "/v1/articles/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListArticles_WordCountAndChannelFilters(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.seedChannel(t, "chan-1", "user-1")
	env.seedChannel(t, "chan-2", "user-1")
	env.seedEnriched(t, "art-1", "chan-1", 10)
	env.seedEnriched(t, "art-2", "chan-1", 50)
	env.seedEnriched(t, "art-3", "chan-2", 50)
	// Pending article with no word count; excluded by any bound.
	require.NoError(t, env.store.CreateArticle(context.Background(), news.Article{
		ID:        "art-4",
		URL:       "https://example.com/art-4",
		ChannelID: "chan-1",
		State:     news.StatePending,
	}))

	rec := env.do(http.MethodGet, "/v1/articles?channel_id=chan-1&min_word_count=20", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "art-2")
	require.NotContains(t, rec.Body.String(), "art-1")
	require.NotContains(t, rec.Body.String(), "art-3")
	require.NotContains(t, rec.Body.String(), "art-4")

	rec = env.do(http.MethodGet, "/v1/articles?max_word_count=20", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "art-1")
	require.NotContains(t, rec.Body.String(), "art-2")
	require.NotContains(t, rec.Body.String(), "art-4")
}

func TestServer_ListArticles_Pagination(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.seedChannel(t, "chan-1", "user-1")
	env.seedEnriched(t, "art-1", "chan-1", 10)
	env.seedEnriched(t, "art-2", "chan-1", 10)
	env.seedEnriched(t, "art-3", "chan-1", 10)

	rec := env.do(http.MethodGet, "/v1/articles?limit=1&offset=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "art-2")
	require.NotContains(t, rec.Body.String(), "art-1")
	require.NotContains(t, rec.Body.String(), "art-3")
}

func TestServer_ListArticles_RejectsBadFilter(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rec := env.do(http.MethodGet, "/v1/articles?min_word_count=many", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/v1/articles?limit=0", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/v1/articles?offset=-1", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ParsePage_ClampsToMaxPageSize(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	req := httptest.NewRequest(http.MethodGet, "/v1/articles?limit=5000", nil)
	page, err := env.server.parsePage(req)
	require.NoError(t, err)
	require.Equal(t, 100, page.Limit)

	req = httptest.NewRequest(http.MethodGet, "/v1/articles", nil)
	page, err = env.server.parsePage(req)
	require.NoError(t, err)
	require.Equal(t, defaultPageLimit, page.Limit)
}

func TestServer_DeleteArticle_OwnerOnly(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.seedChannel(t, "chan-1", "user-1")
	env.seedEnriched(t, "art-1", "chan-1", 10)

	// Another authenticated user is refused.
	rec := env.do(http.MethodDelete, "/v1/articles/art-1", "tok-2", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodDelete, "/v1/articles/art-1", "tok-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := env.store.GetArticle(context.Background(), "art-1")
	require.ErrorIs(t, err, news.ErrNotFound)
}

func TestServer_DeleteArticle_UnownedRecordIsUndeletable(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.seedChannel(t, "chan-1", "user-1")
	require.NoError(t, env.store.CreateArticle(context.Background(), news.Article{
		ID:        "art-legacy",
		URL:       "https://example.com/legacy",
		ChannelID: "chan-1",
		State:     news.StateEnriched,
	}))

	rec := env.do(http.MethodDelete, "/v1/articles/art-legacy", "tok-1", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_CreateChannel_SetsOwner(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rec := env.do(http.MethodPost, "/v1/channels", "tok-1", []byte(`{"name":"tech"}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"tech"`)
	require.Contains(t, rec.Body.String(), `"user-1"`)
}

func TestServer_CreateChannel_RejectsEmptyName(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rec := env.do(http.MethodPost, "/v1/channels", "tok-1", []byte(`{"name":"  "}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DeleteChannel_CascadesToArticles(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.seedChannel(t, "chan-1", "user-1")
	env.seedEnriched(t, "art-1", "chan-1", 10)

	rec := env.do(http.MethodDelete, "/v1/channels/chan-1", "tok-2", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodDelete, "/v1/channels/chan-1", "tok-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := env.store.GetChannel(context.Background(), "chan-1")
	require.ErrorIs(t, err, news.ErrNotFound)
	_, err = env.store.GetArticle(context.Background(), "art-1")
	require.ErrorIs(t, err, news.ErrNotFound)
}

func TestServer_ChannelReads_ArePublic(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.seedChannel(t, "chan-1", "user-1")

	rec := env.do(http.MethodGet, "/v1/channels", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "chan-1")

	rec = env.do(http.MethodGet, "/v1/channels/chan-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_HealthEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rec := env.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

// TestServer_SubmissionIsEnrichedByWorker runs the whole pipeline: submit over
// HTTP, let a live worker drain the queue, observe the enriched record.
func TestServer_SubmissionIsEnrichedByWorker(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv()
	env.seedChannel(t, "chan-1", "user-1")

	w := worker.New(
		env.queue,
		env.store,
		env.probe,
		extractor.New(),
		nil,
		nil,
		env.clock,
		worker.Config{},
		zap.NewNop(),
	)
	go w.Run(ctx)

	rec := env.do(http.MethodPost, "/v1/articles", "tok-1",
		[]byte(`{"url":"https://example.com/story","channel_id":"chan-1"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Eventually(t, func() bool {
		articles, err := env.store.ListArticles(ctx, news.ArticleFilter{}, news.Page{})
		if err != nil || len(articles) != 1 {
			return false
		}
		return articles[0].State == news.StateEnriched
	}, time.Second, 10*time.Millisecond)

	articles, err := env.store.ListArticles(ctx, news.ArticleFilter{}, news.Page{})
	require.NoError(t, err)
	require.Equal(t, "Test Article", articles[0].Title)
	require.NotNil(t, articles[0].WordCount)
	require.Equal(t, 2, *articles[0].WordCount)
}

// TestServer_QueueFailureRollbackSurvivesDeadRequestContext covers the client
// that disconnects while its submission waits on queue capacity: the enqueue
// fails with a dead request context, and the rollback must still remove the
// pending record.
func TestServer_QueueFailureRollbackSurvivesDeadRequestContext(t *testing.T) {
	t.Parallel()

	store := &contextAwareStore{Store: storemem.NewStore()}
	require.NoError(t, store.CreateChannel(context.Background(), news.Channel{
		ID:      "chan-1",
		Name:    "tech",
		OwnerID: "user-1",
	}))

	reqCtx, disconnect := context.WithCancel(context.Background())
	defer disconnect()
	queue := &disconnectingQueue{disconnect: disconnect}

	cfg := config.Config{
		Server: config.ServerConfig{Port: 8080, MaxPageSize: 100},
		HTTP:   config.HTTPConfig{TimeoutSeconds: 5, ProbeTimeoutSeconds: 1},
	}
	server := NewServer(
		store,
		dispatcher.New(queue, nil),
		&fakeProbe{body: []byte(samplePage)},
		NewStaticVerifier(map[string]string{"tok-1": "user-1"}),
		&fakeIDGen{},
		&fakeClock{now: time.Unix(100, 0)},
		cfg,
		zap.NewNop(),
	)

	body := []byte(`{"url":"https://example.com/story","channel_id":"chan-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/articles", bytes.NewReader(body)).WithContext(reqCtx)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The timeout middleware can return before the handler goroutine finishes
	// its rollback; poll instead of reading the store once.
	require.Eventually(t, func() bool {
		articles, err := store.ListArticles(context.Background(), news.ArticleFilter{}, news.Page{})
		return err == nil && len(articles) == 0
	}, time.Second, 10*time.Millisecond, "pending record must not survive a failed enqueue")
}

// --- fakes ---

// contextAwareStore refuses work on a dead context the way a real database
// client does.
type contextAwareStore struct {
	*storemem.Store
}

func (s *contextAwareStore) DeleteArticle(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.DeleteArticle(ctx, id)
}

// disconnectingQueue simulates the client going away mid-enqueue: it cancels
// the request context, then reports the queue unavailable.
type disconnectingQueue struct {
	disconnect context.CancelFunc
}

func (q *disconnectingQueue) Enqueue(ctx context.Context, _ news.EnrichmentJob) error {
	q.disconnect()
	return fmt.Errorf("%w: %v", news.ErrQueueUnavailable, context.Canceled)
}

func (q *disconnectingQueue) Dequeue(ctx context.Context) (news.EnrichmentJob, error) {
	<-ctx.Done()
	return news.EnrichmentJob{}, ctx.Err()
}

type fakeProbe struct {
	mu   sync.Mutex
	body []byte
	err  error
}

func (f *fakeProbe) Fetch(_ context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

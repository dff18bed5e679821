package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VKMBot/config"
	"VKMBot/core/auth"
	"VKMBot/model"
	"VKMBot/pipeline"
	"VKMBot/quota"
	"VKMBot/retrieval"
)

const testSecret = "server-test-secret"

type fakePipeline struct {
	mu        sync.Mutex
	queries   []string
	selects   []int
	queryErr  error
	selectErr error
}

func (f *fakePipeline) OnQuery(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	return f.queryErr
}

func (f *fakePipeline) OnSelect(_ context.Context, _ int64, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects = append(f.selects, index)
	return f.selectErr
}

func (f *fakePipeline) State(int64) pipeline.State { return pipeline.StateAwaitingSelection }

func (f *fakePipeline) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakePublisher struct {
	calls int
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, userID int64, a *model.Artifact) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("https://files.example/%d/%s", userID, a.Title), nil
}

type testEnv struct {
	ts       *httptest.Server
	pipeline *fakePipeline
	hub      *Hub
	store    *quota.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{pipeline: &fakePipeline{}, hub: NewHub(), store: quota.NewMemoryStore()}
	cfg := &config.Config{JWTSecret: testSecret, BotAddr: ":0", DownloadTimeout: time.Minute}
	srv := New(cfg, env.pipeline, quota.NewManager(env.store, 5, 100), env.hub)
	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		env.hub.Close()
		env.ts.Close()
	})
	return env
}

func token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, userID int64, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthNeedsNoAuth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/healthz", 0, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRejections(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/search", 0, `{"query":"abc"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/api/search", strings.NewReader(`{"query":"abc"}`))
	req.Header.Set("Authorization", "Token abc")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, env.ts.URL+"/api/search", strings.NewReader(`{"query":"abc"}`))
	req.Header.Set("Authorization", "Bearer garbage")
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp3.StatusCode)

	assert.Zero(t, env.pipeline.queryCount())
}

func TestSearchHandler(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/search", 7, `{"query":"some song"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "awaiting_selection", decode(t, resp)["state"])
	assert.Equal(t, []string{"some song"}, env.pipeline.queries)

	env.pipeline.queryErr = pipeline.ErrInvalidQuery
	resp = env.do(t, http.MethodPost, "/api/search", 7, `{"query":"/start"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_query", decode(t, resp)["kind"])

	resp = env.do(t, http.MethodPost, "/api/search", 7, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSelectHandlerErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/select", 7, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/select", 7, `{"index":0}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []int{0}, env.pipeline.selects)

	cases := []struct {
		err  error
		code int
		kind string
	}{
		{pipeline.ErrBusy, http.StatusConflict, "busy"},
		{fmt.Errorf("%w: %w", pipeline.ErrExpiredSelection, errors.New("gone")), http.StatusGone, "expired"},
		{&retrieval.Error{Kind: retrieval.KindNotFound, Op: "fetch", Err: errors.New("removed")}, http.StatusNotFound, "track_unavailable"},
		{&retrieval.Error{Kind: retrieval.KindProviderFailure, Op: "fetch", Err: errors.New("boom")}, http.StatusBadGateway, "download_failed"},
		{fmt.Errorf("%w: %w", pipeline.ErrDeliveryFailure, ErrNotConnected), http.StatusBadGateway, "delivery_failed"},
		{fmt.Errorf("%w: oops", pipeline.ErrInternal), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		env.pipeline.selectErr = tc.err
		resp := env.do(t, http.MethodPost, "/api/select", 7, `{"index":1}`)
		assert.Equal(t, tc.code, resp.StatusCode, tc.kind)
		assert.Equal(t, tc.kind, decode(t, resp)["kind"])
	}
}

func TestSelectQuotaExceededSetsRetryAfter(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.selectErr = &pipeline.QuotaExceededError{Limit: 5, RetryAfter: 90 * time.Second}

	resp := env.do(t, http.MethodPost, "/api/select", 7, `{"index":2}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "91", resp.Header.Get("Retry-After"))
	body := decode(t, resp)
	assert.EqualValues(t, 5, body["limit"])
}

func TestQuotaHandler(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetDownloadsToday(7, 3, model.DayOf(time.Now()))

	resp := env.do(t, http.MethodGet, "/api/quota", 7, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.EqualValues(t, 7, body["userId"])
	assert.EqualValues(t, 3, body["usedToday"])
	assert.EqualValues(t, 2, body["remaining"])
	assert.Equal(t, "free", body["tier"])
}

func dialWS(t *testing.T, env *testEnv, userID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?token=" + token(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return env.hub.Connected(userID) }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketCommandsAndPush(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, 9)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "ping"}))
	assert.Equal(t, MsgTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "search",
		"data": map[string]string{"query": "over websocket"},
	}))
	require.Eventually(t, func() bool { return env.pipeline.queryCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "dance"}))
	assert.Equal(t, MsgTypeError, readMessage(t, conn).Type)

	presenter := NewWSPresenter(env.hub, &fakePublisher{})
	require.NoError(t, presenter.PresentStatus(context.Background(), 9, pipeline.Status{Kind: pipeline.StatusSearching, Text: "Searching"}))
	msg := readMessage(t, conn)
	assert.Equal(t, MsgTypeStatus, msg.Type)
	var st map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &st))
	assert.Equal(t, "searching", st["kind"])

	require.NoError(t, presenter.PresentCandidates(context.Background(), 9, nil))
	msg = readMessage(t, conn)
	assert.Equal(t, MsgTypeCandidates, msg.Type)
	assert.JSONEq(t, `[]`, string(msg.Data))
}

func TestPresentArtifact(t *testing.T) {
	env := newTestEnv(t)
	pub := &fakePublisher{}
	presenter := NewWSPresenter(env.hub, pub)
	artifact := &model.Artifact{Path: "/tmp/x.mp3", Title: "Song", Size: 1234, Duration: 75 * time.Second}

	err := presenter.PresentArtifact(context.Background(), 11, artifact)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, pub.calls, "nothing is uploaded without a recipient")

	conn := dialWS(t, env, 11)
	require.NoError(t, presenter.PresentArtifact(context.Background(), 11, artifact))
	msg := readMessage(t, conn)
	assert.Equal(t, MsgTypeArtifact, msg.Type)
	var view ArtifactView
	require.NoError(t, json.Unmarshal(msg.Data, &view))
	assert.Equal(t, "https://files.example/11/Song", view.URL)
	assert.Equal(t, "1:15", view.Duration)

	pub.err = errors.New("bucket offline")
	assert.Error(t, presenter.PresentArtifact(context.Background(), 11, artifact))
}

func TestHubReplacesConnection(t *testing.T) {
	env := newTestEnv(t)
	first := dialWS(t, env, 5)
	second := dialWS(t, env, 5)

	// The first connection is closed once the second one registers.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 1, env.hub.Count())

	require.NoError(t, env.hub.SendToUser(5, MsgTypeStatus, map[string]string{"k": "v"}))
	assert.Equal(t, MsgTypeStatus, readMessage(t, second).Type)
}

package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoflow/notification/internal/application"
	"github.com/videoflow/notification/internal/domain"
	"github.com/videoflow/notification/internal/infrastructure/memory"
	"github.com/videoflow/notification/internal/retry"
	transporthttp "github.com/videoflow/notification/internal/transport/http"
	"github.com/videoflow/notification/internal/transport/mw"
)

type stubGateway struct{ err error }

func (g *stubGateway) Send(context.Context, string, string, string) error { return g.err }

type failingRepo struct {
	*memory.Repository
	err error
}

func (r failingRepo) Search(context.Context, domain.SearchParams) (domain.SearchResult, error) {
	return domain.SearchResult{}, r.err
}

type fixture struct {
	server *httptest.Server
	repo   *memory.Repository
	gw     *stubGateway
	hub    *transporthttp.Hub
}

func newFixture(t *testing.T, repo domain.Repository, secret string) *fixture {
	t.Helper()
	mem := memory.New()
	if repo == nil {
		repo = mem
	}
	gw := &stubGateway{}
	hub := transporthttp.NewHub(nil)
	svc := application.NewService(repo, gw, hub, nil)
	e := transporthttp.NewRouter(transporthttp.NewHandler(svc, hub), prometheus.NewRegistry(), secret)

	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return &fixture{server: ts, repo: mem, gw: gw, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

const createBody = `{"recipient":"a@a.com","title":"Hello","body":"<p>hi</p>"}`

func TestCreateAndGet(t *testing.T) {
	f := newFixture(t, nil, "")

	resp, created := f.do(t, http.MethodPost, "/notifications", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created["id"].(string)
	assert.Equal(t, "a@a.com", created["recipient"])

	resp, got := f.do(t, http.MethodGet, "/notifications/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello", got["title"])

	resp, got = f.do(t, http.MethodGet, "/notifications/recipient/a@a.com", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, got["id"])
}

func TestCreate_ValidationError(t *testing.T) {
	f := newFixture(t, nil, "")

	resp, body := f.do(t, http.MethodPost, "/notifications", `{"recipient":"nope","title":"","body":"b"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, float64(422), body["statusCode"])
	assert.Equal(t, "Unprocessable Entity", body["error"])
	assert.ElementsMatch(t, []any{"recipient must be an email", "title should not be empty"}, body["message"])
}

func TestCreate_DeliveryFailureIs502AndKeepsRow(t *testing.T) {
	f := newFixture(t, nil, "")
	f.gw.err = errors.New("smtp down")

	resp, body := f.do(t, http.MethodPost, "/notifications", createBody)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	all, err := f.repo.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Contains(t, body["message"], all[0].ID().String())
}

func TestGet_NotFoundAndBadID(t *testing.T) {
	f := newFixture(t, nil, "")

	id := uuid.New()
	resp, body := f.do(t, http.MethodGet, "/notifications/"+id.String(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "notification not found using ID "+id.String(), body["message"])

	resp, _ = f.do(t, http.MethodGet, "/notifications/not-a-uuid", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, nil, "")
	for range 16 {
		resp, _ := f.do(t, http.MethodPost, "/notifications", createBody)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodGet, "/notifications?page=abc&sort=recipient", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(16), body["total"])
	assert.Equal(t, float64(1), body["currentPage"])
	assert.Equal(t, float64(2), body["lastPage"])
	assert.Len(t, body["items"], 15)

	resp, body = f.do(t, http.MethodGet, "/notifications?page=2&perPage=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 6)
}

func TestSearch_StoreExhaustedIs503(t *testing.T) {
	exhausted := &retry.ExhaustedError{Op: "search", Attempts: 3, Err: errors.New("conn refused")}
	f := newFixture(t, failingRepo{Repository: memory.New(), err: exhausted}, "")

	resp, body := f.do(t, http.MethodGet, "/notifications", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, float64(503), body["statusCode"])
}

func TestUpdateDeleteDeliver(t *testing.T) {
	f := newFixture(t, nil, "")
	_, created := f.do(t, http.MethodPost, "/notifications", createBody)
	id := created["id"].(string)

	resp, body := f.do(t, http.MethodPatch, "/notifications/"+id, `{"title":"Renamed"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Renamed", body["title"])

	resp, body = f.do(t, http.MethodPatch, "/notifications/"+id, `{"title":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, []any{"title should not be empty"}, body["message"])

	resp, _ = f.do(t, http.MethodPost, "/notifications/"+id+"/deliver", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	f.gw.err = errors.New("smtp down")
	resp, _ = f.do(t, http.MethodPost, "/notifications/"+id+"/deliver", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/notifications/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/notifications/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	const secret = "test-secret"
	f := newFixture(t, nil, secret)

	resp, body := f.do(t, http.MethodGet, "/notifications", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing bearer token", body["message"])

	bad, err := mw.IssueToken("other-secret", "u1", "a@a.com", time.Minute)
	require.NoError(t, err)
	resp, _ = f.do(t, http.MethodGet, "/notifications", "", "Authorization", "Bearer "+bad)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	good, err := mw.IssueToken(secret, "u1", "a@a.com", time.Minute)
	require.NoError(t, err)
	resp, _ = f.do(t, http.MethodGet, "/notifications", "", "Authorization", "Bearer "+good)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil, "")
	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStream_ReceivesNewNotifications(t *testing.T) {
	f := newFixture(t, nil, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/notifications/stream?email=A@a.com", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: connected", lines.Text())

	require.Eventually(t, func() bool { return f.hub.ConnectedCount() == 1 }, time.Second, 10*time.Millisecond)

	r, _ := f.do(t, http.MethodPost, "/notifications", createBody)
	require.Equal(t, http.StatusCreated, r.StatusCode)

	var data string
	for lines.Scan() {
		if strings.HasPrefix(lines.Text(), "data: ") && strings.Contains(lines.Text(), "recipient") {
			data = strings.TrimPrefix(lines.Text(), "data: ")
			break
		}
	}
	var got application.NotificationOutput
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, "Hello", got.Title)
}

func TestStream_RequiresRecipient(t *testing.T) {
	f := newFixture(t, nil, "")
	resp, _ := f.do(t, http.MethodGet, "/notifications/stream", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

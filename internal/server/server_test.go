package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/newsflow/internal/maintenance"
	"github.com/thebtf/newsflow/internal/metrics"
	"github.com/thebtf/newsflow/internal/pipeline"
	"github.com/thebtf/newsflow/internal/server/sse"
	"github.com/thebtf/newsflow/internal/vector/memindex"
	"github.com/thebtf/newsflow/pkg/models"
)

type fakeRunner struct {
	result  *pipeline.RunResult
	err     error
	running bool
}

func (r *fakeRunner) Run(context.Context) (*pipeline.RunResult, error) { return r.result, r.err }
func (r *fakeRunner) Running() bool                                    { return r.running }

type fakeFragmentStore struct {
	last *models.Fragment
	err  error
}

func (s *fakeFragmentStore) CreateFragment(_ context.Context, f *models.Fragment) (string, error) {
	s.last = f
	return "frag-1", s.err
}

type fakeTrendReader struct {
	trends []*models.Trend
	err    error
}

func (r *fakeTrendReader) ListTrends(context.Context) ([]*models.Trend, error) {
	return r.trends, r.err
}

type emptyOrgStore struct{}

func (emptyOrgStore) ListOrganizations(context.Context) ([]*models.Organization, error) {
	return nil, nil
}
func (emptyOrgStore) ReplaceOrganizationRefs(_ context.Context, _, _ string) error { return nil }
func (emptyOrgStore) DeleteOrganization(context.Context, string) error             { return nil }

func newTestServer(runner *fakeRunner, frags *fakeFragmentStore, trends *fakeTrendReader) *Server {
	return New("127.0.0.1:0", Deps{
		Runner:    runner,
		Fragments: frags,
		Trends:    trends,
		Sweep:     maintenance.NewOrganizationSweep(emptyOrgStore{}, memindex.New(), 0.9),
		Metrics:   metrics.New(),
		Events:    sse.NewBroadcaster(),
	})
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, r)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeRunner{running: true}, &fakeFragmentStore{}, &fakeTrendReader{})

	w := doRequest(s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, true, resp["running"])
}

func TestStats(t *testing.T) {
	s := newTestServer(&fakeRunner{}, &fakeFragmentStore{}, &fakeTrendReader{})

	w := doRequest(s, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Zero(t, snap.Runs)
}

func TestTrends(t *testing.T) {
	trends := &fakeTrendReader{trends: []*models.Trend{{ID: "t1", Title: "Semiconductors"}}}
	s := newTestServer(&fakeRunner{}, &fakeFragmentStore{}, trends)

	w := doRequest(s, http.MethodGet, "/trends", "")
	require.Equal(t, http.StatusOK, w.Code)

	var out []*models.Trend
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "Semiconductors", out[0].Title)
}

func TestTrendsEmptyIsArray(t *testing.T) {
	s := newTestServer(&fakeRunner{}, &fakeFragmentStore{}, &fakeTrendReader{})

	w := doRequest(s, http.MethodGet, "/trends", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestRunSuccess(t *testing.T) {
	runner := &fakeRunner{result: &pipeline.RunResult{FragmentsResolved: 3}}
	s := newTestServer(runner, &fakeFragmentStore{}, &fakeTrendReader{})

	w := doRequest(s, http.MethodPost, "/run", "")
	require.Equal(t, http.StatusOK, w.Code)

	var res pipeline.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 3, res.FragmentsResolved)
}

func TestRunConflict(t *testing.T) {
	runner := &fakeRunner{err: pipeline.ErrAlreadyRunning}
	s := newTestServer(runner, &fakeFragmentStore{}, &fakeTrendReader{})

	w := doRequest(s, http.MethodPost, "/run", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRunFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("stage resolve_fragments: db locked")}
	s := newTestServer(runner, &fakeFragmentStore{}, &fakeTrendReader{})

	w := doRequest(s, http.MethodPost, "/run", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "db locked")
}

func TestCreateFragment(t *testing.T) {
	frags := &fakeFragmentStore{}
	s := newTestServer(&fakeRunner{}, frags, &fakeTrendReader{})

	body := `{"title":"Earnings beat","body":"ACME beat estimates.","source_name":"Newswire","instruments":["ACME"]}`
	w := doRequest(s, http.MethodPost, "/fragments", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "frag-1", resp["id"])

	require.NotNil(t, frags.last)
	assert.Equal(t, "Earnings beat", frags.last.Title)
	assert.True(t, frags.last.Include, "include defaults to true")
	assert.Equal(t, models.JSONStringArray{"ACME"}, frags.last.Instruments)
}

func TestCreateFragmentExcluded(t *testing.T) {
	frags := &fakeFragmentStore{}
	s := newTestServer(&fakeRunner{}, frags, &fakeTrendReader{})

	w := doRequest(s, http.MethodPost, "/fragments", `{"body":"noise","include":false}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.False(t, frags.last.Include)
}

func TestCreateFragmentRequiresText(t *testing.T) {
	s := newTestServer(&fakeRunner{}, &fakeFragmentStore{}, &fakeTrendReader{})

	w := doRequest(s, http.MethodPost, "/fragments", `{"title":"no text"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateFragmentBadJSON(t *testing.T) {
	s := newTestServer(&fakeRunner{}, &fakeFragmentStore{}, &fakeTrendReader{})

	w := doRequest(s, http.MethodPost, "/fragments", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDedupe(t *testing.T) {
	s := newTestServer(&fakeRunner{}, &fakeFragmentStore{}, &fakeTrendReader{})

	w := doRequest(s, http.MethodPost, "/maintenance/dedupe", "")
	require.Equal(t, http.StatusOK, w.Code)

	var res maintenance.DedupeResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Zero(t, res.Scanned)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/logging"
)

type mockEngine struct {
	lastCtx     context.Context
	lastRequest *fulltext.QueryRequest
	result      *fulltext.QueryResult
	err         error
	desc        *fulltext.TableDescription
}

func (m *mockEngine) Query(ctx context.Context, req *fulltext.QueryRequest) (*fulltext.QueryResult, error) {
	m.lastCtx = ctx
	m.lastRequest = req
	return m.result, m.err
}

func (m *mockEngine) Describe(schemaName string) (*fulltext.TableDescription, error) {
	if m.desc == nil || m.desc.Name != schemaName {
		return nil, fulltext.NewInvalidInputError(fulltext.ErrCodeUnknownSchema, "unknown schema '"+schemaName+"'")
	}
	return m.desc, nil
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, engine fulltext.Engine, db Pinger) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := NewServer(engine, db, fulltext.DefaultConfig(), reg, reg)
	require.NoError(t, err)
	return s, reg
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleQuerySuccess(t *testing.T) {
	engine := &mockEngine{result: &fulltext.QueryResult{
		Rows:  []fulltext.Row{{"id": 2, "fullTextRank": 0.06}},
		Count: 1,
	}}
	s, _ := newTestServer(t, engine, nil)

	rec := do(s, http.MethodPost, "/api/v1/query", `{
		"schema_name": "jobs",
		"fields": ["id", "fullTextRank"],
		"filter": {"a": "fullText", "v": "matches:banana"},
		"order_by": ["FULL_TEXT_RANK_DESC"]
	}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, engine.lastRequest)
	assert.Equal(t, "jobs", engine.lastRequest.SchemaName)
	assert.Equal(t, &fulltext.KvCondition{Attr: "fullText", Op: fulltext.OpMatches, Value: "banana"}, engine.lastRequest.Filter)

	var resp struct {
		Success bool                 `json:"success"`
		Data    fulltext.QueryResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Data.Count)
}

func TestHandleQueryValidation(t *testing.T) {
	s, _ := newTestServer(t, &mockEngine{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty schema name", body: `{"schema_name": ""}`},
		{name: "missing schema name", body: `{"fields": ["id"]}`},
		{name: "negative first", body: `{"schema_name": "jobs", "first": -1}`},
		{name: "fractional offset", body: `{"schema_name": "jobs", "offset": 1.5}`},
		{name: "unknown property", body: `{"schema_name": "jobs", "page": 1}`},
		{name: "not json", body: `{`},
		{name: "bad condition", body: `{"schema_name": "jobs", "filter": {"x": 1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, http.MethodPost, "/api/v1/query", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleQueryEngineErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "invalid operand", err: fulltext.NewInvalidOperandError("fullText", "matches", 5), status: http.StatusBadRequest},
		{name: "unknown schema", err: fulltext.NewInvalidInputError(fulltext.ErrCodeUnknownSchema, "unknown"), status: http.StatusNotFound},
		{name: "duplicate binding", err: fulltext.NewDuplicateBindingError("fullText"), status: http.StatusUnprocessableEntity},
		{name: "execution", err: fulltext.NewExecutionError("query failed", errors.New("boom")), status: http.StatusBadGateway},
		{name: "plain error", err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &mockEngine{err: tt.err}, nil)
			rec := do(s, http.MethodPost, "/api/v1/query", `{"schema_name":"jobs"}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"success":false`)
		})
	}
}

func TestHandleDescribe(t *testing.T) {
	engine := &mockEngine{desc: &fulltext.TableDescription{Name: "jobs", OrderValues: []string{"FULL_TEXT_RANK_ASC"}}}
	s, _ := newTestServer(t, engine, nil)

	rec := do(s, http.MethodGet, "/api/v1/schema/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "FULL_TEXT_RANK_ASC")

	rec = do(s, http.MethodGet, "/api/v1/schema/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	healthy, _ := newTestServer(t, &mockEngine{}, pingerFunc(func(context.Context) error { return nil }))
	assert.Equal(t, http.StatusOK, do(healthy, http.MethodGet, "/healthz", "").Code)

	down, _ := newTestServer(t, &mockEngine{}, pingerFunc(func(context.Context) error { return errors.New("refused") }))
	assert.Equal(t, http.StatusServiceUnavailable, do(down, http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpointAndMiddleware(t *testing.T) {
	s, reg := newTestServer(t, &mockEngine{}, nil)

	do(s, http.MethodGet, "/healthz", "")
	do(s, http.MethodGet, "/api/v1/schema/nope", "")

	m, err := newHTTPMetrics(reg)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues(http.MethodGet, "/healthz", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.total.WithLabelValues(http.MethodGet, "/api/v1/schema/{schema_name}", "404")))

	rec := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fulltext_http_requests_total")
}

func TestReadBodyLimit(t *testing.T) {
	s, _ := newTestServer(t, &mockEngine{}, nil)
	big := bytes.Repeat([]byte(" "), maxBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewReader(big))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRequestLoggerInContext(t *testing.T) {
	engine := &mockEngine{result: &fulltext.QueryResult{}}
	s, _ := newTestServer(t, engine, nil)

	rec := do(s, http.MethodPost, "/api/v1/query", `{"schema_name":"jobs"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, engine.lastCtx)
	assert.NotSame(t, zap.L(), logging.FromContext(engine.lastCtx))
}

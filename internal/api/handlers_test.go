package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"quizsolver/internal/config"
	"quizsolver/internal/domain"
	"quizsolver/internal/monitoring"
	"quizsolver/internal/resources"
	"quizsolver/internal/solver"
	"quizsolver/internal/submitter"
)

// A scripted single-question pipeline: every stage succeeds and the
// submission ends the chain.
type (
	stubFetcher   struct{}
	stubExtractor struct{}
	stubPlanner   struct{}
	stubExecutor  struct{}
	stubSubmitter struct{ lastCreds submitter.Credentials }
)

func (stubFetcher) Fetch(ctx context.Context, url string) (*domain.PageContent, error) {
	return &domain.PageContent{URL: url, HTML: "<html><body>q</body></html>"}, nil
}

func (stubExtractor) Extract(ctx context.Context, page *domain.PageContent) (*domain.QuestionMetadata, error) {
	return &domain.QuestionMetadata{
		QuestionText: "What is 2+2?",
		AnswerType:   "number",
		SubmitURL:    "https://quiz.example/submit",
	}, nil
}

func (stubPlanner) Plan(ctx context.Context, meta *domain.QuestionMetadata, files []resources.File) (*domain.Plan, error) {
	return &domain.Plan{AnswerType: "number", Answer: "4"}, nil
}

func (stubExecutor) Execute(ctx context.Context, plan *domain.Plan, workDir string) *domain.ExecutionResult {
	return &domain.ExecutionResult{OK: true, Answer: int64(4), Log: "direct answer"}
}

func (s *stubSubmitter) Submit(ctx context.Context, answer any, creds submitter.Credentials, quizURL, submitURL string) (*domain.SubmissionResult, error) {
	s.lastCreds = creds
	return &domain.SubmissionResult{Correct: true}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		ServerPort:     "8080",
		StudentEmail:   "student@example.com",
		StudentSecret:  "s3cret",
		LLMModel:       "openai/gpt-4o-mini",
		AttemptTimeout: 60,
		MaxRetries:     3,
		BackoffBaseMS:  1,
		WorkDir:        t.TempDir(),
		SolveWorkers:   1,
	}
	sv := solver.New(cfg, stubFetcher{}, stubExtractor{}, stubPlanner{}, nil, stubExecutor{}, &stubSubmitter{},
		nil, nil, nil, zap.NewNop())
	lb := monitoring.NewLogBuffer(50, zapcore.InfoLevel)
	return NewServer(cfg, sv, nil, nil, lb, zap.NewNop())
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func TestSolveEndpointRunsChain(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodPost, "/api/solve",
		`{"email": "student@example.com", "secret": "s3cret", "url": "https://quiz.example/q1"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	var result domain.AttemptResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, domain.AttemptDone, result.Status)
	assert.Equal(t, 1, result.Questions)
	assert.Equal(t, "4", result.LastAnswer)
	require.Len(t, result.Verdicts, 1)
	assert.Equal(t, "correct", result.Verdicts[0].Verdict)
}

func TestSolveEndpointRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodPost, "/api/solve", `{"email": `)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSolveEndpointRejectsBadEmail(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodPost, "/api/solve",
		`{"email": "not-an-email", "secret": "s3cret", "url": "https://quiz.example/q1"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "email")
}

func TestSolveEndpointRejectsBadURL(t *testing.T) {
	s := newTestServer(t)
	for _, u := range []string{"", "quiz.example/q1", "ftp://quiz.example/q1"} {
		body, _ := json.Marshal(map[string]string{
			"email": "student@example.com", "secret": "s3cret", "url": u,
		})
		rr := doJSON(t, s, http.MethodPost, "/api/solve", string(body))
		assert.Equal(t, http.StatusBadRequest, rr.Code, "url %q", u)
	}
}

func TestSolveEndpointRejectsWrongCredentials(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodPost, "/api/solve",
		`{"email": "student@example.com", "secret": "wrong", "url": "https://quiz.example/q1"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid credentials")
}

func TestSolveEndpointEmailIsCaseInsensitive(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodPost, "/api/solve",
		`{"email": "STUDENT@example.com", "secret": "s3cret", "url": "https://quiz.example/q1"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSolveEndpointAsyncReturnsAccepted(t *testing.T) {
	s := newTestServer(t)
	s.solver.Start()
	defer s.solver.Stop()

	rr := doJSON(t, s, http.MethodPost, "/api/solve",
		`{"email": "student@example.com", "secret": "s3cret", "url": "https://quiz.example/q1", "async": true}`)

	require.Equal(t, http.StatusAccepted, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "received", resp["status"])
	assert.NotEmpty(t, resp["attempt_id"])
}

func TestAttemptStatusWithoutArchive(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodGet, "/api/attempts?id=abc", "")
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestAttemptStatusRequiresID(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodGet, "/api/attempts", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLogsEndpointServesBufferedEntries(t *testing.T) {
	s := newTestServer(t)
	lg := zap.New(s.logBuffer)
	lg.Info("first entry")
	lg.Info("second entry")

	rr := doJSON(t, s, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []monitoring.LogEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "first entry", entries[0].Message)

	rr = doJSON(t, s, http.MethodGet, "/api/logs?limit=1", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "second entry", entries[0].Message)
}

func TestClearLogsEndpoint(t *testing.T) {
	s := newTestServer(t)
	zap.New(s.logBuffer).Info("soon gone")

	rr := doJSON(t, s, http.MethodDelete, "/api/logs", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, s, http.MethodGet, "/api/logs", "")
	var entries []monitoring.LogEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	assert.Empty(t, entries)
}

func TestHealthCheckWithoutStores(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "openai/gpt-4o-mini", status["model"])
	assert.Equal(t, true, status["email_set"])
	assert.Equal(t, false, status["token_set"])
}

package submitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quizsolver/internal/domain"
)

var testCreds = Credentials{Email: "student@example.com", Secret: "s3cret"}

func newTestSubmitter() *Submitter {
	return New(5*time.Second, zap.NewNop())
}

func TestSubmitParsesVerdict(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"correct": true, "url": "https://quiz.example/q2", "reason": ""}`))
	}))
	defer srv.Close()

	res, err := newTestSubmitter().Submit(context.Background(), int64(42), testCreds, "https://quiz.example/q1", srv.URL)
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, "https://quiz.example/q2", res.NextURL)

	assert.Equal(t, "student@example.com", received["email"])
	assert.Equal(t, "s3cret", received["secret"])
	assert.Equal(t, "https://quiz.example/q1", received["url"])
	assert.Equal(t, float64(42), received["answer"])
}

func TestSubmitIncorrectWithReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"correct": false, "reason": "expected a number"}`))
	}))
	defer srv.Close()

	res, err := newTestSubmitter().Submit(context.Background(), "four", testCreds, "https://quiz.example/q1", srv.URL)
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.Equal(t, "expected a number", res.Reason)
	assert.Empty(t, res.NextURL)
}

func TestSubmitForbiddenIsFatalAuthentication(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestSubmitter().Submit(context.Background(), 1, testCreds, "https://quiz.example/q1", srv.URL)
	require.Error(t, err)
	assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))
	assert.False(t, domain.IsRetryable(err))
}

func TestSubmitServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestSubmitter().Submit(context.Background(), 1, testCreds, "https://quiz.example/q1", srv.URL)
	require.Error(t, err)
	assert.Equal(t, domain.KindSubmission, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestSubmitClientErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newTestSubmitter().Submit(context.Background(), 1, testCreds, "https://quiz.example/q1", srv.URL)
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}

func TestSubmitMissingVerdictIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url": "https://quiz.example/q2"}`))
	}))
	defer srv.Close()

	_, err := newTestSubmitter().Submit(context.Background(), 1, testCreds, "https://quiz.example/q1", srv.URL)
	require.Error(t, err)
	assert.Equal(t, domain.KindSubmission, domain.KindOf(err))
	assert.False(t, domain.IsRetryable(err))
}

func TestSubmitUnparseableBodyIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error page</html>"))
	}))
	defer srv.Close()

	_, err := newTestSubmitter().Submit(context.Background(), 1, testCreds, "https://quiz.example/q1", srv.URL)
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestDeriveSubmitURL(t *testing.T) {
	cases := []struct {
		quizURL string
		want    string
	}{
		{"https://quiz.example/quiz-abc123", "https://quiz.example/submit-abc123"},
		{"https://quiz.example/quiz/abc123", "https://quiz.example/submit-abc123"},
		{"https://quiz.example/challenge/7", "https://quiz.example/submit"},
		{"not a url", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveSubmitURL(tc.quizURL), tc.quizURL)
	}
}

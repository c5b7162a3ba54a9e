package submitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"quizsolver/internal/domain"
)

// Credentials identify the student on the quiz server.
type Credentials struct {
	Email  string
	Secret string
}

// Submitter posts computed answers to the quiz server and parses its
// verdict. Authentication rejections are fatal; everything network-shaped
// is retryable.
type Submitter struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

func New(timeout time.Duration, logger *zap.Logger) *Submitter {
	return &Submitter{
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     logger,
	}
}

type answerPayload struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
	Answer any    `json:"answer"`
}

// wireResult mirrors the server contract loosely; the field set is
// server-defined so everything is optional and checked after decoding.
type wireResult struct {
	Correct *bool   `json:"correct"`
	URL     *string `json:"url"`
	Reason  *string `json:"reason"`
}

// Submit posts answer for quizURL to submitURL. An empty submitURL is
// derived from the quiz URL itself.
func (s *Submitter) Submit(ctx context.Context, answer any, creds Credentials, quizURL, submitURL string) (*domain.SubmissionResult, error) {
	if submitURL == "" {
		submitURL = DeriveSubmitURL(quizURL)
		if submitURL == "" {
			return nil, domain.Fatal(domain.KindSubmission, fmt.Errorf("no submit URL for %s", quizURL))
		}
		s.logger.Info("derived submit URL", zap.String("submitURL", submitURL))
	}

	body, err := json.Marshal(answerPayload{
		Email:  creds.Email,
		Secret: creds.Secret,
		URL:    quizURL,
		Answer: answer,
	})
	if err != nil {
		return nil, domain.Fatal(domain.KindSubmission, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewReader(body))
	if err != nil {
		return nil, domain.Fatal(domain.KindSubmission, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, domain.Retryable(domain.KindSubmission, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.Fatal(domain.KindAuthentication,
			fmt.Errorf("quiz server rejected credentials with status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, domain.Retryable(domain.KindSubmission,
			fmt.Errorf("quiz server returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, domain.Fatal(domain.KindSubmission,
			fmt.Errorf("quiz server returned status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Retryable(domain.KindSubmission, err)
	}

	var wire wireResult
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, domain.Retryable(domain.KindSubmission,
			fmt.Errorf("unparseable submission response: %w", err))
	}
	if wire.Correct == nil {
		return nil, domain.Fatal(domain.KindSubmission,
			fmt.Errorf("submission response missing verdict"))
	}

	result := &domain.SubmissionResult{Correct: *wire.Correct}
	if wire.URL != nil {
		result.NextURL = strings.TrimSpace(*wire.URL)
	}
	if wire.Reason != nil {
		result.Reason = *wire.Reason
	}
	return result, nil
}

var quizPathRe = regexp.MustCompile(`/quiz[-/]`)

// DeriveSubmitURL guesses the submission endpoint from a quiz URL when the
// page never named one: /quiz-X becomes /submit-X, otherwise /submit at
// the site root.
func DeriveSubmitURL(quizURL string) string {
	if quizPathRe.MatchString(quizURL) {
		return quizPathRe.ReplaceAllString(quizURL, "/submit-")
	}
	u, err := url.Parse(quizURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/submit"
}

package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"quizsolver/internal/domain"
	"quizsolver/internal/llm"
)

// Completer is the LLM capability the extractor needs.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Extractor turns raw page content into structured question metadata with
// one LLM call. A structurally invalid reply earns exactly one clarifying
// re-prompt before the stage fails for good.
type Extractor struct {
	llm     Completer
	timeout time.Duration
	logger  *zap.Logger
}

func New(c Completer, timeout time.Duration, logger *zap.Logger) *Extractor {
	return &Extractor{llm: c, timeout: timeout, logger: logger}
}

const systemPrompt = `You are an expert quiz-solving agent. Analyze a quiz webpage and extract everything needed to solve it programmatically.

Your output must be a strictly valid JSON object (no markdown, no explanation) with these keys:

{
  "question_description": "...",   // clear description of what must be solved
  "answer_type": "...",            // one of: number, string, boolean, object
  "submission_url": "...",         // absolute URL where the answer must be POSTed, or null
  "additional_links": [],          // downloadable file links (PDF, CSV, JSON, audio, ...)
  "base64_decoded_texts": [],      // text recovered from atob(...) payloads
  "detected_tables_html": []       // full HTML of each <table> element
}

Rules:
- Convert relative links to absolute using the quiz URL as base.
- For the submission URL, look for phrases like "POST to ..." or "Submit at ...". If missing, return null.
- If something is missing, use null or an empty list instead of omitting the key.
- Only return valid JSON.`

const clarifyPrompt = "\n\nYour previous reply was not a valid JSON object with the required keys. Respond again with ONLY the JSON object, nothing else."

// The full rendered HTML can run to megabytes; past this point it is
// boilerplate that only burns tokens.
const maxHTMLChars = 100_000

// Extract produces validated question metadata for a fetched page.
func (e *Extractor) Extract(ctx context.Context, page *domain.PageContent) (*domain.QuestionMetadata, error) {
	facts, err := ParsePage(page)
	if err != nil {
		return nil, domain.Fatal(domain.KindExtraction, fmt.Errorf("unparseable page %s: %w", page.URL, err))
	}

	user := e.buildUserMessage(page, facts)

	meta, err := e.once(ctx, systemPrompt, user)
	if err != nil {
		// Transport errors carry a kind already; the stage retry policy
		// owns those. Only malformed output earns the one re-prompt.
		if domain.KindOf(err) != "" {
			return nil, err
		}
		e.logger.Warn("extraction response failed validation, re-prompting",
			zap.String("url", page.URL), zap.Error(err))
		meta, err = e.once(ctx, systemPrompt+clarifyPrompt, user)
		if err != nil {
			if domain.KindOf(err) != "" {
				return nil, err
			}
			return nil, domain.Fatal(domain.KindExtraction, err)
		}
	}

	mergeFacts(meta, facts)
	if err := validate(meta); err != nil {
		return nil, domain.Fatal(domain.KindExtraction, err)
	}
	return meta, nil
}

// once makes a single LLM round trip. Transport errors stay retryable for
// the caller's stage policy; validation errors are returned as-is so
// Extract can decide whether a re-prompt is still available.
func (e *Extractor) once(ctx context.Context, system, user string) (*domain.QuestionMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.llm.Complete(ctx, system, user)
	if err != nil {
		return nil, domain.Retryable(domain.KindExtraction, err)
	}

	payload, err := llm.ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("extraction response: %w", err)
	}
	var meta domain.QuestionMetadata
	if err := json.Unmarshal([]byte(payload), &meta); err != nil {
		return nil, fmt.Errorf("extraction response shape: %w", err)
	}
	if strings.TrimSpace(meta.QuestionText) == "" {
		return nil, fmt.Errorf("extraction response missing question description")
	}
	return &meta, nil
}

func (e *Extractor) buildUserMessage(page *domain.PageContent, facts *PageFacts) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUIZ URL:\n%s\n\n", page.URL)
	if facts.SubmitURL != "" {
		fmt.Fprintf(&b, "SUBMIT URL FOUND IN PAGE:\n%s\n\n", facts.SubmitURL)
	}
	if len(facts.DecodedTexts) > 0 {
		fmt.Fprintf(&b, "DECODED BASE64 CONTENT:\n%s\n\n", strings.Join(facts.DecodedTexts, "\n"))
	}
	if len(facts.FileURLs) > 0 {
		fmt.Fprintf(&b, "FILE LINKS FOUND IN PAGE:\n%s\n\n", strings.Join(facts.FileURLs, "\n"))
	}
	fmt.Fprintf(&b, "VISIBLE TEXT:\n%s\n\n", facts.Text)

	html := page.HTML
	if len(html) > maxHTMLChars {
		html = html[:maxHTMLChars]
	}
	fmt.Fprintf(&b, "HTML CONTENT:\n%s\n", html)
	return b.String()
}

// mergeFacts prefers deterministically parsed values over model output for
// the fields a regex can get right.
func mergeFacts(meta *domain.QuestionMetadata, facts *PageFacts) {
	if facts.SubmitURL != "" {
		meta.SubmitURL = facts.SubmitURL
	}
	seen := make(map[string]bool, len(meta.FileURLs))
	for _, u := range meta.FileURLs {
		seen[u] = true
	}
	for _, u := range facts.FileURLs {
		if !seen[u] {
			meta.FileURLs = append(meta.FileURLs, u)
		}
	}
	if len(meta.DecodedTexts) == 0 {
		meta.DecodedTexts = facts.DecodedTexts
	}
	if len(meta.Tables) == 0 {
		meta.Tables = facts.Tables
	}
}

func validate(meta *domain.QuestionMetadata) error {
	if strings.TrimSpace(meta.QuestionText) == "" {
		return fmt.Errorf("question description is empty")
	}
	switch meta.AnswerType {
	case "number", "string", "boolean", "object":
	case "":
		meta.AnswerType = "string"
	default:
		return fmt.Errorf("unknown answer type %q", meta.AnswerType)
	}
	return nil
}

package domain

import "time"

// SolveRequest is the payload for the API
type SolveRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
	Async  bool   `json:"async,omitempty"` // enqueue and return 202 instead of waiting
	Force  bool   `json:"force,omitempty"` // bypass the recently-solved check
}

// AttemptStatus is the terminal (or in-flight) state of an Attempt.
type AttemptStatus string

const (
	AttemptRunning AttemptStatus = "running"
	AttemptDone    AttemptStatus = "done"
	AttemptFailed  AttemptStatus = "failed"
	// AttemptSkipped marks a request whose chain completed recently
	// enough that it was not re-run.
	AttemptSkipped AttemptStatus = "skipped"
)

// Stage identifies one phase of a solving step.
type Stage string

const (
	StageFetch   Stage = "fetching"
	StageExtract Stage = "extracting"
	StagePlan    Stage = "planning"
	StageExecute Stage = "executing"
	StageSubmit  Stage = "submitting"
)

// StepStatus tracks the lifecycle of a single step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// PageContent is the raw material a step works from.
type PageContent struct {
	URL      string
	HTML     string
	Text     string
	Rendered bool // fetched through the browser path
}

// QuestionMetadata is the structured view of a quiz page after extraction.
type QuestionMetadata struct {
	QuestionText string   `json:"question_description"`
	AnswerType   string   `json:"answer_type"` // number | string | boolean | object
	SubmitURL    string   `json:"submission_url"`
	FileURLs     []string `json:"additional_links"`
	DecodedTexts []string `json:"base64_decoded_texts"`
	Tables       []string `json:"detected_tables_html"`
}

// Plan is the strategy the planner produced for one question. A plan is
// either direct (Answer set, Script empty) or a script to be executed.
type Plan struct {
	Analysis   string   `json:"analysis"`
	Steps      []string `json:"steps"`
	AnswerType string   `json:"answer_type"`
	Script     string   `json:"solution_code"`
	Answer     string   `json:"final_answer"`
}

// Direct reports whether the plan carries the answer itself.
func (p *Plan) Direct() bool {
	return p.Script == ""
}

// ExecutionResult is what running a plan produced. OK=false means the
// answer must not be submitted.
type ExecutionResult struct {
	OK     bool
	Answer any
	Log    string
}

// SubmissionResult is the quiz server's reply to a submitted answer.
// A non-empty NextURL means the chain continues.
type SubmissionResult struct {
	Correct bool   `json:"correct"`
	NextURL string `json:"url"`
	Reason  string `json:"reason"`
}

// Verdict renders the server's judgment as a label.
func (r *SubmissionResult) Verdict() string {
	if r.Correct {
		return "correct"
	}
	return "incorrect"
}

// Step is one question-solving iteration within an Attempt.
type Step struct {
	URL        string
	Status     StepStatus
	Stages     []Stage // stages entered, in order
	Retries    map[Stage]int
	Page       *PageContent
	Question   *QuestionMetadata
	Plan       *Plan
	Execution  *ExecutionResult
	Submission *SubmissionResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Attempt is one end-to-end run from a starting URL to a terminal outcome.
// It is owned exclusively by the solve loop that created it.
type Attempt struct {
	ID         string
	StartURL   string
	Email      string
	StartedAt  time.Time
	Deadline   time.Time
	Steps      []*Step
	Status     AttemptStatus
	FailKind   string // error kind when Status is failed
	FailReason string
	LastStage  Stage // furthest stage reached
	WorkDir    string
}

// CurrentStep returns the step in flight, or nil before the first one.
func (a *Attempt) CurrentStep() *Step {
	if len(a.Steps) == 0 {
		return nil
	}
	return a.Steps[len(a.Steps)-1]
}

// Visited reports whether a URL already has a step in this attempt.
func (a *Attempt) Visited(url string) bool {
	for _, s := range a.Steps {
		if s.URL == url {
			return true
		}
	}
	return false
}

// StepVerdict is one entry of the verdict trail exposed to API clients.
type StepVerdict struct {
	URL     string `json:"url"`
	Verdict string `json:"verdict"`
}

// AttemptResult is the API-facing outcome of an attempt. It never carries
// credentials or prompt material.
type AttemptResult struct {
	ID         string        `json:"id"`
	Status     AttemptStatus `json:"status"`
	Questions  int           `json:"questions"`
	LastAnswer string        `json:"last_answer,omitempty"`
	Verdicts   []StepVerdict `json:"verdicts"`
	LastStage  Stage         `json:"last_stage,omitempty"`
	FailKind   string        `json:"fail_kind,omitempty"`
	FailReason string        `json:"fail_reason,omitempty"`
	ElapsedMS  int64         `json:"elapsed_ms"`
}

package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quizsolver/internal/domain"
	"quizsolver/internal/resources"
)

type scriptedLLM struct {
	responses []string
	err       error
	calls     int
	userMsgs  []string
}

func (s *scriptedLLM) Complete(ctx context.Context, system, user string) (string, error) {
	s.calls++
	s.userMsgs = append(s.userMsgs, user)
	if s.err != nil {
		return "", s.err
	}
	r := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return r, nil
}

func meta() *domain.QuestionMetadata {
	return &domain.QuestionMetadata{
		QuestionText: "What is 2+2?",
		AnswerType:   "number",
	}
}

func TestPlanReturnsDirectAnswer(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{
		"analysis": "trivial arithmetic",
		"steps": ["add"],
		"answer_type": "number",
		"solution_code": null,
		"final_answer": "4"
	}`}}
	p := New(llm, time.Minute, zap.NewNop())

	plan, err := p.Plan(context.Background(), meta(), nil)
	require.NoError(t, err)
	assert.True(t, plan.Direct())
	assert.Equal(t, "4", plan.Answer)
	assert.Equal(t, 1, llm.calls)
}

func TestPlanReturnsScript(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{
		"analysis": "sum a csv",
		"steps": ["download", "sum"],
		"answer_type": "number",
		"solution_code": "import csv\nprint(42)",
		"final_answer": null
	}`}}
	p := New(llm, time.Minute, zap.NewNop())

	plan, err := p.Plan(context.Background(), meta(), nil)
	require.NoError(t, err)
	assert.False(t, plan.Direct())
	assert.Contains(t, plan.Script, "print")
}

func TestPlanRepromptsOnceOnUnusableReply(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"analysis": "hmm", "solution_code": null, "final_answer": null}`,
		`{"analysis": "ok", "answer_type": "string", "final_answer": "blue"}`,
	}}
	p := New(llm, time.Minute, zap.NewNop())

	plan, err := p.Plan(context.Background(), meta(), nil)
	require.NoError(t, err)
	assert.Equal(t, "blue", plan.Answer)
	assert.Equal(t, 2, llm.calls)
}

func TestPlanFatalAfterSecondUnusableReply(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"not json", "still not json"}}
	p := New(llm, time.Minute, zap.NewNop())

	_, err := p.Plan(context.Background(), meta(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindPlanning, domain.KindOf(err))
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, 2, llm.calls)
}

func TestPlanTransportErrorStaysRetryable(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("gateway timeout")}
	p := New(llm, time.Minute, zap.NewNop())

	_, err := p.Plan(context.Background(), meta(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindPlanning, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 1, llm.calls)
}

func TestPlanPromptCarriesDownloadedFileContents(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{
		"analysis": "sum the score column",
		"answer_type": "number",
		"solution_code": "import csv\nprint(17)"
	}`}}
	p := New(llm, time.Minute, zap.NewNop())

	files := []resources.File{{
		URL:     "https://quiz.example/data.csv",
		Name:    "data.csv",
		Kind:    "csv",
		Size:    24,
		Preview: "name,score\nalice,10",
	}}
	m := meta()
	m.FileURLs = []string{"https://quiz.example/data.csv"}

	_, err := p.Plan(context.Background(), m, files)
	require.NoError(t, err)

	require.Len(t, llm.userMsgs, 1)
	prompt := llm.userMsgs[0]
	assert.Contains(t, prompt, "data.csv (csv, 24 bytes)")
	assert.Contains(t, prompt, "name,score")
	assert.NotContains(t, prompt, "download them in the script",
		"a locally available file is never re-downloaded")
}

func TestValidateReclassifiesBareValueInCode(t *testing.T) {
	plan := &domain.Plan{Script: "42", AnswerType: "number"}
	require.NoError(t, Validate(plan))
	assert.True(t, plan.Direct())
	assert.Equal(t, "42", plan.Answer)
}

func TestValidateRejectsScriptWithoutPrint(t *testing.T) {
	plan := &domain.Plan{Script: "import math\nx = math.pi"}
	err := Validate(plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never prints")
}

func TestValidateRejectsMarkdownFences(t *testing.T) {
	plan := &domain.Plan{Script: "```python\nprint(1)\n```"}
	err := Validate(plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fences")
}

func TestValidateDefaultsAnswerType(t *testing.T) {
	plan := &domain.Plan{Answer: "yes"}
	require.NoError(t, Validate(plan))
	assert.Equal(t, "string", plan.AnswerType)
}

func TestValidateRejectsUnknownAnswerType(t *testing.T) {
	plan := &domain.Plan{Answer: "yes", AnswerType: "tuple"}
	require.Error(t, Validate(plan))
}

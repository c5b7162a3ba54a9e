package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"quizsolver/internal/domain"
	"quizsolver/internal/llm"
	"quizsolver/internal/resources"
)

// Completer is the LLM capability the planner needs.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Planner asks the LLM for a solution strategy: either a direct answer or
// a Python script that prints one. Malformed output gets one re-prompt,
// then the stage fails.
type Planner struct {
	llm     Completer
	timeout time.Duration
	logger  *zap.Logger
}

func New(c Completer, timeout time.Duration, logger *zap.Logger) *Planner {
	return &Planner{llm: c, timeout: timeout, logger: logger}
}

const systemPrompt = "You are an expert data analyst. Always respond with valid JSON only, no additional text."

const planInstructions = `
INSTRUCTIONS:
1. Analyze the question carefully.
2. Identify what data or files need to be processed.
3. Respond ONLY with a valid JSON object in this exact format:
{
  "analysis": "what needs to be done",
  "steps": ["Step 1", "Step 2"],
  "answer_type": "number|string|boolean|object",
  "solution_code": "Python code that prints the final answer, or null",
  "final_answer": "the answer itself if it can be given directly, or null"
}

- Prefer "final_answer" when the answer can be computed without code; leave "solution_code" null in that case.
- "solution_code" must be a complete Python script that prints exactly the final answer to stdout and nothing else.
- Read downloaded files from the current working directory by the names listed; only fetch a URL when no local copy is listed.
- The script must not perform any HTTP POST; submission is handled separately.
- Wrap the script body in try/except and print an error message on failure.
- For numerical answers provide just the number, not formatted text.`

const clarifyPrompt = "\n\nYour previous reply was not a usable plan. Respond again with ONLY the JSON object described above, and make sure either final_answer or solution_code is set."

// Plan generates and validates an executable plan for a question. files
// are the resources already downloaded into the step's working directory.
func (p *Planner) Plan(ctx context.Context, meta *domain.QuestionMetadata, files []resources.File) (*domain.Plan, error) {
	user := buildUserMessage(meta, files)

	plan, err := p.once(ctx, systemPrompt, user)
	if err != nil {
		// Transport errors carry a kind already; the stage retry policy
		// owns those. Only malformed output earns the one re-prompt.
		if domain.KindOf(err) != "" {
			return nil, err
		}
		p.logger.Warn("plan response failed validation, re-prompting", zap.Error(err))
		plan, err = p.once(ctx, systemPrompt+clarifyPrompt, user)
		if err != nil {
			if domain.KindOf(err) != "" {
				return nil, err
			}
			return nil, domain.Fatal(domain.KindPlanning, err)
		}
	}
	return plan, nil
}

func (p *Planner) once(ctx context.Context, system, user string) (*domain.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.llm.Complete(ctx, system, user)
	if err != nil {
		return nil, domain.Retryable(domain.KindPlanning, err)
	}

	payload, err := llm.ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("plan response: %w", err)
	}
	var plan domain.Plan
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return nil, fmt.Errorf("plan response shape: %w", err)
	}
	plan.Script = strings.TrimSpace(plan.Script)
	plan.Answer = strings.TrimSpace(plan.Answer)
	if err := Validate(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func buildUserMessage(meta *domain.QuestionMetadata, files []resources.File) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION:\n%s\n\n", meta.QuestionText)
	fmt.Fprintf(&b, "EXPECTED ANSWER TYPE: %s\n\n", meta.AnswerType)
	if len(meta.DecodedTexts) > 0 {
		fmt.Fprintf(&b, "HIDDEN INSTRUCTIONS DECODED FROM THE PAGE:\n%s\n\n", strings.Join(meta.DecodedTexts, "\n"))
	}
	if len(files) > 0 {
		b.WriteString("DOWNLOADED FILES (already in the script's working directory):\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s (%s, %d bytes)\n", f.Name, f.Kind, f.Size)
			if f.Preview != "" {
				fmt.Fprintf(&b, "  CONTENT HEAD:\n%s\n", f.Preview)
			}
		}
		b.WriteString("\n")
	} else if len(meta.FileURLs) > 0 {
		fmt.Fprintf(&b, "DATA FILES (download them in the script if needed):\n%s\n\n", strings.Join(meta.FileURLs, "\n"))
	}
	for i, table := range meta.Tables {
		t := table
		if len(t) > 2000 {
			t = t[:2000]
		}
		fmt.Fprintf(&b, "TABLE %d:\n%s\n\n", i+1, t)
	}
	b.WriteString(planInstructions)
	return b.String()
}

// Validate checks that a plan is actually executable: it must carry either
// a direct answer or a script that looks like Python and prints something.
func Validate(plan *domain.Plan) error {
	// Models sometimes stuff a bare value into solution_code instead of
	// final_answer. Treat anything without code structure as direct.
	if plan.Answer == "" && plan.Script != "" && !looksLikeScript(plan.Script) {
		plan.Answer = plan.Script
		plan.Script = ""
	}
	if plan.Answer == "" && plan.Script == "" {
		return fmt.Errorf("plan has neither a direct answer nor solution code")
	}
	if plan.Script != "" {
		if !strings.Contains(plan.Script, "print") {
			return fmt.Errorf("solution code never prints an answer")
		}
		if strings.Contains(plan.Script, "```") {
			return fmt.Errorf("solution code contains markdown fences")
		}
	}
	switch plan.AnswerType {
	case "number", "string", "boolean", "object":
	case "":
		plan.AnswerType = "string"
	default:
		return fmt.Errorf("unknown answer type %q", plan.AnswerType)
	}
	return nil
}

func looksLikeScript(s string) bool {
	for _, kw := range []string{"import ", "def ", "for ", "while ", "=", "print("} {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

package solver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"quizsolver/internal/config"
	"quizsolver/internal/domain"
	"quizsolver/internal/executor"
	"quizsolver/internal/monitoring"
	"quizsolver/internal/resources"
	"quizsolver/internal/submitter"
)

// The five stage collaborators. Each one surfaces a single final outcome
// per call; transient recovery below that is its own business.
type (
	PageFetcher interface {
		Fetch(ctx context.Context, url string) (*domain.PageContent, error)
	}
	QuestionExtractor interface {
		Extract(ctx context.Context, page *domain.PageContent) (*domain.QuestionMetadata, error)
	}
	PlanGenerator interface {
		Plan(ctx context.Context, meta *domain.QuestionMetadata, files []resources.File) (*domain.Plan, error)
	}
	ResourceFetcher interface {
		Fetch(ctx context.Context, urls []string, dir string) []resources.File
	}
	PlanExecutor interface {
		Execute(ctx context.Context, plan *domain.Plan, workDir string) *domain.ExecutionResult
	}
	AnswerSubmitter interface {
		Submit(ctx context.Context, answer any, creds submitter.Credentials, quizURL, submitURL string) (*domain.SubmissionResult, error)
	}
)

// ArchiveStore persists terminal attempts for later status queries.
type ArchiveStore interface {
	SaveAttempt(ctx context.Context, a *domain.Attempt) error
}

// DedupeStore remembers recently completed starting URLs so a re-delivered
// request does not re-run a finished chain.
type DedupeStore interface {
	IsRecentlySolved(ctx context.Context, url string) (bool, error)
	MarkSolved(ctx context.Context, url string, ttl time.Duration) error
}

// Minimum remaining budget required to even enter a stage. Entering with
// less guarantees an abandoned in-flight call, which helps nobody.
var stageFloors = map[domain.Stage]time.Duration{
	domain.StageFetch:   5 * time.Second,
	domain.StageExtract: 10 * time.Second,
	domain.StagePlan:    10 * time.Second,
	domain.StageExecute: 5 * time.Second,
	domain.StageSubmit:  3 * time.Second,
}

// Solver drives attempts through the fetch/extract/plan/execute/submit
// pipeline. One attempt is strictly sequential; the worker pool only adds
// parallelism across independent attempts.
type Solver struct {
	cfg       *config.Config
	fetcher   PageFetcher
	extractor QuestionExtractor
	planner   PlanGenerator
	resources ResourceFetcher
	executor  PlanExecutor
	submitter AnswerSubmitter
	archive   ArchiveStore // optional
	dedupe    DedupeStore  // optional
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	policy    retryPolicy

	taskQueue chan queuedTask
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

type queuedTask struct {
	id  string
	req domain.SolveRequest
}

func New(
	cfg *config.Config,
	f PageFetcher,
	x QuestionExtractor,
	p PlanGenerator,
	r ResourceFetcher,
	e PlanExecutor,
	sub AnswerSubmitter,
	archive ArchiveStore,
	dedupe DedupeStore,
	m *monitoring.Metrics,
	logger *zap.Logger,
) *Solver {
	return &Solver{
		cfg:       cfg,
		fetcher:   f,
		extractor: x,
		planner:   p,
		resources: r,
		executor:  e,
		submitter: sub,
		archive:   archive,
		dedupe:    dedupe,
		metrics:   m,
		logger:    logger,
		policy:    newRetryPolicy(cfg.MaxRetries, cfg.BackoffBase()),
		taskQueue: make(chan queuedTask, cfg.SolveWorkers*2),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the background workers serving async requests.
func (s *Solver) Start() {
	for i := 0; i < s.cfg.SolveWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *Solver) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// Enqueue schedules an attempt on the worker pool and returns its ID, or
// empty once the solver is stopping. The queue channel is never closed so
// a request racing shutdown cannot panic.
func (s *Solver) Enqueue(req domain.SolveRequest) string {
	select {
	case <-s.stopChan:
		return ""
	default:
	}
	id := uuid.NewString()
	select {
	case s.taskQueue <- queuedTask{id: id, req: req}:
		return id
	case <-s.stopChan:
		return ""
	}
}

func (s *Solver) worker() {
	defer s.wg.Done()
	for {
		select {
		case task := <-s.taskQueue:
			s.run(context.Background(), task.id, task.req)
		case <-s.stopChan:
			return
		}
	}
}

// Run drives one attempt synchronously to a terminal outcome.
func (s *Solver) Run(ctx context.Context, req domain.SolveRequest) *domain.AttemptResult {
	return s.run(ctx, uuid.NewString(), req)
}

func (s *Solver) run(ctx context.Context, id string, req domain.SolveRequest) *domain.AttemptResult {
	if !req.Force && s.dedupe != nil {
		solved, err := s.dedupe.IsRecentlySolved(ctx, req.URL)
		if err != nil {
			s.logger.Error("dedupe check failed", zap.String("url", req.URL), zap.Error(err))
		}
		if solved {
			s.logger.Info("skipping recently solved quiz chain", zap.String("url", req.URL))
			return &domain.AttemptResult{ID: id, Status: domain.AttemptSkipped}
		}
	}

	now := time.Now()
	deadline := now.Add(s.cfg.AttemptBudget())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	attempt := &domain.Attempt{
		ID:        id,
		StartURL:  req.URL,
		Email:     req.Email,
		StartedAt: now,
		Deadline:  deadline,
		Status:    domain.AttemptRunning,
	}

	if dir, err := executor.AttemptDir(s.cfg.WorkDir, id); err != nil {
		s.logger.Error("could not create attempt dir", zap.Error(err))
	} else {
		attempt.WorkDir = dir
	}

	log, closeLog := s.attemptLogger(attempt.WorkDir)
	defer closeLog()

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	log.Info("attempt started",
		zap.String("attemptID", id),
		zap.String("url", req.URL),
		zap.Time("deadline", deadline))

	creds := submitter.Credentials{Email: req.Email, Secret: req.Secret}
	currentURL := req.URL

	for {
		next, err := s.solveStep(ctx, attempt, creds, currentURL, log)
		if err != nil {
			s.fail(attempt, err, log)
			break
		}
		if next == "" {
			attempt.Status = domain.AttemptDone
			log.Info("quiz chain completed", zap.Int("questions", len(attempt.Steps)))
			break
		}
		if attempt.Visited(next) {
			s.fail(attempt, domain.Fatal(domain.KindCycle,
				fmt.Errorf("server pointed back to already visited %s", next)), log)
			break
		}
		currentURL = next
	}

	return s.finalize(attempt, log)
}

// solveStep runs the five stages for one URL and returns the next URL in
// the chain, empty when the chain ends.
func (s *Solver) solveStep(ctx context.Context, attempt *domain.Attempt, creds submitter.Credentials, url string, log *zap.Logger) (string, error) {
	step := &domain.Step{
		URL:       url,
		Status:    domain.StepRunning,
		Retries:   make(map[domain.Stage]int),
		StartedAt: time.Now(),
	}
	attempt.Steps = append(attempt.Steps, step)
	defer func() { step.FinishedAt = time.Now() }()

	log.Info("step started", zap.Int("step", len(attempt.Steps)), zap.String("url", url))

	// FETCHING
	if err := s.enterStage(attempt, step, domain.StageFetch, log); err != nil {
		return "", err
	}
	page, err := runStage(ctx, s, step, domain.StageFetch, func() (*domain.PageContent, error) {
		return s.fetcher.Fetch(ctx, url)
	})
	if err != nil {
		return "", err
	}
	step.Page = page

	// EXTRACTING
	if err := s.enterStage(attempt, step, domain.StageExtract, log); err != nil {
		return "", err
	}
	meta, err := runStage(ctx, s, step, domain.StageExtract, func() (*domain.QuestionMetadata, error) {
		return s.extractor.Extract(ctx, page)
	})
	if err != nil {
		return "", err
	}
	step.Question = meta

	// PLANNING
	if err := s.enterStage(attempt, step, domain.StagePlan, log); err != nil {
		return "", err
	}
	workDir, cleanup, derr := executor.StepDir(attempt.WorkDir, len(attempt.Steps))
	if derr != nil {
		return "", domain.Fatal(domain.KindPlanning, derr)
	}
	defer cleanup()
	// Linked resources land in the step dir first, so the planner sees
	// their contents and generated scripts read them locally.
	var files []resources.File
	if s.resources != nil && len(meta.FileURLs) > 0 {
		files = s.resources.Fetch(ctx, meta.FileURLs, workDir)
		log.Info("resources downloaded",
			zap.Int("linked", len(meta.FileURLs)), zap.Int("fetched", len(files)))
	}
	plan, err := runStage(ctx, s, step, domain.StagePlan, func() (*domain.Plan, error) {
		return s.planner.Plan(ctx, meta, files)
	})
	if err != nil {
		return "", err
	}
	step.Plan = plan

	// EXECUTING
	if err := s.enterStage(attempt, step, domain.StageExecute, log); err != nil {
		return "", err
	}
	exec, err := runStage(ctx, s, step, domain.StageExecute, func() (*domain.ExecutionResult, error) {
		res := s.executor.Execute(ctx, plan, workDir)
		step.Execution = res
		if !res.OK {
			// Failed executions never reach the submitter; they are
			// retried here or fail the attempt.
			return nil, domain.Retryable(domain.KindExecution, errors.New(res.Log))
		}
		return res, nil
	})
	if err != nil {
		return "", err
	}

	// SUBMITTING
	if err := s.enterStage(attempt, step, domain.StageSubmit, log); err != nil {
		return "", err
	}
	result, err := runStage(ctx, s, step, domain.StageSubmit, func() (*domain.SubmissionResult, error) {
		return s.submitter.Submit(ctx, exec.Answer, creds, url, meta.SubmitURL)
	})
	if err != nil {
		return "", err
	}
	step.Submission = result
	step.Status = domain.StepSucceeded

	if result.Correct {
		if s.metrics != nil {
			s.metrics.QuestionsSolved.Inc()
		}
		log.Info("answer accepted", zap.String("url", url))
	} else {
		log.Warn("answer rejected", zap.String("url", url), zap.String("reason", result.Reason))
	}
	return result.NextURL, nil
}

// enterStage records the transition and enforces the deadline check: a
// stage is never started with less than its minimum plausible runtime
// remaining.
func (s *Solver) enterStage(attempt *domain.Attempt, step *domain.Step, stage domain.Stage, log *zap.Logger) error {
	remaining := time.Until(attempt.Deadline)
	if remaining < stageFloors[stage] {
		return domain.Fatal(domain.KindDeadline,
			fmt.Errorf("%s needs %s but only %s of budget remains", stage, stageFloors[stage], remaining.Round(time.Millisecond)))
	}
	step.Stages = append(step.Stages, stage)
	attempt.LastStage = stage
	log.Info("entering stage",
		zap.String("stage", string(stage)),
		zap.Duration("remaining", remaining))
	return nil
}

// runStage applies the retry policy to one stage call and records the
// retry count on the step.
func runStage[T any](ctx context.Context, s *Solver, step *domain.Step, stage domain.Stage, fn func() (T, error)) (T, error) {
	v, calls, err := retryStage(ctx, s.policy, fn)
	step.Retries[stage] = calls - 1
	if err != nil && s.metrics != nil {
		s.metrics.IncStageErrors(string(stage))
	}
	return v, err
}

func (s *Solver) fail(attempt *domain.Attempt, err error, log *zap.Logger) {
	kind := domain.KindOf(err)
	// A stage abandoned because the budget ran out is a deadline failure,
	// whatever stage it surfaced from.
	if errors.Is(err, context.DeadlineExceeded) && !time.Now().Before(attempt.Deadline) {
		kind = domain.KindDeadline
	}
	if kind == "" {
		kind = domain.KindSubmission
	}
	attempt.Status = domain.AttemptFailed
	attempt.FailKind = string(kind)
	attempt.FailReason = err.Error()
	if step := attempt.CurrentStep(); step != nil {
		step.Status = domain.StepFailed
	}
	log.Error("attempt failed",
		zap.String("kind", string(kind)),
		zap.String("stage", string(attempt.LastStage)),
		zap.Error(err))
}

func (s *Solver) finalize(attempt *domain.Attempt, log *zap.Logger) *domain.AttemptResult {
	elapsed := time.Since(attempt.StartedAt)
	if s.metrics != nil {
		s.metrics.IncAttempts(string(attempt.Status))
		s.metrics.ObserveAttempt(elapsed.Seconds())
	}

	// Persistence happens on a fresh context: the attempt's own may
	// already be past its deadline.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.archive != nil {
		if err := s.archive.SaveAttempt(saveCtx, attempt); err != nil {
			log.Error("failed to archive attempt", zap.Error(err))
		}
	}
	if s.dedupe != nil && attempt.Status == domain.AttemptDone {
		ttl := time.Duration(s.cfg.DeduplicationMinutes) * time.Minute
		if err := s.dedupe.MarkSolved(saveCtx, attempt.StartURL, ttl); err != nil {
			log.Error("failed to mark chain solved", zap.Error(err))
		}
	}

	result := &domain.AttemptResult{
		ID:         attempt.ID,
		Status:     attempt.Status,
		Questions:  len(attempt.Steps),
		LastStage:  attempt.LastStage,
		FailKind:   attempt.FailKind,
		FailReason: attempt.FailReason,
		ElapsedMS:  elapsed.Milliseconds(),
	}
	for _, step := range attempt.Steps {
		if step.Submission != nil {
			result.Verdicts = append(result.Verdicts, domain.StepVerdict{
				URL:     step.URL,
				Verdict: step.Submission.Verdict(),
			})
		}
		if step.Execution != nil && step.Execution.OK {
			result.LastAnswer = renderAnswer(step.Execution.Answer)
		}
	}

	log.Info("attempt finished",
		zap.String("status", string(attempt.Status)),
		zap.Int("questions", result.Questions),
		zap.Duration("elapsed", elapsed))
	return result
}

// attemptLogger tees the process logger with a per-attempt log file.
func (s *Solver) attemptLogger(dir string) (*zap.Logger, func()) {
	if dir == "" {
		return s.logger, func() {}
	}
	f, err := os.OpenFile(filepath.Join(dir, "attempt.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Error("could not open attempt log", zap.Error(err))
		return s.logger, func() {}
	}
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(f),
		zapcore.InfoLevel,
	)
	lg := zap.New(zapcore.NewTee(s.logger.Core(), fileCore))
	return lg, func() {
		_ = lg.Sync()
		_ = f.Close()
	}
}

func renderAnswer(answer any) string {
	switch v := answer.(type) {
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

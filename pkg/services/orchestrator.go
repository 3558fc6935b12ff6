package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/apperrors"
	"github.com/ekaya-inc/insightpilot/pkg/audit"
	"github.com/ekaya-inc/insightpilot/pkg/cache"
	"github.com/ekaya-inc/insightpilot/pkg/logging"
	"github.com/ekaya-inc/insightpilot/pkg/metrics"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	"github.com/ekaya-inc/insightpilot/pkg/prompts"
)

// ExplanationUnavailable replaces the explanation when none could be produced.
const ExplanationUnavailable = "Explanation unavailable."

// DefaultMaxRetries is the number of repair attempts after the first
// execution when OrchestratorConfig leaves MaxRetries at zero.
const DefaultMaxRetries = 2

// NoRetries disables repair: the first execution error ends the run.
const NoRetries = -1

// historyWriteTimeout bounds the history write, which runs even after the
// run's own context is cancelled.
const historyWriteTimeout = 5 * time.Second

// Stage is one state of the pipeline.
type Stage string

const (
	StageIdle          Stage = "idle"
	StageConnectDB     Stage = "connect_db"
	StageFetchSchema   Stage = "fetch_schema"
	StageBuildPrompt   Stage = "build_prompt"
	StageGenerate      Stage = "generate"
	StageSanitize      Stage = "sanitize"
	StageExecute       Stage = "execute"
	StageSuccess       Stage = "success"
	StageRetryDecision Stage = "retry_decision"
	StageExplain       Stage = "explain"
	StageRecordHistory Stage = "record_history"
	StageDone          Stage = "done"
)

// Event is a progress notification. Table is set for the per-table events of
// FetchSchema; Attempt is set from Generate onwards.
type Event struct {
	RunID   string `json:"run_id"`
	Stage   Stage  `json:"stage"`
	Detail  string `json:"detail,omitempty"`
	Table   string `json:"table,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// ProgressFunc receives events synchronously from the run's goroutine.
type ProgressFunc func(Event)

// ConnectionResolver looks up enabled database descriptors.
type ConnectionResolver interface {
	ResolveDB(name string) (models.ConnectionDescriptor, error)
}

// ProviderPool is the part of llm.Pool the orchestrator calls.
type ProviderPool interface {
	Default() string
	Generate(ctx context.Context, prompt, name string) (models.GeneratedQuery, error)
	GenerateWithFailover(ctx context.Context, prompt string, order []string, exclude string) (models.GeneratedQuery, error)
}

// OrchestratorConfig holds the pipeline knobs.
type OrchestratorConfig struct {
	// MaxRetries bounds repair attempts. Zero selects DefaultMaxRetries and
	// a negative value disables repair.
	MaxRetries int
	// AllowFailover enables failover for every run, not just the runs that
	// ask for it.
	AllowFailover bool
}

// QueryOrchestrator runs the question-to-answer pipeline. Runs are
// independent: each gets its own adapter and context.
type QueryOrchestrator struct {
	registry ConnectionResolver
	pool     ProviderPool
	history  HistoryService
	factory  datasource.AdapterFactory
	explain  cache.ExplanationCache
	cfg      OrchestratorConfig
	metrics  *metrics.Metrics
	auditor  *audit.SecurityAuditor
	logger   *zap.Logger

	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

// OrchestratorOption configures optional collaborators.
type OrchestratorOption func(*QueryOrchestrator)

// WithMetrics reports run outcomes, executions and retries to m.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *QueryOrchestrator) { o.metrics = m }
}

// WithAuditor records gate rejections and every backend execution.
func WithAuditor(a *audit.SecurityAuditor) OrchestratorOption {
	return func(o *QueryOrchestrator) { o.auditor = a }
}

// NewQueryOrchestrator wires the pipeline. history and explainCache may be
// nil, which disables recording and caching.
func NewQueryOrchestrator(
	registry ConnectionResolver,
	pool ProviderPool,
	history HistoryService,
	adapterFactory datasource.AdapterFactory,
	explainCache cache.ExplanationCache,
	cfg OrchestratorConfig,
	logger *zap.Logger,
	opts ...OrchestratorOption,
) *QueryOrchestrator {
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = DefaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	o := &QueryOrchestrator{
		registry: registry,
		pool:     pool,
		history:  history,
		factory:  adapterFactory,
		explain:  explainCache,
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		runs:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one request to completion and always returns an outcome.
func (o *QueryOrchestrator) Run(ctx context.Context, req models.QueryRequest, onProgress ProgressFunc) *models.QueryOutcome {
	runID, runCtx, finish := o.begin(ctx)
	defer finish()
	return o.run(runCtx, runID, req, onProgress)
}

// RunAsync starts a run in its own goroutine. Events are delivered on the
// first channel, which is closed before the outcome is sent on the second.
// Callers must drain events until the channel closes or cancel ctx.
func (o *QueryOrchestrator) RunAsync(ctx context.Context, req models.QueryRequest) (string, <-chan Event, <-chan *models.QueryOutcome) {
	runID, runCtx, finish := o.begin(ctx)
	events := make(chan Event, 64)
	result := make(chan *models.QueryOutcome, 1)

	go func() {
		defer close(result)
		defer finish()

		outcome := o.run(runCtx, runID, req, func(e Event) {
			select {
			case events <- e:
			case <-runCtx.Done():
			}
		})
		close(events)
		result <- outcome
	}()
	return runID, events, result
}

// Cancel cancels an in-flight run. It reports whether the run was found.
func (o *QueryOrchestrator) Cancel(runID string) bool {
	o.mu.Lock()
	cancel, ok := o.runs[runID]
	o.mu.Unlock()
	if ok {
		o.logger.Info("Cancelling run", zap.String("run_id", runID))
		cancel()
	}
	return ok
}

// ActiveRuns lists the ids of runs in flight, sorted.
func (o *QueryOrchestrator) ActiveRuns() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *QueryOrchestrator) begin(parent context.Context) (string, context.Context, func()) {
	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)

	o.mu.Lock()
	o.runs[runID] = cancel
	o.mu.Unlock()

	return runID, ctx, func() {
		o.mu.Lock()
		delete(o.runs, runID)
		o.mu.Unlock()
		cancel()
	}
}

// runState is the mutable state of a single run.
type runState struct {
	id         string
	req        models.QueryRequest
	onProgress ProgressFunc

	knownConnection bool
	dialect         datasource.Dialect
	provider        string
	candidate       string
	attempts        int
	result          *models.ExecutionResult
}

func (st *runState) auditInfo() audit.RunInfo {
	return audit.RunInfo{RunID: st.id, Connection: st.req.ConnectionName, Provider: st.provider}
}

func (o *QueryOrchestrator) emit(st *runState, stage Stage, detail string) {
	o.logger.Debug("Pipeline stage",
		zap.String("run_id", st.id),
		zap.String("stage", string(stage)),
		zap.Int("attempt", st.attempts))
	if st.onProgress != nil {
		st.onProgress(Event{RunID: st.id, Stage: stage, Detail: detail, Attempt: st.attempts})
	}
}

func (o *QueryOrchestrator) run(ctx context.Context, runID string, req models.QueryRequest, onProgress ProgressFunc) *models.QueryOutcome {
	start := time.Now()
	st := &runState{id: runID, req: req, onProgress: onProgress, dialect: datasource.DialectSQL}
	outcome := &models.QueryOutcome{RunID: runID}

	o.logger.Info("Starting run",
		zap.String("run_id", runID),
		zap.String("connection", req.ConnectionName),
		zap.String("provider", req.ProviderName))
	o.emit(st, StageIdle, "")

	if perr := o.pipeline(ctx, st); perr != nil {
		outcome.Error = perr
	} else {
		outcome.Success = true
		outcome.Result = st.result
		o.emit(st, StageSuccess, "")
		if perr := o.checkpoint(ctx, st); perr != nil {
			outcome.Success = false
			outcome.Error = perr
		} else {
			outcome.Explanation = o.explainQuery(ctx, st)
		}
	}

	outcome.FinalQueryText = st.candidate
	outcome.Attempts = st.attempts
	outcome.Provider = st.provider

	if st.knownConnection || st.candidate != "" {
		o.emit(st, StageRecordHistory, "")
		outcome.HistoryID = o.recordHistory(ctx, st, outcome)
	}

	outcome.TotalTimeMs = time.Since(start).Milliseconds()
	o.metrics.RunFinished(outcome.Kind())
	o.emit(st, StageDone, string(outcome.Kind()))

	if outcome.Error != nil {
		o.logger.Warn("Run failed",
			zap.String("run_id", runID),
			zap.String("kind", string(outcome.Error.Kind)),
			zap.String("error", logging.SanitizeText(outcome.Error.Message)),
			zap.Int("attempts", outcome.Attempts))
	} else {
		o.logger.Info("Run succeeded",
			zap.String("run_id", runID),
			zap.String("provider", outcome.Provider),
			zap.Int("attempts", outcome.Attempts),
			zap.Int64("total_time_ms", outcome.TotalTimeMs))
	}
	return outcome
}

// checkpoint ends the run as Cancelled once ctx is done.
func (o *QueryOrchestrator) checkpoint(ctx context.Context, st *runState) *apperrors.PipelineError {
	if err := ctx.Err(); err != nil {
		return o.cancelled(st, err)
	}
	return nil
}

func (o *QueryOrchestrator) cancelled(st *runState, cause error) *apperrors.PipelineError {
	return apperrors.NewPipelineError(apperrors.KindCancelled, "run cancelled", cause).
		WithQuery(st.candidate).
		WithSuggestion("The run was cancelled before it finished.")
}

// pipeline runs ConnectDB through Execute. The adapter is disconnected on
// every path, including a panic, which is returned as Internal.
func (o *QueryOrchestrator) pipeline(ctx context.Context, st *runState) (perr *apperrors.PipelineError) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Run panicked",
				zap.String("run_id", st.id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			perr = apperrors.NewPipelineError(apperrors.KindInternal, fmt.Sprintf("internal error: %v", r), nil).
				WithQuery(st.candidate).
				WithSuggestion("The run was aborted by an internal error; try again or report it.")
		}
	}()

	// ConnectDB
	o.emit(st, StageConnectDB, st.req.ConnectionName)
	if perr := o.checkpoint(ctx, st); perr != nil {
		return perr
	}
	desc, err := o.registry.ResolveDB(st.req.ConnectionName)
	if err != nil {
		return connectionFailed(fmt.Sprintf("unknown connection %q", st.req.ConnectionName), err)
	}
	st.knownConnection = true
	if st.req.BackendKind != "" && !strings.EqualFold(st.req.BackendKind, desc.Subtype()) {
		return connectionFailed(fmt.Sprintf("connection %q is %s, not %s", desc.Name, desc.Subtype(), st.req.BackendKind), nil)
	}

	adapter, err := o.factory.NewAdapter(desc)
	if err != nil {
		return connectionFailed(fmt.Sprintf("no adapter for connection %q", desc.Name), err)
	}
	defer func() {
		if err := adapter.Disconnect(); err != nil {
			o.logger.Warn("Failed to disconnect", zap.String("run_id", st.id), zap.Error(err))
		}
	}()
	if err := adapter.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return o.cancelled(st, err)
		}
		return connectionFailed(fmt.Sprintf("failed to connect to %q: %s", desc.Name, logging.SanitizeError(err)), err)
	}
	st.dialect = adapter.Dialect()

	// FetchSchema
	o.emit(st, StageFetchSchema, "")
	if perr := o.checkpoint(ctx, st); perr != nil {
		return perr
	}
	tables, err := adapter.GetSchema(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return o.cancelled(st, err)
		}
		return connectionFailed(fmt.Sprintf("failed to read schema: %s", logging.SanitizeError(err)), err)
	}
	if len(tables) == 0 {
		return apperrors.NewPipelineError(apperrors.KindEmptySchema, "the database has no visible tables", nil).
			WithSuggestion("Check that the connection points at the right database and the user can see its tables.")
	}
	for _, t := range tables {
		if st.onProgress != nil {
			st.onProgress(Event{RunID: st.id, Stage: StageFetchSchema, Table: t.Name})
		}
	}

	// BuildPrompt
	o.emit(st, StageBuildPrompt, fmt.Sprintf("%d tables", len(tables)))
	if perr := o.checkpoint(ctx, st); perr != nil {
		return perr
	}
	schemaText := prompts.FormatSchema(tables)
	prompt := prompts.BuildGenerate(st.dialect, schemaText, st.req.Question)

	// Generate
	st.attempts = 1
	o.emit(st, StageGenerate, "")
	if perr := o.checkpoint(ctx, st); perr != nil {
		return perr
	}
	candidate, perr := o.generate(ctx, st, prompt)
	if perr != nil {
		return perr
	}

	rules := adapter.ErrorRules()
	for {
		candidate.AttemptNumber = st.attempts
		st.candidate = candidate.Text
		st.provider = candidate.Provider

		// Sanitize
		o.emit(st, StageSanitize, "")
		if perr := o.checkpoint(ctx, st); perr != nil {
			return perr
		}
		clean, err := adapter.SanitizeQuery(candidate.Text)
		if err == nil {
			err = adapter.ValidateQuery(clean)
		}
		if err != nil {
			o.auditor.LogRejection(ctx, st.auditInfo(), candidate.Text, err)
			return apperrors.NewPipelineError(apperrors.KindQueryRejected, err.Error(), err).
				WithQuery(candidate.Text).
				WithSuggestion("Only read-only queries are allowed; rephrase the question as a read.")
		}
		st.candidate = clean

		// Execute
		o.emit(st, StageExecute, "")
		if perr := o.checkpoint(ctx, st); perr != nil {
			return perr
		}
		o.metrics.ExecutionAttempt()
		res := adapter.Execute(ctx, clean)
		st.result = &res
		o.auditor.LogQueryExecution(ctx, st.auditInfo(), audit.ExecutionDetails{
			Query:      clean,
			Attempt:    st.attempts,
			RowCount:   res.RowCount,
			ExecTimeMs: res.ExecTimeMs,
			Failed:     res.Failed(),
		})
		if !res.Failed() {
			if !res.WellFormed() {
				return apperrors.NewPipelineError(apperrors.KindInternal, "backend returned a malformed result", nil).
					WithQuery(clean)
			}
			return nil
		}

		// RetryDecision
		o.emit(st, StageRetryDecision, logging.SanitizeText(res.Error))
		if perr := o.checkpoint(ctx, st); perr != nil {
			return perr
		}
		cls := rules.Classify(res.Error, res.ErrorCode)
		if !cls.Retryable || st.attempts > o.cfg.MaxRetries {
			suggestion := cls.Hint
			if suggestion == "" {
				suggestion = "Rephrase the question or check that the tables and columns it needs exist."
			}
			return apperrors.NewPipelineError(apperrors.KindExecutionFailed, res.Error, nil).
				WithQuery(clean).
				WithSuggestion(suggestion)
		}

		o.metrics.Retry()
		o.logger.Info("Repairing failed query",
			zap.String("run_id", st.id),
			zap.Int("attempt", st.attempts),
			zap.String("error", logging.SanitizeText(res.Error)))

		repair := prompts.BuildRepair(st.dialect, schemaText, st.req.Question, res.Error, clean, rules.Hints(res.Error, res.ErrorCode))
		st.attempts++
		o.emit(st, StageGenerate, "repair")
		q, err := o.pool.Generate(ctx, repair, st.provider)
		if err != nil {
			if ctx.Err() != nil {
				return o.cancelled(st, err)
			}
			return generationFailed(fmt.Sprintf("repair generation failed: %s", logging.SanitizeError(err)), err).WithQuery(clean)
		}
		text := prompts.ExtractQuery(q.Text)
		if text == "" {
			return generationFailed("provider returned an empty repair query", nil).WithQuery(clean)
		}
		candidate = models.GeneratedQuery{Text: text, Provider: st.provider, TokensUsed: q.TokensUsed}
	}
}

// generate produces the first candidate. With failover allowed, a failure of
// the chosen provider hands over to the rest of the pool.
func (o *QueryOrchestrator) generate(ctx context.Context, st *runState, prompt string) (models.GeneratedQuery, *apperrors.PipelineError) {
	name := st.req.ProviderName
	if name == "" {
		name = o.pool.Default()
	}
	if name == "" {
		return models.GeneratedQuery{}, generationFailed("no LLM provider is configured", nil)
	}

	q, err := o.pool.Generate(ctx, prompt, name)
	if err != nil && ctx.Err() == nil && (st.req.AllowFailover || o.cfg.AllowFailover) {
		o.logger.Warn("Provider failed, failing over",
			zap.String("run_id", st.id),
			zap.String("provider", name),
			zap.String("error", logging.SanitizeError(err)))
		q, err = o.pool.GenerateWithFailover(ctx, prompt, nil, name)
	}
	if err != nil {
		if ctx.Err() != nil {
			return models.GeneratedQuery{}, o.cancelled(st, err)
		}
		return models.GeneratedQuery{}, generationFailed(fmt.Sprintf("query generation failed: %s", logging.SanitizeError(err)), err)
	}

	text := prompts.ExtractQuery(q.Text)
	if text == "" {
		st.provider = q.Provider
		return models.GeneratedQuery{}, generationFailed("provider returned an empty query", nil)
	}
	q.Text = text
	return q, nil
}

// explainQuery is best effort and never fails the run.
func (o *QueryOrchestrator) explainQuery(ctx context.Context, st *runState) (explanation string) {
	o.emit(st, StageExplain, "")
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Explanation panicked", zap.String("run_id", st.id), zap.Any("panic", r))
			explanation = ExplanationUnavailable
		}
	}()

	key := cache.Key(string(st.dialect), st.candidate)
	if o.explain != nil {
		if cached, ok := o.explain.Get(ctx, key); ok {
			return cached
		}
	}

	q, err := o.pool.Generate(ctx, prompts.BuildExplain(st.dialect, st.candidate), st.provider)
	text := strings.TrimSpace(q.Text)
	if err != nil || text == "" {
		if err == nil {
			err = errors.New("empty explanation")
		}
		o.logger.Warn("Explanation unavailable",
			zap.String("run_id", st.id),
			zap.String("kind", string(apperrors.KindExplanationUnavailable)),
			zap.String("error", logging.SanitizeError(err)))
		return ExplanationUnavailable
	}
	if o.explain != nil {
		o.explain.Set(ctx, key, text)
	}
	return text
}

// recordHistory appends the run to history. A failure is logged and counted
// but never changes the outcome.
func (o *QueryOrchestrator) recordHistory(ctx context.Context, st *runState, outcome *models.QueryOutcome) (id int64) {
	if o.history == nil {
		return 0
	}
	defer func() {
		if r := recover(); r != nil {
			o.historyFailed(st, fmt.Errorf("panic: %v", r))
			id = 0
		}
	}()

	entry := models.HistoryEntry{
		ConnectionName: st.req.ConnectionName,
		Question:       st.req.Question,
		QueryText:      st.candidate,
		Success:        outcome.Success,
	}
	if st.result != nil {
		entry.ExecTimeMs = st.result.ExecTimeMs
		entry.RowCount = st.result.RowCount
	}
	if outcome.Error != nil {
		entry.ErrorMessage = logging.SanitizeText(outcome.Error.Message)
	}
	if st.candidate != "" {
		entry.Tags = ClassifyQuery(st.dialect, st.candidate)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	id, err := o.history.Add(writeCtx, entry)
	if err != nil {
		o.historyFailed(st, err)
		return 0
	}
	return id
}

func (o *QueryOrchestrator) historyFailed(st *runState, err error) {
	o.metrics.HistoryWriteFailed()
	o.logger.Error("Failed to record history",
		zap.String("run_id", st.id),
		zap.String("kind", string(apperrors.KindHistoryWriteFailed)),
		zap.String("error", logging.SanitizeError(err)))
}

func connectionFailed(msg string, cause error) *apperrors.PipelineError {
	return apperrors.NewPipelineError(apperrors.KindConnectionFailed, msg, cause).
		WithSuggestion("Check that the connection exists, is enabled, and the database is reachable.")
}

func generationFailed(msg string, cause error) *apperrors.PipelineError {
	return apperrors.NewPipelineError(apperrors.KindGenerationFailed, msg, cause).
		WithSuggestion("Check the LLM provider configuration, or retry with another provider.")
}

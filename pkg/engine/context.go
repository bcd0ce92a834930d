package engine

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/apicize/apicize-go/pkg/workspace"
)

// RunnerContext carries everything one run needs: the read-only workspace,
// the per-context variable cache, the run clock, and tuning options. The
// workspace must not be mutated while a run is in progress.
type RunnerContext struct {
	workspace  *workspace.Workspace
	valueCache *workspace.VariableCache
	oauth      *OAuth2Cache

	testsStarted     time.Time
	testsStartedWall time.Time

	overrideRuns int
	enableTrace  bool
	limiter      *rate.Limiter
}

// Option tunes a runner context at construction.
type Option func(*RunnerContext)

// WithOverrideRuns forces every request and group to execute n runs,
// regardless of its configured run count.
func WithOverrideRuns(n int) Option {
	return func(rc *RunnerContext) { rc.overrideRuns = n }
}

// WithAllowedDataPath permits FILE-JSON / FILE-CSV variable sources to read
// files beneath the given directory. Without it, file sources fail.
func WithAllowedDataPath(path string) Option {
	return func(rc *RunnerContext) { rc.valueCache = workspace.NewVariableCache(path) }
}

// WithTrace enables verbose capture on dispatched requests.
func WithTrace() Option {
	return func(rc *RunnerContext) { rc.enableTrace = true }
}

// WithRateLimit caps dispatches across the whole run at n requests per
// second.
func WithRateLimit(n float64) Option {
	return func(rc *RunnerContext) { rc.limiter = rate.NewLimiter(rate.Limit(n), 1) }
}

// WithOAuth2Cache substitutes a private token cache for the process-wide
// one.
func WithOAuth2Cache(cache *OAuth2Cache) Option {
	return func(rc *RunnerContext) { rc.oauth = cache }
}

// NewRunnerContext creates a context for running against the workspace. The
// run clock starts now; all result timestamps are offsets from it.
func NewRunnerContext(ws *workspace.Workspace, opts ...Option) *RunnerContext {
	rc := &RunnerContext{
		workspace:        ws,
		valueCache:       workspace.NewVariableCache(""),
		oauth:            defaultOAuth2Cache,
		testsStarted:     time.Now(),
		testsStartedWall: time.Now(),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Workspace exposes the read-only workspace backing this context.
func (rc *RunnerContext) Workspace() *workspace.Workspace {
	return rc.workspace
}

// elapsedMillis is the offset of now from the start of the run.
func (rc *RunnerContext) elapsedMillis() int64 {
	return time.Since(rc.testsStarted).Milliseconds()
}

// virtualNowMillis is the wall-clock instant the run started, handed to the
// sandbox so scripted clocks are stable across runs.
func (rc *RunnerContext) virtualNowMillis() int64 {
	return rc.testsStartedWall.UnixMilli() + 1
}

func (rc *RunnerContext) runsFor(entry workspace.RequestEntry) int {
	if rc.overrideRuns > 0 {
		return rc.overrideRuns
	}
	return entry.RunCount()
}

// Package pipeline implements the filter decision pipeline: an ordered
// list of stages (route cache, rate limit, auth, validation, pre-screen,
// AI consult) over per-request scratch state, grounded on the reference
// handler-chain shape (HandleAuthentication wrapping an http.HandlerFunc)
// generalized from nested closures into a composable []Stage list.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanolja/modgate"
	"github.com/yanolja/modgate/internal/aiprovider"
	"github.com/yanolja/modgate/internal/apierr"
	"github.com/yanolja/modgate/internal/cache"
	"github.com/yanolja/modgate/internal/credential"
	"github.com/yanolja/modgate/internal/monitoring"
	"github.com/yanolja/modgate/internal/prescreen"
	"github.com/yanolja/modgate/internal/ratelimit"
	"github.com/yanolja/modgate/internal/stats"
	"github.com/yanolja/modgate/internal/utils"
)

// Stage is one step of the filter decision pipeline. Returning cont=false
// with a nil error short-circuits with the state's current Result (e.g. a
// cache hit); returning a non-nil error short-circuits with that error.
type Stage func(ctx context.Context, st *requestState) (cont bool, err error)

// RateLimitConfig bounds requests per identifier+route.
type RateLimitConfig struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitConfig returns the default global limit of 100 requests
// per minute.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Limit: 100, Window: time.Minute}
}

// routeCacheTTL and the AI-result cache's adaptive TTLs.
const (
	routeCacheTTL  = 10 * time.Minute
	aiAllowTTL     = time.Hour
	aiBlockTTL     = 5 * time.Minute
)

// Request is the pipeline's entry point input: the normalized filter
// request plus the HTTP-level fields needed for route-cache keying and
// rate-limit/auth identification.
type Request struct {
	Filter        modgate.FilterRequest
	Method        string
	URL           string
	NoCache       bool
	CredentialKey string // bearer token or apiKey query param, pre-auth
	RemoteIP      string
}

// requestState is the per-request scratch object threaded through every
// stage: start instant, identifier, whether AI/cache were used, and the
// accumulating result.
type requestState struct {
	start      time.Time
	identifier string
	usedAI     bool
	usedCache  bool

	req          *Request
	cred         *credential.Credential
	routeKey     string
	screen       prescreen.Result
	result       modgate.FilterResult
	rateDecision ratelimit.Decision
}

// Pipeline wires every collaborator and exposes Run as the single entry
// point the HTTP edge calls.
type Pipeline struct {
	routeCache *cache.Cache
	aiCache    *cache.Cache
	limiter    *ratelimit.Limiter
	rateCfg    RateLimitConfig
	creds      *credential.Manager
	providers  *aiprovider.Registry
	tracker    *stats.Tracker
	logger     *zap.SugaredLogger
	metrics    *monitoring.Metrics

	sf singleflight.Group

	stages []Stage
}

// New constructs a Pipeline. routeCache and aiCache should be distinct
// cache.Cache instances (the credential manager keeps its own internal pair
// in addition to these two).
// metrics may be nil, in which case no Prometheus observations are recorded.
func New(routeCache, aiCache *cache.Cache, limiter *ratelimit.Limiter, rateCfg RateLimitConfig, creds *credential.Manager, providers *aiprovider.Registry, tracker *stats.Tracker, logger *zap.SugaredLogger, metrics *monitoring.Metrics) *Pipeline {
	p := &Pipeline{
		routeCache: routeCache,
		aiCache:    aiCache,
		limiter:    limiter,
		rateCfg:    rateCfg,
		creds:      creds,
		providers:  providers,
		tracker:    tracker,
		logger:     logger,
		metrics:    metrics,
	}
	p.stages = []Stage{
		p.stageRouteCache,
		p.stageRateLimit,
		p.stageAuth,
		p.stageValidate,
		p.stagePrescreen,
		p.stageAIConsult,
	}
	return p
}

// RunMeta carries per-request facts the HTTP edge needs beyond the
// FilterResult itself: the rate-limit decision (for X-RateLimit-* /
// Retry-After headers) and whether the result came from cache.
type RunMeta struct {
	RateLimit ratelimit.Decision
	UsedCache bool
	UsedAI    bool
}

// Run executes every stage in order, composes the final FilterResult,
// records tracker counters, and populates the route-response cache. Only
// validation, auth, rate-limit, and catastrophic internal faults surface as
// errors; cache/AI/tracker failures degrade gracefully instead.
func (p *Pipeline) Run(ctx context.Context, req *Request) (modgate.FilterResult, RunMeta, error) {
	st := &requestState{start: time.Now(), req: req}

	for _, stage := range p.stages {
		cont, err := stage(ctx, st)
		if err != nil {
			if p.metrics != nil {
				p.metrics.RecordPipelineRun("error", time.Since(st.start).Seconds())
			}
			return modgate.FilterResult{}, RunMeta{RateLimit: st.rateDecision}, err
		}
		if !cont {
			break
		}
	}

	p.composeFilteredContent(st)
	p.recordOutcome(ctx, st)
	p.storeRouteCache(st)

	if p.metrics != nil {
		outcome := "allowed"
		if st.result.Blocked {
			outcome = "blocked"
		}
		p.metrics.RecordPipelineRun(outcome, time.Since(st.start).Seconds())
	}

	return st.result, RunMeta{RateLimit: st.rateDecision, UsedCache: st.usedCache, UsedAI: st.usedAI}, nil
}

// stageRouteCache looks up a prior verdict for an identical request before
// any rate-limit, auth, or moderation work runs.
func (p *Pipeline) stageRouteCache(_ context.Context, st *requestState) (bool, error) {
	if st.req.NoCache || st.req.Method != "POST" {
		return true, nil
	}
	// Credential isn't resolved yet at this point in the chain, so the
	// cache key uses the raw bearer/apiKey string rather than the
	// resolved CallerID; the same caller always presents the same
	// credential, so the key stays deterministic per caller.
	st.routeKey = routeCacheKey(st.req.URL, st.req.Method, st.req.CredentialKey, &st.req.Filter)

	var cached modgate.FilterResult
	hit, err := p.routeCache.Get(st.routeKey, &cached)
	if p.metrics != nil {
		p.metrics.RecordCacheLookup("route", err == nil && hit)
	}
	if err == nil && hit {
		st.usedCache = true
		st.result = cached
		return false, nil
	}
	return true, nil
}

// stageRateLimit enforces the per-identifier, per-route request budget.
func (p *Pipeline) stageRateLimit(ctx context.Context, st *requestState) (bool, error) {
	identifier := st.req.RemoteIP
	if st.req.CredentialKey != "" {
		identifier = credential.CallerID(st.req.RemoteIP)
	}
	st.identifier = identifier

	decision := p.limiter.Allow(ctx, identifier, st.req.URL, p.rateCfg.Limit, p.rateCfg.Window)
	st.rateDecision = decision
	if !decision.Allowed {
		if p.metrics != nil {
			p.metrics.RecordRateLimitRejection(st.req.URL)
		}
		return false, apierr.New(apierr.KindRateLimit, "rate limit exceeded")
	}
	return true, nil
}

// stageAuth resolves the caller's credential, by IP when no credential key
// was presented or by the presented key otherwise.
func (p *Pipeline) stageAuth(ctx context.Context, st *requestState) (bool, error) {
	if st.req.CredentialKey == "" {
		cred, err := p.creds.ForIP(ctx, st.req.RemoteIP)
		if err != nil {
			return false, err
		}
		st.cred = cred
		st.identifier = cred.CallerID
		return true, nil
	}

	cred, err := p.creds.Validate(ctx, st.req.CredentialKey)
	if err != nil {
		return false, err
	}
	st.cred = cred
	st.identifier = cred.CallerID
	return true, nil
}

// stageValidate normalizes the filter config and attaches the resolved
// caller identity before validating request invariants.
func (p *Pipeline) stageValidate(_ context.Context, st *requestState) (bool, error) {
	st.req.Filter.Config = st.req.Filter.Config.Normalize()
	st.req.Filter.CallerID = st.identifier
	st.req.Filter.CallerIP = st.req.RemoteIP
	if err := st.req.Filter.Validate(); err != nil {
		return false, err
	}
	return true, nil
}

// stagePrescreen pre-screens text and, when it clears and no image is
// present, produces an allow verdict directly.
func (p *Pipeline) stagePrescreen(_ context.Context, st *requestState) (bool, error) {
	st.screen = prescreen.Scan(st.req.Filter.Text, st.req.Filter.Config)
	if !st.screen.NeedsAIReview && st.req.Filter.Image == "" {
		st.result = modgate.FilterResult{
			Blocked: false,
			Flags:   nil,
			Reason:  "Content passed all moderation checks",
		}
		if st.req.Filter.Config.ReturnFilteredMessage {
			st.result.FilteredContent = utils.ToPtr(st.req.Filter.Text)
		}
		return false, nil
	}
	return true, nil
}

// stageAIConsult checks the AI-result cache and, on miss, invokes the
// tier-selected provider with singleflight collapsing concurrent identical
// calls, then populates the cache.
func (p *Pipeline) stageAIConsult(ctx context.Context, st *requestState) (bool, error) {
	st.usedAI = true
	key := aiCacheKey(&st.req.Filter)

	var cached modgate.FilterResult
	hit, cacheErr := p.aiCache.Get(key, &cached)
	if p.metrics != nil {
		p.metrics.RecordCacheLookup("ai", cacheErr == nil && hit)
	}
	if cacheErr == nil && hit {
		st.result = cached
		return true, nil
	}

	tier := string(st.req.Filter.ModelTier)
	aiStart := time.Now()
	v, err, _ := p.sf.Do(key, func() (any, error) {
		provider, err := p.providers.Select(st.req.Filter.ModelTier)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "pipeline: no provider available", err)
		}
		return provider.AnalyzeText(ctx, st.req.Filter.Text, st.req.Filter.History, st.req.Filter.Config)
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordAICall(tier, "error", time.Since(aiStart).Seconds())
		}
		return false, err
	}
	result := v.(modgate.FilterResult)
	st.result = result

	if p.metrics != nil {
		callResult := "allowed"
		if result.Blocked {
			callResult = "blocked"
		}
		p.metrics.RecordAICall(tier, callResult, time.Since(aiStart).Seconds())
	}

	if result.IsCacheable() {
		ttl := aiBlockTTL
		if !result.Blocked {
			ttl = aiAllowTTL
		}
		if setErr := p.aiCache.Set(key, result, ttl); setErr != nil {
			p.logger.Warnw("pipeline: ai cache populate failed", "error", setErr)
		}
	}
	return true, nil
}

// composeFilteredContent ensures filteredContent is set when
// returnFilteredMessage and blocked, falling back to asterisk-redaction of
// the pre-screen's matched byte ranges.
func (p *Pipeline) composeFilteredContent(st *requestState) {
	if !st.req.Filter.Config.ReturnFilteredMessage || !st.result.Blocked {
		return
	}
	if st.result.FilteredContent != nil {
		return
	}
	if len(st.screen.Matches) == 0 {
		return
	}
	st.result.FilteredContent = utils.ToPtr(prescreen.Redact(st.req.Filter.Text, st.screen.Matches))
}

func (p *Pipeline) recordOutcome(ctx context.Context, st *requestState) {
	apiType := stats.APITypeText
	if st.req.Filter.Image != "" {
		apiType = stats.APITypeImage
	}
	p.tracker.RecordRequest(ctx, stats.Outcome{
		CallerID:  st.identifier,
		Blocked:   st.result.Blocked,
		Cached:    st.usedCache,
		Flags:     st.result.Flags,
		LatencyMs: stats.Elapsed(st.start),
		APIType:   apiType,
		IsError:   st.result.HasFlag(modgate.FlagError),
	})
}

func (p *Pipeline) storeRouteCache(st *requestState) {
	if st.usedCache || st.routeKey == "" {
		return
	}
	if err := p.routeCache.Set(st.routeKey, st.result, routeCacheTTL); err != nil {
		p.logger.Warnw("pipeline: route cache populate failed", "error", err)
	}
}

// RateLimitHeaders exposes the last rate-limit decision for the HTTP edge
// to render as X-RateLimit-* / Retry-After headers.
func RateLimitHeaders(decision ratelimit.Decision) map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     fmt.Sprintf("%d", decision.Limit),
		"X-RateLimit-Remaining": fmt.Sprintf("%d", decision.Remaining),
	}
}

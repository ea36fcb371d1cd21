package imagegen

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/storyboard/internal/metrics"
	"github.com/BaSui01/storyboard/types"
)

// defaultHTTPTimeout covers one full synchronous generation round trip;
// image models are slow.
const defaultHTTPTimeout = 120 * time.Second

// Client is the only entry point consumed by the UI. It composes the
// normalizer, classifier, request builder, extractor, poller, stream
// reader and retry controller into a single Generate call.
type Client struct {
	httpClient  *http.Client
	logger      *zap.Logger
	norm        *Normalizer
	stream      *streamReader
	ext         *extractor
	retryPolicy RetryPolicy
	pollInterval    time.Duration
	pollMaxAttempts int
	limiter     *rate.Limiter
	collector   *metrics.Collector
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger; defaults to a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetryPolicy overrides the default three-attempt linear backoff.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) { c.retryPolicy = policy }
}

// WithPollInterval overrides the async task polling interval.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) { c.pollInterval = interval }
}

// WithPollBudget overrides the maximum number of poll attempts.
func WithPollBudget(attempts int) Option {
	return func(c *Client) { c.pollMaxAttempts = attempts }
}

// WithRateLimit throttles outbound dispatches to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Client) { c.collector = collector }
}

// NewClient creates a generation client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		retryPolicy:     DefaultRetryPolicy(),
		pollInterval:    defaultPollInterval,
		pollMaxAttempts: defaultPollMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.norm = NewNormalizer(c.httpClient, c.logger)
	c.stream = newStreamReader(c.logger)
	c.ext = newExtractor(c.norm, c.stream, c.logger)
	return c
}

// Generate runs one full generation: validate, normalize, classify, build,
// dispatch with retries, and hand off to the poller when the backend
// answers with a task instead of an image. onProgress is advisory and may
// be nil.
func (c *Client) Generate(ctx context.Context, req *GenerationRequest, cfg ProviderConfig, onProgress ProgressFunc) (*GenerationResult, error) {
	start := time.Now()
	provider := cfg.ResolveProvider()
	log := c.logger.With(
		zap.String("trace_id", uuid.NewString()),
		zap.String("provider", string(provider)),
		zap.String("model", cfg.Model),
	)

	result, err := c.generate(ctx, req, cfg, provider, &progressReporter{fn: onProgress}, log)
	duration := time.Since(start)
	if err != nil {
		c.collector.RecordError(string(types.GetErrorCode(err)))
		c.collector.RecordGeneration(string(provider), "error", duration)
		log.Warn("generation failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, err
	}

	c.collector.RecordGeneration(string(provider), "ok", duration)
	log.Info("generation finished", zap.Duration("duration", duration))
	return result, nil
}

func (c *Client) generate(ctx context.Context, req *GenerationRequest, cfg ProviderConfig, provider Provider, progress *progressReporter, log *zap.Logger) (*GenerationResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	// Fail fast on an unusable endpoint before touching the network.
	if _, err := parseAbsoluteURL(cfg.Endpoint); err != nil {
		return nil, err
	}
	progress.report(10)

	imgs, err := c.normalizeImages(ctx, req)
	if err != nil {
		return nil, err
	}

	policy := c.retryPolicy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.collector.RecordRetry(string(provider))
	}

	out, err := newRetryer(policy, log).Do(ctx, func(attempt int) (*outcome, error) {
		progress.report(min(30+10*(attempt-1), 60))
		return c.dispatch(ctx, provider, req, imgs, cfg)
	})
	if err != nil {
		return nil, err
	}
	progress.report(70)

	result := out.result
	if out.task != nil {
		// The poller carries its own patience budget; it is deliberately
		// outside the retry loop.
		p := newPoller(c.httpClient, c.ext, log)
		p.interval = c.pollInterval
		p.maxAttempts = c.pollMaxAttempts
		p.onAttempt = func() { c.collector.RecordPoll(string(provider)) }
		result, err = p.Poll(ctx, out.task, provider, cfg)
		if err != nil {
			return nil, err
		}
	}

	progress.report(90)
	if result.Model == "" {
		result.Model = cfg.Model
	}
	progress.report(100)
	return result, nil
}

// dispatch performs one build→POST→extract cycle.
func (c *Client) dispatch(ctx context.Context, provider Provider, req *GenerationRequest, imgs normalizedImages, cfg ProviderConfig) (*outcome, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, types.NewErrorf(types.ErrNetwork, "请求被取消: %v", err).WithCause(err)
		}
	}

	built, err := buildRequest(provider, req, imgs, cfg)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, built.URL, bytes.NewReader(built.Body))
	if err != nil {
		return nil, types.NewErrorf(types.ErrInvalidEndpoint, "接口地址无效: %v", err)
	}
	httpReq.Header = built.Header

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, types.NewErrorf(types.ErrNetwork, "请求发送失败: %v", err).
			WithRetryable(true).WithCause(err).WithProvider(string(provider))
	}
	defer resp.Body.Close()

	return c.ext.Extract(ctx, provider, cfg, resp)
}

func (c *Client) normalizeImages(ctx context.Context, req *GenerationRequest) (normalizedImages, error) {
	var imgs normalizedImages
	var err error

	imgs.Storyboard, err = c.norm.Normalize(ctx, req.StoryboardImage)
	if err != nil {
		return imgs, err
	}
	if !req.RoleImage.IsZero() {
		if imgs.Role, err = c.norm.Normalize(ctx, req.RoleImage); err != nil {
			return imgs, err
		}
	}
	if !req.SceneImage.IsZero() {
		if imgs.Scene, err = c.norm.Normalize(ctx, req.SceneImage); err != nil {
			return imgs, err
		}
	}
	return imgs, nil
}

func validateRequest(req *GenerationRequest) error {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return types.NewError(types.ErrInvalidInput, "提示词不能为空")
	}
	if req.StoryboardImage.IsZero() {
		return types.NewError(types.ErrInvalidInput, "缺少分镜参考图")
	}
	return nil
}

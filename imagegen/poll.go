package imagegen

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/storyboard/types"
)

// Fixed polling policy: 2s interval, 30 attempts, 60s of patience total.
// The poller encodes its own budget and is never wrapped by the outer
// retry controller.
const (
	defaultPollInterval    = 2 * time.Second
	defaultPollMaxAttempts = 30
)

// poller repeatedly queries a result endpoint for the outcome of a
// submitted task. Transient failures are swallowed and treated as "still
// pending"; only an explicit failure state or budget exhaustion ends the
// loop early.
type poller struct {
	client      *http.Client
	ext         *extractor
	logger      *zap.Logger
	interval    time.Duration
	maxAttempts int
	onAttempt   func()
}

func newPoller(client *http.Client, ext *extractor, logger *zap.Logger) *poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &poller{
		client:      client,
		ext:         ext,
		logger:      logger,
		interval:    defaultPollInterval,
		maxAttempts: defaultPollMaxAttempts,
	}
}

// Poll blocks until the task reaches a terminal state or the budget runs
// out, returning TIMEOUT with the task id for operator follow-up.
func (p *poller) Poll(ctx context.Context, task *pendingTask, provider Provider, cfg ProviderConfig) (*GenerationResult, error) {
	pollURL := task.PollURL
	if pollURL == "" {
		pollURL = deriveResultEndpoint(cfg.Endpoint)
	}
	pollURL = withTaskID(pollURL, task.ID)

	log := p.logger.With(zap.String("task_id", task.ID), zap.String("poll_url", pollURL))

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, types.NewErrorf(types.ErrNetwork, "轮询被取消: %v", ctx.Err()).
				WithCause(ctx.Err()).WithTaskID(task.ID)
		case <-time.After(p.interval):
		}

		if p.onAttempt != nil {
			p.onAttempt()
		}
		result, done, err := p.once(ctx, pollURL, provider, cfg)
		if err != nil {
			return nil, err
		}
		if done {
			log.Debug("task finished", zap.Int("attempt", attempt))
			return result, nil
		}
		log.Debug("task still pending", zap.Int("attempt", attempt))
	}

	return nil, types.NewErrorf(types.ErrTimeout,
		"生成任务超时（%d 次轮询未完成），任务 ID：%s", p.maxAttempts, task.ID).
		WithTaskID(task.ID).WithProvider(string(provider))
}

// once issues a single best-effort poll. It returns a non-nil error only
// for an explicit terminal failure; everything else is "not done yet".
func (p *poller) once(ctx context.Context, pollURL string, provider Provider, cfg ProviderConfig) (*GenerationResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return nil, false, nil
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, types.NewErrorf(types.ErrNetwork, "轮询被取消: %v", ctx.Err()).
				WithCause(ctx.Err())
		}
		p.logger.Debug("poll attempt failed", zap.Error(err))
		return nil, false, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, false, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, nil
	}

	status := statusOf(doc)
	if isFailureStatus(status) {
		return nil, false, classifyProviderFailure(errorMessageOf(doc), provider).
			WithTaskID(taskIDOf(doc))
	}
	if resp.StatusCode >= 400 || isPendingStatus(status) {
		return nil, false, nil
	}

	// Terminal success, or a body with no status at all: try to pull an
	// image out of it; failure to find one is just "still pending".
	for _, se := range shapeExtractors {
		candidate, ok := se.fn(raw, doc)
		if !ok {
			continue
		}
		result, err := p.ext.resolveImage(ctx, candidate, cfg.Model)
		if err != nil {
			if types.IsRetryable(err) {
				p.logger.Debug("result image fetch failed, keeping task pending", zap.Error(err))
				return nil, false, nil
			}
			return nil, false, err
		}
		return result, true, nil
	}
	return nil, false, nil
}

// Task-submission path segments and their result-query counterparts.
var taskResultSegments = [][2]string{
	{"/createtask", "/recordInfo"},
	{"/create-task", "/task-result"},
	{"/create_task", "/task_result"},
	{"/submit-task", "/task-result"},
	{"/task/submit", "/task/result"},
	{"/tasks/submit", "/tasks/result"},
}

// deriveResultEndpoint rewrites a task-submission URL into its result
// endpoint when the submission response carried no polling URL.
func deriveResultEndpoint(endpoint string) string {
	lower := strings.ToLower(endpoint)
	for _, pair := range taskResultSegments {
		if idx := strings.Index(lower, pair[0]); idx >= 0 {
			return endpoint[:idx] + pair[1] + endpoint[idx+len(pair[0]):]
		}
	}
	return strings.TrimRight(endpoint, "/") + "/result"
}

func withTaskID(pollURL, taskID string) string {
	if taskID == "" {
		return pollURL
	}
	u, err := url.Parse(pollURL)
	if err != nil {
		return pollURL
	}
	q := u.Query()
	if q.Get("taskId") == "" {
		q.Set("taskId", taskID)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

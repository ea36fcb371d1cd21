package imagegen

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/storyboard/types"
)

// RetryPolicy 定义生成调用的重试策略。
// 退避为线性：第 k 次失败后等待 BaseDelay*k 再试。
type RetryPolicy struct {
	MaxAttempts int           // 总尝试次数（含首次）
	BaseDelay   time.Duration // 线性退避基数
	OnRetry     func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy matches the fixed policy of the generation pipeline:
// three attempts with 1s linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// retryer orchestrates attempts over one build→dispatch→extract cycle.
// Classification drives policy: non-retryable errors (auth, moderation,
// invalid input) surface immediately; everything else is retried until the
// budget is spent, then wrapped as RETRY_EXHAUSTED keeping the last error.
type retryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

func newRetryer(policy RetryPolicy, logger *zap.Logger) *retryer {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryer{policy: policy, logger: logger}
}

func (r *retryer) Do(ctx context.Context, fn func(attempt int) (*outcome, error)) (*outcome, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.policy.BaseDelay * time.Duration(attempt-1)
			r.logger.Debug("retrying generation attempt",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}
			select {
			case <-ctx.Done():
				return nil, types.NewErrorf(types.ErrNetwork, "重试被取消: %v", ctx.Err()).
					WithCause(ctx.Err())
			case <-time.After(delay):
			}
		}

		out, err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("generation attempt succeeded after retry",
					zap.Int("attempt", attempt))
			}
			return out, nil
		}

		lastErr = err
		if !types.IsRetryable(err) {
			r.logger.Debug("error is not retryable", zap.Error(err))
			return nil, err
		}
	}

	r.logger.Warn("retry budget exhausted",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	exhausted := types.NewErrorf(types.ErrExhausted,
		"重试 %d 次后仍然失败：%s", r.policy.MaxAttempts, displayMessage(lastErr)).
		WithCause(lastErr)
	if le, ok := lastErr.(*types.Error); ok {
		exhausted.HTTPStatus = le.HTTPStatus
		exhausted.Provider = le.Provider
	}
	return nil, exhausted
}

// displayMessage keeps the UI-facing text of a structured error, falling
// back to Error() for plain errors.
func displayMessage(err error) string {
	if e, ok := err.(*types.Error); ok {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

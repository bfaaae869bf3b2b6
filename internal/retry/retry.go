package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/ccolleatte/dao-services/internal/metrics"
)

// Options 重试参数
type Options struct {
	MaxRetries    int           // 最大调用次数（含首次）
	InitialDelay  time.Duration // 首次重试前的等待
	MaxDelay      time.Duration // 单次等待上限
	BackoffFactor float64       // 指数因子
}

// DefaultOptions 默认重试参数：3 次，1s 起，每次翻倍，最多 10s
func DefaultOptions() Options {
	return Options{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = def.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = def.BackoffFactor
	}
	return o
}

// Delay 返回第 attempt 次（从0开始）失败后的等待时间
func (o Options) Delay(attempt int) time.Duration {
	o = o.withDefaults()
	d := float64(o.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= o.BackoffFactor
		if d >= float64(o.MaxDelay) {
			return o.MaxDelay
		}
	}
	return time.Duration(d)
}

func (o Options) backOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.InitialDelay
	eb.Multiplier = o.BackoffFactor
	eb.MaxInterval = o.MaxDelay
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(o.MaxRetries-1)), ctx)
}

// Do 以指数退避重试 fn，耗尽次数后返回 *errs.ConnectionError。
// fn 返回校验错误时立即返回，不再重试。
func Do(ctx context.Context, label string, opts Options, fn func() error) error {
	opts = opts.withDefaults()

	attempts := 0
	operation := func() error {
		attempts++
		err := fn()
		if err != nil && errs.IsValidation(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		metrics.ObserveRetry(label, err)
		logger.Warn("Retrying %s after error (attempt %d/%d, delay %s): %v", label, attempts, opts.MaxRetries, next, err)
	}

	err := backoff.RetryNotify(operation, opts.backOff(ctx), notify)
	if err == nil {
		if attempts > 1 {
			metrics.ObserveRetry(label, nil)
		}
		return nil
	}
	if errs.IsValidation(err) {
		return err
	}

	logger.Error("All retry attempts failed for %s (%d attempts): %v", label, attempts, err)
	return &errs.ConnectionError{Op: label, Attempts: attempts, Err: err}
}

// DoValue 与 Do 相同，返回 fn 的结果
func DoValue[T any](ctx context.Context, label string, opts Options, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, label, opts, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

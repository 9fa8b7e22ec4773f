package service

import (
	"context"
	"time"

	"rafflesystem/internal/infrastructure/metrics"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
)

// RetryPolicy 冲突重试策略，次数必须有上限
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
}

// RunInTx 在一个事务中执行 fn，只有并发冲突才会整体重试，其他错误直接返回。
// 重试用尽返回 ErrTransactionConflict。
func RunInTx(ctx context.Context, db *gorm.DB, policy RetryPolicy, fn func(tx *gorm.DB) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		if attempt > 0 {
			metrics.TxConflicts.WithLabelValues("retried").Inc()
		}
		attempt++

		err := db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if isConflict(err) {
			return ErrTransactionConflict
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxRetries)), ctx))
	if err == ErrTransactionConflict {
		metrics.TxConflicts.WithLabelValues("exhausted").Inc()
	}
	return err
}

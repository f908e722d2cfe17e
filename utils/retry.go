package utils

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
)

// WithStoreRetry 对存储操作做有界指数退避重试
// 业务性失败(记录不存在/唯一键冲突)不重试,直接透传;
// 其余视为瞬时故障,重试耗尽后以 store_unavailable 暴露
func WithStoreRetry(op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 2 * time.Second

	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isPermanentStoreError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)

	if err == nil {
		return nil
	}
	if isPermanentStoreError(err) {
		return err
	}
	return StoreError("storage unavailable after retries", err)
}

func isPermanentStoreError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return true
	}
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey)
}

package service

import (
	"errors"
	"fmt"

	"rafflesystem/internal/infrastructure/database"
	"rafflesystem/internal/infrastructure/payment"
	"rafflesystem/internal/repository"

	"gorm.io/gorm"
)

var (
	// 参数校验，事务开始前拒绝
	ErrInvalidArgument = errors.New("参数错误")

	// 业务前置条件，原样提示给用户，不自动重试
	ErrInsufficientBalance  = errors.New("积分不足")
	ErrRaffleNotAvailable   = errors.New("该抽奖当前不可购票")
	ErrNumberTaken          = errors.New("该号码已被占用")
	ErrRewardCooldown       = errors.New("每日奖励尚在冷却中")
	ErrXPThresholdNotMet    = errors.New("经验值未达到该等级要求")
	ErrRewardAlreadyClaimed = errors.New("该等级奖励已领取")
	ErrAlreadyDrawn         = errors.New("该抽奖已开奖或不在开奖状态")

	// 并发冲突，有限次重试后返回
	ErrTransactionConflict = errors.New("并发冲突，请重试")

	// 数据完整性问题，需要人工介入
	ErrIntegrity = errors.New("数据不一致")

	// 重复支付回调，视为成功
	ErrDuplicatePayment = errors.New("该支付已入账")

	// 外部系统错误
	ErrExternal = errors.New("外部服务调用失败")
)

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPrecondition
	KindNotFound
	KindConflict
	KindIntegrity
	KindExternal
)

// KindOf 把错误归类，HTTP 层据此决定提示文案和状态码
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidArgument):
		return KindValidation
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrRaffleNotAvailable),
		errors.Is(err, ErrNumberTaken),
		errors.Is(err, ErrRewardCooldown),
		errors.Is(err, ErrXPThresholdNotMet),
		errors.Is(err, ErrRewardAlreadyClaimed),
		errors.Is(err, ErrAlreadyDrawn),
		errors.Is(err, ErrDuplicatePayment):
		return KindPrecondition
	case errors.Is(err, repository.ErrRaffleNotFound),
		errors.Is(err, repository.ErrPackageNotFound),
		errors.Is(err, repository.ErrTierNotFound),
		errors.Is(err, repository.ErrSaleNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransactionConflict):
		return KindConflict
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, payment.ErrInvalidSignature),
		errors.Is(err, ErrExternal):
		return KindExternal
	}
	return KindInternal
}

// isConflict 数据库层面的并发冲突：乐观锁失败、唯一键冲突、锁竞争
func isConflict(err error) bool {
	return errors.Is(err, ErrTransactionConflict) ||
		errors.Is(err, repository.ErrOptimisticLock) ||
		errors.Is(err, gorm.ErrDuplicatedKey) ||
		database.IsLockContention(err)
}

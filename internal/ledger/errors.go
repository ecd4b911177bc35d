package ledger

import "errors"

// 账本错误分类：
// 校验类 / 权限类 / 阶段冲突类在任何状态变更之前拒绝；
// 资金类错误要求整个操作回滚，不留下只改了一半的记录。
var (
	// ErrNotFound 游戏 id 不存在
	ErrNotFound = errors.New("ledger: game not found")
	// ErrWrongStage 游戏不在本操作要求的阶段（含并发竞争失败方）
	ErrWrongStage = errors.New("ledger: wrong stage")
	// ErrUnauthorized 调用者不具备本次阶段推进的角色
	ErrUnauthorized = errors.New("ledger: unauthorized caller")
	// ErrInvalidPrice 价格必须为正整数
	ErrInvalidPrice = errors.New("ledger: invalid price")
	// ErrInvalidListing 房源标识不能为空
	ErrInvalidListing = errors.New("ledger: invalid listing ref")
	// ErrInvalidBatch 批量参数非法
	ErrInvalidBatch = errors.New("ledger: invalid batch size")
	// ErrInsufficientFunds 开局扣款失败
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrPayoutTransfer 结算派彩转账失败（整个结算已回滚）
	ErrPayoutTransfer = errors.New("ledger: payout transfer failed")
)

package events

import (
	"math/big"
	"time"
)

// 游戏生命周期事件。账本在每次提交成功的变更后发布，
// 订阅方（WS 推送、日志）只做旁路消费，不回写账本。

// Type 事件类型
type Type string

const (
	TypeBatchCreated    Type = "batch_created"
	TypeGameInitialized Type = "game_initialized"
	TypeGuessSubmitted  Type = "guess_submitted"
	TypeGameSettled     Type = "game_settled"
)

// Event 统一事件信封
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// 以下字段按事件类型选填
	Batch   *BatchCreated  `json:"batch,omitempty"`
	Game    *GameLifecycle `json:"game,omitempty"`
	Settled *GameSettled   `json:"settled,omitempty"`
}

// BatchCreated 一批游戏创建完成
type BatchCreated struct {
	Owner     string   `json:"owner"`
	FirstID   uint64   `json:"firstId"`
	LastID    uint64   `json:"lastId"`
	BatchCost *big.Int `json:"batchCost"`
}

// GameLifecycle 单局游戏的阶段推进（初始化 / 提交猜测）
type GameLifecycle struct {
	GameID         uint64 `json:"gameId"`
	Owner          string `json:"owner"`
	Stage          string `json:"stage"`
	ListingID      string `json:"listingId,omitempty"`
	DisplayedPrice uint64 `json:"displayedPrice,omitempty"`
	GuessHigher    *bool  `json:"guessHigher,omitempty"`
}

// GameSettled 游戏结算完成
type GameSettled struct {
	GameID         uint64   `json:"gameId"`
	Owner          string   `json:"owner"`
	DisplayedPrice uint64   `json:"displayedPrice"`
	ActualPrice    uint64   `json:"actualPrice"`
	GuessHigher    bool     `json:"guessHigher"`
	Won            bool     `json:"won"`
	Payout         *big.Int `json:"payout"`
}

package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// Stage 游戏生命周期阶段（只能向前推进，不可跳过或回退）
type Stage uint8

const (
	StageNotStarted     Stage = iota // 已分配但未填入房源
	StageInitialized                 // 已填入房源和展示价格
	StageGuessSubmitted              // 玩家已提交猜测
	StageSettled                     // 已结算（终态）
)

var stageNames = map[Stage]string{
	StageNotStarted:     "not_started",
	StageInitialized:    "initialized",
	StageGuessSubmitted: "guess_submitted",
	StageSettled:        "settled",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// Next 返回下一个阶段；终态返回自身
func (s Stage) Next() Stage {
	if s >= StageSettled {
		return StageSettled
	}
	return s + 1
}

// MarshalJSON 阶段序列化为名称字符串
func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON 从名称字符串反序列化
func (s *Stage) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for stage, n := range stageNames {
		if n == name {
			*s = stage
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", name)
}

// Game 一局猜价游戏的权威记录
//
// 权威数据只存一份（以 ID 为键），玩家维度的列表是派生索引，
// 不做整条记录的副本拷贝
type Game struct {
	ID             uint64     `json:"id"`
	Owner          string     `json:"owner"`           // 玩家地址（创建后不可变）
	Stage          Stage      `json:"stage"`           // 当前阶段
	ListingID      string     `json:"listingId"`       // 外部房源标识（初始化时写入）
	DisplayedPrice uint64     `json:"displayedPrice"`  // 展示价格（初始化时写入，之后不为 0）
	ActualPrice    uint64     `json:"actualPrice"`     // 真实价格（结算时写入）
	GuessHigher    bool       `json:"guessHigher"`     // true = 猜真实价更高
	Won            bool       `json:"won"`             // 仅结算后有意义
	Cost           *big.Int   `json:"cost"`            // 单局成本（1e18 定点）
	Payout         *big.Int   `json:"payout"`          // 赢时 = 2 × Cost，输时为 0
	CreatedAt      time.Time  `json:"createdAt"`
	InitializedAt  *time.Time `json:"initializedAt,omitempty"`
	GuessAt        *time.Time `json:"guessAt,omitempty"`
	SettledAt      *time.Time `json:"settledAt,omitempty"`
}

// IsTerminal 是否处于终态
func (g *Game) IsTerminal() bool {
	return g.Stage == StageSettled
}

// GuessLabel 猜测方向的展示名
func (g *Game) GuessLabel() string {
	if g.GuessHigher {
		return "higher"
	}
	return "lower"
}

// Clone 深拷贝（查询接口返回副本，调用方改不到账本内部状态）
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	cp := *g
	if g.Cost != nil {
		cp.Cost = new(big.Int).Set(g.Cost)
	}
	if g.Payout != nil {
		cp.Payout = new(big.Int).Set(g.Payout)
	}
	cloneTime := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	}
	cp.InitializedAt = cloneTime(g.InitializedAt)
	cp.GuessAt = cloneTime(g.GuessAt)
	cp.SettledAt = cloneTime(g.SettledAt)
	return &cp
}

package ledger

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zillopoly/zillopoly/internal/custody"
	"github.com/zillopoly/zillopoly/internal/domain"
	"github.com/zillopoly/zillopoly/internal/events"
	"github.com/zillopoly/zillopoly/internal/metrics"
	"github.com/zillopoly/zillopoly/pkg/logger"
)

// Ledger 游戏账本：游戏记录的唯一权威存储
//
// 正确性约束：
//   - id 单调递增、不复用；并发开批不会拿到重叠的 id 区间
//   - 同一游戏的变更按 id 串行化，竞争失败方拿到 ErrWrongStage
//   - 阶段只向前推进（NotStarted → Initialized → GuessSubmitted → Settled）
//   - 结算的资金划转与阶段推进是一个原子单元，派彩失败则整体回滚
//
// 玩家维度的列表是 byOwner 派生索引（只存 id），权威记录只有一份
type Ledger struct {
	mu      sync.RWMutex
	games   map[uint64]*slot
	byOwner map[string][]uint64
	nextID  uint64

	bank     custody.Custody
	store    Store
	hub      *events.Hub
	settlers map[string]bool
}

// slot 单个游戏的持锁包装，保证 per-id 串行化
// 变更路径持有 slot.mu，读路径拿 Clone 快照
type slot struct {
	mu   sync.Mutex
	game *domain.Game
}

// Options 账本构造参数
type Options struct {
	Custody  custody.Custody
	Store    Store       // 为 nil 时使用 NopStore（纯内存）
	Hub      *events.Hub // 可选的事件总线
	Settlers []string    // 授权结算者地址
}

// New 构造账本并从存储重放历史记录
func New(opts Options) (*Ledger, error) {
	if opts.Custody == nil {
		return nil, errors.New("ledger: custody is required")
	}
	store := opts.Store
	if store == nil {
		store = NopStore{}
	}

	l := &Ledger{
		games:    make(map[uint64]*slot),
		byOwner:  make(map[string][]uint64),
		nextID:   1,
		bank:     opts.Custody,
		store:    store,
		hub:      opts.Hub,
		settlers: make(map[string]bool),
	}
	for _, addr := range opts.Settlers {
		l.settlers[normalizeAddr(addr)] = true
	}

	games, err := store.LoadAll()
	if err != nil {
		return nil, errors.Wrap(err, "ledger: load store")
	}
	for _, g := range games {
		l.games[g.ID] = &slot{game: g}
		owner := normalizeAddr(g.Owner)
		l.byOwner[owner] = append(l.byOwner[owner], g.ID)
		if g.ID >= l.nextID {
			l.nextID = g.ID + 1
		}
	}
	for _, ids := range l.byOwner {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	if len(games) > 0 {
		logger.Infof("[ledger] 从存储恢复 %d 局游戏, nextID=%d", len(games), l.nextID)
	}
	return l, nil
}

func normalizeAddr(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// IsSettler 检查地址是否为授权结算者
func (l *Ledger) IsSettler(addr string) bool {
	return l.settlers[normalizeAddr(addr)]
}

// CreateBatch 开一批游戏：一次性扣除 batchSize × costPerGame，
// 分配 batchSize 个连续 id 的空位。扣款失败则一局都不创建；
// 落盘失败则退回扣款，重启后也不会出现半截批次。
// 返回闭区间 [firstID, lastID]。
func (l *Ledger) CreateBatch(ctx context.Context, payer string, batchSize int, costPerGame *big.Int) (uint64, uint64, error) {
	if batchSize <= 0 {
		return 0, 0, errors.Wrapf(ErrInvalidBatch, "batchSize=%d", batchSize)
	}
	if costPerGame == nil || costPerGame.Sign() <= 0 {
		return 0, 0, errors.Wrap(ErrInvalidPrice, "costPerGame must be positive")
	}
	payer = normalizeAddr(payer)
	if payer == "" {
		return 0, 0, errors.Wrap(ErrUnauthorized, "empty payer")
	}

	total := new(big.Int).Mul(costPerGame, big.NewInt(int64(batchSize)))
	if err := l.bank.TransferFrom(ctx, payer, "", total); err != nil {
		if errors.Is(err, custody.ErrInsufficientFunds) {
			return 0, 0, errors.Wrapf(ErrInsufficientFunds, "payer=%s need=%s", payer, total)
		}
		return 0, 0, errors.Wrap(err, "ledger: batch debit")
	}

	// id 分配在锁内完成，并发开批拿到的区间互不重叠
	l.mu.Lock()
	defer l.mu.Unlock()

	first := l.nextID
	now := time.Now()
	created := make([]*domain.Game, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		created = append(created, &domain.Game{
			ID:        first + uint64(i),
			Owner:     payer,
			Stage:     domain.StageNotStarted,
			Cost:      new(big.Int).Set(costPerGame),
			Payout:    new(big.Int),
			CreatedAt: now,
		})
	}
	// 整批原子落盘；失败时退回扣款，不提交任何内存状态
	if err := l.store.SaveBatch(created); err != nil {
		if rbErr := l.bank.Transfer(ctx, payer, total); rbErr != nil {
			logger.Errorf("[ledger] 开局落盘失败后退款失败: payer=%s amount=%s err=%v", payer, total, rbErr)
		}
		return 0, 0, errors.Wrapf(err, "ledger: persist batch [%d..%d]", first, first+uint64(batchSize)-1)
	}
	for _, g := range created {
		l.games[g.ID] = &slot{game: g}
		l.byOwner[payer] = append(l.byOwner[payer], g.ID)
	}
	last := first + uint64(batchSize) - 1
	l.nextID = last + 1

	metrics.GamesCreated.Add(int64(batchSize))
	logger.Infof("[ledger] 玩家 %s 开局 %d 批, id=[%d..%d], 总成本=%s", payer, batchSize, first, last, total)
	l.publish(events.Event{
		Type: events.TypeBatchCreated,
		Batch: &events.BatchCreated{
			Owner:     payer,
			FirstID:   first,
			LastID:    last,
			BatchCost: total,
		},
	})
	return first, last, nil
}

// Initialize 结算者为一局游戏填入房源与展示价格（NotStarted → Initialized）
func (l *Ledger) Initialize(caller string, gameID uint64, listingRef string, displayedPrice uint64) error {
	if !l.IsSettler(caller) {
		return errors.Wrapf(ErrUnauthorized, "caller=%s is not a settler", caller)
	}
	if strings.TrimSpace(listingRef) == "" {
		return ErrInvalidListing
	}
	if displayedPrice == 0 {
		return errors.Wrap(ErrInvalidPrice, "displayedPrice must be positive")
	}

	sl, err := l.slotOf(gameID)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.game.Stage != domain.StageNotStarted {
		return errors.Wrapf(ErrWrongStage, "game %d already initialized (stage=%s)", gameID, sl.game.Stage)
	}

	next := sl.game.Clone()
	now := time.Now()
	next.ListingID = listingRef
	next.DisplayedPrice = displayedPrice
	next.Stage = domain.StageInitialized
	next.InitializedAt = &now

	if err := l.store.SaveGame(next); err != nil {
		return errors.Wrapf(err, "ledger: persist game %d", gameID)
	}
	sl.game = next

	metrics.GamesInitialized.Add(1)
	logger.Infof("[ledger] 游戏 %d 初始化: listing=%s 展示价=%d", gameID, listingRef, displayedPrice)
	l.publish(events.Event{
		Type: events.TypeGameInitialized,
		Game: &events.GameLifecycle{
			GameID:         gameID,
			Owner:          next.Owner,
			Stage:          next.Stage.String(),
			ListingID:      listingRef,
			DisplayedPrice: displayedPrice,
		},
	})
	return nil
}

// SubmitGuess 玩家提交猜测（Initialized → GuessSubmitted），只有 owner 有权限
func (l *Ledger) SubmitGuess(caller string, gameID uint64, guessHigher bool) error {
	sl, err := l.slotOf(gameID)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if normalizeAddr(caller) != normalizeAddr(sl.game.Owner) {
		return errors.Wrapf(ErrUnauthorized, "caller=%s is not the owner of game %d", caller, gameID)
	}
	if sl.game.Stage != domain.StageInitialized {
		return errors.Wrapf(ErrWrongStage, "game %d stage=%s, want %s", gameID, sl.game.Stage, domain.StageInitialized)
	}

	next := sl.game.Clone()
	now := time.Now()
	next.GuessHigher = guessHigher
	next.Stage = domain.StageGuessSubmitted
	next.GuessAt = &now

	if err := l.store.SaveGame(next); err != nil {
		return errors.Wrapf(err, "ledger: persist game %d", gameID)
	}
	sl.game = next

	metrics.GuessesSubmitted.Add(1)
	logger.Infof("[ledger] 游戏 %d 提交猜测: %s", gameID, next.GuessLabel())
	guess := guessHigher
	l.publish(events.Event{
		Type: events.TypeGuessSubmitted,
		Game: &events.GameLifecycle{
			GameID:      gameID,
			Owner:       next.Owner,
			Stage:       next.Stage.String(),
			GuessHigher: &guess,
		},
	})
	return nil
}

// Settle 结算者提供真实价格并结算（GuessSubmitted → Settled，终态）
//
// 胜负规则：猜"更高"且真实价 > 展示价，或猜"更低"且真实价 < 展示价；
// 真实价恰好等于展示价时一律算玩家赢（平局让利规则，按原始行为保留）。
// 赢局派彩 = 2 × 单局成本。价格写入、阶段推进和派彩是一个原子单元：
// 派彩转账失败时整个结算回滚，不会出现 Settled 但没拿到钱的记录。
func (l *Ledger) Settle(ctx context.Context, caller string, gameID uint64, actualPrice uint64) error {
	if !l.IsSettler(caller) {
		return errors.Wrapf(ErrUnauthorized, "caller=%s is not a settler", caller)
	}
	if actualPrice == 0 {
		return errors.Wrap(ErrInvalidPrice, "actualPrice must be positive")
	}

	sl, err := l.slotOf(gameID)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	g := sl.game
	if g.Stage != domain.StageGuessSubmitted {
		return errors.Wrapf(ErrWrongStage, "game %d stage=%s, want %s", gameID, g.Stage, domain.StageGuessSubmitted)
	}

	won := actualPrice == g.DisplayedPrice ||
		(g.GuessHigher && actualPrice > g.DisplayedPrice) ||
		(!g.GuessHigher && actualPrice < g.DisplayedPrice)

	next := g.Clone()
	now := time.Now()
	next.ActualPrice = actualPrice
	next.Won = won
	next.Stage = domain.StageSettled
	next.SettledAt = &now
	if won {
		next.Payout = new(big.Int).Mul(g.Cost, big.NewInt(2))
	}

	// 先落盘再派彩；派彩失败则把落盘的状态改回去，整体回滚
	if err := l.store.SaveGame(next); err != nil {
		return errors.Wrapf(err, "ledger: persist game %d", gameID)
	}
	if won {
		if err := l.bank.Transfer(ctx, g.Owner, next.Payout); err != nil {
			if rbErr := l.store.SaveGame(g); rbErr != nil {
				logger.Errorf("[ledger] 游戏 %d 结算回滚落盘失败: %v", gameID, rbErr)
			}
			return errors.Wrapf(ErrPayoutTransfer, "game %d: %v", gameID, err)
		}
	}
	sl.game = next

	metrics.GamesSettled.Add(1)
	if won {
		metrics.GamesWon.Add(1)
	}
	logger.Infof("[ledger] 游戏 %d 结算: 真实价=%d 展示价=%d 猜测=%s won=%v payout=%s",
		gameID, actualPrice, g.DisplayedPrice, g.GuessLabel(), won, next.Payout)
	l.publish(events.Event{
		Type: events.TypeGameSettled,
		Settled: &events.GameSettled{
			GameID:         gameID,
			Owner:          next.Owner,
			DisplayedPrice: next.DisplayedPrice,
			ActualPrice:    actualPrice,
			GuessHigher:    next.GuessHigher,
			Won:            won,
			Payout:         new(big.Int).Set(next.Payout),
		},
	})
	return nil
}

// Get 按 id 查询单局游戏（返回快照副本）
func (l *Ledger) Get(gameID uint64) (*domain.Game, error) {
	sl, err := l.slotOf(gameID)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.game.Clone(), nil
}

// ListByOwner 列出某玩家的全部游戏（按 id 升序的快照副本）
func (l *Ledger) ListByOwner(owner string) []*domain.Game {
	l.mu.RLock()
	ids := append([]uint64(nil), l.byOwner[normalizeAddr(owner)]...)
	l.mu.RUnlock()

	out := make([]*domain.Game, 0, len(ids))
	for _, id := range ids {
		if g, err := l.Get(id); err == nil {
			out = append(out, g)
		}
	}
	return out
}

// ListByStage 列出处于某阶段的全部游戏（结算 worker 扫描用）
func (l *Ledger) ListByStage(stage domain.Stage) []*domain.Game {
	l.mu.RLock()
	ids := make([]uint64, 0, len(l.games))
	for id := range l.games {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*domain.Game
	for _, id := range ids {
		if g, err := l.Get(id); err == nil && g.Stage == stage {
			out = append(out, g)
		}
	}
	return out
}

// Count 全部游戏数量
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.games)
}

// CountByStage 某玩家在某阶段的游戏数量；owner 为空时统计全部玩家
func (l *Ledger) CountByStage(owner string, stage domain.Stage) int {
	var games []*domain.Game
	if owner == "" {
		games = l.ListByStage(stage)
		return len(games)
	}
	n := 0
	for _, g := range l.ListByOwner(owner) {
		if g.Stage == stage {
			n++
		}
	}
	return n
}

func (l *Ledger) slotOf(gameID uint64) (*slot, error) {
	l.mu.RLock()
	sl, ok := l.games[gameID]
	l.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "game %d", gameID)
	}
	return sl, nil
}

func (l *Ledger) publish(ev events.Event) {
	if l.hub != nil {
		l.hub.Publish(ev)
	}
}

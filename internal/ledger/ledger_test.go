package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zillopoly/zillopoly/internal/custody"
	"github.com/zillopoly/zillopoly/internal/domain"
)

const (
	playerAddr  = "0x1111111111111111111111111111111111111111"
	settlerAddr = "0x2222222222222222222222222222222222222222"
	otherAddr   = "0x3333333333333333333333333333333333333333"
)

func tokens(n int64) *big.Int {
	wei := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), wei)
}

func newTestLedger(t *testing.T) (*Ledger, *custody.MemoryBank) {
	t.Helper()
	bank := custody.NewMemoryBank()
	bank.Mint(playerAddr, tokens(1000))
	bank.Mint(custody.PoolAccount, tokens(1000))
	l, err := New(Options{
		Custody:  bank,
		Settlers: []string{settlerAddr},
	})
	require.NoError(t, err)
	return l, bank
}

func TestCreateBatchContiguousIDs(t *testing.T) {
	l, bank := newTestLedger(t)

	first, last, err := l.CreateBatch(context.Background(), playerAddr, 10, tokens(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(10), last)
	assert.Equal(t, 10, l.Count())

	for id := first; id <= last; id++ {
		g, err := l.Get(id)
		require.NoError(t, err)
		assert.Equal(t, domain.StageNotStarted, g.Stage)
		assert.Equal(t, playerAddr, g.Owner)
		assert.Zero(t, g.DisplayedPrice)
		assert.Zero(t, g.ActualPrice)
	}

	// 全批成本一次性扣除
	bal, err := bank.BalanceOf(context.Background(), playerAddr)
	require.NoError(t, err)
	assert.Equal(t, tokens(900), bal)
}

func TestCreateBatchInsufficientFundsCreatesNothing(t *testing.T) {
	l, bank := newTestLedger(t)

	// 余额 1000，开 200 局 × 10 = 2000，必须整体失败
	_, _, err := l.CreateBatch(context.Background(), playerAddr, 200, tokens(10))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 0, l.Count())

	bal, err := bank.BalanceOf(context.Background(), playerAddr)
	require.NoError(t, err)
	assert.Equal(t, tokens(1000), bal, "失败的开局不能扣款")
}

func TestCreateBatchRejectsBadParams(t *testing.T) {
	l, _ := newTestLedger(t)

	_, _, err := l.CreateBatch(context.Background(), playerAddr, 0, tokens(10))
	assert.ErrorIs(t, err, ErrInvalidBatch)

	_, _, err = l.CreateBatch(context.Background(), playerAddr, 5, big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestFullLifecycleScenario(t *testing.T) {
	l, bank := newTestLedger(t)
	ctx := context.Background()

	first, last, err := l.CreateBatch(ctx, playerAddr, 10, tokens(10))
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)
	require.Equal(t, uint64(10), last)

	// 操作者初始化第 3 局
	require.NoError(t, l.Initialize(settlerAddr, 3, "zpid-84074", 500000))
	g, err := l.Get(3)
	require.NoError(t, err)
	assert.Equal(t, domain.StageInitialized, g.Stage)
	assert.Equal(t, uint64(500000), g.DisplayedPrice)

	// 玩家猜"更高"
	require.NoError(t, l.SubmitGuess(playerAddr, 3, true))
	g, _ = l.Get(3)
	assert.Equal(t, domain.StageGuessSubmitted, g.Stage)

	// 真实价 600000 > 500000，赢
	balBefore, _ := bank.BalanceOf(ctx, playerAddr)
	require.NoError(t, l.Settle(ctx, settlerAddr, 3, 600000))
	g, _ = l.Get(3)
	assert.Equal(t, domain.StageSettled, g.Stage)
	assert.True(t, g.Won)
	assert.Equal(t, tokens(20), g.Payout, "派彩 = 2 × 单局成本")

	balAfter, _ := bank.BalanceOf(ctx, playerAddr)
	assert.Equal(t, new(big.Int).Add(balBefore, tokens(20)), balAfter)

	// 第二局：猜"更低"但真实价恰好等于展示价，平局让利也算赢
	require.NoError(t, l.Initialize(settlerAddr, 4, "zpid-84075", 350000))
	require.NoError(t, l.SubmitGuess(playerAddr, 4, false))
	require.NoError(t, l.Settle(ctx, settlerAddr, 4, 350000))
	g, _ = l.Get(4)
	assert.True(t, g.Won, "平局应判玩家赢")
	assert.Equal(t, tokens(20), g.Payout)
}

func TestLosingSettlementPaysNothing(t *testing.T) {
	l, bank := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.CreateBatch(ctx, playerAddr, 1, tokens(10))
	require.NoError(t, err)
	require.NoError(t, l.Initialize(settlerAddr, 1, "zpid-1", 500000))
	require.NoError(t, l.SubmitGuess(playerAddr, 1, true))

	balBefore, _ := bank.BalanceOf(ctx, playerAddr)
	require.NoError(t, l.Settle(ctx, settlerAddr, 1, 400000))

	g, _ := l.Get(1)
	assert.False(t, g.Won)
	assert.Zero(t, g.Payout.Sign())

	balAfter, _ := bank.BalanceOf(ctx, playerAddr)
	assert.Equal(t, balBefore, balAfter)
}

func TestStageOrderEnforced(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.CreateBatch(ctx, playerAddr, 1, tokens(10))
	require.NoError(t, err)

	// 未初始化不能猜
	assert.ErrorIs(t, l.SubmitGuess(playerAddr, 1, true), ErrWrongStage)
	// 未猜不能结算
	require.NoError(t, l.Initialize(settlerAddr, 1, "zpid-1", 100))
	assert.ErrorIs(t, l.Settle(ctx, settlerAddr, 1, 200), ErrWrongStage)
	// 不能重复初始化
	assert.ErrorIs(t, l.Initialize(settlerAddr, 1, "zpid-2", 300), ErrWrongStage)

	require.NoError(t, l.SubmitGuess(playerAddr, 1, true))
	// 不能重复猜
	assert.ErrorIs(t, l.SubmitGuess(playerAddr, 1, false), ErrWrongStage)

	require.NoError(t, l.Settle(ctx, settlerAddr, 1, 200))
	// 终态不能再推进
	assert.ErrorIs(t, l.Settle(ctx, settlerAddr, 1, 300), ErrWrongStage)

	// 结算后重复读取，字段完全一致
	g1, _ := l.Get(1)
	g2, _ := l.Get(1)
	assert.Equal(t, g1, g2)
}

func TestAuthorization(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.CreateBatch(ctx, playerAddr, 1, tokens(10))
	require.NoError(t, err)

	// 玩家不能初始化
	assert.ErrorIs(t, l.Initialize(playerAddr, 1, "zpid-1", 100), ErrUnauthorized)
	require.NoError(t, l.Initialize(settlerAddr, 1, "zpid-1", 100))

	// 非 owner 不能猜，且记录不被改动
	before, _ := l.Get(1)
	assert.ErrorIs(t, l.SubmitGuess(otherAddr, 1, true), ErrUnauthorized)
	after, _ := l.Get(1)
	assert.Equal(t, before, after)

	// 玩家不能结算
	require.NoError(t, l.SubmitGuess(playerAddr, 1, true))
	assert.ErrorIs(t, l.Settle(ctx, playerAddr, 1, 200), ErrUnauthorized)
}

func TestValidationErrors(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.CreateBatch(ctx, playerAddr, 1, tokens(10))
	require.NoError(t, err)

	assert.ErrorIs(t, l.Initialize(settlerAddr, 99, "zpid-1", 100), ErrNotFound)
	assert.ErrorIs(t, l.Initialize(settlerAddr, 1, "", 100), ErrInvalidListing)
	assert.ErrorIs(t, l.Initialize(settlerAddr, 1, "zpid-1", 0), ErrInvalidPrice)

	require.NoError(t, l.Initialize(settlerAddr, 1, "zpid-1", 100))
	require.NoError(t, l.SubmitGuess(playerAddr, 1, true))
	assert.ErrorIs(t, l.Settle(ctx, settlerAddr, 1, 0), ErrInvalidPrice)
	assert.ErrorIs(t, l.Settle(ctx, settlerAddr, 99, 100), ErrNotFound)

	_, err = l.Get(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

// failingBank 派彩转账永远失败的 custody 桩
type failingBank struct {
	*custody.MemoryBank
}

func (f *failingBank) Transfer(context.Context, string, *big.Int) error {
	return fmt.Errorf("rpc timeout")
}

func TestPayoutFailureRollsBackSettlement(t *testing.T) {
	bank := custody.NewMemoryBank()
	bank.Mint(playerAddr, tokens(100))
	l, err := New(Options{
		Custody:  &failingBank{bank},
		Settlers: []string{settlerAddr},
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = l.CreateBatch(ctx, playerAddr, 1, tokens(10))
	require.NoError(t, err)
	require.NoError(t, l.Initialize(settlerAddr, 1, "zpid-1", 100))
	require.NoError(t, l.SubmitGuess(playerAddr, 1, true))

	err = l.Settle(ctx, settlerAddr, 1, 200)
	require.ErrorIs(t, err, ErrPayoutTransfer)

	// 整个结算回滚：阶段不变，价格未写入
	g, _ := l.Get(1)
	assert.Equal(t, domain.StageGuessSubmitted, g.Stage)
	assert.Zero(t, g.ActualPrice)
	assert.False(t, g.Won)

	// 输局的结算不派彩，同样的桩不影响
	require.NoError(t, l.Settle(ctx, settlerAddr, 1, 50))
	g, _ = l.Get(1)
	assert.Equal(t, domain.StageSettled, g.Stage)
	assert.False(t, g.Won)
}

// brokenStore 整批落盘永远失败的存储桩
type brokenStore struct{ Store }

func (brokenStore) SaveBatch([]*domain.Game) error { return fmt.Errorf("disk full") }

func TestBatchPersistFailureRefundsAndLeavesNoGames(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	bank := custody.NewMemoryBank()
	bank.Mint(playerAddr, tokens(100))
	bank.Mint(custody.PoolAccount, tokens(100))
	l, err := New(Options{Custody: bank, Store: brokenStore{store}, Settlers: []string{settlerAddr}})
	require.NoError(t, err)

	_, _, err = l.CreateBatch(ctx, playerAddr, 5, tokens(10))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 0, l.Count())

	// 落盘失败必须退款：资金划转不能没有对应的游戏记录
	bal, err := bank.BalanceOf(ctx, playerAddr)
	require.NoError(t, err)
	assert.Equal(t, tokens(100), bal)

	require.NoError(t, store.Close())

	// 重启后不应出现部分批次
	store2, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	defer store2.Close()
	l2, err := New(Options{Custody: bank, Store: store2, Settlers: []string{settlerAddr}})
	require.NoError(t, err)
	assert.Equal(t, 0, l2.Count())

	// 恢复后的账本在正常存储上开局成功，id 从 1 开始
	first, last, err := l2.CreateBatch(ctx, playerAddr, 2, tokens(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), last)
}

func TestQueries(t *testing.T) {
	l, bank := newTestLedger(t)
	bank.Mint(otherAddr, tokens(100))
	ctx := context.Background()

	_, _, err := l.CreateBatch(ctx, playerAddr, 3, tokens(10))
	require.NoError(t, err)
	_, _, err = l.CreateBatch(ctx, otherAddr, 2, tokens(10))
	require.NoError(t, err)

	assert.Equal(t, 5, l.Count())
	assert.Len(t, l.ListByOwner(playerAddr), 3)
	assert.Len(t, l.ListByOwner(otherAddr), 2)

	require.NoError(t, l.Initialize(settlerAddr, 1, "zpid-1", 100))
	assert.Equal(t, 2, l.CountByStage(playerAddr, domain.StageNotStarted))
	assert.Equal(t, 1, l.CountByStage(playerAddr, domain.StageInitialized))
	assert.Equal(t, 2, l.CountByStage(otherAddr, domain.StageNotStarted))
	assert.Equal(t, 3, l.CountByStage("", domain.StageNotStarted))

	// 每局在玩家列表里恰好出现一次
	seen := map[uint64]int{}
	for _, g := range l.ListByOwner(playerAddr) {
		seen[g.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "game %d duplicated in owner index", id)
	}
}

func TestConcurrentBatchesGetDisjointIDRanges(t *testing.T) {
	bank := custody.NewMemoryBank()
	l, err := New(Options{Custody: bank, Settlers: []string{settlerAddr}})
	require.NoError(t, err)

	const workers = 8
	const batch = 5
	type rng struct{ first, last uint64 }

	var wg sync.WaitGroup
	results := make(chan rng, workers)
	for i := 0; i < workers; i++ {
		addr := fmt.Sprintf("0x%040d", i)
		bank.Mint(addr, tokens(1000))
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			first, last, err := l.CreateBatch(context.Background(), addr, batch, tokens(1))
			if err == nil {
				results <- rng{first, last}
			}
		}(addr)
	}
	wg.Wait()
	close(results)

	used := map[uint64]bool{}
	count := 0
	for r := range results {
		count++
		assert.Equal(t, uint64(batch-1), r.last-r.first)
		for id := r.first; id <= r.last; id++ {
			assert.False(t, used[id], "id %d assigned twice", id)
			used[id] = true
		}
	}
	assert.Equal(t, workers, count)
	assert.Equal(t, workers*batch, l.Count())
}

func TestConcurrentGuessesOnlyOneWins(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.CreateBatch(ctx, playerAddr, 1, tokens(10))
	require.NoError(t, err)
	require.NoError(t, l.Initialize(settlerAddr, 1, "zpid-1", 100))

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(higher bool) {
			defer wg.Done()
			errs <- l.SubmitGuess(playerAddr, 1, higher)
		}(i%2 == 0)
	}
	wg.Wait()
	close(errs)

	ok, conflict := 0, 0
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrWrongStage)
			conflict++
		}
	}
	assert.Equal(t, 1, ok, "恰好一个并发猜测成功")
	assert.Equal(t, attempts-1, conflict)
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	bank := custody.NewMemoryBank()
	bank.Mint(playerAddr, tokens(100))
	l, err := New(Options{Custody: bank, Store: store, Settlers: []string{settlerAddr}})
	require.NoError(t, err)

	_, _, err = l.CreateBatch(ctx, playerAddr, 3, tokens(10))
	require.NoError(t, err)
	require.NoError(t, l.Initialize(settlerAddr, 2, "zpid-42", 250000))
	require.NoError(t, store.Close())

	// 重新打开：记录和 id 计数器都要恢复
	store2, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	defer store2.Close()
	l2, err := New(Options{Custody: bank, Store: store2, Settlers: []string{settlerAddr}})
	require.NoError(t, err)

	assert.Equal(t, 3, l2.Count())
	g, err := l2.Get(2)
	require.NoError(t, err)
	assert.Equal(t, domain.StageInitialized, g.Stage)
	assert.Equal(t, "zpid-42", g.ListingID)
	assert.Equal(t, uint64(250000), g.DisplayedPrice)

	// 新批次的 id 接着旧计数器分配，不复用
	first, _, err := l2.CreateBatch(ctx, playerAddr, 1, tokens(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), first)
}

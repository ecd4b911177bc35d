package settler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zillopoly/zillopoly/internal/domain"
	"github.com/zillopoly/zillopoly/internal/events"
	"github.com/zillopoly/zillopoly/internal/ledger"
	"github.com/zillopoly/zillopoly/internal/listing"
	"github.com/zillopoly/zillopoly/pkg/logger"
	"github.com/zillopoly/zillopoly/pkg/persistence"
	"github.com/zillopoly/zillopoly/pkg/sigchan"
)

// Config 结算 worker 配置
type Config struct {
	SignerAddr string        // 账本授权的结算者地址
	City       string        // 开局取房源的城市
	Hold       time.Duration // 提交猜测后至少持有多久才结算
	Interval   time.Duration // 扫描间隔
	Hub        *events.Hub   // 可选：订阅生命周期事件，开局/提交猜测时立即触发扫描
}

// checkpoint worker 的断点状态：游戏 id → 真实挂牌价。
// 初始化时记下真实价，结算时用它判定输赢；落盘后重启不丢
type checkpoint struct {
	ActualPrices map[uint64]uint64 `json:"actualPrices"`
}

// Worker 驱动游戏生命周期的后台结算者：
// 给 NotStarted 的游戏挑房源并初始化，到期后结算 GuessSubmitted 的游戏
type Worker struct {
	cfg      Config
	ledger   *ledger.Ledger
	listings *listing.Client
	store    persistence.Store

	mu      sync.Mutex
	pending map[uint64]uint64 // 游戏 id → 真实价
}

func New(cfg Config, l *ledger.Ledger, lc *listing.Client, store persistence.Store) (*Worker, error) {
	if cfg.SignerAddr == "" {
		return nil, errors.New("settler: signer address is required")
	}
	if cfg.City == "" {
		cfg.City = "houston"
	}
	if cfg.Hold <= 0 {
		cfg.Hold = 30 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}

	w := &Worker{
		cfg:      cfg,
		ledger:   l,
		listings: lc,
		store:    store,
		pending:  make(map[uint64]uint64),
	}

	if store != nil {
		var cp checkpoint
		switch err := store.Load(&cp); {
		case err == nil:
			w.pending = cp.ActualPrices
			if w.pending == nil {
				w.pending = make(map[uint64]uint64)
			}
			logger.Infof("[settler] 恢复断点: %d 局待结算", len(w.pending))
		case errors.Is(err, persistence.ErrNotExists):
			// 首次启动
		default:
			return nil, errors.Wrap(err, "settler: load checkpoint")
		}
	}
	return w, nil
}

// Run 周期扫描直到 ctx 取消。
// 配了 Hub 时事件到达立即触发一轮，不用等下一个 tick
func (w *Worker) Run(ctx context.Context) {
	logger.Infof("[settler] 启动: city=%s hold=%s interval=%s", w.cfg.City, w.cfg.Hold, w.cfg.Interval)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	nudge := sigchan.New(1)
	if w.cfg.Hub != nil {
		ch, cancel := w.cfg.Hub.Subscribe(16)
		defer cancel()
		go func() {
			for ev := range ch {
				if ev.Type == events.TypeBatchCreated || ev.Type == events.TypeGuessSubmitted {
					nudge.Emit()
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			logger.Infof("[settler] 退出")
			return
		case <-ticker.C:
			w.Tick(ctx)
		case <-nudge.C():
			w.Tick(ctx)
		}
	}
}

// Tick 执行一轮扫描。导出是为了让调用方（和测试）能手动驱动
func (w *Worker) Tick(ctx context.Context) {
	if err := w.initializeNew(ctx); err != nil {
		logger.Warnf("[settler] 初始化轮次: %v", err)
	}
	if err := w.settleDue(ctx); err != nil {
		logger.Warnf("[settler] 结算轮次: %v", err)
	}
}

// initializeNew 给每局 NotStarted 的游戏挑一个房源并初始化。
// 展示价是真实价加扰动后的值，真实价只记在断点里，不进账本
func (w *Worker) initializeNew(ctx context.Context) error {
	games := w.ledger.ListByStage(domain.StageNotStarted)
	for _, g := range games {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l, err := w.listings.RandomListing(ctx, w.cfg.City, listing.SearchOptions{ForSaleOnly: true})
		if err != nil {
			// 上游不可用时整轮放弃，等下个 tick
			return errors.Wrap(err, "fetch listing")
		}

		displayed := listing.AdjustPrice(l.Price)
		if err := w.ledger.Initialize(w.cfg.SignerAddr, g.ID, l.ZPID, displayed); err != nil {
			// 并发下别的结算者可能已经初始化过，跳过即可
			if errors.Is(err, ledger.ErrWrongStage) {
				continue
			}
			logger.Warnf("[settler] 初始化 game=%d: %v", g.ID, err)
			continue
		}

		w.mu.Lock()
		w.pending[g.ID] = l.Price
		w.mu.Unlock()
		w.saveCheckpoint()

		logger.Infof("[settler] game=%d 初始化: zpid=%s displayed=%d actual=%d", g.ID, l.ZPID, displayed, l.Price)
	}
	return nil
}

// settleDue 结算持有期已满的 GuessSubmitted 游戏
func (w *Worker) settleDue(ctx context.Context) error {
	now := time.Now()
	games := w.ledger.ListByStage(domain.StageGuessSubmitted)
	for _, g := range games {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if g.GuessAt == nil || now.Sub(*g.GuessAt) < w.cfg.Hold {
			continue
		}

		actual, err := w.actualPriceFor(ctx, g)
		if err != nil {
			logger.Warnf("[settler] game=%d 取真实价失败: %v", g.ID, err)
			continue
		}

		if err := w.ledger.Settle(ctx, w.cfg.SignerAddr, g.ID, actual); err != nil {
			if errors.Is(err, ledger.ErrWrongStage) {
				w.forget(g.ID)
				continue
			}
			logger.Errorf("[settler] 结算 game=%d: %v", g.ID, err)
			continue
		}
		w.forget(g.ID)
		logger.Infof("[settler] game=%d 已结算: actual=%d", g.ID, actual)
	}
	return nil
}

// actualPriceFor 取游戏对应房源的真实价。
// 优先走断点；断点丢失（比如换机器重启）时按 zpid 回查城市列表
func (w *Worker) actualPriceFor(ctx context.Context, g *domain.Game) (uint64, error) {
	w.mu.Lock()
	actual, ok := w.pending[g.ID]
	w.mu.Unlock()
	if ok {
		return actual, nil
	}

	listings, err := w.listings.SearchByCity(ctx, w.cfg.City, listing.SearchOptions{ForSaleOnly: true})
	if err != nil {
		return 0, errors.Wrap(err, "recover listing")
	}
	for _, l := range listings {
		if l.ZPID == g.ListingID {
			return l.Price, nil
		}
	}
	return 0, errors.Errorf("listing %s no longer on market", g.ListingID)
}

func (w *Worker) forget(gameID uint64) {
	w.mu.Lock()
	delete(w.pending, gameID)
	w.mu.Unlock()
	w.saveCheckpoint()
}

func (w *Worker) saveCheckpoint() {
	if w.store == nil {
		return
	}
	w.mu.Lock()
	cp := checkpoint{ActualPrices: make(map[uint64]uint64, len(w.pending))}
	for id, p := range w.pending {
		cp.ActualPrices[id] = p
	}
	w.mu.Unlock()

	if err := w.store.Save(cp); err != nil {
		logger.Warnf("[settler] 保存断点: %v", err)
	}
}

// PendingCount 断点里待结算的游戏数量
func (w *Worker) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

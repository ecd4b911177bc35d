package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zillopoly/zillopoly/internal/custody"
	"github.com/zillopoly/zillopoly/internal/events"
	"github.com/zillopoly/zillopoly/internal/ledger"
	"github.com/zillopoly/zillopoly/internal/listing"
	"github.com/zillopoly/zillopoly/internal/metrics"
	"github.com/zillopoly/zillopoly/internal/observer"
	"github.com/zillopoly/zillopoly/internal/server"
	"github.com/zillopoly/zillopoly/internal/settler"
	"github.com/zillopoly/zillopoly/pkg/config"
	"github.com/zillopoly/zillopoly/pkg/logger"
	"github.com/zillopoly/zillopoly/pkg/persistence"
	"github.com/zillopoly/zillopoly/pkg/shutdown"
	"github.com/zillopoly/zillopoly/pkg/tokenmath"
)

// 主服务进程：账本 + 房源代理 + HTTP 面 + 内置结算 worker。
// 链上事件观察默认关闭，配置了 CHAIN_WS_URL 和游戏合约地址时启用。
func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml）")
	envFile := flag.String("env", ".env", ".env 文件路径")
	noSettler := flag.Bool("no-settler", false, "禁用内置结算 worker（结算由独立的 settler 进程负责）")
	flag.Parse()

	// .env 不存在不算错误
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Errorf("配置验证失败: %v", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}); err != nil {
		logrus.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}

	logrus.Info("🚀 启动 zillopoly 服务...")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	shutdownMgr := shutdown.NewManager()

	// 代币托管：配了代币合约 + 结算者私钥时走链上 ERC-20，否则用内存托管（开发模式）
	bank, settlerAddr, err := buildCustody(rootCtx, cfg)
	if err != nil {
		logrus.Errorf("初始化代币托管失败: %v", err)
		os.Exit(1)
	}

	store, err := ledger.OpenBadgerStore(cfg.Ledger.DataDir)
	if err != nil {
		logrus.Errorf("打开账本存储失败: %v", err)
		os.Exit(1)
	}
	shutdownMgr.OnShutdown(func(ctx context.Context) {
		if err := store.Close(); err != nil {
			logrus.Errorf("关闭账本存储失败: %v", err)
		}
	})

	settlers := cfg.Ledger.SettlerAddrs
	if settlerAddr != "" {
		settlers = append(settlers, settlerAddr)
	}
	hub := events.NewHub()
	led, err := ledger.New(ledger.Options{
		Custody:  bank,
		Store:    store,
		Hub:      hub,
		Settlers: settlers,
	})
	if err != nil {
		logrus.Errorf("初始化账本失败: %v", err)
		os.Exit(1)
	}
	logrus.Infof("账本就绪: %d 局游戏, 结算者 %d 个", led.Count(), len(settlers))

	listingClient := listing.NewClient(listing.Config{
		BaseURL:   cfg.Listing.BaseURL,
		APIKey:    cfg.Listing.APIKey,
		CacheTTL:  time.Duration(cfg.Listing.CacheTTL) * time.Second,
		MaxPerSec: cfg.Listing.MaxPerSec,
	})
	shutdownMgr.OnShutdown(func(ctx context.Context) { listingClient.Close() })

	// 内置结算 worker
	if !*noSettler {
		signer := settlerAddr
		if signer == "" && len(settlers) > 0 {
			signer = settlers[0]
		}
		if signer == "" {
			logrus.Warnf("未配置结算者地址，内置结算 worker 不启动")
		} else {
			persistSvc := persistence.NewJSONFileService("data/persistence")
			worker, err := settler.New(settler.Config{
				SignerAddr: signer,
				City:       cfg.Listing.DefaultCity,
				Hold:       time.Duration(cfg.Ledger.SettleHoldSecs) * time.Second,
				Hub:        hub,
			}, led, listingClient, persistSvc.NewStore("settler", "server", "checkpoint"))
			if err != nil {
				logrus.Errorf("初始化结算 worker 失败: %v", err)
				os.Exit(1)
			}
			go worker.Run(rootCtx)
			logrus.Infof("✅ 内置结算 worker 已启动: signer=%s hold=%ds", signer, cfg.Ledger.SettleHoldSecs)
		}
	}

	// 链上事件观察（可选）
	var eventIndex *observer.EventIndex
	if cfg.Chain.WSURL != "" && cfg.Chain.GameAddress != "" {
		eventIndex, err = observer.OpenEventIndex("data/events.db")
		if err != nil {
			logrus.Errorf("打开事件索引失败: %v", err)
			os.Exit(1)
		}
		shutdownMgr.OnShutdown(func(ctx context.Context) {
			if err := eventIndex.Close(); err != nil {
				logrus.Errorf("关闭事件索引失败: %v", err)
			}
		})

		obs, err := observer.New(cfg.Chain.WSURL, cfg.Chain.GameAddress, eventIndex)
		if err != nil {
			logrus.Errorf("初始化事件观察失败: %v", err)
			os.Exit(1)
		}
		go obs.Run(rootCtx)
		logrus.Infof("✅ 链上事件观察已启动: contract=%s", cfg.Chain.GameAddress)
	}

	// 可选调试面（expvar + pprof），仅建议监听 localhost
	if addr := os.Getenv("ZILLOPOLY_PPROF_ADDR"); addr != "" {
		if _, err := metrics.StartAsync(rootCtx, addr); err != nil {
			logrus.Errorf("metrics/pprof 启动失败: %v", err)
		} else {
			logrus.Infof("📊 metrics/pprof 启用: listen=%s", addr)
		}
	}

	srv := server.New(server.Config{DefaultCity: cfg.Listing.DefaultCity}, led, listingClient, hub, eventIndex)
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	shutdownMgr.OnShutdown(func(ctx context.Context) {
		if err := httpServer.Shutdown(ctx); err != nil {
			logrus.Errorf("关闭 HTTP 服务失败: %v", err)
		}
	})

	go func() {
		logrus.Infof("✅ HTTP 服务已启动: %s", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("HTTP 服务异常退出: %v", err)
			rootCancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logrus.Info("收到停止信号，正在关闭...")
	case <-rootCtx.Done():
	}
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownMgr.Shutdown(shutdownCtx)
	logrus.Info("✅ 服务已停止")
}

// buildCustody 构建代币托管，返回托管实例和链上签名者地址（内存模式为空）
func buildCustody(ctx context.Context, cfg *config.Config) (custody.Custody, string, error) {
	if cfg.Chain.TokenAddress != "" && cfg.Chain.SettlerKey != "" {
		c, err := custody.NewERC20Custody(ctx, custody.ERC20Options{
			RPCURL:       cfg.Chain.RPCURL,
			TokenAddress: cfg.Chain.TokenAddress,
			ChainID:      cfg.Chain.ChainID,
			PrivateKey:   cfg.Chain.SettlerKey,
		})
		if err != nil {
			return nil, "", err
		}
		logrus.Infof("代币托管: ERC-20 %s (chain=%d signer=%s)", cfg.Chain.TokenAddress, cfg.Chain.ChainID, c.Signer())
		return c, c.Signer(), nil
	}

	// 开发模式：内存托管，给奖池预铸一笔
	bank := custody.NewMemoryBank()
	costWei, err := tokenmath.ParseAmount(cfg.Ledger.CostPerGame)
	if err != nil {
		return nil, "", err
	}
	pool := tokenmath.MulUint64(costWei, 100000)
	bank.Mint(custody.PoolAccount, pool)
	logrus.Warnf("代币托管: 内存模式（开发用），奖池预铸 %s", tokenmath.FormatAmount(pool))
	return bank, "", nil
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zillopoly/zillopoly/internal/custody"
	"github.com/zillopoly/zillopoly/internal/events"
	"github.com/zillopoly/zillopoly/internal/ledger"
	"github.com/zillopoly/zillopoly/internal/listing"
	"github.com/zillopoly/zillopoly/internal/observer"
	"github.com/zillopoly/zillopoly/internal/settler"
	"github.com/zillopoly/zillopoly/pkg/config"
	"github.com/zillopoly/zillopoly/pkg/logger"
	"github.com/zillopoly/zillopoly/pkg/persistence"
	"github.com/zillopoly/zillopoly/pkg/secretstore"
	"github.com/zillopoly/zillopoly/pkg/shutdown"
)

// 独立结算者进程：结算 worker + 链上事件观察，不带 HTTP 面。
// 与 server 分开部署时，server 需以 -no-settler 启动；账本数据目录归本进程独占。
// 结算者私钥优先取 SETTLER_PRIVATE_KEY 环境变量，缺省时从加密的 secret store 读取
// （由 wallet-init 写入）。
func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml）")
	envFile := flag.String("env", ".env", ".env 文件路径")
	secretsDir := flag.String("secrets", "data/secrets", "secret store 目录")
	flag.Parse()

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
		OutputFile: "logs/settler.log",
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}); err != nil {
		logrus.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}

	logrus.Info("🚀 启动结算者进程...")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	shutdownMgr := shutdown.NewManager()

	// 私钥解析：环境变量 > secret store
	if cfg.Chain.SettlerKey == "" && cfg.Chain.TokenAddress != "" {
		key, err := loadKeyFromSecretStore(*secretsDir)
		if err != nil {
			logrus.Errorf("从 secret store 读取私钥失败: %v", err)
			os.Exit(1)
		}
		cfg.Chain.SettlerKey = key
	}

	var bank custody.Custody
	signer := ""
	if cfg.Chain.TokenAddress != "" && cfg.Chain.SettlerKey != "" {
		erc20, err := custody.NewERC20Custody(rootCtx, custody.ERC20Options{
			RPCURL:       cfg.Chain.RPCURL,
			TokenAddress: cfg.Chain.TokenAddress,
			ChainID:      cfg.Chain.ChainID,
			PrivateKey:   cfg.Chain.SettlerKey,
		})
		if err != nil {
			logrus.Errorf("初始化 ERC-20 托管失败: %v", err)
			os.Exit(1)
		}
		shutdownMgr.OnShutdown(func(ctx context.Context) { erc20.Close() })
		bank = erc20
		signer = erc20.Signer()
		logrus.Infof("ERC-20 托管: token=%s signer=%s", cfg.Chain.TokenAddress, signer)
	} else {
		bank = custody.NewMemoryBank()
		if len(cfg.Ledger.SettlerAddrs) > 0 {
			signer = cfg.Ledger.SettlerAddrs[0]
		}
		logrus.Warnf("未配置链上托管，使用内存托管（开发用）")
	}
	if signer == "" {
		logrus.Errorf("无法确定结算者地址：配置 SETTLER_PRIVATE_KEY 或 ZILLOPOLY_SETTLER_ADDRS")
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

	hub := events.NewHub()
	led, err := ledger.New(ledger.Options{
		Custody:  bank,
		Store:    store,
		Hub:      hub,
		Settlers: append([]string{signer}, cfg.Ledger.SettlerAddrs...),
	})
	if err != nil {
		logrus.Errorf("初始化账本失败: %v", err)
		os.Exit(1)
	}

	listingClient := listing.NewClient(listing.Config{
		BaseURL:   cfg.Listing.BaseURL,
		APIKey:    cfg.Listing.APIKey,
		CacheTTL:  time.Duration(cfg.Listing.CacheTTL) * time.Second,
		MaxPerSec: cfg.Listing.MaxPerSec,
	})
	shutdownMgr.OnShutdown(func(ctx context.Context) { listingClient.Close() })

	persistSvc := persistence.NewJSONFileService("data/persistence")
	worker, err := settler.New(settler.Config{
		SignerAddr: signer,
		City:       cfg.Listing.DefaultCity,
		Hold:       time.Duration(cfg.Ledger.SettleHoldSecs) * time.Second,
		Hub:        hub,
	}, led, listingClient, persistSvc.NewStore("settler", "standalone", "checkpoint"))
	if err != nil {
		logrus.Errorf("初始化结算 worker 失败: %v", err)
		os.Exit(1)
	}
	go worker.Run(rootCtx)
	logrus.Infof("✅ 结算 worker 已启动: signer=%s", signer)

	if cfg.Chain.WSURL != "" && cfg.Chain.GameAddress != "" {
		eventIndex, err := observer.OpenEventIndex("data/events.db")
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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logrus.Info("收到停止信号，正在关闭...")
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownMgr.Shutdown(shutdownCtx)
	logrus.Info("✅ 结算者进程已停止")
}

const settlerKeyName = "settler_private_key"

func loadKeyFromSecretStore(dir string) (string, error) {
	masterKey, err := secretstore.ParseKey(os.Getenv("ZILLOPOLY_MASTER_KEY"))
	if err != nil {
		return "", err
	}
	st, err := secretstore.Open(secretstore.OpenOptions{
		Path:          dir,
		EncryptionKey: masterKey,
		ReadOnly:      true,
	})
	if err != nil {
		return "", err
	}
	defer st.Close()

	key, found, err := st.Get(settlerKeyName)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return strings.TrimSpace(key), nil
}

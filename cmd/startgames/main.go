package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/zillopoly/zillopoly/internal/custody"
	"github.com/zillopoly/zillopoly/internal/ledger"
	"github.com/zillopoly/zillopoly/pkg/config"
	"github.com/zillopoly/zillopoly/pkg/tokenmath"
)

// 给某个玩家开一批游戏（运维/演示工具）。
// 直接打开账本数据目录，要求服务进程已停止（Badger 单进程独占）。
// 链上模式下从玩家授权额度里扣成本，内存模式下给玩家临时铸币。
func main() {
	player := flag.String("player", "", "玩家地址")
	n := flag.Int("n", 0, "本批游戏数量（0 = 取配置 batch_size）")
	configPath := flag.String("config", "", "配置文件路径（.yaml）")
	envFile := flag.String("env", ".env", ".env 文件路径")
	flag.Parse()

	_ = godotenv.Load(*envFile)

	if *player == "" {
		fatal(fmt.Errorf("必须指定 -player"))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	batchSize := *n
	if batchSize <= 0 {
		batchSize = cfg.Ledger.BatchSize
	}
	costPerGame, err := tokenmath.ParseAmount(cfg.Ledger.CostPerGame)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var bank custody.Custody
	if cfg.Chain.TokenAddress != "" && cfg.Chain.SettlerKey != "" {
		erc20, err := custody.NewERC20Custody(ctx, custody.ERC20Options{
			RPCURL:       cfg.Chain.RPCURL,
			TokenAddress: cfg.Chain.TokenAddress,
			ChainID:      cfg.Chain.ChainID,
			PrivateKey:   cfg.Chain.SettlerKey,
		})
		if err != nil {
			fatal(err)
		}
		defer erc20.Close()
		bank = erc20
	} else {
		mem := custody.NewMemoryBank()
		mem.Mint(*player, tokenmath.MulUint64(costPerGame, uint64(batchSize)))
		bank = mem
	}

	store, err := ledger.OpenBadgerStore(cfg.Ledger.DataDir)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	led, err := ledger.New(ledger.Options{
		Custody:  bank,
		Store:    store,
		Settlers: cfg.Ledger.SettlerAddrs,
	})
	if err != nil {
		fatal(err)
	}

	first, last, err := led.CreateBatch(ctx, *player, batchSize, costPerGame)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("已创建 %d 局游戏: id %d..%d, 单局成本 %s\n",
		batchSize, first, last, tokenmath.FormatAmount(costPerGame))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}

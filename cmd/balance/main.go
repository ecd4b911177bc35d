package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/zillopoly/zillopoly/internal/custody"
	"github.com/zillopoly/zillopoly/pkg/config"
	"github.com/zillopoly/zillopoly/pkg/tokenmath"
)

// 查询某个地址的代币余额（链上只读，不需要私钥）
func main() {
	addr := flag.String("addr", "", "要查询的钱包地址")
	configPath := flag.String("config", "", "配置文件路径（.yaml）")
	envFile := flag.String("env", ".env", ".env 文件路径")
	flag.Parse()

	_ = godotenv.Load(*envFile)

	if *addr == "" {
		fatal(fmt.Errorf("必须指定 -addr"))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Chain.TokenAddress == "" {
		fatal(fmt.Errorf("未配置代币合约地址（CHAIN_TOKEN_ADDRESS）"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bank, err := custody.NewERC20Custody(ctx, custody.ERC20Options{
		RPCURL:       cfg.Chain.RPCURL,
		TokenAddress: cfg.Chain.TokenAddress,
		ChainID:      cfg.Chain.ChainID,
	})
	if err != nil {
		fatal(err)
	}
	defer bank.Close()

	bal, err := bank.BalanceOf(ctx, *addr)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("%s: %s\n", *addr, tokenmath.FormatAmount(bal))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}

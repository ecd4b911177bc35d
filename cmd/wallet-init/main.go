package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"

	"github.com/zillopoly/zillopoly/pkg/secretstore"
)

// 从 BIP-39 助记词推导结算者钱包，把私钥写入加密的 secret store。
// 加密密钥取 ZILLOPOLY_MASTER_KEY（32 字节，hex 或 base64）。
func main() {
	var (
		secretsDir = flag.String("secrets", getenv("ZILLOPOLY_SECRETS_DIR", "data/secrets"), "secret store 目录")
		derivePath = flag.String("path", "m/44'/60'/0'/0/0", "BIP-44 派生路径")
		force      = flag.Bool("force", false, "已存在私钥时覆盖")
	)
	flag.Parse()

	masterKey, err := secretstore.ParseKey(os.Getenv("ZILLOPOLY_MASTER_KEY"))
	if err != nil {
		fatal(err)
	}
	if masterKey == nil {
		fatal(errors.New("ZILLOPOLY_MASTER_KEY is required (32 bytes, base64 or hex)"))
	}

	fmt.Fprintln(os.Stderr, "请输入助记词（12/15/18/21/24 个单词），输入完成后回车：")
	mnemonic := strings.TrimSpace(readLine())
	if mnemonic == "" {
		fatal(errors.New("mnemonic is empty"))
	}

	wallet, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		fatal(fmt.Errorf("parse mnemonic: %w", err))
	}
	path, err := hdwallet.ParseDerivationPath(*derivePath)
	if err != nil {
		fatal(fmt.Errorf("parse derivation path: %w", err))
	}
	account, err := wallet.Derive(path, false)
	if err != nil {
		fatal(fmt.Errorf("derive account: %w", err))
	}
	privateKey, err := wallet.PrivateKeyHex(account)
	if err != nil {
		fatal(fmt.Errorf("export private key: %w", err))
	}

	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *secretsDir,
		EncryptionKey: masterKey,
	})
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	const keyName = "settler_private_key"
	if _, exists, err := store.Get(keyName); err != nil {
		fatal(err)
	} else if exists && !*force {
		fatal(fmt.Errorf("私钥已存在于 %s（用 -force 覆盖）", *secretsDir))
	}

	if err := store.Set(keyName, privateKey); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "已写入 %s\n结算者地址: %s\n", *secretsDir, account.Address.Hex())
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func readLine() string {
	br := bufio.NewReader(os.Stdin)
	s, _ := br.ReadString('\n')
	return strings.TrimSpace(s)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}

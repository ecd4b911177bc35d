package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	ListenAddr string // HTTP 监听地址
}

// LedgerConfig 游戏账本配置
type LedgerConfig struct {
	DataDir         string   // Badger 数据目录
	CostPerGame     string   // 单局成本（整数代币单位，例如 "10" 表示 10 个代币）
	BatchSize       int      // 每批游戏数量（默认 10）
	SettlerAddrs    []string // 授权结算者地址列表
	SettleHoldSecs  int      // 提交猜测后到结算的等待时间（秒）
}

// ListingConfig 房源数据源配置
type ListingConfig struct {
	BaseURL     string // 房源 API 地址
	APIKey      string // 房源 API key
	DefaultCity string // 默认查询城市
	CacheTTL    int    // 城市结果缓存时间（秒）
	MaxPerSec   int    // 上游请求速率上限（每秒）
}

// ChainConfig 链上交互配置
type ChainConfig struct {
	RPCURL        string // JSON-RPC 地址
	WSURL         string // WebSocket 地址（事件订阅用）
	ChainID       int64  // 链 ID
	TokenAddress  string // ERC-20 代币合约地址
	GameAddress   string // 游戏合约地址（事件观察用）
	SettlerKey    string // 结算者私钥（hex，通常来自环境变量）
}

// Config 应用配置
type Config struct {
	Server   ServerConfig
	Ledger   LedgerConfig
	Listing  ListingConfig
	Chain    ChainConfig
	LogLevel string // 日志级别
	LogFile  string // 日志文件路径（可选）
}

// ConfigFile 配置文件结构（用于 YAML 解析）
type ConfigFile struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`
	Ledger struct {
		DataDir        string   `yaml:"data_dir"`
		CostPerGame    string   `yaml:"cost_per_game"`
		BatchSize      *int     `yaml:"batch_size"`
		SettlerAddrs   []string `yaml:"settler_addrs"`
		SettleHoldSecs *int     `yaml:"settle_hold_secs"`
	} `yaml:"ledger"`
	Listing struct {
		BaseURL     string `yaml:"base_url"`
		APIKey      string `yaml:"api_key"`
		DefaultCity string `yaml:"default_city"`
		CacheTTL    *int   `yaml:"cache_ttl"`
		MaxPerSec   *int   `yaml:"max_per_sec"`
	} `yaml:"listing"`
	Chain struct {
		RPCURL       string `yaml:"rpc_url"`
		WSURL        string `yaml:"ws_url"`
		ChainID      *int64 `yaml:"chain_id"`
		TokenAddress string `yaml:"token_address"`
		GameAddress  string `yaml:"game_address"`
	} `yaml:"chain"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Load 加载配置（优先级：环境变量 > 配置文件 > 默认值）
// filePath 为空时只使用环境变量和默认值
func Load(filePath string) (*Config, error) {
	var cf *ConfigFile
	if filePath != "" {
		b, err := os.ReadFile(filePath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
			}
			// 配置文件不存在时退回环境变量
		} else {
			cf = &ConfigFile{}
			if err := yaml.Unmarshal(b, cf); err != nil {
				return nil, fmt.Errorf("解析配置文件失败 %s: %w", filePath, err)
			}
		}
	}

	config := &Config{
		Server: ServerConfig{
			ListenAddr: pick(getEnv("ZILLOPOLY_LISTEN", ""), fileStr(cf, func(c *ConfigFile) string { return c.Server.ListenAddr }), ":3001"),
		},
		Ledger: LedgerConfig{
			DataDir:        pick(getEnv("ZILLOPOLY_DATA_DIR", ""), fileStr(cf, func(c *ConfigFile) string { return c.Ledger.DataDir }), "data/ledger"),
			CostPerGame:    pick(getEnv("ZILLOPOLY_COST_PER_GAME", ""), fileStr(cf, func(c *ConfigFile) string { return c.Ledger.CostPerGame }), "10"),
			BatchSize:      pickInt(10, intEnv("ZILLOPOLY_BATCH_SIZE"), fileInt(cf, func(c *ConfigFile) *int { return c.Ledger.BatchSize })),
			SettlerAddrs:   pickList(splitEnvList("ZILLOPOLY_SETTLER_ADDRS"), fileList(cf, func(c *ConfigFile) []string { return c.Ledger.SettlerAddrs })),
			SettleHoldSecs: pickInt(60, intEnv("ZILLOPOLY_SETTLE_HOLD_SECS"), fileInt(cf, func(c *ConfigFile) *int { return c.Ledger.SettleHoldSecs })),
		},
		Listing: ListingConfig{
			BaseURL:     pick(getEnv("LISTING_BASE_URL", ""), fileStr(cf, func(c *ConfigFile) string { return c.Listing.BaseURL }), "https://zillow56.p.rapidapi.com"),
			APIKey:      pick(getEnv("LISTING_API_KEY", ""), fileStr(cf, func(c *ConfigFile) string { return c.Listing.APIKey }), ""),
			DefaultCity: pick(getEnv("LISTING_DEFAULT_CITY", ""), fileStr(cf, func(c *ConfigFile) string { return c.Listing.DefaultCity }), "houston"),
			CacheTTL:    pickInt(300, intEnv("LISTING_CACHE_TTL"), fileInt(cf, func(c *ConfigFile) *int { return c.Listing.CacheTTL })),
			MaxPerSec:   pickInt(2, intEnv("LISTING_MAX_PER_SEC"), fileInt(cf, func(c *ConfigFile) *int { return c.Listing.MaxPerSec })),
		},
		Chain: ChainConfig{
			RPCURL:       pick(getEnv("CHAIN_RPC_URL", ""), fileStr(cf, func(c *ConfigFile) string { return c.Chain.RPCURL }), "https://polygon-rpc.com"),
			WSURL:        pick(getEnv("CHAIN_WS_URL", ""), fileStr(cf, func(c *ConfigFile) string { return c.Chain.WSURL }), ""),
			ChainID:      pickInt64(137, int64Env("CHAIN_ID"), fileInt64(cf, func(c *ConfigFile) *int64 { return c.Chain.ChainID })),
			TokenAddress: pick(getEnv("CHAIN_TOKEN_ADDRESS", ""), fileStr(cf, func(c *ConfigFile) string { return c.Chain.TokenAddress }), ""),
			GameAddress:  pick(getEnv("CHAIN_GAME_ADDRESS", ""), fileStr(cf, func(c *ConfigFile) string { return c.Chain.GameAddress }), ""),
			// 私钥永远不进配置文件
			SettlerKey: getEnv("SETTLER_PRIVATE_KEY", ""),
		},
		LogLevel: pick(getEnv("LOG_LEVEL", ""), fileStr(cf, func(c *ConfigFile) string { return c.LogLevel }), "info"),
		LogFile:  pick(getEnv("LOG_FILE", ""), fileStr(cf, func(c *ConfigFile) string { return c.LogFile }), "logs/zillopoly.log"),
	}

	return config, nil
}

// Validate 校验配置的基本有效性
func (c *Config) Validate() error {
	if c.Ledger.BatchSize <= 0 {
		return fmt.Errorf("ledger.batch_size 必须大于 0: %d", c.Ledger.BatchSize)
	}
	// 0 表示立即结算，负数没有意义
	if c.Ledger.SettleHoldSecs < 0 {
		return fmt.Errorf("ledger.settle_hold_secs 不能为负: %d", c.Ledger.SettleHoldSecs)
	}
	if _, err := strconv.ParseInt(c.Ledger.CostPerGame, 10, 64); err != nil {
		return fmt.Errorf("ledger.cost_per_game 不是合法整数: %q", c.Ledger.CostPerGame)
	}
	if c.Listing.BaseURL == "" {
		return fmt.Errorf("listing.base_url 不能为空")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// intEnv 环境变量里的整数；未设置或解析失败返回 nil，0 是合法的显式值
func intEnv(key string) *int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return &n
		}
	}
	return nil
}

func int64Env(key string) *int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}

func splitEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// pick 返回第一个非空字符串
func pick(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// pickInt 返回第一个显式给出的值，没有则用默认值
// 用指针区分"设为 0"和"没设"，settle_hold_secs: 0 这类配置是合法的
func pickInt(def int, vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return def
}

func pickInt64(def int64, vals ...*int64) int64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return def
}

func pickList(vals ...[]string) []string {
	for _, v := range vals {
		if len(v) > 0 {
			return v
		}
	}
	return nil
}

func fileStr(cf *ConfigFile, get func(*ConfigFile) string) string {
	if cf == nil {
		return ""
	}
	return get(cf)
}

func fileInt(cf *ConfigFile, get func(*ConfigFile) *int) *int {
	if cf == nil {
		return nil
	}
	return get(cf)
}

func fileInt64(cf *ConfigFile, get func(*ConfigFile) *int64) *int64 {
	if cf == nil {
		return nil
	}
	return get(cf)
}

func fileList(cf *ConfigFile, get func(*ConfigFile) []string) []string {
	if cf == nil {
		return nil
	}
	return get(cf)
}

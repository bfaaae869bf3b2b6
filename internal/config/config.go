package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/ccolleatte/dao-services/internal/retry"
	"github.com/ccolleatte/dao-services/internal/validation"
	"github.com/spf13/viper"
)

const (
	SyncModePoll      = "poll"
	SyncModeSubscribe = "subscribe"
)

var supportedChainTypes = []string{"ethereum", "polygon", "bsc", "arbitrum", "optimism", "paseo"}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Task     TaskConfig     `mapstructure:"task"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            string `mapstructure:"port"`
	Mode            string `mapstructure:"mode"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // 秒
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	Path            string `mapstructure:"path"`             // sqlite 文件路径
	RequirePassword bool   `mapstructure:"require_password"` // 密码必须来自环境变量 DATABASE_PASSWORD
}

// ChainConfig 单链配置
type ChainConfig struct {
	ChainType string                    `mapstructure:"chain_type"` // 链类型 (ethereum, polygon, paseo, etc.)
	ChainId   int64                     `mapstructure:"chain_id"`   // 链ID
	RpcUrl    string                    `mapstructure:"rpc_url"`    // HTTP RPC节点URL
	WsUrl     string                    `mapstructure:"ws_url"`     // WebSocket节点URL，订阅模式使用
	Contracts map[string]ContractConfig `mapstructure:"contracts"`  // 该链上的合约配置
}

// ContractConfig 单个合约配置
type ContractConfig struct {
	Kind      string `mapstructure:"kind"`       // service_marketplace, mission_escrow, hybrid_payment_splitter
	Address   string `mapstructure:"address"`    // 合约地址
	ABIPath   string `mapstructure:"abi_path"`   // ABI文件路径，为空时使用内置事件ABI
	Enabled   bool   `mapstructure:"enabled"`    // 是否启用此合约
	BlockNum  int64  `mapstructure:"block_num"`  // 合约部署区块号
	MissionId int64  `mapstructure:"mission_id"` // 分账/托管合约对应的链下任务ID，0 表示未知
}

// SyncConfig 事件同步配置
type SyncConfig struct {
	Mode           string `mapstructure:"mode"`             // poll 或 subscribe
	PollInterval   int    `mapstructure:"poll_interval"`    // 秒
	BatchSize      uint64 `mapstructure:"batch_size"`       // 每次 FilterLogs 的区块跨度
	Confirmations  uint64 `mapstructure:"confirmations"`    // 确认数
	Dedup          bool   `mapstructure:"dedup"`            // 按 (tx_hash, log_index) 和水位去重
	CatchupOnStart bool   `mapstructure:"catchup_on_start"` // 启动实时监听前先追历史区块
	PoolSize       int    `mapstructure:"pool_size"`        // 并发处理的合约组数量上限
	StopTimeout    int    `mapstructure:"stop_timeout"`     // 秒，停止时等待处理中事件
}

type RetryConfig struct {
	MaxRetries     int     `mapstructure:"max_retries"`
	InitialDelayMs int     `mapstructure:"initial_delay_ms"`
	MaxDelayMs     int     `mapstructure:"max_delay_ms"`
	BackoffFactor  float64 `mapstructure:"backoff_factor"`
}

// Options 转换为重试参数
func (r RetryConfig) Options() retry.Options {
	return retry.Options{
		MaxRetries:    r.MaxRetries,
		InitialDelay:  time.Duration(r.InitialDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(r.MaxDelayMs) * time.Millisecond,
		BackoffFactor: r.BackoffFactor,
	}
}

type TaskConfig struct {
	Interval    int `mapstructure:"interval"`     // 秒
	Batch       int `mapstructure:"batch"`        // 每次重放的死信数量
	MaxAttempts int `mapstructure:"max_attempts"` // 死信最大重放次数
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 10)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "dao_services")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "dao_services.db")
	v.SetDefault("database.require_password", false)
	v.SetDefault("chain.chain_type", "paseo")
	v.SetDefault("chain.chain_id", 0)
	v.SetDefault("chain.rpc_url", "https://paseo.rpc.amforc.com")
	v.SetDefault("chain.ws_url", "")
	v.SetDefault("sync.mode", SyncModePoll)
	v.SetDefault("sync.poll_interval", 15)
	v.SetDefault("sync.batch_size", 500)
	v.SetDefault("sync.confirmations", 0)
	v.SetDefault("sync.dedup", true)
	v.SetDefault("sync.catchup_on_start", true)
	v.SetDefault("sync.pool_size", 4)
	v.SetDefault("sync.stop_timeout", 30)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 10000)
	v.SetDefault("retry.backoff_factor", 2)
	v.SetDefault("task.interval", 60)
	v.SetDefault("task.batch", 50)
	v.SetDefault("task.max_attempts", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load 从默认路径加载配置
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile 加载配置，path 为空时按默认路径查找 config.yaml
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/dao-services")
	}

	setDefaults(v)

	// 自动读取环境变量，如 CHAIN_RPC_URL 覆盖 chain.rpc_url
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Warn("Could not find config file, using defaults and environment: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// Validate 校验启动必需的配置，返回的错误为 *errs.ValidationError
func (c *Config) Validate() error {
	if c.Chain.RpcUrl == "" {
		return errs.NewValidationError("chain.rpc_url", "chain.rpc_url is required")
	}
	if !isSupportedChainType(c.Chain.ChainType) {
		return errs.NewValidationError("chain.chain_type", "unsupported chain type %s, supported types: %s",
			c.Chain.ChainType, strings.Join(supportedChainTypes, ", "))
	}

	switch c.Sync.Mode {
	case SyncModePoll:
	case SyncModeSubscribe:
		if c.Chain.WsUrl == "" {
			return errs.NewValidationError("chain.ws_url", "chain.ws_url is required in subscribe mode")
		}
	default:
		return errs.NewValidationError("sync.mode", "unsupported sync mode: %s", c.Sync.Mode)
	}
	if c.Sync.BatchSize == 0 {
		return errs.NewValidationError("sync.batch_size", "sync.batch_size must be positive")
	}

	enabled := 0
	for name, contract := range c.Chain.Contracts {
		if !contract.Enabled {
			continue
		}
		enabled++
		if err := validation.ValidateAddress(contract.Address, "chain.contracts."+name+".address"); err != nil {
			return err
		}
	}
	if enabled == 0 {
		return errs.NewValidationError("chain.contracts", "at least one enabled contract is required")
	}

	if c.Retry.MaxRetries <= 0 {
		return errs.NewValidationError("retry.max_retries", "retry.max_retries must be positive")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return errs.NewValidationError("database.host", "database.host is required")
		}
		if c.Database.RequirePassword {
			if err := validation.ValidateEnvVars("DATABASE_PASSWORD"); err != nil {
				return err
			}
		}
	case "sqlite":
		if c.Database.Path == "" {
			return errs.NewValidationError("database.path", "database.path is required for sqlite")
		}
	default:
		return errs.NewValidationError("database.driver", "unsupported database driver: %s", c.Database.Driver)
	}

	return nil
}

func isSupportedChainType(chainType string) bool {
	for _, t := range supportedChainTypes {
		if t == chainType {
			return true
		}
	}
	return false
}

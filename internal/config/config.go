package config

import (
	"errors"
	"fmt"
	"time"

	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/logic/retry"
	"vault-orchestrator-sol/internal/pkg/logger"
	"vault-orchestrator-sol/internal/types"
	"vault-orchestrator-sol/internal/vault"
)

type LogConfig struct {
	Format   string `json:"format,default=console,options=console|json"` // 日志格式
	LogDir   string `json:"log_dir,optional"`                            // 日志目录，为空只输出到 stdout
	Level    string `json:"level,default=info"`                          // debug / info / warn / error
	Compress bool   `json:"compress,optional"`                           // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

type RpcConfig struct {
	Endpoint string `json:"endpoint"` // Solana RPC 地址
}

type KeysConfig struct {
	Admin string `json:"admin"` // 管理员 keypair 文件（solana-keygen 生成的 JSON 数组）
}

// VaultConfig 金库初始化参数
type VaultConfig struct {
	TargetLeverage        uint8  `json:"target_leverage,default=2"`
	RebalanceThresholdBps uint16 `json:"rebalance_threshold_bps,default=500"`
	MaxSlippageBps        uint16 `json:"max_slippage_bps,default=100"`
	Mint                  string `json:"mint,default=EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"`
}

func (c *VaultConfig) Params() vault.Params {
	return vault.Params{
		TargetLeverage:        c.TargetLeverage,
		RebalanceThresholdBps: c.RebalanceThresholdBps,
		MaxSlippageBps:        c.MaxSlippageBps,
	}
}

type ProgramsConfig struct {
	Vault string `json:"vault,default=Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"`
	// 再平衡使用的衍生品账户，不配置时使用占位账户
	DriftUser      string `json:"drift_user,optional"`
	DriftUserStats string `json:"drift_user_stats,optional"`
	DriftState     string `json:"drift_state,optional"`
}

type MigrationConfig struct {
	SourceProgram      string `json:"source_program,optional"`
	DestinationProgram string `json:"destination_program,optional"`
	SourceVault        string `json:"source_vault,optional"`
}

// RetryConfig 重试与确认超时
type RetryConfig struct {
	MaxAttempts      int `json:"max_attempts,default=3"`
	InitialBackoffMs int `json:"initial_backoff_ms,default=500"`
	MaxBackoffMs     int `json:"max_backoff_ms,default=8000"`
	ConfirmTimeoutS  int `json:"confirm_timeout_s,default=60"`
	PollIntervalMs   int `json:"poll_interval_ms,default=500"`
}

func (c *RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: time.Duration(c.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(c.MaxBackoffMs) * time.Millisecond,
		ConfirmTimeout: time.Duration(c.ConfirmTimeoutS) * time.Second,
		PollInterval:   time.Duration(c.PollIntervalMs) * time.Millisecond,
	}
}

// RedisConfig 为空地址时使用内存存储
type RedisConfig struct {
	Addr     string `json:"addr,optional"`
	Password string `json:"password,optional"`
	DB       int    `json:"db,optional"`
}

// KafkaProducerConfig 为空 brokers 时不发布事件
type KafkaProducerConfig struct {
	Brokers       string `json:"brokers,optional"` // 多个用英文逗号分隔
	Topic         string `json:"topic,default=vault_lifecycle_event"`
	Partitions    int    `json:"partitions,default=4"`
	BatchSize     int    `json:"batch_size,optional"`          // 批处理大小（字节）
	LingerMs      int    `json:"linger_ms,default=5"`          // 批处理最大延迟（毫秒）
	SendTimeoutMs int    `json:"send_timeout_ms,default=3000"` // 单条事件等待 ack 的超时
	BufferSize    int    `json:"buffer_size,default=1024"`
}

// SmokeConfig 非模拟模式下 smoke 使用的两个存款用户
type SmokeConfig struct {
	UserKeypairs []string `json:"user_keypairs,optional"`
	UserTokens   []string `json:"user_tokens,optional"`
}

// WatchConfig watch 命令定时读取的金库
type WatchConfig struct {
	IntervalS int      `json:"interval_s,default=30"`
	Vaults    []string `json:"vaults,optional"`
}

// Config vaultctl 主配置
type Config struct {
	LogConf           LogConfig           `json:"logger"`
	Rpc               RpcConfig           `json:"rpc,optional"`
	Keys              KeysConfig          `json:"keys,optional"`
	Vault             VaultConfig         `json:"vault"`
	Programs          ProgramsConfig      `json:"programs"`
	Migration         MigrationConfig     `json:"migration,optional"`
	Retry             RetryConfig         `json:"retry"`
	Redis             RedisConfig         `json:"redis,optional"`
	KafkaProducerConf KafkaProducerConfig `json:"kafka_producer,optional"`
	Smoke             SmokeConfig         `json:"smoke,optional"`
	Watch             WatchConfig         `json:"watch,optional"`
	BackupDir         string              `json:"backup_dir,default=backups"`
}

// Validate 返回第一个不合法的配置项；simulate 模式下不要求 RPC 与密钥
func (c *Config) Validate(simulate bool) error {
	if !simulate {
		if c.Rpc.Endpoint == "" {
			return errors.New("rpc.endpoint is required")
		}
		if c.Keys.Admin == "" {
			return errors.New("keys.admin is required")
		}
	}
	if err := c.Vault.Params().Validate(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if err := c.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	for name, s := range map[string]string{
		"vault.mint":     c.Vault.Mint,
		"programs.vault": c.Programs.Vault,
	} {
		if _, err := types.TryPubkeyFromBase58(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for name, s := range map[string]string{
		"programs.drift_user":           c.Programs.DriftUser,
		"programs.drift_user_stats":     c.Programs.DriftUserStats,
		"programs.drift_state":          c.Programs.DriftState,
		"migration.source_program":      c.Migration.SourceProgram,
		"migration.destination_program": c.Migration.DestinationProgram,
		"migration.source_vault":        c.Migration.SourceVault,
	} {
		if s == "" {
			continue
		}
		if _, err := types.TryPubkeyFromBase58(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if len(c.Smoke.UserKeypairs) != len(c.Smoke.UserTokens) {
		return fmt.Errorf("smoke: %d keypairs but %d token accounts", len(c.Smoke.UserKeypairs), len(c.Smoke.UserTokens))
	}
	for _, v := range c.Watch.Vaults {
		if _, err := types.TryPubkeyFromBase58(v); err != nil {
			return fmt.Errorf("watch.vaults: %w", err)
		}
	}
	if c.KafkaProducerConf.Brokers != "" && (c.KafkaProducerConf.Topic == "" || c.KafkaProducerConf.Partitions <= 0) {
		return errors.New("kafka_producer: topic and partitions are required when brokers is set")
	}
	return nil
}

// Pubkey 解析已校验的地址，空字符串返回零值
func Pubkey(s string) types.Pubkey {
	if s == "" {
		return types.Pubkey{}
	}
	return types.PubkeyFromBase58(s)
}

func (c *Config) VaultProgram() types.Pubkey {
	if c.Programs.Vault == "" {
		return consts.VaultProgram
	}
	return Pubkey(c.Programs.Vault)
}

func (c *Config) Mint() types.Pubkey {
	if c.Vault.Mint == "" {
		return consts.USDCMint
	}
	return Pubkey(c.Vault.Mint)
}

func (c *Config) DriftAccounts() vault.DriftAccounts {
	return vault.DriftAccounts{
		User:      Pubkey(c.Programs.DriftUser),
		UserStats: Pubkey(c.Programs.DriftUserStats),
		State:     Pubkey(c.Programs.DriftState),
	}
}

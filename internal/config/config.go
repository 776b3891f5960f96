package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"fraudguard/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，如 FRAUDGUARD_ORACLE_URL
const EnvPrefix = "FRAUDGUARD"

// DSNEnv 配置数据库连接串的环境变量
const DSNEnv = EnvPrefix + "_DB_DSN"

// Config 主配置
type Config struct {
	Server        *ServerConfig       `mapstructure:"server"`
	Storage       *StorageConfig      `mapstructure:"storage"`
	Transactions  *TransactionsConfig `mapstructure:"transactions"`
	Oracle        *OracleConfig       `mapstructure:"oracle"`
	Dispute       *DisputeConfig      `mapstructure:"dispute"`
	Evidence      *EvidenceConfig     `mapstructure:"evidence"`
	Output        *OutputConfig       `mapstructure:"output"`
	Notifications *NotificationConfig `mapstructure:"notifications"`
	Logging       *logging.LogConfig  `mapstructure:"logging"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogBufferSize   int           `mapstructure:"log_buffer_size"`
}

// StorageConfig 争议与分析结果的存储配置
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // memory, bolt
	Path   string `mapstructure:"path"`
}

// TransactionsConfig 交易查询源配置
type TransactionsConfig struct {
	Source       string `mapstructure:"source"` // memory, postgres
	FixturesPath string `mapstructure:"fixtures_path"`
	DSN          string `mapstructure:"dsn"`
	DefaultLimit int    `mapstructure:"default_limit"`
	MaxLimit     int    `mapstructure:"max_limit"`
}

// OracleConfig 欺诈评分服务配置
type OracleConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"` // 每秒请求数
	Burst        int           `mapstructure:"burst"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Workers      int           `mapstructure:"workers"`
	FallbackSeed int64         `mapstructure:"fallback_seed"` // 0 表示使用当前时间
}

// DisputeConfig 争议生命周期策略
type DisputeConfig struct {
	MinEvidence     int  `mapstructure:"min_evidence"`
	Quorum          int  `mapstructure:"quorum"`
	AutoStartVoting bool `mapstructure:"auto_start_voting"`
	AutoResolve     bool `mapstructure:"auto_resolve"`
}

// EvidenceConfig 证据配置
type EvidenceConfig struct {
	Validator     string `mapstructure:"validator"` // cid, any
	StorageDir    string `mapstructure:"storage_dir"`
	MaxUploadSize int64  `mapstructure:"max_upload_size"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 事件输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // none, json, json_async, kafka, kafka_async
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// NotificationConfig 通知中心配置
type NotificationConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// setDefaults 注册全部默认值，同时让环境变量覆盖对所有键生效
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.log_buffer_size", 1000)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.path", "./data/fraudguard.db")

	v.SetDefault("transactions.source", "memory")
	v.SetDefault("transactions.fixtures_path", "")
	v.SetDefault("transactions.dsn", "")
	v.SetDefault("transactions.default_limit", 20)
	v.SetDefault("transactions.max_limit", 100)

	v.SetDefault("oracle.enabled", false)
	v.SetDefault("oracle.url", "")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.timeout", "10s")
	v.SetDefault("oracle.rate_limit", 5.0)
	v.SetDefault("oracle.burst", 5)
	v.SetDefault("oracle.max_attempts", 2)
	v.SetDefault("oracle.workers", 4)
	v.SetDefault("oracle.fallback_seed", 0)

	v.SetDefault("dispute.min_evidence", 0)
	v.SetDefault("dispute.quorum", 1)
	v.SetDefault("dispute.auto_start_voting", false)
	v.SetDefault("dispute.auto_resolve", false)

	v.SetDefault("evidence.validator", "cid")
	v.SetDefault("evidence.storage_dir", "./data/evidence")
	v.SetDefault("evidence.max_upload_size", 10<<20)

	v.SetDefault("output.format", "none")
	v.SetDefault("output.directory", "./outputs")
	v.SetDefault("output.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("output.kafka.topics", map[string]string{
		"dispute_events": "fraudguard_dispute_events",
		"analyses":       "fraudguard_analyses",
		"notifications":  "fraudguard_notifications",
		"feedback":       "fraudguard_feedback",
	})

	v.SetDefault("notifications.capacity", 500)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig 加载配置：默认值 → YAML文件 → 环境变量 → 数据库覆盖项
func LoadConfig(configPath string) (*Config, error) {
	config, err := LoadConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}

	if dsn := os.Getenv(DSNEnv); dsn != "" {
		logger := logrus.New()
		dbConfig, err := NewDatabaseConfig(dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		if err := dbConfig.ApplyOverrides(config); err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}
		if config.Transactions.Source == "postgres" && config.Transactions.DSN == "" {
			config.Transactions.DSN = dsn
		}
		logger.Info("已从数据库加载配置覆盖项")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigFromFile 从文件加载配置，路径为空时只使用默认值和环境变量
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return &config, nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// 默认值由本包定义，解析失败属于编程错误
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("默认配置无效: %v", err))
	}
	return &config
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server == nil || c.Storage == nil || c.Transactions == nil || c.Oracle == nil ||
		c.Dispute == nil || c.Evidence == nil || c.Output == nil || c.Notifications == nil {
		return fmt.Errorf("配置不完整")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("无效的端口: %d", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("无效的服务模式: %s", c.Server.Mode)
	}
	switch c.Storage.Driver {
	case "memory":
	case "bolt":
		if c.Storage.Path == "" {
			return fmt.Errorf("bolt 存储需要指定 storage.path")
		}
	default:
		return fmt.Errorf("不支持的存储类型: %s", c.Storage.Driver)
	}
	switch c.Transactions.Source {
	case "memory":
	case "postgres":
		if c.Transactions.DSN == "" {
			return fmt.Errorf("postgres 交易源需要指定 transactions.dsn")
		}
	default:
		return fmt.Errorf("不支持的交易源: %s", c.Transactions.Source)
	}
	if c.Oracle.Enabled && c.Oracle.URL == "" {
		return fmt.Errorf("启用评分服务时需要指定 oracle.url")
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle.timeout 必须大于0")
	}
	if c.Oracle.Workers <= 0 {
		return fmt.Errorf("oracle.workers 必须大于0")
	}
	if c.Dispute.MinEvidence < 0 || c.Dispute.Quorum < 0 {
		return fmt.Errorf("争议策略参数不能为负数")
	}
	switch c.Evidence.Validator {
	case "cid", "any":
	default:
		return fmt.Errorf("不支持的证据校验器: %s", c.Evidence.Validator)
	}
	switch c.Output.Format {
	case "none", "json", "json_async":
	case "kafka", "kafka_async":
		if c.Output.Kafka == nil || len(c.Output.Kafka.Brokers) == 0 {
			return fmt.Errorf("Kafka 输出需要指定 brokers")
		}
	default:
		return fmt.Errorf("不支持的输出格式: %s", c.Output.Format)
	}
	return nil
}

package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// ApplyOverrides 读取 system_config 与 kafka_topics 表并覆盖到配置上
func (dc *DatabaseConfig) ApplyOverrides(config *Config) error {
	query := `SELECT config_key, config_value FROM system_config WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		if err := applyOverride(config, key, value); err != nil {
			dc.logger.WithFields(logrus.Fields{
				"key":   key,
				"value": value,
			}).Warnf("忽略无效的配置项: %v", err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if strings.HasPrefix(config.Output.Format, "kafka") {
		topics, err := dc.loadKafkaTopics()
		if err != nil {
			return fmt.Errorf("加载Kafka主题配置失败: %w", err)
		}
		if config.Output.Kafka == nil {
			config.Output.Kafka = &KafkaConfig{}
		}
		if config.Output.Kafka.Topics == nil {
			config.Output.Kafka.Topics = make(map[string]string)
		}
		for dataType, topic := range topics {
			config.Output.Kafka.Topics[dataType] = topic
		}
	}

	return nil
}

// applyOverride 应用单个键值覆盖项
func applyOverride(config *Config, key, value string) error {
	switch key {
	case "dispute.min_evidence":
		return setInt(&config.Dispute.MinEvidence, value)
	case "dispute.quorum":
		return setInt(&config.Dispute.Quorum, value)
	case "dispute.auto_start_voting":
		return setBool(&config.Dispute.AutoStartVoting, value)
	case "dispute.auto_resolve":
		return setBool(&config.Dispute.AutoResolve, value)
	case "oracle.enabled":
		return setBool(&config.Oracle.Enabled, value)
	case "oracle.url":
		config.Oracle.URL = value
	case "oracle.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		config.Oracle.Timeout = d
	case "oracle.workers":
		return setInt(&config.Oracle.Workers, value)
	case "oracle.rate_limit":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		config.Oracle.RateLimit = f
	case "evidence.validator":
		config.Evidence.Validator = value
	case "output.format":
		config.Output.Format = value
	case "output.kafka_brokers":
		var brokers []string
		if err := json.Unmarshal([]byte(value), &brokers); err != nil {
			return err
		}
		if config.Output.Kafka == nil {
			config.Output.Kafka = &KafkaConfig{}
		}
		config.Output.Kafka.Brokers = brokers
	default:
		return fmt.Errorf("未知的配置项")
	}
	return nil
}

func setInt(dst *int, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setBool(dst *bool, value string) error {
	v, err := strconv.ParseBool(strings.ToLower(value))
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// loadKafkaTopics 加载Kafka主题配置
func (dc *DatabaseConfig) loadKafkaTopics() (map[string]string, error) {
	query := `SELECT data_type, topic_name FROM kafka_topics WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	topics := make(map[string]string)
	for rows.Next() {
		var dataType, topicName string
		if err := rows.Scan(&dataType, &topicName); err != nil {
			return nil, err
		}
		topics[dataType] = topicName
	}
	return topics, rows.Err()
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	return dc.DB.Close()
}

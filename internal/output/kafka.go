package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"fraudguard/pkg/models"
)

// KafkaOutput Kafka同步输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string // 数据类型到topic的映射
	producer sarama.SyncProducer
}

// newProducerConfig 同步生产者配置
func newProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0
	return config
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)
	logger.Infof("Kafka topics配置: %v", topics)

	producer, err := sarama.NewSyncProducer(brokers, newProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")
	return NewKafkaOutputWithProducer(producer, topics, logger), nil
}

// NewKafkaOutputWithProducer 使用已有生产者创建输出器
func NewKafkaOutputWithProducer(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaOutput {
	return &KafkaOutput{
		logger:   logger,
		topics:   mergeTopics(topics),
		producer: producer,
	}
}

// sendToKafka 发送数据到Kafka，key 保证同一实体的消息进入同一分区
func (k *KafkaOutput) sendToKafka(dataType, key string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	topic := topicFor(k.topics, dataType)
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(jsonData),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息到Kafka失败: %w", err)
	}

	k.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
	}).Debug("成功发送数据到Kafka")
	return nil
}

// WriteDisputeEvent 写入争议事件
func (k *KafkaOutput) WriteDisputeEvent(d *models.Dispute, ev models.DisputeEvent) error {
	if d == nil {
		return nil
	}
	return k.sendToKafka(TypeDisputeEvents, d.ID, newDisputeEventMessage(d, ev))
}

// WriteAnalysis 写入分析结果
func (k *KafkaOutput) WriteAnalysis(result *models.AIAnalysisResult) error {
	if result == nil {
		return nil
	}
	return k.sendToKafka(TypeAnalyses, result.TransactionID, result)
}

// WriteNotification 写入通知
func (k *KafkaOutput) WriteNotification(n *models.Notification) error {
	if n == nil {
		return nil
	}
	return k.sendToKafka(TypeNotifications, n.ID, n.ToKafkaMessage())
}

// WriteFeedback 写入反馈
func (k *KafkaOutput) WriteFeedback(fb *models.Feedback) error {
	if fb == nil {
		return nil
	}
	return k.sendToKafka(TypeFeedback, fb.TransactionID, fb)
}

// Close 关闭Kafka连接
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

package output

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"fraudguard/pkg/models"
)

// AsyncKafkaOutput 异步Kafka输出器，发送结果在后台统计
type AsyncKafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string
	producer sarama.AsyncProducer
	done     chan struct{}
	wg       sync.WaitGroup

	mu         sync.RWMutex
	closed     bool
	sentCount  int64
	errorCount int64
}

// newAsyncProducerConfig 异步生产者配置
func newAsyncProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 3 * time.Second
	config.Version = sarama.V2_8_0_0

	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Compression = sarama.CompressionSnappy
	config.ChannelBufferSize = 1000
	return config
}

// NewAsyncKafkaOutput 创建异步Kafka输出器
func NewAsyncKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*AsyncKafkaOutput, error) {
	logger.Infof("初始化异步Kafka输出器，brokers: %v", brokers)

	producer, err := sarama.NewAsyncProducer(brokers, newAsyncProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建异步Kafka生产者失败: %w", err)
	}

	logger.Info("异步Kafka生产者已创建并启动")
	return NewAsyncKafkaOutputWithProducer(producer, topics, logger), nil
}

// NewAsyncKafkaOutputWithProducer 使用已有生产者创建异步输出器，生产者需开启 Return.Successes 与 Return.Errors
func NewAsyncKafkaOutputWithProducer(producer sarama.AsyncProducer, topics map[string]string, logger *logrus.Logger) *AsyncKafkaOutput {
	k := &AsyncKafkaOutput{
		logger:   logger,
		topics:   mergeTopics(topics),
		producer: producer,
		done:     make(chan struct{}),
	}
	k.startBackgroundHandlers()
	return k
}

// startBackgroundHandlers 启动后台处理程序
func (k *AsyncKafkaOutput) startBackgroundHandlers() {
	k.wg.Add(3)
	go func() {
		defer k.wg.Done()
		k.handleSuccesses()
	}()
	go func() {
		defer k.wg.Done()
		k.handleErrors()
	}()
	go func() {
		defer k.wg.Done()
		k.reportStats()
	}()
}

// handleSuccesses 处理成功发送的消息，生产者关闭后通道关闭
func (k *AsyncKafkaOutput) handleSuccesses() {
	for msg := range k.producer.Successes() {
		k.mu.Lock()
		k.sentCount++
		k.mu.Unlock()

		k.logger.Debugf("消息成功发送到 topic %s, partition %d, offset %d",
			msg.Topic, msg.Partition, msg.Offset)
	}
}

// handleErrors 处理发送失败的消息
func (k *AsyncKafkaOutput) handleErrors() {
	for perr := range k.producer.Errors() {
		k.mu.Lock()
		k.errorCount++
		k.mu.Unlock()

		k.logger.Errorf("Kafka发送失败: topic=%s, error=%v", perr.Msg.Topic, perr.Err)
	}
}

// reportStats 定期报告统计信息
func (k *AsyncKafkaOutput) reportStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sent, failed := k.GetStats()
			if sent > 0 || failed > 0 {
				successRate := float64(sent) / float64(sent+failed) * 100
				k.logger.Infof("Kafka统计: 已发送 %d 条消息, 失败 %d 条, 成功率 %.2f%%",
					sent, failed, successRate)
			}
		case <-k.done:
			return
		}
	}
}

// sendToKafkaAsync 异步发送，输入通道已满时直接报错而不阻塞调用方
func (k *AsyncKafkaOutput) sendToKafkaAsync(dataType, key string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topicFor(k.topics, dataType),
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(jsonData),
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return fmt.Errorf("Kafka生产者已关闭")
	}

	select {
	case k.producer.Input() <- msg:
		return nil
	default:
		return fmt.Errorf("Kafka生产者输入通道已满")
	}
}

// WriteDisputeEvent 异步写入争议事件
func (k *AsyncKafkaOutput) WriteDisputeEvent(d *models.Dispute, ev models.DisputeEvent) error {
	if d == nil {
		return nil
	}
	return k.sendToKafkaAsync(TypeDisputeEvents, d.ID, newDisputeEventMessage(d, ev))
}

// WriteAnalysis 异步写入分析结果
func (k *AsyncKafkaOutput) WriteAnalysis(result *models.AIAnalysisResult) error {
	if result == nil {
		return nil
	}
	return k.sendToKafkaAsync(TypeAnalyses, result.TransactionID, result)
}

// WriteNotification 异步写入通知
func (k *AsyncKafkaOutput) WriteNotification(n *models.Notification) error {
	if n == nil {
		return nil
	}
	return k.sendToKafkaAsync(TypeNotifications, n.ID, n.ToKafkaMessage())
}

// WriteFeedback 异步写入反馈
func (k *AsyncKafkaOutput) WriteFeedback(fb *models.Feedback) error {
	if fb == nil {
		return nil
	}
	return k.sendToKafkaAsync(TypeFeedback, fb.TransactionID, fb)
}

// GetStats 获取发送成功与失败数
func (k *AsyncKafkaOutput) GetStats() (int64, int64) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sentCount, k.errorCount
}

// Close 关闭生产者，等待缓冲中的消息发送完毕
func (k *AsyncKafkaOutput) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	k.logger.Info("关闭异步Kafka生产者...")

	// Close 会排空缓冲并关闭 Successes 与 Errors 通道
	err := k.producer.Close()
	close(k.done)
	k.wg.Wait()

	sent, failed := k.GetStats()
	k.logger.Infof("异步Kafka生产者已关闭，总计发送: %d，错误: %d", sent, failed)

	if err != nil {
		return fmt.Errorf("关闭Kafka生产者失败: %w", err)
	}
	return nil
}

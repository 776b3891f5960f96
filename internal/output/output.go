package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fraudguard/internal/config"
	"fraudguard/pkg/models"
)

// 输出数据类型，同时作为 Kafka topic 映射的键
const (
	TypeDisputeEvents = "dispute_events"
	TypeAnalyses      = "analyses"
	TypeNotifications = "notifications"
	TypeFeedback      = "feedback"
)

var dataTypes = []string{TypeDisputeEvents, TypeAnalyses, TypeNotifications, TypeFeedback}

// defaultTopics 默认topic映射
var defaultTopics = map[string]string{
	TypeDisputeEvents: "fraudguard_dispute_events",
	TypeAnalyses:      "fraudguard_analyses",
	TypeNotifications: "fraudguard_notifications",
	TypeFeedback:      "fraudguard_feedback",
}

// Output 输出接口
type Output interface {
	WriteDisputeEvent(d *models.Dispute, ev models.DisputeEvent) error
	WriteAnalysis(result *models.AIAnalysisResult) error
	WriteNotification(n *models.Notification) error
	WriteFeedback(fb *models.Feedback) error
	Close() error
}

// DisputeEventMessage 争议事件的输出格式，附带争议当前状态
type DisputeEventMessage struct {
	EventID       string                 `json:"event_id"`
	DisputeID     string                 `json:"dispute_id"`
	TransactionID string                 `json:"transaction_id"`
	Type          string                 `json:"type"`
	Status        string                 `json:"status"`
	Timestamp     int64                  `json:"timestamp"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

func newDisputeEventMessage(d *models.Dispute, ev models.DisputeEvent) *DisputeEventMessage {
	return &DisputeEventMessage{
		EventID:       ev.ID,
		DisputeID:     d.ID,
		TransactionID: d.TransactionID,
		Type:          string(ev.Type),
		Status:        string(d.Status),
		Timestamp:     ev.Timestamp.Unix(),
		Data:          ev.Data,
	}
}

// NewOutput 按配置创建输出器
func NewOutput(cfg *config.OutputConfig, logger *logrus.Logger) (Output, error) {
	if cfg == nil {
		return NopOutput{}, nil
	}

	switch cfg.Format {
	case "", "none":
		return NopOutput{}, nil
	case "json":
		return NewFileOutput(cfg.Directory)
	case "json_async":
		return NewAsyncFileOutput(cfg.Directory, logger)
	case "kafka", "kafka_async":
		if cfg.Kafka == nil || len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("Kafka 输出需要指定 brokers")
		}
		topics := mergeTopics(cfg.Kafka.Topics)
		if cfg.Format == "kafka_async" {
			return NewAsyncKafkaOutput(cfg.Kafka.Brokers, topics, logger)
		}
		return NewKafkaOutput(cfg.Kafka.Brokers, topics, logger)
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", cfg.Format)
	}
}

// mergeTopics 以默认映射为底，配置项覆盖
func mergeTopics(configured map[string]string) map[string]string {
	topics := make(map[string]string, len(defaultTopics))
	for k, v := range defaultTopics {
		topics[k] = v
	}
	for k, v := range configured {
		if v != "" {
			topics[k] = v
		}
	}
	return topics
}

func topicFor(topics map[string]string, dataType string) string {
	if topic, ok := topics[dataType]; ok {
		return topic
	}
	return defaultTopics[dataType]
}

// NopOutput 不输出任何数据
type NopOutput struct{}

func (NopOutput) WriteDisputeEvent(d *models.Dispute, ev models.DisputeEvent) error { return nil }
func (NopOutput) WriteAnalysis(result *models.AIAnalysisResult) error { return nil }
func (NopOutput) WriteNotification(n *models.Notification) error { return nil }
func (NopOutput) WriteFeedback(fb *models.Feedback) error { return nil }
func (NopOutput) Close() error { return nil }

// FileOutput 按数据类型写入 JSON Lines 文件
type FileOutput struct {
	outputDir string
	mu        sync.Mutex
	files     map[string]*os.File
}

// NewFileOutput 创建文件输出器
func NewFileOutput(outputDir string) (*FileOutput, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	files, err := createFiles(outputDir)
	if err != nil {
		return nil, err
	}

	return &FileOutput{
		outputDir: outputDir,
		files:     files,
	}, nil
}

// createFiles 为每种数据类型创建带时间戳的输出文件
func createFiles(outputDir string) (map[string]*os.File, error) {
	timestamp := time.Now().Format("20060102_150405")
	files := make(map[string]*os.File, len(dataTypes))

	for _, dataType := range dataTypes {
		name := fmt.Sprintf("%s_%s.jsonl", dataType, timestamp)
		file, err := os.OpenFile(filepath.Join(outputDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			for _, f := range files {
				f.Close()
			}
			return nil, fmt.Errorf("创建文件 %s 失败: %w", name, err)
		}
		files[dataType] = file
	}
	return files, nil
}

func (o *FileOutput) write(dataType string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化%s数据失败: %w", dataType, err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	file, ok := o.files[dataType]
	if !ok {
		return fmt.Errorf("输出器已关闭")
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("写入%s文件失败: %w", dataType, err)
	}
	// 强制刷新到磁盘
	if err := file.Sync(); err != nil {
		return fmt.Errorf("刷新%s文件失败: %w", dataType, err)
	}
	return nil
}

// WriteDisputeEvent 写入争议事件
func (o *FileOutput) WriteDisputeEvent(d *models.Dispute, ev models.DisputeEvent) error {
	if d == nil {
		return nil
	}
	return o.write(TypeDisputeEvents, newDisputeEventMessage(d, ev))
}

// WriteAnalysis 写入分析结果
func (o *FileOutput) WriteAnalysis(result *models.AIAnalysisResult) error {
	if result == nil {
		return nil
	}
	return o.write(TypeAnalyses, result)
}

// WriteNotification 写入通知
func (o *FileOutput) WriteNotification(n *models.Notification) error {
	if n == nil {
		return nil
	}
	return o.write(TypeNotifications, n)
}

// WriteFeedback 写入反馈
func (o *FileOutput) WriteFeedback(fb *models.Feedback) error {
	if fb == nil {
		return nil
	}
	return o.write(TypeFeedback, fb)
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	for name, file := range o.files {
		if err := file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭文件 %s 失败: %w", name, err))
		}
	}
	o.files = map[string]*os.File{}

	if len(errs) > 0 {
		return fmt.Errorf("关闭文件时发生错误: %v", errs)
	}
	return nil
}

// MultiOutput 同时写入多个输出器
type MultiOutput []Output

func (m MultiOutput) each(fn func(o Output) error) error {
	var errs []error
	for _, o := range m {
		if err := fn(o); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("部分输出失败: %v", errs)
	}
	return nil
}

func (m MultiOutput) WriteDisputeEvent(d *models.Dispute, ev models.DisputeEvent) error {
	return m.each(func(o Output) error { return o.WriteDisputeEvent(d, ev) })
}

func (m MultiOutput) WriteAnalysis(result *models.AIAnalysisResult) error {
	return m.each(func(o Output) error { return o.WriteAnalysis(result) })
}

func (m MultiOutput) WriteNotification(n *models.Notification) error {
	return m.each(func(o Output) error { return o.WriteNotification(n) })
}

func (m MultiOutput) WriteFeedback(fb *models.Feedback) error {
	return m.each(func(o Output) error { return o.WriteFeedback(fb) })
}

func (m MultiOutput) Close() error {
	return m.each(func(o Output) error { return o.Close() })
}

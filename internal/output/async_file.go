package output

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fraudguard/pkg/models"
)

type record struct {
	dataType string
	payload  interface{}
}

// AsyncFileOutput 异步批量写入的文件输出器，写入方不等待磁盘
type AsyncFileOutput struct {
	outputDir string
	logger    *logrus.Logger
	files     map[string]*os.File

	records chan record
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	// 批量写入配置
	batchSize     int
	flushInterval time.Duration
}

// NewAsyncFileOutput 创建异步文件输出器
func NewAsyncFileOutput(outputDir string, logger *logrus.Logger) (*AsyncFileOutput, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	files, err := createFiles(outputDir)
	if err != nil {
		return nil, err
	}

	o := &AsyncFileOutput{
		outputDir:     outputDir,
		logger:        logger,
		files:         files,
		records:       make(chan record, 1000),
		done:          make(chan struct{}),
		batchSize:     100,
		flushInterval: time.Second,
	}

	o.wg.Add(1)
	go o.writer()

	logger.Info("异步文件输出器已初始化")
	return o, nil
}

// writer 按数据类型缓冲，达到批量大小或定时刷新
func (o *AsyncFileOutput) writer() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.flushInterval)
	defer ticker.Stop()

	buffers := make(map[string][]byte)
	counts := make(map[string]int)

	flush := func(dataType string) {
		if len(buffers[dataType]) == 0 {
			return
		}
		o.flushBuffer(o.files[dataType], buffers[dataType], dataType)
		buffers[dataType] = buffers[dataType][:0]
		counts[dataType] = 0
	}
	flushAll := func() {
		for dataType := range buffers {
			flush(dataType)
		}
	}

	for {
		select {
		case rec := <-o.records:
			data, err := json.Marshal(rec.payload)
			if err != nil {
				o.logger.Errorf("序列化%s数据失败: %v", rec.dataType, err)
				continue
			}
			buffers[rec.dataType] = append(append(buffers[rec.dataType], data...), '\n')
			counts[rec.dataType]++
			if counts[rec.dataType] >= o.batchSize {
				flush(rec.dataType)
			}

		case <-ticker.C:
			flushAll()

		case <-o.done:
			// 排空剩余记录
			for {
				select {
				case rec := <-o.records:
					data, err := json.Marshal(rec.payload)
					if err != nil {
						o.logger.Errorf("序列化%s数据失败: %v", rec.dataType, err)
						continue
					}
					buffers[rec.dataType] = append(append(buffers[rec.dataType], data...), '\n')
				default:
					flushAll()
					return
				}
			}
		}
	}
}

// flushBuffer 刷新缓冲区
func (o *AsyncFileOutput) flushBuffer(file *os.File, buffer []byte, dataType string) {
	if _, err := file.Write(buffer); err != nil {
		o.logger.Errorf("写入%s文件失败: %v", dataType, err)
		return
	}
	if err := file.Sync(); err != nil {
		o.logger.Errorf("刷新%s文件失败: %v", dataType, err)
	}
}

func (o *AsyncFileOutput) enqueue(dataType string, payload interface{}) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return fmt.Errorf("输出器已关闭")
	}

	select {
	case o.records <- record{dataType: dataType, payload: payload}:
		return nil
	default:
		return fmt.Errorf("%s写入队列已满，丢弃数据", dataType)
	}
}

// WriteDisputeEvent 写入争议事件
func (o *AsyncFileOutput) WriteDisputeEvent(d *models.Dispute, ev models.DisputeEvent) error {
	if d == nil {
		return nil
	}
	return o.enqueue(TypeDisputeEvents, newDisputeEventMessage(d, ev))
}

// WriteAnalysis 写入分析结果
func (o *AsyncFileOutput) WriteAnalysis(result *models.AIAnalysisResult) error {
	if result == nil {
		return nil
	}
	return o.enqueue(TypeAnalyses, result.Clone())
}

// WriteNotification 写入通知
func (o *AsyncFileOutput) WriteNotification(n *models.Notification) error {
	if n == nil {
		return nil
	}
	c := *n
	return o.enqueue(TypeNotifications, &c)
}

// WriteFeedback 写入反馈
func (o *AsyncFileOutput) WriteFeedback(fb *models.Feedback) error {
	if fb == nil {
		return nil
	}
	c := *fb
	return o.enqueue(TypeFeedback, &c)
}

// Close 停止写入并关闭文件，已入队的数据会被写完
func (o *AsyncFileOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	close(o.done)
	o.wg.Wait()

	var errs []error
	for name, file := range o.files {
		if err := file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭文件 %s 失败: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭文件时发生错误: %v", errs)
	}

	o.logger.Info("异步文件输出器已关闭")
	return nil
}

// GetStats 获取输出器统计信息
func (o *AsyncFileOutput) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"queue_size":     len(o.records),
		"batch_size":     o.batchSize,
		"flush_interval": o.flushInterval.String(),
	}
}

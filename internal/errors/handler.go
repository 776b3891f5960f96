package errors

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 错误处理策略
	strategies map[ErrorType]ErrorStrategy

	// 错误回调
	callbacks []ErrorCallback

	// 阈值设置
	thresholds map[ErrorSeverity]ThresholdConfig
}

// ErrorStrategy 错误处理策略
type ErrorStrategy interface {
	Handle(ctx context.Context, err *AppError) error
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *AppError)

// ThresholdConfig 阈值配置
type ThresholdConfig struct {
	MaxErrorsPerHour     int           `json:"max_errors_per_hour"`
	MaxConsecutiveErrors int           `json:"max_consecutive_errors"`
	CooldownPeriod       time.Duration `json:"cooldown_period"`
}

// LoggingStrategy 日志记录策略
type LoggingStrategy struct {
	logger *logrus.Logger
}

// NewLoggingStrategy 创建日志记录策略
func NewLoggingStrategy(logger *logrus.Logger) *LoggingStrategy {
	return &LoggingStrategy{logger: logger}
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	eh := &ErrorHandler{
		logger:     logger,
		stats:      NewErrorStats(),
		strategies: make(map[ErrorType]ErrorStrategy),
		callbacks:  make([]ErrorCallback, 0),
		thresholds: make(map[ErrorSeverity]ThresholdConfig),
	}

	eh.setupDefaultStrategies()
	eh.setupDefaultThresholds()

	return eh
}

// setupDefaultStrategies 所有错误类型默认只记录日志
func (eh *ErrorHandler) setupDefaultStrategies() {
	loggingStrategy := NewLoggingStrategy(eh.logger)
	for errorType := range errorTypeNames {
		eh.strategies[errorType] = loggingStrategy
	}
}

// setupDefaultThresholds 设置默认阈值
func (eh *ErrorHandler) setupDefaultThresholds() {
	eh.thresholds[SeverityLow] = ThresholdConfig{
		MaxErrorsPerHour:     500,
		MaxConsecutiveErrors: 50,
		CooldownPeriod:       5 * time.Minute,
	}
	eh.thresholds[SeverityMedium] = ThresholdConfig{
		MaxErrorsPerHour:     100,
		MaxConsecutiveErrors: 20,
		CooldownPeriod:       10 * time.Minute,
	}
	eh.thresholds[SeverityHigh] = ThresholdConfig{
		MaxErrorsPerHour:     20,
		MaxConsecutiveErrors: 5,
		CooldownPeriod:       30 * time.Minute,
	}
	eh.thresholds[SeverityCritical] = ThresholdConfig{
		MaxErrorsPerHour:     5,
		MaxConsecutiveErrors: 2,
		CooldownPeriod:       time.Hour,
	}
}

// HandleError 处理错误，返回策略处理后的错误
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	appErr, ok := As(err)
	if !ok {
		appErr = Wrap(err, ErrorTypeSystem, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}

	eh.recordError(appErr)

	if eh.checkThresholds(appErr) {
		eh.logger.Warnf("错误达到阈值限制: %s", appErr.Error())
	}

	eh.executeCallbacks(appErr)

	return eh.executeStrategy(ctx, appErr)
}

// recordError 记录错误
func (eh *ErrorHandler) recordError(err *AppError) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats.RecordError(err)
}

// checkThresholds 检查阈值
func (eh *ErrorHandler) checkThresholds(err *AppError) bool {
	eh.mu.RLock()
	defer eh.mu.RUnlock()

	threshold, exists := eh.thresholds[err.Severity]
	if !exists {
		return false
	}

	hourlyRate := eh.stats.GetErrorRate(time.Hour)
	if hourlyRate > float64(threshold.MaxErrorsPerHour) {
		eh.logger.Warnf("每小时错误数超过阈值: %.2f > %d", hourlyRate, threshold.MaxErrorsPerHour)
		return true
	}
	return false
}

// executeCallbacks 执行错误回调
func (eh *ErrorHandler) executeCallbacks(err *AppError) {
	eh.mu.RLock()
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.RUnlock()

	for _, callback := range callbacks {
		go func(cb ErrorCallback) {
			defer func() {
				if r := recover(); r != nil {
					eh.logger.Errorf("错误回调执行时发生panic: %v", r)
				}
			}()
			cb(err)
		}(callback)
	}
}

// executeStrategy 执行处理策略
func (eh *ErrorHandler) executeStrategy(ctx context.Context, err *AppError) error {
	eh.mu.RLock()
	strategy, exists := eh.strategies[err.Type]
	eh.mu.RUnlock()
	if !exists {
		strategy = NewLoggingStrategy(eh.logger)
	}
	return strategy.Handle(ctx, err)
}

// Handle 实现LoggingStrategy的处理方法
func (ls *LoggingStrategy) Handle(ctx context.Context, err *AppError) error {
	logEntry := ls.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
		"context":    err.Context,
	})
	if err.Cause != nil {
		logEntry = logEntry.WithError(err.Cause)
	}

	// 服务进程不因单个错误退出，Critical 也按 Error 级别记录
	switch err.Severity {
	case SeverityLow:
		logEntry.Debug(err.Message)
	case SeverityMedium:
		logEntry.Warn(err.Message)
	default:
		logEntry.Error(err.Message)
	}

	return err
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// SetStrategy 设置错误处理策略
func (eh *ErrorHandler) SetStrategy(errorType ErrorType, strategy ErrorStrategy) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.strategies[errorType] = strategy
}

// GetStats 获取错误统计信息的副本
func (eh *ErrorHandler) GetStats() ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()

	snapshot := *eh.stats
	snapshot.ErrorsByType = copyCounts(eh.stats.ErrorsByType)
	snapshot.ErrorsBySeverity = copyCounts(eh.stats.ErrorsBySeverity)
	snapshot.ErrorsByComponent = copyCounts(eh.stats.ErrorsByComponent)
	snapshot.RecentErrors = append([]*AppError(nil), eh.stats.RecentErrors...)
	return snapshot
}

func copyCounts(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}

// AlertStrategy 告警策略
type AlertStrategy struct {
	alertFunc func(err *AppError)
	logger    *logrus.Logger
}

// NewAlertStrategy 创建告警策略
func NewAlertStrategy(alertFunc func(err *AppError), logger *logrus.Logger) *AlertStrategy {
	return &AlertStrategy{
		alertFunc: alertFunc,
		logger:    logger,
	}
}

// Handle 实现AlertStrategy的处理方法
func (as *AlertStrategy) Handle(ctx context.Context, err *AppError) error {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				as.logger.Errorf("告警函数执行时发生panic: %v", r)
			}
		}()
		as.alertFunc(err)
	}()
	return err
}

// CompositeStrategy 组合策略，可以执行多个策略
type CompositeStrategy struct {
	strategies []ErrorStrategy
}

// NewCompositeStrategy 创建组合策略
func NewCompositeStrategy(strategies ...ErrorStrategy) *CompositeStrategy {
	return &CompositeStrategy{strategies: strategies}
}

// Handle 实现CompositeStrategy的处理方法
func (cs *CompositeStrategy) Handle(ctx context.Context, err *AppError) error {
	var lastErr error
	for _, strategy := range cs.strategies {
		if strategyErr := strategy.Handle(ctx, err); strategyErr != nil {
			lastErr = strategyErr
		}
	}
	return lastErr
}

package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 争议状态机相关错误
	ErrorTypeInvalidState ErrorType = iota
	ErrorTypeAlreadyVoting
	ErrorTypeDuplicateVote
	ErrorTypeQuorumNotMet

	// 数据相关错误
	ErrorTypeNotFound
	ErrorTypeValidation
	ErrorTypeSerialization

	// 外部服务错误
	ErrorTypeOracleUnavailable
	ErrorTypeNetwork
	ErrorTypeTimeout
	ErrorTypeRateLimit
	ErrorTypeKafka

	// 系统相关错误
	ErrorTypeStorage
	ErrorTypeConfig
	ErrorTypeSystem
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// AppError 自定义错误类型
type AppError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   interface{}            `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component,omitempty"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使 errors.Is(err, ErrNotFound) 对派生错误同样成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可重试
func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithComponent 标记产生错误的组件
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// New 创建新的错误
func New(errorType ErrorType, severity ErrorSeverity, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// Wrap 包装现有错误
func Wrap(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *AppError {
	e := New(errorType, severity, code, message)
	e.Cause = err
	return e
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	case ErrorTypeOracleUnavailable, ErrorTypeKafka:
		return true
	default:
		return false
	}
}

// 预定义错误，仅用于 errors.Is 比较，不要直接修改
var (
	ErrInvalidState = New(ErrorTypeInvalidState, SeverityLow, "INVALID_STATE", "当前状态不允许该操作")

	ErrAlreadyVoting = New(ErrorTypeAlreadyVoting, SeverityLow, "ALREADY_VOTING", "争议已处于投票阶段")

	ErrDuplicateVote = New(ErrorTypeDuplicateVote, SeverityLow, "DUPLICATE_VOTE", "该投票人已投票")

	ErrQuorumNotMet = New(ErrorTypeQuorumNotMet, SeverityLow, "QUORUM_NOT_MET", "投票数未达到法定人数")

	ErrNotFound = New(ErrorTypeNotFound, SeverityLow, "NOT_FOUND", "资源不存在")

	ErrValidation = New(ErrorTypeValidation, SeverityLow, "VALIDATION_FAILED", "数据验证失败")

	ErrSerializationFailed = New(ErrorTypeSerialization, SeverityMedium, "SERIALIZATION_FAILED", "数据序列化失败")

	ErrOracleUnavailable = New(ErrorTypeOracleUnavailable, SeverityMedium, "ORACLE_UNAVAILABLE", "欺诈评分服务不可用")

	ErrRateLimitExceeded = New(ErrorTypeRateLimit, SeverityMedium, "RATE_LIMIT_EXCEEDED", "请求频率超限")

	ErrKafkaProduceFailed = New(ErrorTypeKafka, SeverityHigh, "KAFKA_PRODUCE_FAILED", "Kafka消息发送失败")

	ErrStorageFailed = New(ErrorTypeStorage, SeverityHigh, "STORAGE_FAILED", "存储操作失败")

	ErrConfigInvalid = New(ErrorTypeConfig, SeverityCritical, "CONFIG_INVALID", "配置无效")
)

// InvalidState 构造状态非法错误
func InvalidState(format string, args ...interface{}) *AppError {
	return derive(ErrInvalidState, fmt.Sprintf(format, args...))
}

// AlreadyVoting 构造重复开启投票错误
func AlreadyVoting(disputeID string) *AppError {
	return derive(ErrAlreadyVoting, ErrAlreadyVoting.Message).WithContext("dispute_id", disputeID)
}

// DuplicateVote 构造重复投票错误
func DuplicateVote(disputeID, voterID string) *AppError {
	return derive(ErrDuplicateVote, ErrDuplicateVote.Message).
		WithContext("dispute_id", disputeID).
		WithContext("voter_id", voterID)
}

// QuorumNotMet 构造法定人数不足错误
func QuorumNotMet(disputeID string, votes, quorum int) *AppError {
	return derive(ErrQuorumNotMet, fmt.Sprintf("当前票数 %d，法定人数 %d", votes, quorum)).
		WithContext("dispute_id", disputeID)
}

// NotFound 构造资源不存在错误
func NotFound(kind, id string) *AppError {
	return derive(ErrNotFound, fmt.Sprintf("%s不存在: %s", kind, id)).WithContext(kind, id)
}

// Validation 构造验证错误
func Validation(format string, args ...interface{}) *AppError {
	return derive(ErrValidation, fmt.Sprintf(format, args...))
}

// OracleUnavailable 包装评分服务失败
func OracleUnavailable(cause error, message string) *AppError {
	e := derive(ErrOracleUnavailable, message)
	e.Cause = cause
	return e
}

// Storage 包装存储失败
func Storage(cause error, message string) *AppError {
	e := derive(ErrStorageFailed, message)
	e.Cause = cause
	return e
}

func derive(base *AppError, message string) *AppError {
	e := New(base.Type, base.Severity, base.Code, message)
	e.Retryable = base.Retryable
	return e
}

// As 提取 AppError
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is 是标准库 errors.Is 的别名，便于调用方只导入本包
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeInvalidState:      "InvalidState",
	ErrorTypeAlreadyVoting:     "AlreadyVoting",
	ErrorTypeDuplicateVote:     "DuplicateVote",
	ErrorTypeQuorumNotMet:      "QuorumNotMet",
	ErrorTypeNotFound:          "NotFound",
	ErrorTypeValidation:        "Validation",
	ErrorTypeSerialization:     "Serialization",
	ErrorTypeOracleUnavailable: "OracleUnavailable",
	ErrorTypeNetwork:           "Network",
	ErrorTypeTimeout:           "Timeout",
	ErrorTypeRateLimit:         "RateLimit",
	ErrorTypeKafka:             "Kafka",
	ErrorTypeStorage:           "Storage",
	ErrorTypeConfig:            "Config",
	ErrorTypeSystem:            "System",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int            `json:"total_errors"`
	ErrorsByType      map[string]int `json:"errors_by_type"`
	ErrorsBySeverity  map[string]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int `json:"errors_by_component"`
	RecentErrors      []*AppError    `json:"recent_errors"`
	LastError         *AppError      `json:"last_error,omitempty"`
	LastErrorTime     time.Time      `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[string]int),
		ErrorsBySeverity:  make(map[string]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*AppError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *AppError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type.String()]++
	es.ErrorsBySeverity[err.Severity.String()]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	hours := duration.Hours()
	if hours == 0 {
		return float64(recentCount)
	}
	return float64(recentCount) / hours
}

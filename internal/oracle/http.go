package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"fraudguard/internal/errors"
	"fraudguard/internal/retry"
	"fraudguard/pkg/models"
)

const maxResponseSize = 1 << 20

// HTTPConfig 评分服务客户端配置
type HTTPConfig struct {
	URL         string
	APIKey      string
	Timeout     time.Duration
	RateLimit   float64 // 每秒请求数，<=0 表示不限速
	Burst       int
	MaxAttempts int
}

// HTTPOracle 通过 HTTP 调用外部评分服务
type HTTPOracle struct {
	config  HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	retrier *retry.Retrier
	logger  *logrus.Logger
}

type wireTransaction struct {
	ID                 string `json:"id"`
	Timestamp          int64  `json:"timestamp"`
	Sender             string `json:"sender"`
	Receiver           string `json:"receiver"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	Status             string `json:"status"`
	RiskLevel          string `json:"riskLevel"`
	BlockConfirmations uint64 `json:"blockConfirmations"`
	BlockHash          string `json:"blockHash,omitempty"`
}

type wireRequest struct {
	Transaction wireTransaction `json:"transaction"`
}

type wireDetails struct {
	FlaggedPatterns []string `json:"flaggedPatterns"`
	SimilarCases    int      `json:"similarCases"`
	Recommendation  string   `json:"recommendation"`
}

type wireResponse struct {
	FraudScore *int         `json:"fraudScore"`
	Verdict    string       `json:"verdict"`
	Confidence *int         `json:"confidence"`
	Details    *wireDetails `json:"details"`
}

// statusError 非 2xx 响应，5xx 与 429 可重试
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("评分服务返回错误状态: %d", e.code)
}

func (e *statusError) IsRetryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

// NewHTTPOracle 创建评分服务客户端
func NewHTTPOracle(config HTTPConfig, logger *logrus.Logger) (*HTTPOracle, error) {
	if config.URL == "" {
		return nil, errors.Validation("评分服务地址不能为空")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	return &HTTPOracle{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(limit, config.Burst),
		retrier: retry.NewRetrier(retry.OracleRetryConfig(config.MaxAttempts), logger),
		logger:  logger,
	}, nil
}

// Analyze 调用评分服务，失败统一包装为 OracleUnavailable
func (o *HTTPOracle) Analyze(ctx context.Context, req Request) (*Response, error) {
	if req.Transaction == nil {
		return nil, errors.Validation("评分请求缺少交易数据")
	}

	body, err := json.Marshal(wireRequest{Transaction: toWire(req.Transaction)})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSerialization, errors.SeverityMedium, "SERIALIZATION_FAILED", "序列化评分请求失败")
	}

	resp, err := retry.Do(ctx, o.retrier, "oracle.analyze", func() (*Response, error) {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return o.post(ctx, body)
	})
	if err != nil {
		if errors.Is(err, errors.ErrOracleUnavailable) {
			return nil, err
		}
		return nil, errors.OracleUnavailable(err, "评分服务调用失败")
	}
	return resp, nil
}

func (o *HTTPOracle) post(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	}

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &statusError{code: httpResp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	return decodeResponse(data)
}

// decodeResponse 解析并校验评分结果，格式错误不重试
func decodeResponse(data []byte) (*Response, error) {
	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, malformed(err, "评分结果格式错误")
	}
	if wire.FraudScore == nil || wire.Confidence == nil {
		return nil, malformed(nil, "评分结果缺少必填字段")
	}

	resp := &Response{
		FraudScore: *wire.FraudScore,
		Verdict:    models.Verdict(wire.Verdict),
		Confidence: *wire.Confidence,
	}
	if wire.Details != nil {
		resp.Details = models.AnalysisDetails{
			FlaggedPatterns: wire.Details.FlaggedPatterns,
			SimilarCases:    wire.Details.SimilarCases,
			Recommendation:  wire.Details.Recommendation,
		}
	}
	if resp.Details.FlaggedPatterns == nil {
		resp.Details.FlaggedPatterns = []string{}
	}

	if err := resp.validate(); err != nil {
		return nil, err
	}
	return resp, nil
}

func errInvalidField(field string, value interface{}) error {
	return malformed(nil, fmt.Sprintf("评分结果字段无效: %s=%v", field, value))
}

// malformed 评分结果格式错误，重试无意义
func malformed(cause error, message string) *errors.AppError {
	e := errors.OracleUnavailable(cause, message)
	e.Retryable = false
	return e
}

func toWire(tx *models.Transaction) wireTransaction {
	return wireTransaction{
		ID:                 tx.ID,
		Timestamp:          tx.Timestamp.UnixMilli(),
		Sender:             tx.From,
		Receiver:           tx.To,
		Amount:             tx.Amount.String(),
		Currency:           tx.Currency,
		Status:             string(tx.Status),
		RiskLevel:          string(tx.RiskLevel),
		BlockConfirmations: tx.BlockConfirmations,
		BlockHash:          tx.BlockHash,
	}
}

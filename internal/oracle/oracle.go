package oracle

import (
	"context"

	"fraudguard/pkg/models"
)

// Request 评分请求
type Request struct {
	TransactionID string
	Transaction   *models.Transaction
}

// Response 评分服务返回的原始结果
type Response struct {
	FraudScore int
	Verdict    models.Verdict
	Confidence int
	Details    models.AnalysisDetails
}

// Oracle 外部欺诈评分服务
type Oracle interface {
	Analyze(ctx context.Context, req Request) (*Response, error)
}

// validate 校验评分结果取值范围
func (r *Response) validate() error {
	if r.FraudScore < 0 || r.FraudScore > 100 {
		return errInvalidField("fraudScore", r.FraudScore)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return errInvalidField("confidence", r.Confidence)
	}
	if !r.Verdict.Valid() {
		return errInvalidField("verdict", r.Verdict)
	}
	if r.Details.SimilarCases < 0 {
		return errInvalidField("similarCases", r.Details.SimilarCases)
	}
	return nil
}

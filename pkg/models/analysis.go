package models

import "time"

// Verdict 欺诈判定结果
type Verdict string

const (
	VerdictLegitimate Verdict = "legitimate"
	VerdictSuspicious Verdict = "suspicious"
	VerdictFraudulent Verdict = "fraudulent"
)

// Valid 判断判定取值是否合法
func (v Verdict) Valid() bool {
	switch v {
	case VerdictLegitimate, VerdictSuspicious, VerdictFraudulent:
		return true
	}
	return false
}

// AnalysisSource 分析结果来源
type AnalysisSource string

const (
	SourceOracle   AnalysisSource = "oracle"
	SourceFallback AnalysisSource = "fallback"
)

// AnalysisDetails 分析明细
type AnalysisDetails struct {
	FlaggedPatterns []string `json:"flagged_patterns"`
	SimilarCases    int      `json:"similar_cases"`
	Recommendation  string   `json:"recommendation"`
}

// AIAnalysisResult 交易的AI欺诈分析结果，每笔交易只保留最新一条
type AIAnalysisResult struct {
	TransactionID string          `json:"transaction_id"`
	FraudScore    int             `json:"fraud_score"`
	Verdict       Verdict         `json:"verdict"`
	Confidence    int             `json:"confidence"`
	AnalysisTime  time.Time       `json:"analysis_time"`
	Details       AnalysisDetails `json:"details"`
	Source        AnalysisSource  `json:"source"`
}

// Clone 深拷贝分析结果
func (r *AIAnalysisResult) Clone() *AIAnalysisResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Details.FlaggedPatterns = append([]string(nil), r.Details.FlaggedPatterns...)
	return &c
}

// IsFallback 是否为降级生成的结果
func (r *AIAnalysisResult) IsFallback() bool {
	return r.Source == SourceFallback
}

// Feedback 用户对分析结果的反馈
type Feedback struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	IsCorrect     bool      `json:"is_correct"`
	ActualVerdict *Verdict  `json:"actual_verdict,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// FeedbackAck 反馈回执
type FeedbackAck struct {
	FeedbackID    string    `json:"feedback_id"`
	TransactionID string    `json:"transaction_id"`
	Accepted      bool      `json:"accepted"`
	ReceivedAt    time.Time `json:"received_at"`
}

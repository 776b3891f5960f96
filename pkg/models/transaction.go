package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "fraudguard/internal/errors"
)

// TransactionStatus 交易状态
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionConfirmed TransactionStatus = "confirmed"
	TransactionRejected  TransactionStatus = "rejected"
)

// Valid 判断状态取值是否合法
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionPending, TransactionConfirmed, TransactionRejected:
		return true
	}
	return false
}

// RiskLevel 风险等级，仅供参考，不具有权威性
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid 判断风险等级取值是否合法
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Transaction 交易数据模型
type Transaction struct {
	ID                 string            `json:"id"`
	Timestamp          time.Time         `json:"timestamp"`
	From               string            `json:"from"`
	To                 string            `json:"to"`
	Amount             decimal.Decimal   `json:"amount"`
	Currency           string            `json:"currency"`
	Status             TransactionStatus `json:"status"`
	RiskLevel          RiskLevel         `json:"risk_level"`
	BlockConfirmations uint64            `json:"block_confirmations"`
	BlockHash          string            `json:"block_hash,omitempty"`
	AIDetection        *AIAnalysisResult `json:"ai_detection,omitempty"`
}

// Clone 深拷贝交易
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	if t.AIDetection != nil {
		c.AIDetection = t.AIDetection.Clone()
	}
	return &c
}

// Involves 判断钱包地址是否为发送方或接收方
func (t *Transaction) Involves(wallet string) bool {
	return strings.EqualFold(t.From, wallet) || strings.EqualFold(t.To, wallet)
}

// AttachAnalysis 挂载最新的AI分析结果，已拒绝的交易不可修改
func (t *Transaction) AttachAnalysis(result *AIAnalysisResult) error {
	if t.Status == TransactionRejected {
		return apperrors.InvalidState("交易 %s 已被拒绝，不可修改", t.ID)
	}
	t.AIDetection = result.Clone()
	return nil
}

// SetRiskLevel 更新风险等级，已拒绝的交易不可修改
func (t *Transaction) SetRiskLevel(level RiskLevel) error {
	if !level.Valid() {
		return apperrors.Validation("无效的风险等级: %s", level)
	}
	if t.Status == TransactionRejected {
		return apperrors.InvalidState("交易 %s 已被拒绝，不可修改", t.ID)
	}
	t.RiskLevel = level
	return nil
}

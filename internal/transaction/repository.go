package transaction

import (
	"context"
	"strings"
	"time"

	"fraudguard/internal/errors"
	"fraudguard/pkg/models"
)

const (
	// DefaultLimit 默认分页大小
	DefaultLimit = 20
	// MaxLimit 单页上限
	MaxLimit = 100
)

// Repository 交易查询接口，交易本身由外部账本写入
type Repository interface {
	Get(ctx context.Context, id string) (*models.Transaction, error)
	List(ctx context.Context, filter Filter) (*Page, error)
	AttachAnalysis(ctx context.Context, id string, result *models.AIAnalysisResult) error
	UpdateRiskLevel(ctx context.Context, id string, level models.RiskLevel) error
}

// Filter 交易过滤条件，钱包匹配发送方或接收方
type Filter struct {
	Wallet string     `form:"wallet"`
	From   *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To     *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit  int        `form:"limit"`
	Offset int        `form:"offset"`
}

// Page 分页结果
type Page struct {
	Items   []*models.Transaction `json:"items"`
	Total   int                   `json:"total"`
	HasMore bool                  `json:"has_more"`
}

// Normalize 填充默认分页参数并校验
func (f Filter) Normalize(defaultLimit, maxLimit int) (Filter, error) {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	f.Wallet = strings.TrimSpace(f.Wallet)
	if f.Limit < 0 || f.Offset < 0 {
		return f, errors.Validation("分页参数不能为负数")
	}
	if f.Limit == 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return f, errors.Validation("起始时间不能晚于结束时间")
	}
	return f, nil
}

func (f Filter) match(tx *models.Transaction) bool {
	if f.Wallet != "" && !tx.Involves(f.Wallet) {
		return false
	}
	if f.From != nil && tx.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.Timestamp.After(*f.To) {
		return false
	}
	return true
}

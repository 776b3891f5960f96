package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"fraudguard/internal/errors"
	"fraudguard/internal/validation"
	"fraudguard/pkg/models"
)

// MemoryRepository 内存交易库，可从 JSON 样例文件加载
type MemoryRepository struct {
	mu           sync.RWMutex
	txs          map[string]*models.Transaction
	validator    *validation.Validator
	logger       *logrus.Logger
	defaultLimit int
	maxLimit     int
}

// NewMemoryRepository 创建内存交易库
func NewMemoryRepository(validator *validation.Validator, logger *logrus.Logger) *MemoryRepository {
	return &MemoryRepository{
		txs:          make(map[string]*models.Transaction),
		validator:    validator,
		logger:       logger,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
	}
}

// SetLimits 设置分页参数
func (r *MemoryRepository) SetLimits(defaultLimit, maxLimit int) {
	r.defaultLimit = defaultLimit
	r.maxLimit = maxLimit
}

// Add 写入交易，未通过校验的交易被拒绝
func (r *MemoryRepository) Add(txs ...*models.Transaction) error {
	for _, tx := range txs {
		if result := r.validator.ValidateTransaction(tx); !result.Valid {
			return result.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range txs {
		r.txs[tx.ID] = tx.Clone()
	}
	return nil
}

// LoadFixtures 从 JSON 数组文件加载交易
func (r *MemoryRepository) LoadFixtures(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("读取交易样例失败: %w", err)
	}

	var txs []*models.Transaction
	if err := json.Unmarshal(data, &txs); err != nil {
		return 0, fmt.Errorf("解析交易样例失败: %w", err)
	}

	if err := r.Add(txs...); err != nil {
		return 0, fmt.Errorf("交易样例校验失败: %w", err)
	}

	r.logger.Infof("已加载 %d 笔样例交易: %s", len(txs), path)
	return len(txs), nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.txs[id]
	if !ok {
		return nil, errors.NotFound("transaction", id)
	}
	return tx.Clone(), nil
}

// List 按时间倒序分页
func (r *MemoryRepository) List(ctx context.Context, filter Filter) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter, err := filter.Normalize(r.defaultLimit, r.maxLimit)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	matched := make([]*models.Transaction, 0)
	for _, tx := range r.txs {
		if filter.match(tx) {
			matched = append(matched, tx.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}

	return &Page{
		Items:   matched[start:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

// AttachAnalysis 挂载最新分析结果
func (r *MemoryRepository) AttachAnalysis(ctx context.Context, id string, result *models.AIAnalysisResult) error {
	return r.update(ctx, id, func(tx *models.Transaction) error {
		return tx.AttachAnalysis(result)
	})
}

// UpdateRiskLevel 人工调整风险等级
func (r *MemoryRepository) UpdateRiskLevel(ctx context.Context, id string, level models.RiskLevel) error {
	return r.update(ctx, id, func(tx *models.Transaction) error {
		return tx.SetRiskLevel(level)
	})
}

func (r *MemoryRepository) update(ctx context.Context, id string, fn func(tx *models.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[id]
	if !ok {
		return errors.NotFound("transaction", id)
	}
	updated := tx.Clone()
	if err := fn(updated); err != nil {
		return err
	}
	r.txs[id] = updated
	return nil
}

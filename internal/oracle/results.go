package oracle

import (
	"context"
	"sync"

	"fraudguard/internal/errors"
	"fraudguard/internal/storage"
	"fraudguard/pkg/models"
)

// ResultStore 保存每笔交易最新的分析结果与用户反馈
type ResultStore interface {
	Save(ctx context.Context, result *models.AIAnalysisResult) error
	Latest(ctx context.Context, transactionID string) (*models.AIAnalysisResult, error)
	SaveFeedback(ctx context.Context, fb *models.Feedback) error
}

// MemoryResultStore 内存结果存储
type MemoryResultStore struct {
	mu       sync.RWMutex
	results  map[string]*models.AIAnalysisResult
	feedback []*models.Feedback
}

// NewMemoryResultStore 创建内存结果存储
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{
		results: make(map[string]*models.AIAnalysisResult),
	}
}

func (s *MemoryResultStore) Save(ctx context.Context, result *models.AIAnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.TransactionID] = result.Clone()
	return nil
}

func (s *MemoryResultStore) Latest(ctx context.Context, transactionID string) (*models.AIAnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[transactionID]
	if !ok {
		return nil, errors.NotFound("analysis", transactionID)
	}
	return r.Clone(), nil
}

func (s *MemoryResultStore) SaveFeedback(ctx context.Context, fb *models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *fb
	s.feedback = append(s.feedback, &c)
	return nil
}

// FeedbackCount 已收到的反馈数量
func (s *MemoryResultStore) FeedbackCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.feedback)
}

// BoltResultStore 基于 BoltDB 的结果存储
type BoltResultStore struct {
	db *storage.DB
}

// NewBoltResultStore 创建持久化结果存储
func NewBoltResultStore(db *storage.DB) *BoltResultStore {
	return &BoltResultStore{db: db}
}

func (s *BoltResultStore) Save(ctx context.Context, result *models.AIAnalysisResult) error {
	if err := s.db.PutJSON(storage.AnalysesBucket, result.TransactionID, result); err != nil {
		return errors.Storage(err, "保存分析结果失败")
	}
	return nil
}

func (s *BoltResultStore) Latest(ctx context.Context, transactionID string) (*models.AIAnalysisResult, error) {
	var r models.AIAnalysisResult
	found, err := s.db.GetJSON(storage.AnalysesBucket, transactionID, &r)
	if err != nil {
		return nil, errors.Storage(err, "读取分析结果失败")
	}
	if !found {
		return nil, errors.NotFound("analysis", transactionID)
	}
	return &r, nil
}

func (s *BoltResultStore) SaveFeedback(ctx context.Context, fb *models.Feedback) error {
	if err := s.db.PutJSON(storage.FeedbackBucket, fb.ID, fb); err != nil {
		return errors.Storage(err, "保存反馈失败")
	}
	return nil
}

package dispute

import (
	"sort"
	"sync"

	"fraudguard/internal/errors"
	"fraudguard/pkg/models"
)

// Store 争议存储，读写均以快照（深拷贝）交换
type Store interface {
	Create(d *models.Dispute) error
	Get(id string) (*models.Dispute, error)
	Update(d *models.Dispute) error
	List(filter ListFilter) ([]*models.Dispute, error)
}

// ListFilter 列表过滤条件
type ListFilter struct {
	TransactionID string               `form:"transaction_id"`
	Status        models.DisputeStatus `form:"status"`
	Limit         int                  `form:"limit"`
	Offset        int                  `form:"offset"`
}

func (f ListFilter) match(d *models.Dispute) bool {
	if f.TransactionID != "" && d.TransactionID != f.TransactionID {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	return true
}

// paginate 按创建时间倒序排序后分页
func (f ListFilter) paginate(items []*models.Dispute) []*models.Dispute {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(items) {
			return []*models.Dispute{}
		}
		items = items[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(items) {
		items = items[:f.Limit]
	}
	return items
}

// MemoryStore 内存存储
type MemoryStore struct {
	mu       sync.RWMutex
	disputes map[string]*models.Dispute
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{disputes: make(map[string]*models.Dispute)}
}

func (s *MemoryStore) Create(d *models.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.disputes[d.ID]; exists {
		return errors.InvalidState("争议已存在: %s", d.ID)
	}
	s.disputes[d.ID] = d.Clone()
	return nil
}

func (s *MemoryStore) Get(id string) (*models.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.disputes[id]
	if !ok {
		return nil, errors.NotFound("dispute", id)
	}
	return d.Clone(), nil
}

func (s *MemoryStore) Update(d *models.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.disputes[d.ID]; !exists {
		return errors.NotFound("dispute", d.ID)
	}
	s.disputes[d.ID] = d.Clone()
	return nil
}

func (s *MemoryStore) List(filter ListFilter) ([]*models.Dispute, error) {
	s.mu.RLock()
	items := make([]*models.Dispute, 0, len(s.disputes))
	for _, d := range s.disputes {
		if filter.match(d) {
			items = append(items, d.Clone())
		}
	}
	s.mu.RUnlock()

	return filter.paginate(items), nil
}

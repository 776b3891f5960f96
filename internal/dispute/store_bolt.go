package dispute

import (
	"encoding/json"
	"sync"

	"fraudguard/internal/errors"
	"fraudguard/internal/storage"
	"fraudguard/pkg/models"
)

// BoltStore 基于 BoltDB 的持久化争议存储
type BoltStore struct {
	db *storage.DB
	// 串行化存在性检查与写入
	mu sync.Mutex
}

// NewBoltStore 创建持久化存储
func NewBoltStore(db *storage.DB) *BoltStore {
	return &BoltStore{db: db}
}

func (s *BoltStore) exists(id string) (bool, error) {
	var existing models.Dispute
	return s.db.GetJSON(storage.DisputesBucket, id, &existing)
}

func (s *BoltStore) Create(d *models.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found, err := s.exists(d.ID)
	if err != nil {
		return errors.Storage(err, "读取争议失败")
	}
	if found {
		return errors.InvalidState("争议已存在: %s", d.ID)
	}
	if err := s.db.PutJSON(storage.DisputesBucket, d.ID, d); err != nil {
		return errors.Storage(err, "保存争议失败")
	}
	return nil
}

func (s *BoltStore) Get(id string) (*models.Dispute, error) {
	var d models.Dispute
	found, err := s.db.GetJSON(storage.DisputesBucket, id, &d)
	if err != nil {
		return nil, errors.Storage(err, "读取争议失败")
	}
	if !found {
		return nil, errors.NotFound("dispute", id)
	}
	return &d, nil
}

func (s *BoltStore) Update(d *models.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found, err := s.exists(d.ID)
	if err != nil {
		return errors.Storage(err, "读取争议失败")
	}
	if !found {
		return errors.NotFound("dispute", d.ID)
	}
	if err := s.db.PutJSON(storage.DisputesBucket, d.ID, d); err != nil {
		return errors.Storage(err, "保存争议失败")
	}
	return nil
}

func (s *BoltStore) List(filter ListFilter) ([]*models.Dispute, error) {
	items := make([]*models.Dispute, 0)
	err := s.db.ForEach(storage.DisputesBucket, func(key string, data []byte) error {
		var d models.Dispute
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		if filter.match(&d) {
			items = append(items, &d)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Storage(err, "遍历争议失败")
	}
	return filter.paginate(items), nil
}

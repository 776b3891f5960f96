package dispute

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"fraudguard/internal/errors"
	"fraudguard/internal/evidence"
	"fraudguard/pkg/models"
)

// EvidenceInput 提交证据的输入，引用必须在上传完成后才存在
type EvidenceInput struct {
	Reference   string `json:"reference" binding:"required"`
	Description string `json:"description"`
	FileType    string `json:"file_type"`
}

// Ledger 证据账本：只追加，按插入顺序列出
type Ledger struct {
	store     Store
	validator evidence.ReferenceValidator
	now       func() time.Time
}

// NewLedger 创建证据账本
func NewLedger(store Store, validator evidence.ReferenceValidator) *Ledger {
	if validator == nil {
		validator = evidence.CIDValidator{}
	}
	return &Ledger{
		store:     store,
		validator: validator,
		now:       time.Now,
	}
}

// Append 校验引用并把证据追加到争议记录上，调用方负责持有该争议的锁并提交
func (l *Ledger) Append(d *models.Dispute, in EvidenceInput) (models.Evidence, error) {
	if d.Status != models.DisputeOpen && d.Status != models.DisputeVoting {
		return models.Evidence{}, errors.InvalidState("争议 %s 状态为 %s，不能再提交证据", d.ID, d.Status)
	}

	ref := strings.TrimSpace(in.Reference)
	if err := l.validator.Validate(ref); err != nil {
		return models.Evidence{}, err
	}

	ev := models.Evidence{
		ID:          uuid.NewString(),
		DisputeID:   d.ID,
		Reference:   ref,
		Description: strings.TrimSpace(in.Description),
		FileType:    in.FileType,
		UploadedAt:  l.now().UTC(),
	}
	d.Evidence = append(d.Evidence, ev)
	return ev, nil
}

// List 返回已提交的证据快照
func (l *Ledger) List(disputeID string) ([]models.Evidence, error) {
	d, err := l.store.Get(disputeID)
	if err != nil {
		return nil, err
	}
	return d.Evidence, nil
}

// ValidatorName 当前使用的引用校验器
func (l *Ledger) ValidatorName() string {
	return l.validator.Name()
}

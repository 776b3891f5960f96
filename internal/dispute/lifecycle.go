package dispute

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fraudguard/internal/errors"
	"fraudguard/internal/logging"
	"fraudguard/pkg/models"
)

// TransactionResolver 按ID解析交易
type TransactionResolver interface {
	Get(ctx context.Context, id string) (*models.Transaction, error)
}

// EventSink 接收已提交的争议事件，实现方自行处理错误且不应阻塞
type EventSink interface {
	HandleDisputeEvent(ctx context.Context, d *models.Dispute, ev models.DisputeEvent)
}

// Lifecycle 争议状态机：open → voting → resolved
type Lifecycle struct {
	store  Store
	ledger *Ledger
	txs    TransactionResolver
	policy Policy
	sinks  []EventSink
	locks  *keyedMutex
	logger *logrus.Logger
	now    func() time.Time
}

// Option 生命周期可选项
type Option func(*Lifecycle)

// WithEventSinks 注册事件接收方
func WithEventSinks(sinks ...EventSink) Option {
	return func(l *Lifecycle) {
		l.sinks = append(l.sinks, sinks...)
	}
}

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = now
		l.ledger.now = now
	}
}

// NewLifecycle 创建争议生命周期服务
func NewLifecycle(store Store, ledger *Ledger, txs TransactionResolver, policy Policy, logger *logrus.Logger, opts ...Option) (*Lifecycle, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	l := &Lifecycle{
		store:  store,
		ledger: ledger,
		txs:    txs,
		policy: policy,
		locks:  newKeyedMutex(),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policy 当前策略
func (l *Lifecycle) Policy() Policy {
	return l.policy
}

// EvidenceValidator 证据引用校验器名称
func (l *Lifecycle) EvidenceValidator() string {
	return l.ledger.ValidatorName()
}

// CreateDispute 针对交易创建争议，可附带初始证据
func (l *Lifecycle) CreateDispute(ctx context.Context, transactionID, description string, initial ...EvidenceInput) (*models.Dispute, error) {
	transactionID = strings.TrimSpace(transactionID)
	description = strings.TrimSpace(description)
	if transactionID == "" {
		return nil, errors.Validation("交易ID不能为空")
	}
	if description == "" {
		return nil, errors.Validation("争议描述不能为空")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := l.txs.Get(ctx, transactionID); err != nil {
		return nil, err
	}

	now := l.now().UTC()
	d := &models.Dispute{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		Description:   description,
		Status:        models.DisputeOpen,
		Voters:        make(map[string]bool),
		Evidence:      make([]models.Evidence, 0, len(initial)),
		Timeline:      make([]models.DisputeEvent, 0, len(initial)+1),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	events := []models.DisputeEvent{
		l.appendEvent(d, models.EventCreated, map[string]interface{}{
			"transaction_id": transactionID,
		}),
	}
	for _, in := range initial {
		ev, err := l.ledger.Append(d, in)
		if err != nil {
			return nil, err
		}
		events = append(events, l.evidenceEvent(d, ev))
	}
	if l.policy.shouldAutoStart(len(d.Evidence)) {
		events = append(events, l.startVoting(d))
	}

	unlock := l.locks.Lock(d.ID)
	defer unlock()

	if err := l.store.Create(d); err != nil {
		return nil, err
	}

	snapshot := d.Clone()
	l.publish(ctx, snapshot, events)
	logging.DisputeLogger(l.logger, d.ID).WithFields(logrus.Fields{
		"transaction_id": transactionID,
		"evidence":       len(d.Evidence),
	}).Info("争议已创建")
	return snapshot, nil
}

// AddEvidence 追加证据，仅 open 与 voting 状态允许
func (l *Lifecycle) AddEvidence(ctx context.Context, disputeID string, in EvidenceInput) (*models.Evidence, error) {
	var added models.Evidence
	_, err := l.mutate(ctx, disputeID, func(d *models.Dispute) ([]models.DisputeEvent, error) {
		ev, err := l.ledger.Append(d, in)
		if err != nil {
			return nil, err
		}
		added = ev
		events := []models.DisputeEvent{l.evidenceEvent(d, ev)}
		if d.Status == models.DisputeOpen && l.policy.shouldAutoStart(len(d.Evidence)) {
			events = append(events, l.startVoting(d))
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return &added, nil
}

// StartVoting 进入投票阶段
func (l *Lifecycle) StartVoting(ctx context.Context, disputeID string) (*models.Dispute, error) {
	return l.mutate(ctx, disputeID, func(d *models.Dispute) ([]models.DisputeEvent, error) {
		switch d.Status {
		case models.DisputeVoting:
			return nil, errors.AlreadyVoting(d.ID)
		case models.DisputeResolved:
			return nil, errors.InvalidState("争议 %s 已结案", d.ID)
		}
		if len(d.Evidence) < l.policy.MinEvidence {
			return nil, errors.InvalidState("证据数量不足: %d < %d", len(d.Evidence), l.policy.MinEvidence).
				WithContext("dispute_id", d.ID)
		}
		return []models.DisputeEvent{l.startVoting(d)}, nil
	})
}

// CastVote 投票，同一投票人对同一争议只能投一次
func (l *Lifecycle) CastVote(ctx context.Context, disputeID, voterID string, support bool) (*models.Dispute, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return nil, errors.Validation("投票人ID不能为空")
	}

	return l.mutate(ctx, disputeID, func(d *models.Dispute) ([]models.DisputeEvent, error) {
		if d.Status != models.DisputeVoting {
			return nil, errors.InvalidState("争议 %s 状态为 %s，不能投票", d.ID, d.Status)
		}
		if d.HasVoted(voterID) {
			return nil, errors.DuplicateVote(d.ID, voterID)
		}

		if d.Voters == nil {
			d.Voters = make(map[string]bool)
		}
		d.Voters[voterID] = support
		if support {
			d.VotesFor++
		} else {
			d.VotesAgainst++
		}

		events := []models.DisputeEvent{
			l.appendEvent(d, models.EventVoteCast, map[string]interface{}{
				"voter_id":      voterID,
				"support":       support,
				"votes_for":     d.VotesFor,
				"votes_against": d.VotesAgainst,
			}),
		}
		if l.policy.AutoResolve && l.policy.quorumMet(d.TotalVotes()) {
			events = append(events, l.resolve(d))
		}
		return events, nil
	})
}

// Resolve 结案，需满足法定人数
func (l *Lifecycle) Resolve(ctx context.Context, disputeID string) (*models.Dispute, error) {
	return l.mutate(ctx, disputeID, func(d *models.Dispute) ([]models.DisputeEvent, error) {
		if d.Status != models.DisputeVoting {
			return nil, errors.InvalidState("争议 %s 状态为 %s，不能结案", d.ID, d.Status)
		}
		if !l.policy.quorumMet(d.TotalVotes()) {
			return nil, errors.QuorumNotMet(d.ID, d.TotalVotes(), l.policy.Quorum)
		}
		return []models.DisputeEvent{l.resolve(d)}, nil
	})
}

// GetDispute 读取已提交的争议快照
func (l *Lifecycle) GetDispute(ctx context.Context, disputeID string) (*models.Dispute, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.Get(disputeID)
}

// ListDisputes 列出争议
func (l *Lifecycle) ListDisputes(ctx context.Context, filter ListFilter) ([]*models.Dispute, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.List(filter)
}

// Evidence 列出争议的证据
func (l *Lifecycle) Evidence(ctx context.Context, disputeID string) ([]models.Evidence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.ledger.List(disputeID)
}

// Timeline 列出争议的审计事件
func (l *Lifecycle) Timeline(ctx context.Context, disputeID string) ([]models.DisputeEvent, error) {
	d, err := l.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	return d.Timeline, nil
}

// mutate 在争议锁内读取、修改并提交；fn 返回错误时不提交任何变更
func (l *Lifecycle) mutate(ctx context.Context, disputeID string, fn func(d *models.Dispute) ([]models.DisputeEvent, error)) (*models.Dispute, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(disputeID)
	defer unlock()

	d, err := l.store.Get(disputeID)
	if err != nil {
		return nil, err
	}

	events, err := fn(d)
	if err != nil {
		logging.DisputeLogger(l.logger, disputeID).WithError(err).Debug("争议操作被拒绝")
		return nil, err
	}

	d.UpdatedAt = l.now().UTC()
	if err := l.store.Update(d); err != nil {
		return nil, err
	}

	snapshot := d.Clone()
	l.publish(ctx, snapshot, events)
	return snapshot, nil
}

func (l *Lifecycle) startVoting(d *models.Dispute) models.DisputeEvent {
	d.Status = models.DisputeVoting
	d.VotesFor = 0
	d.VotesAgainst = 0
	d.Voters = make(map[string]bool)
	return l.appendEvent(d, models.EventVotingStarted, map[string]interface{}{
		"evidence_count": len(d.Evidence),
	})
}

func (l *Lifecycle) resolve(d *models.Dispute) models.DisputeEvent {
	resolution := DeriveResolution(d.VotesFor, d.VotesAgainst)
	now := l.now().UTC()
	d.Status = models.DisputeResolved
	d.Resolution = &resolution
	d.ResolvedAt = &now

	logging.DisputeLogger(l.logger, d.ID).WithFields(logrus.Fields{
		"resolution":    resolution,
		"votes_for":     d.VotesFor,
		"votes_against": d.VotesAgainst,
	}).Info("争议已结案")

	return l.appendEvent(d, models.EventResolved, map[string]interface{}{
		"resolution":    string(resolution),
		"votes_for":     d.VotesFor,
		"votes_against": d.VotesAgainst,
	})
}

func (l *Lifecycle) evidenceEvent(d *models.Dispute, ev models.Evidence) models.DisputeEvent {
	return l.appendEvent(d, models.EventEvidenceAdded, map[string]interface{}{
		"evidence_id": ev.ID,
		"reference":   ev.Reference,
	})
}

func (l *Lifecycle) appendEvent(d *models.Dispute, eventType models.DisputeEventType, data map[string]interface{}) models.DisputeEvent {
	ev := models.DisputeEvent{
		ID:        uuid.NewString(),
		DisputeID: d.ID,
		Type:      eventType,
		Timestamp: l.now().UTC(),
		Data:      data,
	}
	d.Timeline = append(d.Timeline, ev)
	return ev
}

// publish 在锁内按提交顺序分发事件，保证同一争议的事件有序
func (l *Lifecycle) publish(ctx context.Context, d *models.Dispute, events []models.DisputeEvent) {
	for _, ev := range events {
		for _, sink := range l.sinks {
			sink.HandleDisputeEvent(ctx, d, ev.Clone())
		}
	}
}

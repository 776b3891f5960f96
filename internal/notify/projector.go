package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fraudguard/internal/errors"
	"fraudguard/pkg/models"
)

// DefaultAlertCooldown 同一错误类型两次告警的最小间隔
const DefaultAlertCooldown = time.Minute

// Publisher 通知的外部发布方，例如输出层
type Publisher interface {
	PublishNotification(ctx context.Context, n *models.Notification)
}

// Projector 将争议事件与分析结果转换为面向用户的通知
type Projector struct {
	feed       *Feed
	publishers []Publisher
	logger     *logrus.Logger
	now        func() time.Time

	alertMu       sync.Mutex
	alertCooldown time.Duration
	lastAlert     map[errors.ErrorType]time.Time
}

// NewProjector 创建通知投影器
func NewProjector(feed *Feed, logger *logrus.Logger, publishers ...Publisher) *Projector {
	return &Projector{
		feed:       feed,
		publishers: publishers,
		logger:     logger,
		now:        time.Now,

		alertCooldown: DefaultAlertCooldown,
		lastAlert:     make(map[errors.ErrorType]time.Time),
	}
}

// SetAlertCooldown 设置系统告警冷却时间，0 表示不限制
func (p *Projector) SetAlertCooldown(d time.Duration) {
	p.alertMu.Lock()
	defer p.alertMu.Unlock()
	p.alertCooldown = d
}

// AlertSystemError 系统错误转为危险通知，同类型在冷却期内只提醒一次。
// 告警只进入通知中心，不经输出层发布，避免 Kafka 故障的告警再次触发 Kafka 错误。
func (p *Projector) AlertSystemError(err *errors.AppError) {
	if err == nil {
		return
	}

	now := p.now()
	p.alertMu.Lock()
	last, seen := p.lastAlert[err.Type]
	if seen && p.alertCooldown > 0 && now.Sub(last) < p.alertCooldown {
		p.alertMu.Unlock()
		return
	}
	p.lastAlert[err.Type] = now
	p.alertMu.Unlock()

	n := models.Notification{
		ID:        uuid.NewString(),
		Type:      models.NotificationDanger,
		Title:     "System Degraded",
		Message:   fmt.Sprintf("%s: %s", err.Type.String(), err.Message),
		Timestamp: now.UTC(),
	}
	if id, ok := err.Context["transaction_id"].(string); ok {
		n.RelatedTransactionID = id
	}
	p.feed.Add(n)

	p.logger.WithFields(logrus.Fields{
		"component":  "notify",
		"error_type": err.Type.String(),
		"error_code": err.Code,
	}).Warn("已生成系统告警通知")
}

// HandleDisputeEvent 争议事件转通知
func (p *Projector) HandleDisputeEvent(ctx context.Context, d *models.Dispute, ev models.DisputeEvent) {
	n := disputeNotification(d, ev)
	if n == nil {
		return
	}
	p.emit(ctx, n)
}

// HandleAnalysis 分析结果转通知
func (p *Projector) HandleAnalysis(ctx context.Context, tx *models.Transaction, result *models.AIAnalysisResult) {
	p.emit(ctx, analysisNotification(result))
}

func (p *Projector) emit(ctx context.Context, n *models.Notification) {
	n.ID = uuid.NewString()
	n.Timestamp = p.now().UTC()

	p.feed.Add(*n)
	for _, pub := range p.publishers {
		pub.PublishNotification(ctx, n)
	}

	p.logger.WithFields(logrus.Fields{
		"component":       "notify",
		"notification_id": n.ID,
		"type":            n.Type,
	}).Debug("已生成通知")
}

func disputeNotification(d *models.Dispute, ev models.DisputeEvent) *models.Notification {
	n := &models.Notification{
		RelatedTransactionID: d.TransactionID,
		RelatedDisputeID:     d.ID,
	}

	switch ev.Type {
	case models.EventCreated:
		n.Type = models.NotificationInfo
		n.Title = "New Dispute Filed"
		n.Message = fmt.Sprintf("A dispute has been filed for transaction %s", d.TransactionID)
	case models.EventEvidenceAdded:
		n.Type = models.NotificationInfo
		n.Title = "Evidence Submitted"
		n.Message = fmt.Sprintf("New evidence was added to dispute %s", d.ID)
	case models.EventVotingStarted:
		n.Type = models.NotificationWarning
		n.Title = "Voting Started"
		n.Message = fmt.Sprintf("Dispute %s is open for community voting", d.ID)
	case models.EventVoteCast:
		n.Type = models.NotificationInfo
		n.Title = "Vote Recorded"
		n.Message = fmt.Sprintf("Dispute %s now has %d votes for and %d against", d.ID, d.VotesFor, d.VotesAgainst)
	case models.EventResolved:
		n.Title = "Dispute Resolved"
		if d.Resolution != nil && *d.Resolution == models.ResolutionApproved {
			n.Type = models.NotificationSuccess
			n.Message = fmt.Sprintf("Dispute %s was approved", d.ID)
		} else {
			n.Type = models.NotificationDanger
			n.Message = fmt.Sprintf("Dispute %s was rejected", d.ID)
		}
	default:
		return nil
	}
	return n
}

func analysisNotification(result *models.AIAnalysisResult) *models.Notification {
	n := &models.Notification{RelatedTransactionID: result.TransactionID}
	n.Message = fmt.Sprintf("Transaction %s scored %d%% (%s)", result.TransactionID, result.FraudScore, result.Verdict)

	switch result.Verdict {
	case models.VerdictFraudulent:
		n.Type = models.NotificationDanger
		n.Title = "High Risk Transaction Detected"
	case models.VerdictSuspicious:
		n.Type = models.NotificationWarning
		n.Title = "Medium Risk Transaction"
	default:
		n.Type = models.NotificationSuccess
		n.Title = "Analysis Complete"
	}

	if result.IsFallback() {
		n.Message += ", estimated without the scoring service"
	}
	return n
}

package output

import (
	"context"

	"github.com/sirupsen/logrus"

	"fraudguard/internal/errors"
	"fraudguard/pkg/models"
)

// Sink 将争议事件、分析结果与反馈转发到输出器，失败只记录不影响业务
type Sink struct {
	out        Output
	errHandler *errors.ErrorHandler
	logger     *logrus.Logger
}

// NewSink 创建输出转发器
func NewSink(out Output, errHandler *errors.ErrorHandler, logger *logrus.Logger) *Sink {
	return &Sink{out: out, errHandler: errHandler, logger: logger}
}

func (s *Sink) report(ctx context.Context, err error, dataType string) {
	if err == nil {
		return
	}
	appErr := errors.Wrap(err, errors.ErrorTypeStorage, errors.SeverityMedium, "OUTPUT_FAILED", "输出"+dataType+"失败").
		WithComponent("output")
	if s.errHandler != nil {
		s.errHandler.HandleError(ctx, appErr)
		return
	}
	s.logger.WithError(err).Errorf("输出%s失败", dataType)
}

func (s *Sink) HandleDisputeEvent(ctx context.Context, d *models.Dispute, ev models.DisputeEvent) {
	s.report(ctx, s.out.WriteDisputeEvent(d, ev), TypeDisputeEvents)
}

func (s *Sink) HandleAnalysis(ctx context.Context, tx *models.Transaction, result *models.AIAnalysisResult) {
	s.report(ctx, s.out.WriteAnalysis(result), TypeAnalyses)
}

func (s *Sink) HandleFeedback(ctx context.Context, fb *models.Feedback) {
	s.report(ctx, s.out.WriteFeedback(fb), TypeFeedback)
}

// PublishNotification 输出通知
func (s *Sink) PublishNotification(ctx context.Context, n *models.Notification) {
	s.report(ctx, s.out.WriteNotification(n), TypeNotifications)
}

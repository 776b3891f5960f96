package oracle

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fraudguard/internal/errors"
	"fraudguard/internal/logging"
	"fraudguard/internal/transaction"
	"fraudguard/pkg/models"
)

// MaxBulkSize 单次批量分析的交易上限
const MaxBulkSize = 100

// AnalysisSink 接收已保存的分析结果
type AnalysisSink interface {
	HandleAnalysis(ctx context.Context, tx *models.Transaction, result *models.AIAnalysisResult)
}

// FeedbackSink 接收已保存的用户反馈
type FeedbackSink interface {
	HandleFeedback(ctx context.Context, fb *models.Feedback)
}

// CallObserver 记录评分服务调用结果与耗时
type CallObserver interface {
	ObserveOracleCall(outcome string, elapsed time.Duration)
}

// Analyzer 交易欺诈分析服务，评分服务失败时降级，始终返回结果
type Analyzer struct {
	txs           transaction.Repository
	oracle        Oracle
	fallback      *Fallback
	store         ResultStore
	errHandler    *errors.ErrorHandler
	logger        *logrus.Logger
	timeout       time.Duration
	workers       int
	sinks         []AnalysisSink
	feedbackSinks []FeedbackSink
	observer      CallObserver
	now           func() time.Time
}

// AnalyzerOption 分析服务可选项
type AnalyzerOption func(*Analyzer)

// WithOracle 设置外部评分服务，未设置时只使用降级评分
func WithOracle(o Oracle, timeout time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		a.oracle = o
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithWorkers 设置批量分析的并发数
func WithWorkers(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithAnalysisSinks 注册分析结果接收方
func WithAnalysisSinks(sinks ...AnalysisSink) AnalyzerOption {
	return func(a *Analyzer) {
		a.sinks = append(a.sinks, sinks...)
	}
}

// WithFeedbackSinks 注册反馈接收方
func WithFeedbackSinks(sinks ...FeedbackSink) AnalyzerOption {
	return func(a *Analyzer) {
		a.feedbackSinks = append(a.feedbackSinks, sinks...)
	}
}

// WithCallObserver 设置调用观察者
func WithCallObserver(o CallObserver) AnalyzerOption {
	return func(a *Analyzer) {
		a.observer = o
	}
}

// WithErrorHandler 设置错误处理器
func WithErrorHandler(h *errors.ErrorHandler) AnalyzerOption {
	return func(a *Analyzer) {
		a.errHandler = h
	}
}

// WithAnalyzerClock 替换时钟，测试使用
func WithAnalyzerClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) {
		a.now = now
	}
}

// NewAnalyzer 创建分析服务
func NewAnalyzer(txs transaction.Repository, fallback *Fallback, store ResultStore, logger *logrus.Logger, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		txs:      txs,
		fallback: fallback,
		store:    store,
		logger:   logger,
		timeout:  10 * time.Second,
		workers:  4,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.errHandler == nil {
		a.errHandler = errors.NewErrorHandler(logger)
	}
	return a
}

// Analyze 分析单笔交易并保存最新结果
func (a *Analyzer) Analyze(ctx context.Context, transactionID string) (*models.AIAnalysisResult, error) {
	tx, err := a.txs.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	resp, source := a.score(ctx, tx)

	// 调用方已取消时不提交任何状态
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &models.AIAnalysisResult{
		TransactionID: tx.ID,
		FraudScore:    resp.FraudScore,
		Verdict:       resp.Verdict,
		Confidence:    resp.Confidence,
		AnalysisTime:  a.now().UTC(),
		Details:       resp.Details,
		Source:        source,
	}

	if err := a.store.Save(ctx, result); err != nil {
		return nil, err
	}

	log := logging.OracleLogger(a.logger, tx.ID)
	if err := a.txs.AttachAnalysis(ctx, tx.ID, result); err != nil {
		if errors.Is(err, errors.ErrInvalidState) {
			log.Warn("交易已被拒绝，分析结果不挂载到交易")
		} else {
			log.WithError(err).Error("挂载分析结果失败")
			a.errHandler.HandleError(ctx, err)
		}
	} else {
		tx.AIDetection = result.Clone()
	}

	log.WithFields(logrus.Fields{
		"fraud_score": result.FraudScore,
		"verdict":     result.Verdict,
		"source":      result.Source,
	}).Info("交易分析完成")

	for _, sink := range a.sinks {
		sink.HandleAnalysis(ctx, tx, result.Clone())
	}
	return result.Clone(), nil
}

// score 调用评分服务，超时或失败时返回降级结果
func (a *Analyzer) score(ctx context.Context, tx *models.Transaction) (*Response, models.AnalysisSource) {
	if a.oracle == nil {
		return a.fallback.Score(tx), models.SourceFallback
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		resp *Response
		err  error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		resp, err := a.oracle.Analyze(callCtx, Request{TransactionID: tx.ID, Transaction: tx})
		done <- outcome{resp: resp, err: err}
	}()

	var (
		resp *Response
		err  error
	)
	select {
	case out := <-done:
		resp, err = out.resp, out.err
		switch {
		case err != nil:
		case resp == nil:
			err = errors.OracleUnavailable(nil, "评分服务返回空结果")
		default:
			// Oracle 实现不一定校验结果，越界或未知结论一律按不可用处理
			err = resp.validate()
		}
	case <-callCtx.Done():
		err = errors.OracleUnavailable(callCtx.Err(), "评分服务调用超时")
	}

	if err != nil {
		a.observe("failure", time.Since(start))
		if ctx.Err() == nil {
			logging.OracleLogger(a.logger, tx.ID).WithError(err).Warn("评分服务不可用，使用降级评分")
			a.errHandler.HandleError(ctx, unavailable(err).WithContext("transaction_id", tx.ID))
		}
		return a.fallback.Score(tx), models.SourceFallback
	}

	a.observe("success", time.Since(start))
	return resp, models.SourceOracle
}

// unavailable 统一为新的 OracleUnavailable，不修改 Oracle 返回的错误实例
func unavailable(err error) *errors.AppError {
	if appErr, ok := errors.As(err); ok && appErr.Type == errors.ErrorTypeOracleUnavailable {
		return errors.OracleUnavailable(appErr.Cause, appErr.Message)
	}
	return errors.OracleUnavailable(err, "欺诈评分服务不可用")
}

func (a *Analyzer) observe(outcome string, elapsed time.Duration) {
	if a.observer != nil {
		a.observer.ObserveOracleCall(outcome, elapsed)
	}
}

// Latest 获取交易最新的分析结果
func (a *Analyzer) Latest(ctx context.Context, transactionID string) (*models.AIAnalysisResult, error) {
	return a.store.Latest(ctx, transactionID)
}

// BulkItem 批量分析中单笔交易的结果
type BulkItem struct {
	TransactionID string                   `json:"transaction_id"`
	Result        *models.AIAnalysisResult `json:"result,omitempty"`
	Error         string                   `json:"error,omitempty"`
	Code          string                   `json:"code,omitempty"`
}

// BulkAnalyze 并发分析多笔交易，单笔失败不影响其他交易，结果顺序与输入一致
func (a *Analyzer) BulkAnalyze(ctx context.Context, transactionIDs []string) ([]BulkItem, error) {
	if len(transactionIDs) == 0 {
		return nil, errors.Validation("交易列表不能为空")
	}
	if len(transactionIDs) > MaxBulkSize {
		return nil, errors.Validation("单次最多分析 %d 笔交易", MaxBulkSize)
	}

	items := make([]BulkItem, len(transactionIDs))
	workers := a.workers
	if workers > len(transactionIDs) {
		workers = len(transactionIDs)
	}

	taskChan := make(chan int, workers*2)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range taskChan {
				items[idx] = a.analyzeItem(ctx, transactionIDs[idx])
			}
		}()
	}

	go func() {
		defer close(taskChan)
		for i := range transactionIDs {
			select {
			case taskChan <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return items, err
	}

	fallbacks := 0
	for _, item := range items {
		if item.Result != nil && item.Result.IsFallback() {
			fallbacks++
		}
	}
	logging.Component(a.logger, "oracle").WithFields(logrus.Fields{
		"total":     len(items),
		"fallbacks": fallbacks,
	}).Info("批量分析完成")

	return items, nil
}

func (a *Analyzer) analyzeItem(ctx context.Context, transactionID string) BulkItem {
	item := BulkItem{TransactionID: transactionID}
	result, err := a.Analyze(ctx, strings.TrimSpace(transactionID))
	if err != nil {
		item.Error = err.Error()
		if appErr, ok := errors.As(err); ok {
			item.Code = appErr.Code
		}
		return item
	}
	item.Result = result
	return item
}

// SubmitFeedback 记录用户对分析结果的反馈
func (a *Analyzer) SubmitFeedback(ctx context.Context, transactionID string, isCorrect bool, actual *models.Verdict) (*models.FeedbackAck, error) {
	if actual != nil && !actual.Valid() {
		return nil, errors.Validation("无效的判定结果: %s", *actual)
	}
	if _, err := a.txs.Get(ctx, transactionID); err != nil {
		return nil, err
	}

	fb := &models.Feedback{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		IsCorrect:     isCorrect,
		ActualVerdict: actual,
		SubmittedAt:   a.now().UTC(),
	}
	if err := a.store.SaveFeedback(ctx, fb); err != nil {
		return nil, err
	}

	logging.OracleLogger(a.logger, transactionID).WithField("is_correct", isCorrect).Info("已收到分析反馈")

	for _, sink := range a.feedbackSinks {
		sink.HandleFeedback(ctx, fb)
	}

	return &models.FeedbackAck{
		FeedbackID:    fb.ID,
		TransactionID: transactionID,
		Accepted:      true,
		ReceivedAt:    fb.SubmittedAt,
	}, nil
}

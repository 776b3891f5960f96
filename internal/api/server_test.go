package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudguard/internal/dispute"
	"fraudguard/internal/errors"
	"fraudguard/internal/evidence"
	"fraudguard/internal/metrics"
	"fraudguard/internal/notify"
	"fraudguard/internal/oracle"
	"fraudguard/internal/transaction"
	"fraudguard/internal/validation"
	"fraudguard/pkg/models"
)

const (
	alice = "0x52908400098527886E0F7030069857D2E4169EE7"
	bob   = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

type testEnv struct {
	server *Server
	feed   *notify.Feed
}

func newTestEnv(t *testing.T, policy dispute.Policy) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	validator := validation.NewValidator(logger, false)
	repo := transaction.NewMemoryRepository(validator, logger)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Add(
		&models.Transaction{ID: "tx-1", Timestamp: base, From: alice, To: bob, Amount: decimal.NewFromInt(5), Currency: "ETH", Status: models.TransactionConfirmed, RiskLevel: models.RiskHigh},
		&models.Transaction{ID: "tx-2", Timestamp: base.Add(time.Hour), From: bob, To: alice, Amount: decimal.NewFromInt(1), Currency: "ETH", Status: models.TransactionPending, RiskLevel: models.RiskLow},
	))

	feed := notify.NewFeed(100)
	projector := notify.NewProjector(feed, logger)
	collector := metrics.NewCollector()

	refValidator, err := evidence.NewValidator("cid")
	require.NoError(t, err)
	store := dispute.NewMemoryStore()
	lifecycle, err := dispute.NewLifecycle(store, dispute.NewLedger(store, refValidator), repo, policy, logger,
		dispute.WithEventSinks(projector, collector))
	require.NoError(t, err)

	analyzer := oracle.NewAnalyzer(repo, oracle.NewFallback(7), oracle.NewMemoryResultStore(), logger,
		oracle.WithAnalysisSinks(projector, collector))

	local, err := evidence.NewLocalStore(t.TempDir(), 1<<20, logger)
	require.NoError(t, err)

	srv := NewServer(Deps{
		Lifecycle:    lifecycle,
		Transactions: repo,
		Analyzer:     analyzer,
		Evidence:     local,
		Feed:         feed,
		Validator:    validator,
		Metrics:      collector,
	}, logger)
	return &testEnv{server: srv, feed: feed}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func cidOf(t *testing.T, content string) string {
	t.Helper()
	ref, err := evidence.ComputeCID([]byte(content))
	require.NoError(t, err)
	return ref
}

func createDispute(t *testing.T, e *testEnv, txID string) models.Dispute {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/disputes", gin.H{
		"transaction_id": txID,
		"description":    "未收到货物",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d models.Dispute
	decode(t, w, &d)
	return d
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, dispute.DefaultPolicy())
	w := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestConfigEndpoint(t *testing.T) {
	e := newTestEnv(t, dispute.Policy{MinEvidence: 1, Quorum: 3})
	w := e.do(t, http.MethodGet, "/api/v1/config", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Policy            dispute.Policy `json:"policy"`
		EvidenceValidator string         `json:"evidence_validator"`
	}
	decode(t, w, &body)
	assert.Equal(t, 1, body.Policy.MinEvidence)
	assert.Equal(t, 3, body.Policy.Quorum)
	assert.Equal(t, "cid", body.EvidenceValidator)
}

func TestDisputeFlow(t *testing.T) {
	e := newTestEnv(t, dispute.DefaultPolicy())
	d := createDispute(t, e, "tx-1")
	assert.Equal(t, models.DisputeOpen, d.Status)

	w := e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/evidence", gin.H{
		"reference":   cidOf(t, "receipt"),
		"description": "收据",
		"file_type":   "image/png",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/voting", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/vote", gin.H{"voter_id": "v1", "support": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/vote", gin.H{"voter_id": "v1", "support": false})
	assert.Equal(t, http.StatusConflict, w.Code)
	var body ErrorBody
	decode(t, w, &body)
	assert.Equal(t, errors.ErrDuplicateVote.Code, body.Code)

	w = e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/resolve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resolved models.Dispute
	decode(t, w, &resolved)
	assert.Equal(t, models.DisputeResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, models.ResolutionApproved, *resolved.Resolution)
	assert.Equal(t, 1, resolved.VotesFor)

	w = e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/disputes/"+d.ID+"/timeline", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tl struct {
		Events []models.DisputeEvent `json:"events"`
	}
	decode(t, w, &tl)
	types := make([]models.DisputeEventType, len(tl.Events))
	for i, ev := range tl.Events {
		types[i] = ev.Type
	}
	assert.Equal(t, []models.DisputeEventType{
		models.EventCreated, models.EventEvidenceAdded, models.EventVotingStarted,
		models.EventVoteCast, models.EventResolved,
	}, types)

	// 投票开始和结案都会产生通知
	assert.GreaterOrEqual(t, e.feed.UnreadCount(), 5)
}

func TestDisputeErrors(t *testing.T) {
	e := newTestEnv(t, dispute.Policy{MinEvidence: 1, Quorum: 2})

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"unknown transaction", http.MethodPost, "/api/v1/disputes", gin.H{"transaction_id": "nope", "description": "x"}, http.StatusNotFound},
		{"missing description", http.MethodPost, "/api/v1/disputes", gin.H{"transaction_id": "tx-1"}, http.StatusBadRequest},
		{"unknown dispute", http.MethodGet, "/api/v1/disputes/missing", nil, http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/api/v1/disputes?status=closed", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	d := createDispute(t, e, "tx-1")

	w := e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/voting", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "evidence below minimum")

	w = e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/evidence", gin.H{"reference": "not a cid"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/evidence", gin.H{"reference": cidOf(t, "a")})
	require.Equal(t, http.StatusCreated, w.Code)
	w = e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/voting", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/voting", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/vote", gin.H{"voter_id": "v1", "support": false})
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	var body ErrorBody
	decode(t, w, &body)
	assert.Equal(t, errors.ErrQuorumNotMet.Code, body.Code)

	w = e.do(t, http.MethodPost, "/api/v1/disputes/"+d.ID+"/vote", gin.H{"voter_id": "v2"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "support is required")
}

func TestEvidenceUpload(t *testing.T) {
	e := newTestEnv(t, dispute.DefaultPolicy())
	d := createDispute(t, e, "tx-2")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "receipt.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("payment receipt"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("description", "付款凭证"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/disputes/"+d.ID+"/evidence/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var ev models.Evidence
	decode(t, w, &ev)
	assert.Equal(t, cidOf(t, "payment receipt"), ev.Reference)
	assert.Equal(t, "付款凭证", ev.Description)

	w = e.do(t, http.MethodGet, "/api/v1/disputes/"+d.ID+"/evidence", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []models.Evidence `json:"items"`
	}
	decode(t, w, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, ev.ID, list.Items[0].ID)
}

func TestEvidenceUpload_MissingFile(t *testing.T) {
	e := newTestEnv(t, dispute.DefaultPolicy())
	d := createDispute(t, e, "tx-2")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/disputes/"+d.ID+"/evidence/upload", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransactions(t *testing.T) {
	e := newTestEnv(t, dispute.DefaultPolicy())

	w := e.do(t, http.MethodGet, "/api/v1/transactions?wallet="+strings.ToLower(alice)+"&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page transaction.Page
	decode(t, w, &page)
	assert.Equal(t, 2, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "tx-2", page.Items[0].ID)

	w = e.do(t, http.MethodGet, "/api/v1/transactions?from=2026-03-01T12:30:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &page)
	assert.Equal(t, 1, page.Total)

	w = e.do(t, http.MethodGet, "/api/v1/transactions?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/transactions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPut, "/api/v1/transactions/tx-2/risk-level", gin.H{"risk_level": "medium"})
	require.Equal(t, http.StatusOK, w.Code)
	var tx models.Transaction
	decode(t, w, &tx)
	assert.Equal(t, models.RiskMedium, tx.RiskLevel)
}

func TestAnalysisEndpoints(t *testing.T) {
	e := newTestEnv(t, dispute.DefaultPolicy())

	w := e.do(t, http.MethodGet, "/api/v1/transactions/tx-1/analysis", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/transactions/tx-1/analyze", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result models.AIAnalysisResult
	decode(t, w, &result)
	assert.Equal(t, models.SourceFallback, result.Source)
	assert.Equal(t, models.VerdictFraudulent, result.Verdict)

	w = e.do(t, http.MethodGet, "/api/v1/transactions/tx-1/analysis", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/transactions/analyze", gin.H{"transaction_ids": []string{"tx-1", "ghost", "tx-2"}})
	require.Equal(t, http.StatusOK, w.Code)
	var bulk struct {
		Items    []oracle.BulkItem `json:"items"`
		Failed   int               `json:"failed"`
		Fallback int               `json:"fallback"`
	}
	decode(t, w, &bulk)
	require.Len(t, bulk.Items, 3)
	assert.Equal(t, "ghost", bulk.Items[1].TransactionID)
	assert.Equal(t, errors.ErrNotFound.Code, bulk.Items[1].Code)
	assert.Equal(t, 1, bulk.Failed)
	assert.Equal(t, 2, bulk.Fallback)

	w = e.do(t, http.MethodPost, "/api/v1/transactions/tx-1/feedback", gin.H{"is_correct": false, "actual_verdict": "legitimate"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ack models.FeedbackAck
	decode(t, w, &ack)
	assert.Equal(t, "tx-1", ack.TransactionID)

	w = e.do(t, http.MethodPost, "/api/v1/transactions/tx-1/feedback", gin.H{"is_correct": false, "actual_verdict": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fraudguard_analyses_total")
}

func TestNotificationEndpoints(t *testing.T) {
	e := newTestEnv(t, dispute.DefaultPolicy())
	createDispute(t, e, "tx-1")
	createDispute(t, e, "tx-2")

	w := e.do(t, http.MethodGet, "/api/v1/notifications?unread=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list notify.ListResult
	decode(t, w, &list)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, 2, list.Unread)

	w = e.do(t, http.MethodPost, "/api/v1/notifications/"+list.Items[0].ID+"/read", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, e.feed.UnreadCount())

	w = e.do(t, http.MethodPost, "/api/v1/notifications/missing/read", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, e.feed.UnreadCount())

	w = e.do(t, http.MethodDelete, "/api/v1/notifications/"+list.Items[1].ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodDelete, "/api/v1/notifications", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, e.feed.List(notify.ListOptions{}).Total)
}

func TestIdentityEndpoints(t *testing.T) {
	e := newTestEnv(t, dispute.DefaultPolicy())
	fields := map[string]string{"name": "Alice", "country": "NZ"}

	w := e.do(t, http.MethodPost, "/api/v1/identity/commitments", gin.H{"fields": fields})
	require.Equal(t, http.StatusCreated, w.Code)
	var cm map[string]interface{}
	decode(t, w, &cm)
	assert.Equal(t, "simulated-zk-snark", cm["protocol"])

	w = e.do(t, http.MethodPost, "/api/v1/identity/commitments/verify", gin.H{"fields": fields, "commitment": cm})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"valid":true}`, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/v1/identity/commitments", gin.H{"fields": map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptionsPreflight(t *testing.T) {
	e := newTestEnv(t, dispute.DefaultPolicy())
	w := e.do(t, http.MethodOptions, "/api/v1/disputes", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLogManager_RingBuffer(t *testing.T) {
	lm := NewLogManager(3)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(NewLogHook(lm))

	for i := 0; i < 5; i++ {
		logger.WithField("i", i).Info("entry")
	}
	logger.Warn("last")

	logs, total := lm.GetLogsWithPagination("", 1, 10)
	assert.Equal(t, 3, total)
	assert.Equal(t, "last", logs[0].Message)

	warn, total := lm.GetLogsWithPagination("warning", 1, 10)
	assert.Equal(t, 1, total)
	assert.Equal(t, "last", warn[0].Message)

	lm.ClearLogs()
	_, total = lm.GetLogsWithPagination("", 1, 10)
	assert.Equal(t, 0, total)
}

func TestErrorStatsEndpoint(t *testing.T) {
	e := newTestEnv(t, dispute.DefaultPolicy())
	w := e.do(t, http.MethodGet, "/api/v1/errors/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "total_errors")
}

func TestWriteError_RequestContextEnded(t *testing.T) {
	tests := []struct {
		name   string
		ctx    func() (context.Context, context.CancelFunc)
		status int
		code   string
	}{
		{"客户端取消", func() (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx, cancel
		}, StatusClientClosedRequest, "REQUEST_CANCELED"},
		{"请求超时", func() (context.Context, context.CancelFunc) {
			return context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		}, http.StatusGatewayTimeout, "REQUEST_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, dispute.DefaultPolicy())
			d := createDispute(t, e, "tx-1")

			ctx, cancel := tt.ctx()
			defer cancel()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/disputes/"+d.ID, nil).WithContext(ctx)
			w := httptest.NewRecorder()
			e.server.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			var body ErrorBody
			decode(t, w, &body)
			assert.Equal(t, tt.code, body.Code)
			assert.Zero(t, e.server.errHandler.GetStats().TotalErrors)
		})
	}
}

package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudguard/internal/errors"
	"fraudguard/internal/validation"
	"fraudguard/pkg/models"
)

const (
	alice = "0x52908400098527886E0F7030069857D2E4169EE7"
	bob   = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
	carol = "0xde709f2102306220921060314715629080e2fb77"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sampleTx(id, from, to string, offset time.Duration, status models.TransactionStatus) *models.Transaction {
	return &models.Transaction{
		ID:        id,
		Timestamp: baseTime.Add(offset),
		From:      from,
		To:        to,
		Amount:    decimal.RequireFromString("1.25"),
		Currency:  "ETH",
		Status:    status,
		RiskLevel: models.RiskLow,
	}
}

func newTestRepo(t *testing.T) *MemoryRepository {
	t.Helper()
	logger := quietLogger()
	repo := NewMemoryRepository(validation.NewValidator(logger, false), logger)
	require.NoError(t, repo.Add(
		sampleTx("tx-1", alice, bob, 0, models.TransactionConfirmed),
		sampleTx("tx-2", bob, carol, time.Hour, models.TransactionPending),
		sampleTx("tx-3", carol, alice, 2*time.Hour, models.TransactionRejected),
	))
	return repo
}

func TestMemoryRepository_Get(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tx, err := repo.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, alice, tx.From)

	// 返回副本
	tx.RiskLevel = models.RiskHigh
	again, err := repo.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.RiskLow, again.RiskLevel)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestMemoryRepository_ListByWallet(t *testing.T) {
	repo := newTestRepo(t)

	page, err := repo.List(context.Background(), Filter{Wallet: strings.ToLower(alice)})
	require.NoError(t, err)

	require.Len(t, page.Items, 2)
	assert.Equal(t, "tx-3", page.Items[0].ID)
	assert.Equal(t, "tx-1", page.Items[1].ID)
	assert.Equal(t, 2, page.Total)
	assert.False(t, page.HasMore)
}

func TestMemoryRepository_ListDateRange(t *testing.T) {
	repo := newTestRepo(t)
	from := baseTime.Add(30 * time.Minute)
	to := baseTime.Add(90 * time.Minute)

	page, err := repo.List(context.Background(), Filter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "tx-2", page.Items[0].ID)

	_, err = repo.List(context.Background(), Filter{From: &to, To: &from})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestMemoryRepository_Pagination(t *testing.T) {
	logger := quietLogger()
	repo := NewMemoryRepository(validation.NewValidator(logger, false), logger)
	for i := 0; i < 25; i++ {
		require.NoError(t, repo.Add(sampleTx(fmt.Sprintf("tx-%02d", i), alice, bob, time.Duration(i)*time.Minute, models.TransactionConfirmed)))
	}
	ctx := context.Background()

	page, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, page.Items, DefaultLimit)
	assert.Equal(t, 25, page.Total)
	assert.True(t, page.HasMore)
	assert.Equal(t, "tx-24", page.Items[0].ID)

	page, err = repo.List(ctx, Filter{Offset: 20})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.False(t, page.HasMore)

	page, err = repo.List(ctx, Filter{Offset: 100})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	repo.SetLimits(5, 10)
	page, err = repo.List(ctx, Filter{Limit: 50})
	require.NoError(t, err)
	assert.Len(t, page.Items, 10)

	_, err = repo.List(ctx, Filter{Limit: -1})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestMemoryRepository_AttachAnalysis(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := &models.AIAnalysisResult{TransactionID: "tx-1", FraudScore: 10, Verdict: models.VerdictLegitimate, Source: models.SourceOracle}
	second := &models.AIAnalysisResult{TransactionID: "tx-1", FraudScore: 80, Verdict: models.VerdictFraudulent, Source: models.SourceFallback}

	require.NoError(t, repo.AttachAnalysis(ctx, "tx-1", first))
	require.NoError(t, repo.AttachAnalysis(ctx, "tx-1", second))

	tx, err := repo.Get(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, tx.AIDetection)
	assert.Equal(t, 80, tx.AIDetection.FraudScore)
	assert.True(t, tx.AIDetection.IsFallback())

	err = repo.AttachAnalysis(ctx, "tx-3", first)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
	tx, err = repo.Get(ctx, "tx-3")
	require.NoError(t, err)
	assert.Nil(t, tx.AIDetection)

	err = repo.AttachAnalysis(ctx, "missing", first)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestMemoryRepository_UpdateRiskLevel(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpdateRiskLevel(ctx, "tx-2", models.RiskHigh))
	tx, err := repo.Get(ctx, "tx-2")
	require.NoError(t, err)
	assert.Equal(t, models.RiskHigh, tx.RiskLevel)

	assert.True(t, errors.Is(repo.UpdateRiskLevel(ctx, "tx-2", "extreme"), errors.ErrValidation))
	assert.True(t, errors.Is(repo.UpdateRiskLevel(ctx, "tx-3", models.RiskHigh), errors.ErrInvalidState))
}

func TestMemoryRepository_LoadFixtures(t *testing.T) {
	logger := quietLogger()
	repo := NewMemoryRepository(validation.NewValidator(logger, false), logger)

	data, err := json.Marshal([]*models.Transaction{
		sampleTx("fx-1", alice, bob, 0, models.TransactionConfirmed),
		sampleTx("fx-2", bob, alice, time.Minute, models.TransactionPending),
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "transactions.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	n, err := repo.LoadFixtures(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tx, err := repo.Get(context.Background(), "fx-1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.25").Equal(tx.Amount))

	bad := sampleTx("fx-3", alice, bob, 0, "unknown")
	data, err = json.Marshal([]*models.Transaction{bad})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
	_, err = repo.LoadFixtures(path)
	assert.Error(t, err)
}

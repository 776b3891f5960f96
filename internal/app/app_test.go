package app

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudguard/internal/config"
	"fraudguard/internal/errors"
	"fraudguard/internal/notify"
	"fraudguard/internal/shutdown"
	"fraudguard/pkg/models"
)

func testConfig(t *testing.T, driver string) *config.Config {
	dir := t.TempDir()
	cfg := config.GetDefaultConfig()
	cfg.Storage.Driver = driver
	cfg.Storage.Path = filepath.Join(dir, "fraudguard.db")
	cfg.Evidence.StorageDir = filepath.Join(dir, "evidence")
	cfg.Output.Format = "json"
	cfg.Output.Directory = filepath.Join(dir, "outputs")
	require.NoError(t, cfg.Validate())
	return cfg
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBuild_Memory(t *testing.T) {
	a, err := Build(testConfig(t, "memory"), quietLogger())
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.NotNil(t, a.Lifecycle)
	assert.NotNil(t, a.Analyzer)
	assert.Equal(t, 1, a.Lifecycle.Policy().Quorum)
}

func TestBuild_InfrastructureErrorsRaiseAlerts(t *testing.T) {
	a, err := Build(testConfig(t, "memory"), quietLogger())
	require.NoError(t, err)
	defer a.Close(context.Background())
	ctx := context.Background()

	dangers := func() []models.Notification {
		var out []models.Notification
		for _, n := range a.Feed.List(notify.ListOptions{}).Items {
			if n.Type == models.NotificationDanger {
				out = append(out, n)
			}
		}
		return out
	}

	a.ErrorHandler.HandleError(ctx, errors.OracleUnavailable(nil, "评分服务宕机").WithContext("transaction_id", "tx-9"))
	require.Eventually(t, func() bool { return len(dangers()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "tx-9", dangers()[0].RelatedTransactionID)

	// 冷却期内同类型不重复提醒，其他类型照常提醒
	a.ErrorHandler.HandleError(ctx, errors.OracleUnavailable(nil, "评分服务宕机"))
	a.ErrorHandler.HandleError(ctx, errors.Storage(nil, "磁盘已满"))
	require.Eventually(t, func() bool { return len(dangers()) == 2 }, time.Second, 10*time.Millisecond)

	a.ErrorHandler.HandleError(ctx, errors.Validation("参数错误"))
	assert.Never(t, func() bool { return len(dangers()) > 2 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 4, a.ErrorHandler.GetStats().TotalErrors)
}

func TestBuild_BoltPersistsDisputes(t *testing.T) {
	cfg := testConfig(t, "bolt")
	ctx := context.Background()

	seed := func(a *App) {
		repo, ok := a.Transactions.(interface {
			Add(txs ...*models.Transaction) error
		})
		require.True(t, ok)
		require.NoError(t, repo.Add(&models.Transaction{
			ID:        "tx-1",
			Timestamp: time.Now(),
			Currency:  "ETH",
			Status:    models.TransactionConfirmed,
			RiskLevel: models.RiskLow,
		}))
	}

	a, err := Build(cfg, quietLogger())
	require.NoError(t, err)
	seed(a)
	d, err := a.Lifecycle.CreateDispute(ctx, "tx-1", "重复扣款")
	require.NoError(t, err)

	result, err := a.Analyzer.Analyze(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.SourceFallback, result.Source)
	a.Close(ctx)

	reopened, err := Build(cfg, quietLogger())
	require.NoError(t, err)
	defer reopened.Close(ctx)

	got, err := reopened.Lifecycle.GetDispute(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Description, got.Description)

	latest, err := reopened.Analyzer.Latest(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, result.FraudScore, latest.FraudScore)
}

func TestRegisterShutdown(t *testing.T) {
	a, err := Build(testConfig(t, "bolt"), quietLogger())
	require.NoError(t, err)

	gs := shutdown.NewGracefulShutdown(time.Second, quietLogger())
	a.RegisterShutdown(gs)
	assert.ElementsMatch(t, []string{"bbolt", "output"}, gs.RegisteredHooks())

	gs.Shutdown()
	assert.Empty(t, gs.Wait())
}

func TestBuild_InvalidEvidenceValidator(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.Evidence.Validator = "sha1"

	_, err := Build(cfg, quietLogger())
	assert.Error(t, err)
}

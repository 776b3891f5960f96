package output

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudguard/internal/config"
	"fraudguard/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sampleDispute() (*models.Dispute, models.DisputeEvent) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	d := &models.Dispute{
		ID:            "d-1",
		TransactionID: "tx-1",
		Status:        models.DisputeVoting,
		Voters:        map[string]bool{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ev := models.DisputeEvent{
		ID:        "ev-1",
		DisputeID: "d-1",
		Type:      models.EventVotingStarted,
		Timestamp: now,
		Data:      map[string]interface{}{"evidence_count": 2},
	}
	return d, ev
}

// readLines 读取某类数据的输出文件
func readLines(t *testing.T, dir, dataType string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, dataType+"_*.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func writeAll(t *testing.T, out Output) {
	t.Helper()
	d, ev := sampleDispute()
	require.NoError(t, out.WriteDisputeEvent(d, ev))
	require.NoError(t, out.WriteAnalysis(&models.AIAnalysisResult{
		TransactionID: "tx-1", FraudScore: 75, Verdict: models.VerdictFraudulent, Source: models.SourceFallback,
	}))
	require.NoError(t, out.WriteNotification(&models.Notification{ID: "n-1", Type: models.NotificationDanger, Title: "t"}))
	require.NoError(t, out.WriteFeedback(&models.Feedback{ID: "fb-1", TransactionID: "tx-1", IsCorrect: true}))

	// 空值忽略
	require.NoError(t, out.WriteDisputeEvent(nil, ev))
	require.NoError(t, out.WriteAnalysis(nil))
	require.NoError(t, out.WriteNotification(nil))
	require.NoError(t, out.WriteFeedback(nil))
}

func assertFiles(t *testing.T, dir string) {
	t.Helper()
	events := readLines(t, dir, TypeDisputeEvents)
	require.Len(t, events, 1)
	var msg DisputeEventMessage
	require.NoError(t, json.Unmarshal([]byte(events[0]), &msg))
	assert.Equal(t, "d-1", msg.DisputeID)
	assert.Equal(t, "tx-1", msg.TransactionID)
	assert.Equal(t, "voting_started", msg.Type)
	assert.Equal(t, "voting", msg.Status)

	analyses := readLines(t, dir, TypeAnalyses)
	require.Len(t, analyses, 1)
	assert.Contains(t, analyses[0], `"source":"fallback"`)

	assert.Len(t, readLines(t, dir, TypeNotifications), 1)
	assert.Len(t, readLines(t, dir, TypeFeedback), 1)
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	out, err := NewFileOutput(dir)
	require.NoError(t, err)

	writeAll(t, out)
	require.NoError(t, out.Close())
	assertFiles(t, dir)

	err = out.WriteFeedback(&models.Feedback{ID: "late"})
	assert.Error(t, err)
}

func TestAsyncFileOutput_FlushesOnClose(t *testing.T) {
	dir := t.TempDir()
	out, err := NewAsyncFileOutput(dir, quietLogger())
	require.NoError(t, err)

	writeAll(t, out)
	require.NoError(t, out.Close())
	assertFiles(t, dir)

	assert.Error(t, out.WriteFeedback(&models.Feedback{ID: "late"}))
	assert.NoError(t, out.Close())
}

func TestNewOutput(t *testing.T) {
	logger := quietLogger()

	out, err := NewOutput(nil, logger)
	require.NoError(t, err)
	assert.IsType(t, NopOutput{}, out)

	out, err = NewOutput(&config.OutputConfig{Format: "none"}, logger)
	require.NoError(t, err)
	assert.IsType(t, NopOutput{}, out)

	dir := t.TempDir()
	out, err = NewOutput(&config.OutputConfig{Format: "json", Directory: dir}, logger)
	require.NoError(t, err)
	assert.IsType(t, &FileOutput{}, out)
	require.NoError(t, out.Close())

	_, err = NewOutput(&config.OutputConfig{Format: "kafka"}, logger)
	assert.Error(t, err)

	_, err = NewOutput(&config.OutputConfig{Format: "xml"}, logger)
	assert.Error(t, err)
}

func TestMergeTopics(t *testing.T) {
	topics := mergeTopics(map[string]string{TypeAnalyses: "custom_analyses", TypeFeedback: ""})
	assert.Equal(t, "custom_analyses", topics[TypeAnalyses])
	assert.Equal(t, "fraudguard_feedback", topics[TypeFeedback])
	assert.Equal(t, "fraudguard_dispute_events", topicFor(topics, TypeDisputeEvents))
}

type failingOutput struct{ NopOutput }

func (failingOutput) WriteAnalysis(result *models.AIAnalysisResult) error {
	return io.ErrClosedPipe
}

func TestMultiOutput(t *testing.T) {
	dir := t.TempDir()
	file, err := NewFileOutput(dir)
	require.NoError(t, err)

	multi := MultiOutput{file, failingOutput{}}
	err = multi.WriteAnalysis(&models.AIAnalysisResult{TransactionID: "tx-1"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "部分输出失败"))
	require.NoError(t, multi.Close())

	assert.Len(t, readLines(t, dir, TypeAnalyses), 1)
}

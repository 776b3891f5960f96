package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudguard/pkg/models"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestCollector_DisputeEvents(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()
	approved := models.ResolutionApproved

	d := &models.Dispute{ID: "d-1"}
	c.HandleDisputeEvent(ctx, d, models.DisputeEvent{Type: models.EventCreated})
	c.HandleDisputeEvent(ctx, d, models.DisputeEvent{Type: models.EventVoteCast})
	c.HandleDisputeEvent(ctx, d, models.DisputeEvent{Type: models.EventVoteCast})

	d.Resolution = &approved
	c.HandleDisputeEvent(ctx, d, models.DisputeEvent{Type: models.EventResolved})

	body := scrape(t, c)
	assert.Contains(t, body, `fraudguard_dispute_events_total{type="vote_cast"} 2`)
	assert.Contains(t, body, `fraudguard_disputes_resolved_total{resolution="approved"} 1`)
}

func TestCollector_AnalysisAndOracle(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()

	c.HandleAnalysis(ctx, nil, &models.AIAnalysisResult{Source: models.SourceFallback, Verdict: models.VerdictSuspicious, FraudScore: 45})
	c.HandleAnalysis(ctx, nil, &models.AIAnalysisResult{Source: models.SourceOracle, Verdict: models.VerdictLegitimate, FraudScore: 5})
	c.ObserveOracleCall("failure", 30*time.Millisecond)
	c.HandleFeedback(ctx, &models.Feedback{IsCorrect: true})

	body := scrape(t, c)
	assert.Contains(t, body, `fraudguard_analyses_total{source="fallback",verdict="suspicious"} 1`)
	assert.Contains(t, body, `fraudguard_oracle_calls_total{outcome="failure"} 1`)
	assert.Contains(t, body, `fraudguard_feedback_total{correct="true"} 1`)
	assert.Contains(t, body, `fraudguard_fraud_score_count 2`)
}

func TestCollector_GinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := NewCollector()

	router := gin.New()
	router.Use(c.GinMiddleware())
	router.GET("/ping", func(ctx *gin.Context) { ctx.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Contains(t, scrape(t, c), `fraudguard_http_requests_total{method="GET",route="/ping",status="200"} 1`)
}

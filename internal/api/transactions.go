package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fraudguard/internal/errors"
	"fraudguard/internal/transaction"
	"fraudguard/pkg/models"
)

type transactionQuery struct {
	Wallet string `form:"wallet"`
	From   string `form:"from"`
	To     string `form:"to"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

type bulkAnalyzeRequest struct {
	TransactionIDs []string `json:"transaction_ids" binding:"required"`
}

type feedbackRequest struct {
	IsCorrect     *bool           `json:"is_correct" binding:"required"`
	ActualVerdict *models.Verdict `json:"actual_verdict"`
}

type riskLevelRequest struct {
	RiskLevel models.RiskLevel `json:"risk_level" binding:"required"`
}

// parseTime 接受 RFC3339 或 2006-01-02，结束日期只给到天时取当天末尾
func parseTime(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, errors.Validation("无效的时间格式: %s", value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (s *Server) listTransactions(c *gin.Context) {
	var q transactionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.bindError(c, err)
		return
	}
	from, err := parseTime(q.From, false)
	if err != nil {
		s.writeError(c, err)
		return
	}
	to, err := parseTime(q.To, true)
	if err != nil {
		s.writeError(c, err)
		return
	}

	page, err := s.transactions.List(c.Request.Context(), transaction.Filter{
		Wallet: q.Wallet,
		From:   from,
		To:     to,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getTransaction(c *gin.Context) {
	tx, err := s.transactions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) updateRiskLevel(c *gin.Context) {
	var req riskLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}
	id := c.Param("id")
	if err := s.transactions.UpdateRiskLevel(c.Request.Context(), id, req.RiskLevel); err != nil {
		s.writeError(c, err)
		return
	}
	tx, err := s.transactions.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) analyzeTransaction(c *gin.Context) {
	result, err := s.analyzer.Analyze(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getAnalysis(c *gin.Context) {
	result, err := s.analyzer.Latest(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) bulkAnalyze(c *gin.Context) {
	var req bulkAnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}
	items, err := s.analyzer.BulkAnalyze(c.Request.Context(), req.TransactionIDs)
	if err != nil {
		s.writeError(c, err)
		return
	}

	failed, fallback := 0, 0
	for _, item := range items {
		switch {
		case item.Error != "":
			failed++
		case item.Result.IsFallback():
			fallback++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"total":    len(items),
		"failed":   failed,
		"fallback": fallback,
	})
}

func (s *Server) submitFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}
	ack, err := s.analyzer.SubmitFeedback(c.Request.Context(), c.Param("id"), *req.IsCorrect, req.ActualVerdict)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ack)
}

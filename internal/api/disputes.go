package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fraudguard/internal/dispute"
	"fraudguard/internal/errors"
	"fraudguard/internal/validation"
	"fraudguard/pkg/models"
)

type createDisputeRequest struct {
	TransactionID string                  `json:"transaction_id"`
	Description   string                  `json:"description"`
	Evidence      []dispute.EvidenceInput `json:"evidence"`
}

type voteRequest struct {
	VoterID string `json:"voter_id"`
	Support *bool  `json:"support" binding:"required"`
}

func (s *Server) createDispute(c *gin.Context) {
	var req createDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}

	result := s.validator.ValidateDisputeRequest(validation.DisputeRequest{
		TransactionID: req.TransactionID,
		Description:   req.Description,
	})
	if err := result.Err(); err != nil {
		s.writeError(c, err)
		return
	}

	d, err := s.lifecycle.CreateDispute(c.Request.Context(), req.TransactionID, req.Description, req.Evidence...)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *Server) listDisputes(c *gin.Context) {
	var filter dispute.ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		s.bindError(c, err)
		return
	}
	if filter.Status != "" && filter.Status.Rank() < 0 {
		s.writeError(c, errors.Validation("无效的争议状态: %s", filter.Status))
		return
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		s.writeError(c, errors.Validation("分页参数不能为负数"))
		return
	}

	items, err := s.lifecycle.ListDisputes(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) getDispute(c *gin.Context) {
	d, err := s.lifecycle.GetDispute(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) addEvidence(c *gin.Context) {
	var in dispute.EvidenceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.bindError(c, err)
		return
	}
	ev, err := s.lifecycle.AddEvidence(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// uploadEvidence 先写入内容存储拿到引用，再把证据追加到账本
func (s *Server) uploadEvidence(c *gin.Context) {
	disputeID := c.Param("id")
	if s.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+(1<<20))
	}

	// 上传前确认争议存在且未结案，避免写入无主内容
	d, err := s.lifecycle.GetDispute(c.Request.Context(), disputeID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if d.Status == models.DisputeResolved {
		s.writeError(c, errors.InvalidState("争议已结案，不能再追加证据"))
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		s.writeError(c, errors.Validation("缺少上传文件: %v", err))
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.writeError(c, errors.Validation("读取上传文件失败: %v", err))
		return
	}
	defer f.Close()

	ref, err := s.evidence.Put(c.Request.Context(), f)
	if err != nil {
		s.writeError(c, err)
		return
	}

	fileType := c.PostForm("file_type")
	if fileType == "" {
		fileType = fh.Header.Get("Content-Type")
	}
	description := c.PostForm("description")
	if description == "" {
		description = fh.Filename
	}

	ev, err := s.lifecycle.AddEvidence(c.Request.Context(), disputeID, dispute.EvidenceInput{
		Reference:   ref,
		Description: description,
		FileType:    fileType,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"dispute_id": disputeID,
		"reference":  ref,
		"size":       fh.Size,
	}).Info("证据文件已上传")
	c.JSON(http.StatusCreated, ev)
}

func (s *Server) listEvidence(c *gin.Context) {
	items, err := s.lifecycle.Evidence(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) timeline(c *gin.Context) {
	events, err := s.lifecycle.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) startVoting(c *gin.Context) {
	d, err := s.lifecycle.StartVoting(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) castVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}
	d, err := s.lifecycle.CastVote(c.Request.Context(), c.Param("id"), req.VoterID, *req.Support)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) resolveDispute(c *gin.Context) {
	d, err := s.lifecycle.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fraudguard/internal/identity"
)

type commitRequest struct {
	Fields map[string]string `json:"fields" binding:"required"`
}

type verifyRequest struct {
	Fields     map[string]string    `json:"fields" binding:"required"`
	Commitment *identity.Commitment `json:"commitment" binding:"required"`
}

func (s *Server) createCommitment(c *gin.Context) {
	var req commitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}
	cm, err := s.committer.Commit(req.Fields)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cm)
}

func (s *Server) verifyCommitment(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}
	ok, err := s.committer.Verify(req.Fields, req.Commitment)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": ok})
}

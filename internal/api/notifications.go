package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fraudguard/internal/notify"
)

func (s *Server) listNotifications(c *gin.Context) {
	var opts notify.ListOptions
	if err := c.ShouldBindQuery(&opts); err != nil {
		s.bindError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.feed.List(opts))
}

func (s *Server) markNotificationRead(c *gin.Context) {
	if err := s.feed.MarkRead(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "read": true})
}

func (s *Server) markAllNotificationsRead(c *gin.Context) {
	n := s.feed.MarkAllRead()
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (s *Server) deleteNotification(c *gin.Context) {
	if err := s.feed.Delete(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) clearNotifications(c *gin.Context) {
	s.feed.Clear()
	c.Status(http.StatusNoContent)
}

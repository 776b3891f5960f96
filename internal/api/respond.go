package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"fraudguard/internal/errors"
)

// ErrorBody 错误响应体
type ErrorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor 将错误类型映射为HTTP状态码
func statusFor(err *errors.AppError) int {
	switch err.Type {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeInvalidState, errors.ErrorTypeAlreadyVoting,
		errors.ErrorTypeDuplicateVote, errors.ErrorTypeQuorumNotMet:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// StatusClientClosedRequest 客户端已断开或取消请求
const StatusClientClosedRequest = 499

// writeError 输出错误响应，5xx 同时交给错误处理器记录
func (s *Server) writeError(c *gin.Context, err error) {
	// 请求上下文结束不是服务端故障，不计入错误统计
	switch {
	case errors.Is(err, context.Canceled):
		c.AbortWithStatusJSON(StatusClientClosedRequest, ErrorBody{
			Error:   "Canceled",
			Code:    "REQUEST_CANCELED",
			Message: "请求已取消",
		})
		return
	case errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, ErrorBody{
			Error:   errors.ErrorTypeTimeout.String(),
			Code:    "REQUEST_TIMEOUT",
			Message: "请求处理超时",
		})
		return
	}

	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Wrap(err, errors.ErrorTypeSystem, errors.SeverityHigh, "INTERNAL_ERROR", "服务内部错误")
	}
	status := statusFor(appErr)
	if status >= http.StatusInternalServerError {
		s.errHandler.HandleError(c.Request.Context(), appErr.WithComponent("api"))
	}
	c.AbortWithStatusJSON(status, ErrorBody{
		Error:   appErr.Type.String(),
		Code:    appErr.Code,
		Message: appErr.Message,
	})
}

// bindError 请求体解析失败统一视为验证错误
func (s *Server) bindError(c *gin.Context, err error) {
	s.writeError(c, errors.Validation("请求参数错误: %v", err))
}

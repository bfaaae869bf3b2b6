package handler

import (
	"errors"
	"net/http"

	"github.com/ccolleatte/dao-services/internal/errs"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/ccolleatte/dao-services/internal/logic"
	"github.com/gin-gonic/gin"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// FailResponse 按错误类型选择状态码
func FailResponse(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	ErrorResponse(c, status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errs.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, logic.ErrMissionNotFound),
		errors.Is(err, logic.ErrApplicationNotFound),
		errors.Is(err, logic.ErrDeadLetterNotFound):
		return http.StatusNotFound
	case errors.Is(err, logic.ErrCreationTxConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

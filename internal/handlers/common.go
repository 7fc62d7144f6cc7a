package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"sampark/internal/automation"
	"sampark/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Code    int      `json:"code,omitempty"`
	Details []string `json:"details,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int         `json:"pages"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// badRequest reports a binding failure, listing each failed field when available.
func badRequest(c *gin.Context, title string, err error) {
	resp := ErrorResponse{Error: title, Message: err.Error()}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			resp.Details = append(resp.Details, fe.Field()+": failed "+fe.Tag())
		}
	}
	c.JSON(http.StatusBadRequest, resp)
}

// statusFor maps service and engine errors to HTTP status codes.
func statusFor(err error) int {
	var (
		invalid   *automation.ValidationError
		malformed *automation.MalformedEventError
		config    *automation.ConfigError
		assign    *automation.AssignmentError
		priority  *automation.InvalidPriorityError
	)
	switch {
	case errors.As(err, &invalid), errors.As(err, &malformed), errors.As(err, &config),
		errors.As(err, &assign), errors.As(err, &priority),
		errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrRuleNotFound),
		errors.Is(err, services.ErrConversationNotFound),
		errors.Is(err, services.ErrCustomerNotFound),
		errors.Is(err, services.ErrKnowledgeDocNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrCustomerExists),
		errors.Is(err, services.ErrTagExists):
		return http.StatusConflict
	case errors.Is(err, automation.ErrAuditUnavailable), errors.Is(err, automation.ErrBusClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status statusFor picks.
func respondError(c *gin.Context, title string, err error) {
	resp := ErrorResponse{Error: title, Message: err.Error()}
	var invalid *automation.ValidationError
	if errors.As(err, &invalid) {
		for _, p := range invalid.Problems() {
			resp.Details = append(resp.Details, p.Error())
		}
	}
	c.JSON(statusFor(err), resp)
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

func pages(total int64, size int) int {
	if size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

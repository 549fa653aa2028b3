package utils

import (
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// Error codes - business logic errors (4xx)
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeValidationFailed = "VALIDATION_FAILED"

	// Server errors (5xx)
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeExternalAPIError   = "EXTERNAL_API_ERROR"
)

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// SuccessResponse is the standard success response format
type SuccessResponse struct {
	Success bool  `json:"success"`
	Data    any   `json:"data,omitempty"`
	Meta    *Meta `json:"meta,omitempty"`
}

// Meta contains pagination metadata
type Meta struct {
	Total int64 `json:"total"`
	Page  int   `json:"page,omitempty"`
	Limit int   `json:"limit,omitempty"`
}

// RequestIDKey is the key for request ID in context
const RequestIDKey = "request_id"

func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

func (e ErrorResponse) WithRequestID(reqID string) ErrorResponse {
	e.Error.RequestID = reqID
	return e
}

func (e ErrorResponse) WithDetails(details any) ErrorResponse {
	e.Error.Details = details
	return e
}

func NewSuccessResponse(data any) SuccessResponse {
	return SuccessResponse{
		Success: true,
		Data:    data,
	}
}

func requestID(c *gin.Context) string {
	if reqID := c.GetString(RequestIDKey); reqID != "" {
		return reqID
	}
	return uuid.New().String()[:8]
}

// RespondWithError sends an error envelope and aborts the chain
func RespondWithError(c *gin.Context, status int, code, message string) {
	response := NewErrorResponse(code, message).WithRequestID(requestID(c))
	c.AbortWithStatusJSON(status, response)
}

// RespondWithValidationError sends validation error (400)
func RespondWithValidationError(c *gin.Context, message string, details any) {
	response := NewErrorResponse(ErrCodeValidationFailed, message).
		WithRequestID(requestID(c))
	if details != nil {
		response = response.WithDetails(details)
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, response)
}

// RespondWithNotFound sends 404
func RespondWithNotFound(c *gin.Context, resource string) {
	RespondWithError(c, http.StatusNotFound, ErrCodeNotFound,
		fmt.Sprintf("%s not found", resource))
}

// RespondWithUnauthorized sends 401
func RespondWithUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "Authentication required"
	}
	RespondWithError(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// RespondWithConflict sends 409
func RespondWithConflict(c *gin.Context, message string) {
	RespondWithError(c, http.StatusConflict, ErrCodeConflict, message)
}

// RespondWithMethodNotAllowed sends 405
func RespondWithMethodNotAllowed(c *gin.Context) {
	RespondWithError(c, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed,
		fmt.Sprintf("method %s not allowed", c.Request.Method))
}

// RespondWithExternalError sends 502 for a failed upstream call
func RespondWithExternalError(c *gin.Context, err error) {
	log.Printf("[HTTP] %s upstream error: %v", requestID(c), err)
	RespondWithError(c, http.StatusBadGateway, ErrCodeExternalAPIError, err.Error())
}

// RespondWithInternalError logs the cause and sends a generic 500
func RespondWithInternalError(c *gin.Context, err error) {
	log.Printf("[HTTP] %s internal error: %v", requestID(c), err)
	RespondWithError(c, http.StatusInternalServerError, ErrCodeInternalError, "An unexpected error occurred")
}

// RespondWithRateLimited sends 429
func RespondWithRateLimited(c *gin.Context, retryAfter time.Duration) {
	c.Header("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
	response := NewErrorResponse(ErrCodeRateLimited, "Too many requests").
		WithRequestID(requestID(c))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, response)
}

// RespondWithSuccess sends success response
func RespondWithSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, NewSuccessResponse(data))
}

// RespondWithCreated sends 201 with success response
func RespondWithCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, NewSuccessResponse(data))
}

// RespondWithNoContent sends 204
func RespondWithNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// RespondWithPage sends a list with pagination metadata
func RespondWithPage(c *gin.Context, data any, total int64, page, limit int) {
	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data:    data,
		Meta:    &Meta{Total: total, Page: page, Limit: limit},
	})
}

// RequestIDMiddleware tags each request with an id, reusing X-Request-ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()[:8]
		}
		c.Set(RequestIDKey, reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	}
}

// RecoveryMiddleware recovers from panics and logs the stack trace
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				reqID := c.GetString(RequestIDKey)

				// Stack trace stays in the log, never in the response
				log.Printf("[PANIC] RequestID: %s | Error: %v\n%s", reqID, err, debug.Stack())

				response := NewErrorResponse(ErrCodeInternalError,
					"An unexpected error occurred").
					WithRequestID(reqID)
				c.AbortWithStatusJSON(http.StatusInternalServerError, response)
			}
		}()
		c.Next()
	}
}

// LoggerMiddleware logs one line per request
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		line := fmt.Sprintf("[HTTP] %s | %d | %s | %s | %v",
			c.GetString(RequestIDKey), status, c.Request.Method, path, time.Since(start))
		if status >= 400 {
			line += " | ERROR"
		}
		log.Println(line)
	}
}

// CORSHeaders sets CORS headers for a comma-separated origin allowlist
func CORSHeaders(allowedOrigins string) gin.HandlerFunc {
	allowed := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if allowed["*"] {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Max-Age", "3600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// PaginationParams extracts page and limit from the query string
func PaginationParams(c *gin.Context) (page, limit, offset int) {
	page = 1
	limit = 20

	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
		if limit > 100 {
			limit = 100 // Max limit
		}
	}

	offset = (page - 1) * limit
	return
}

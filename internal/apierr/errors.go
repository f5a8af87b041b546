package apierr

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/A1anMc/GrantSGE/internal/logger"
)

// ErrorCode represents a structured error code
type ErrorCode string

// Error code constants organized by category
const (
	// AUTH_ - Authentication and authorization errors
	ErrAuthMissing      ErrorCode = "AUTH_MISSING"
	ErrAuthInvalid      ErrorCode = "AUTH_INVALID"
	ErrAuthForbidden    ErrorCode = "AUTH_FORBIDDEN"
	ErrAuthDisabled     ErrorCode = "AUTH_ACCOUNT_DISABLED"
	ErrAuthCredentials  ErrorCode = "AUTH_BAD_CREDENTIALS"
	ErrAuthTokenRevoked ErrorCode = "AUTH_TOKEN_REVOKED"

	// GRANT_ - Grant catalogue errors
	ErrGrantNotFound     ErrorCode = "GRANT_NOT_FOUND"
	ErrGrantInvalidQuery ErrorCode = "GRANT_INVALID_QUERY"

	// ORG_ - Organisation profile errors
	ErrOrgNotFound ErrorCode = "ORG_NOT_FOUND"

	// ELIGIBILITY_ - Eligibility analysis errors
	ErrEligibilityInvalidResponse ErrorCode = "ELIGIBILITY_INVALID_RESPONSE"
	ErrEligibilityUpstream        ErrorCode = "ELIGIBILITY_UPSTREAM_FAILED"

	// DRAFT_ - Draft generation errors
	ErrDraftFailed ErrorCode = "DRAFT_FAILED"

	// SCRAPE_ - Scraper errors
	ErrScrapeUnknownSource ErrorCode = "SCRAPE_UNKNOWN_SOURCE"
	ErrScrapeFailed        ErrorCode = "SCRAPE_FAILED"

	// CACHE_ - Cache administration errors
	ErrCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"

	// SYSTEM_ - System and server errors
	ErrSystemInternal    ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemDatabase    ErrorCode = "SYSTEM_DATABASE"
	ErrSystemUnavailable ErrorCode = "SYSTEM_UNAVAILABLE"
	ErrSystemTimeout     ErrorCode = "SYSTEM_TIMEOUT"

	// VALIDATION_ - Request validation errors
	ErrValidationInvalidJSON   ErrorCode = "VALIDATION_INVALID_JSON"
	ErrValidationInvalidFormat ErrorCode = "VALIDATION_INVALID_FORMAT"
	ErrValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"
	ErrValidationInvalidValue  ErrorCode = "VALIDATION_INVALID_VALUE"

	// RESOURCE_ - Resource errors
	ErrResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrResourceConflict ErrorCode = "RESOURCE_CONFLICT"

	// RATE_LIMIT_ - Rate limiting errors
	ErrRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrRateLimitGlobal   ErrorCode = "RATE_LIMIT_GLOBAL"
)

// Error represents a structured API error
type Error struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	status    int
}

// ErrorResponse is the top-level error response wrapper. Success is always
// false so clients can branch on the same field as successful envelopes.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   *Error `json:"error"`
}

// New creates a new API error
func New(code ErrorCode, message string, status int) *Error {
	return &Error{Code: code, Message: message, status: status}
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to the error
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Status returns the HTTP status code
func (e *Error) Status() int {
	return e.status
}

// WriteError writes a structured error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	if encErr := json.NewEncoder(w).Encode(ErrorResponse{Error: err}); encErr != nil {
		logger.Warn("failed to encode error response", "code", err.Code, "error", encErr)
	}
}

func withDefault(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}

// AuthMissing creates an authentication missing error
func AuthMissing(message string) *Error {
	return New(ErrAuthMissing, withDefault(message, "Authentication required"), http.StatusUnauthorized)
}

// AuthInvalid creates an invalid authentication error
func AuthInvalid(message string) *Error {
	return New(ErrAuthInvalid, withDefault(message, "Invalid authentication credentials"), http.StatusUnauthorized)
}

// AuthForbidden creates a forbidden error
func AuthForbidden(message string) *Error {
	return New(ErrAuthForbidden, withDefault(message, "Access forbidden"), http.StatusForbidden)
}

func AuthBadCredentials() *Error {
	return New(ErrAuthCredentials, "Invalid email or password", http.StatusUnauthorized)
}

func AuthAccountDisabled() *Error {
	return New(ErrAuthDisabled, "Account is disabled", http.StatusForbidden)
}

func AuthTokenRevoked() *Error {
	return New(ErrAuthTokenRevoked, "Token has been revoked", http.StatusUnauthorized)
}

// GrantNotFound creates a grant not found error
func GrantNotFound(id int64) *Error {
	return New(ErrGrantNotFound, "Grant not found", http.StatusNotFound).
		WithDetails(map[string]interface{}{"grant_id": id})
}

func GrantInvalidQuery(message string) *Error {
	return New(ErrGrantInvalidQuery, withDefault(message, "Invalid grant query"), http.StatusBadRequest)
}

// OrgNotFound creates an organisation not found error
func OrgNotFound(id int64) *Error {
	return New(ErrOrgNotFound, "Organisation not found", http.StatusNotFound).
		WithDetails(map[string]interface{}{"organisation_id": id})
}

// EligibilityInvalidResponse is returned when the model's analysis fails validation.
func EligibilityInvalidResponse(message string) *Error {
	return New(ErrEligibilityInvalidResponse, withDefault(message, "Eligibility analysis returned an invalid response"), http.StatusBadGateway)
}

func EligibilityUpstream(message string) *Error {
	return New(ErrEligibilityUpstream, withDefault(message, "Eligibility analysis failed"), http.StatusBadGateway)
}

func DraftFailed(message string) *Error {
	return New(ErrDraftFailed, withDefault(message, "Draft generation failed"), http.StatusBadGateway)
}

func ScrapeUnknownSource(source string) *Error {
	return New(ErrScrapeUnknownSource, "Unknown scrape source: "+source, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"source": source})
}

func ScrapeFailed(message string) *Error {
	return New(ErrScrapeFailed, withDefault(message, "Scrape run failed"), http.StatusBadGateway)
}

func CacheUnavailable(message string) *Error {
	return New(ErrCacheUnavailable, withDefault(message, "Cache backend unavailable"), http.StatusServiceUnavailable)
}

// SystemInternal creates an internal server error
func SystemInternal(message string) *Error {
	return New(ErrSystemInternal, withDefault(message, "Internal server error"), http.StatusInternalServerError)
}

// SystemDatabase creates a database error
func SystemDatabase(message string) *Error {
	return New(ErrSystemDatabase, withDefault(message, "Database error"), http.StatusInternalServerError)
}

// SystemUnavailable creates a service unavailable error
func SystemUnavailable(message string) *Error {
	return New(ErrSystemUnavailable, withDefault(message, "Service unavailable"), http.StatusServiceUnavailable)
}

// SystemTimeout creates a system timeout error
func SystemTimeout(message string) *Error {
	return New(ErrSystemTimeout, withDefault(message, "Request timeout"), http.StatusRequestTimeout)
}

// ValidationInvalidJSON creates an invalid JSON error
func ValidationInvalidJSON() *Error {
	return New(ErrValidationInvalidJSON, "Invalid JSON request body", http.StatusBadRequest)
}

// ValidationInvalidFormat creates an invalid format error
func ValidationInvalidFormat(message string) *Error {
	return New(ErrValidationInvalidFormat, withDefault(message, "Invalid request format"), http.StatusBadRequest)
}

// ValidationMissingField creates a missing field error
func ValidationMissingField(field string) *Error {
	return New(ErrValidationMissingField, "Missing required field: "+field, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ValidationInvalidValue creates an invalid value error
func ValidationInvalidValue(field string, message string) *Error {
	return New(ErrValidationInvalidValue, withDefault(message, "Invalid value for field: "+field), http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ResourceNotFound creates a resource not found error
func ResourceNotFound(resourceType string) *Error {
	return New(ErrResourceNotFound, resourceType+" not found", http.StatusNotFound).
		WithDetails(map[string]interface{}{"resource_type": resourceType})
}

// ResourceConflict creates a resource conflict error
func ResourceConflict(message string) *Error {
	return New(ErrResourceConflict, withDefault(message, "Resource conflict"), http.StatusConflict)
}

// RateLimitExceeded reports a fixed-window rejection. retryAfterSecs is echoed in details.
func RateLimitExceeded(retryAfterSecs int64) *Error {
	return New(ErrRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails(map[string]interface{}{"retry_after": strconv.FormatInt(retryAfterSecs, 10)})
}

// RateLimitGlobal creates a global rate limit error
func RateLimitGlobal() *Error {
	return New(ErrRateLimitGlobal, "Rate limit exceeded - too many requests globally", http.StatusTooManyRequests)
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// WriteErrorWithContext writes a structured error response with request ID from context
func WriteErrorWithContext(w http.ResponseWriter, r *http.Request, err *Error) {
	if reqID := GetRequestID(r.Context()); reqID != "" {
		err = err.WithRequestID(reqID)
	}
	WriteError(w, err)
}

package httputil

// API 錯誤代碼常數.
const (
	// 400 Bad Request.
	ErrorCodeValidation      = "VALIDATION_FAILED"
	ErrorCodeInvalidFile     = "INVALID_FILE"
	ErrorCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"

	// 401 / 403.
	ErrorCodeUnauthorized = "UNAUTHORIZED"
	ErrorCodeForbidden    = "FORBIDDEN"

	// 404 Not Found.
	ErrorCodeNotFound = "NOT_FOUND"

	// 429 Too Many Requests.
	ErrorCodeRateLimited = "RATE_LIMITED"

	// 5xx.
	ErrorCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrorCodeInternal         = "INTERNAL_ERROR"
)

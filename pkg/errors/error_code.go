package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199): rejected locally, never reach the broker.
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidQuantity      ErrorCode = 103
	ErrCodeMissingPrice         ErrorCode = 104
	ErrCodeInvalidOrderGroup    ErrorCode = 105
	ErrCodeInvalidAsset         ErrorCode = 106
	ErrCodeUnknownVenueProfile  ErrorCode = 107
	ErrCodeInvalidTimestep      ErrorCode = 108

	// Data errors (200-299)
	ErrCodeDataUnavailable    ErrorCode = 200
	ErrCodeDataNotFound       ErrorCode = 201
	ErrCodeLookaheadViolation ErrorCode = 202
	ErrCodeCacheCorrupted     ErrorCode = 203
	ErrCodeCacheWriteFailed   ErrorCode = 204
	ErrCodeQuotaExhausted     ErrorCode = 205
	ErrCodeQueryFailed        ErrorCode = 206

	// Order state machine errors (400-499)
	ErrCodeInvalidTransition ErrorCode = 400
	ErrCodeOverfill          ErrorCode = 401
	ErrCodeOrderNotFound     ErrorCode = 402
	ErrCodePositionNotFound  ErrorCode = 403
	ErrCodeDuplicateOrder    ErrorCode = 404

	// Broker errors (500-599)
	ErrCodeBrokerTransient   ErrorCode = 500
	ErrCodeAuthentication    ErrorCode = 501
	ErrCodeOrderRejected     ErrorCode = 502
	ErrCodeInsufficientFunds ErrorCode = 503
	ErrCodeBrokerUnavailable ErrorCode = 504

	// Lifecycle errors (800-899)
	ErrCodeStrategyCrash  ErrorCode = 800
	ErrCodeCallbackFailed ErrorCode = 801
	ErrCodeShutdownFailed ErrorCode = 802
)

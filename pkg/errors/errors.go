package errors

import "fmt"

// AppError represents an application-level error with a code and optional cause
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error codes
const (
	ErrCodeAgentConfig       = "AGENT_CONFIG_INVALID"
	ErrCodeAgentNotFound     = "AGENT_NOT_FOUND"
	ErrCodeSessionCreate     = "SESSION_CREATE_FAILED"
	ErrCodeSessionGet        = "SESSION_GET_FAILED"
	ErrCodeSessionDelete     = "SESSION_DELETE_FAILED"
	ErrCodeSessionNotActive  = "SESSION_NOT_ACTIVE"
	ErrCodeProvision         = "SANDBOX_PROVISION_FAILED"
	ErrCodeProvisionTimeout  = "SANDBOX_PROVISION_TIMEOUT"
	ErrCodeToolExecution     = "TOOL_EXECUTION_FAILED"
	ErrCodeToolCapability    = "TOOL_CAPABILITY_UNKNOWN"
	ErrCodeTurnFailed        = "TURN_FAILED"
	ErrCodeProviderNotFound  = "LLM_PROVIDER_NOT_FOUND"
	ErrCodeStoreOperation    = "STORE_OPERATION_FAILED"
	ErrCodeFileOperation     = "FILE_OPERATION_FAILED"
	ErrCodeInvalidInput      = "INVALID_INPUT"
)

package models

// ErrorCode values used at the core boundary. Request-visible failures carry
// one of these in events and Reject reasons.
const (
	ErrCodeGuardRejected           = "GUARD_REJECTED"
	ErrCodeHookRejected            = "HOOK_REJECTED"
	ErrCodeOutputGuardRejected     = "OUTPUT_GUARD_REJECTED"
	ErrCodeOutputTooShort          = "OUTPUT_TOO_SHORT"
	ErrCodeQuotaRejectedRequests   = "QUOTA_REJECTED_REQUESTS"
	ErrCodeQuotaRejectedTokens     = "QUOTA_REJECTED_TOKENS"
	ErrCodeQuotaRejectedSuspended  = "QUOTA_REJECTED_SUSPENDED"
	ErrCodeQuotaRejectedDeactivate = "QUOTA_REJECTED_DEACTIVATED"
	ErrCodeMcpDisconnected         = "MCP_DISCONNECTED"
	ErrCodeToolNotFound            = "TOOL_NOT_FOUND"
	ErrCodeApprovalRejected        = "APPROVAL_REJECTED"
	ErrCodeBoundaryViolation       = "BOUNDARY_VIOLATION"
	ErrCodeAgentFailure            = "AGENT_FAILURE"
	ErrCodeCircuitOpen             = "CIRCUIT_OPEN"
	ErrCodeDBError                 = "DB_ERROR"
	ErrCodeTransportError          = "TRANSPORT_ERROR"
)

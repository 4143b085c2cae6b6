package ledger

const (
	operationGrant   = "grant"
	operationReserve = "reserve"
	operationCapture = "capture"
	operationRelease = "release"
	operationSpend   = "spend"
	operationRefund  = "refund"
	operationAudit   = "audit"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	idempotencyKeyDelimiter  = ":"
	idempotencySuffixReverse = "reverse"
	idempotencySuffixSpend   = "spend"

	errorOperationService = "service"
	errorSubjectBalance   = "balance"
	errorSubjectAudit     = "audit"
	errorCodeNegative     = "negative_available"
	errorCodeTotalDrift   = "total_drift"
	errorCodeHoldDrift    = "hold_drift"
)

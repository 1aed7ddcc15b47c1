package booking

const (
	operationRegisterUnit      = "register_unit"
	operationCreateReservation = "create_reservation"
	operationPay               = "pay"
	operationCapture           = "capture"
	operationRefund            = "refund"
	operationCancel            = "cancel"
	operationCheckIn           = "check_in"
	operationCheckOut          = "check_out"
	operationGatewayEvent      = "gateway_event"
	operationReconcile         = "reconcile"

	operationStatusOK       = "ok"
	operationStatusReplayed = "replayed"
	operationStatusError    = "error"

	idempotencyKeyDelimiter   = ":"
	idempotencySuffixRefund   = "refund"
	idempotencyEventKeyPrefix = "gwevent:"
	dedupeSuffixCash          = "cash"
	dedupeSuffixRevenue       = "revenue"
	batchSuffixVoid           = "void"

	dateLayout = "2006-01-02"

	// Retention windows for registry records; money-movement keys are kept
	// long enough to cover late gateway callbacks and chargeback research.
	defaultMoneyKeyRetentionSeconds int64 = 90 * 24 * 60 * 60
	defaultReadKeyRetentionSeconds  int64 = 24 * 60 * 60
)

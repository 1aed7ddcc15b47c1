package ledger

const (
	operationPost        = "post"
	operationReverse     = "reverse"
	operationClosePeriod = "close_period"
	operationListBatch   = "list_batch"

	operationStatusOK       = "ok"
	operationStatusReplayed = "replayed"
	operationStatusError    = "error"

	dedupeKeyDelimiter  = ":"
	dedupeSuffixReverse = "reverse"
)

package handlers

// Per-SKU result statuses. Substantive per-SKU failures ride in a 200
// response body; only structural and auth problems change the HTTP status.
const (
	StatusOK      = "ok"
	StatusNoop    = "noop"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Skip/error reasons.
const (
	ReasonEcho         = "duplicate_echo"
	ReasonOutOfOrder   = "out_of_order_event"
	ReasonNotTracked   = "inventory_not_tracked"
	ReasonSKUMissing   = "sku_not_present_in_target"
	ReasonFetchFailed  = "upstream_fetch_failure"
	ReasonWriteFailed  = "write_failure"
	ReasonRepairFailed = "presence_repair_failed"
)

// SKUResult is the per-entity outcome reported in webhook response bodies.
type SKUResult struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Method string `json:"method,omitempty"`
	Before *int   `json:"before,omitempty"`
	After  *int   `json:"after,omitempty"`
}

func okResult(method string, before, after int) SKUResult {
	return SKUResult{Status: StatusOK, Method: method, Before: intPtr(before), After: intPtr(after)}
}

func noopResult(method string, quantity int) SKUResult {
	return SKUResult{Status: StatusNoop, Method: method, Before: intPtr(quantity), After: intPtr(quantity)}
}

func skippedResult(reason string) SKUResult {
	return SKUResult{Status: StatusSkipped, Reason: reason}
}

func errorResult(reason string) SKUResult {
	return SKUResult{Status: StatusError, Reason: reason}
}

func intPtr(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

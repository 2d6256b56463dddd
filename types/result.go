package types

/*
TransferResult describes the amounts actually moved by a provider (or by the
whole provider chain). Success is derived from the amounts and ZeroTotalOk,
it is never stored.
*/
type TransferResult struct {
	Transferred Amounts `json:"transferred"`
	// ZeroTotalOk allows result with zero total to count as success.
	ZeroTotalOk bool `json:"zeroTotalOk,omitempty"`
	// IsPartial is set when less than requested was moved but the operation is not a failure.
	IsPartial bool `json:"isPartial,omitempty"`
}

// FailedResult is the result of a transfer which didn't move anything.
func FailedResult() TransferResult {
	return TransferResult{}
}

func NewTransferResult(cashable, promo, nonCash int64) TransferResult {
	return TransferResult{Transferred: Amounts{Cashable: cashable, Promo: promo, NonCash: nonCash}}
}

// ZeroTotalResult is a successful result of a provider which had nothing to move.
func ZeroTotalResult() TransferResult {
	return TransferResult{ZeroTotalOk: true}
}

func (r TransferResult) Total() int64 {
	return r.Transferred.Total()
}

func (r TransferResult) Success() bool {
	return r.Total() > 0 || r.ZeroTotalOk
}

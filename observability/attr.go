package observability

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/alphabill-org/transferout/types"
)

const ProviderKey attribute.Key = "provider"
const ReasonKey attribute.Key = "reason"
const StatusKey attribute.Key = "status"

func Provider(id types.ProviderID) attribute.KeyValue {
	return ProviderKey.String(string(id))
}

func Reason(r types.TransferOutReason) attribute.KeyValue {
	return ReasonKey.String(r.String())
}

func Status(status string) attribute.KeyValue {
	return StatusKey.String(status)
}

/*
ErrStatus returns attribute named "status" with value "ok" if the param
err is nil and "err" when it is not.
*/
func ErrStatus(err error) attribute.KeyValue {
	status := "ok"
	if err != nil {
		status = "err"
	}
	return StatusKey.String(status)
}

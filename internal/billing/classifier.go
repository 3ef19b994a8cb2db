package billing

import "github.com/Dhoini/purchase-lifecycle/internal/provider"

// Outcome is the category a provider response code falls into.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeAlreadyOwned is a successful no-op.
	OutcomeAlreadyOwned
	// OutcomeRecoverable means the caller may retry.
	OutcomeRecoverable
	// OutcomeNonrecoverable means the caller must stop and surface an error.
	OutcomeNonrecoverable
	// OutcomeUnexpected codes are logged as anomalies and never retried.
	OutcomeUnexpected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeAlreadyOwned:
		return "already_owned"
	case OutcomeRecoverable:
		return "recoverable"
	case OutcomeNonrecoverable:
		return "nonrecoverable"
	default:
		return "unexpected"
	}
}

// Classify maps a provider response code to its outcome. Codes outside the
// table are treated as unexpected.
func Classify(code provider.ResponseCode) Outcome {
	switch code {
	case provider.OK:
		return OutcomeOK
	case provider.ItemAlreadyOwned:
		return OutcomeAlreadyOwned
	case provider.Error, provider.ServiceDisconnected:
		return OutcomeRecoverable
	case provider.ServiceUnavailable, provider.BillingUnavailable, provider.DeveloperError:
		return OutcomeNonrecoverable
	default:
		return OutcomeUnexpected
	}
}

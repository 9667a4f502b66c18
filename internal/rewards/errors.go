package rewards

import "errors"

// ErrComputation matches every ComputationError through errors.Is.
var ErrComputation = errors.New("reward computation failed")

// Reason classifies why a reward could not be computed.
type Reason string

const (
	ReasonMissingEntryID    Reason = "missing_entry_id"
	ReasonMissingTripID     Reason = "missing_trip_id"
	ReasonInvalidPricing    Reason = "invalid_pricing"
	ReasonPhaseInactive     Reason = "phase_inactive"
	ReasonCurrencyMismatch  Reason = "currency_mismatch"
	ReasonTripNotEligible   Reason = "trip_not_eligible"
	ReasonPhaseNotFound     Reason = "phase_not_found"
	ReasonPhaseLocked       Reason = "phase_locked"
	ReasonEntryNotFound     Reason = "entry_not_found"
	ReasonSelectionMismatch Reason = "selection_trip_mismatch"
)

var reasonMessages = map[Reason]string{
	ReasonMissingEntryID:    "cart entry is missing an identifier",
	ReasonMissingTripID:     "cart entry must include trip_id",
	ReasonInvalidPricing:    "cart entry pricing payload is invalid",
	ReasonPhaseInactive:     "reward phase is inactive",
	ReasonCurrencyMismatch:  "currency mismatch between cart entry and reward phase",
	ReasonTripNotEligible:   "trip is not eligible for the selected reward phase",
	ReasonPhaseNotFound:     "reward phase not found",
	ReasonPhaseLocked:       "reward phase has not been unlocked",
	ReasonEntryNotFound:     "cart entry not found",
	ReasonSelectionMismatch: "selected trip does not match the cart entry",
}

// ComputationError reports a structural reason a reward cannot apply.
type ComputationError struct {
	Reason Reason
}

func (e *ComputationError) Error() string {
	if msg, ok := reasonMessages[e.Reason]; ok {
		return msg
	}
	return string(e.Reason)
}

// Is lets errors.Is(err, ErrComputation) match any computation error.
func (e *ComputationError) Is(target error) bool {
	return target == ErrComputation
}

func computationError(reason Reason) error {
	return &ComputationError{Reason: reason}
}

// ReasonOf extracts the reason code from err, or "" when err is not a computation error.
func ReasonOf(err error) Reason {
	var ce *ComputationError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

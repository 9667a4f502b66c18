package rewards

import (
	"fmt"

	"github.com/noah-isme/trip-rewards/internal/pricing"
)

// NormalizeSelections parses stored selection state. raw may be a mapping of
// entry id to {phase_id, trip_id} or a list of records carrying entry_id.
// Records with an empty entry id or a non-positive phase or trip id are dropped.
func NormalizeSelections(raw any) map[string]Selection {
	out := map[string]Selection{}
	add := func(entryID string, phaseID, tripID int64) {
		if entryID == "" || phaseID <= 0 || tripID <= 0 {
			return
		}
		out[entryID] = Selection{EntryID: entryID, PhaseID: phaseID, TripID: tripID}
	}

	switch v := raw.(type) {
	case map[string]Selection:
		for key, sel := range v {
			add(key, sel.PhaseID, sel.TripID)
		}
	case []Selection:
		for _, sel := range v {
			add(sel.EntryID, sel.PhaseID, sel.TripID)
		}
	case map[string]any:
		for key, value := range v {
			fields, _ := value.(map[string]any)
			add(key, pricing.SafeInt(fields["phase_id"]), pricing.SafeInt(fields["trip_id"]))
		}
	case []any:
		for _, value := range v {
			fields, ok := value.(map[string]any)
			if !ok {
				continue
			}
			add(keyString(fields["entry_id"]), pricing.SafeInt(fields["phase_id"]), pricing.SafeInt(fields["trip_id"]))
		}
	case []map[string]any:
		for _, fields := range v {
			add(keyString(fields["entry_id"]), pricing.SafeInt(fields["phase_id"]), pricing.SafeInt(fields["trip_id"]))
		}
	}
	return out
}

func keyString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

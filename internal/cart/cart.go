package cart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/noah-isme/trip-rewards/internal/pricing"
	"github.com/noah-isme/trip-rewards/internal/rewards"
)

// Entry is one raw stored cart line. Entries are semi-trusted session data and
// are only ever read through defensive accessors.
type Entry = map[string]any

// Contact is the cart-level contact record used for checkout prefill.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// RewardChoice is the stored form of a reward selection.
type RewardChoice struct {
	PhaseID int64 `json:"phase_id"`
	TripID  int64 `json:"trip_id"`
}

// Cart holds only raw inputs; every monetary output is recomputed on read.
type Cart struct {
	Contact Contact                 `json:"contact"`
	Entries []Entry                 `json:"entries"`
	Rewards map[string]RewardChoice `json:"rewards"`
}

// New returns an empty cart.
func New() Cart {
	return Cart{Entries: []Entry{}, Rewards: map[string]RewardChoice{}}
}

// Decode parses a stored cart document. Malformed documents yield an empty cart
// and malformed sections are replaced by their defaults.
func Decode(data []byte) Cart {
	if len(bytes.TrimSpace(data)) == 0 {
		return New()
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return New()
	}
	return Normalize(raw)
}

// Normalize converts a loosely typed cart document into a Cart.
func Normalize(raw any) Cart {
	c := New()
	doc, ok := raw.(map[string]any)
	if !ok {
		return c
	}
	if contact, ok := doc["contact"].(map[string]any); ok {
		c.Contact = Contact{
			Name:  stringField(contact, "name"),
			Email: stringField(contact, "email"),
			Phone: stringField(contact, "phone"),
			Notes: stringField(contact, "notes"),
		}
	}
	if entries, ok := doc["entries"].([]any); ok {
		for _, e := range entries {
			if m, ok := e.(map[string]any); ok {
				c.Entries = append(c.Entries, m)
			}
		}
	}
	for id, sel := range rewards.NormalizeSelections(doc["rewards"]) {
		c.Rewards[id] = RewardChoice{PhaseID: sel.PhaseID, TripID: sel.TripID}
	}
	return c
}

// Encode serialises the cart for storage.
func (c Cart) Encode() ([]byte, error) {
	if c.Entries == nil {
		c.Entries = []Entry{}
	}
	if c.Rewards == nil {
		c.Rewards = map[string]RewardChoice{}
	}
	return json.Marshal(c)
}

// Selections returns the stored reward selections in validated form.
func (c Cart) Selections() map[string]rewards.Selection {
	return rewards.NormalizeSelections(c.selectionRecords())
}

func (c Cart) selectionRecords() map[string]rewards.Selection {
	out := make(map[string]rewards.Selection, len(c.Rewards))
	for id, choice := range c.Rewards {
		out[id] = rewards.Selection{EntryID: id, PhaseID: choice.PhaseID, TripID: choice.TripID}
	}
	return out
}

// removeSelections drops the selections for ids and reports whether any existed.
func (c *Cart) removeSelections(ids ...string) bool {
	removed := false
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := c.Rewards[id]; ok {
			delete(c.Rewards, id)
			removed = true
		}
	}
	return removed
}

// removeEntries drops every entry for which drop reports true and returns their ids.
func (c *Cart) removeEntries(drop func(Entry) bool) []string {
	var removed []string
	kept := make([]Entry, 0, len(c.Entries))
	for _, e := range c.Entries {
		if drop(e) {
			removed = append(removed, EntryID(e))
			continue
		}
		kept = append(kept, e)
	}
	if len(removed) > 0 {
		c.Entries = kept
	}
	return removed
}

// HasEntry reports whether the cart holds an entry with id.
func (c Cart) HasEntry(id string) bool {
	return slices.ContainsFunc(c.Entries, func(e Entry) bool { return EntryID(e) == id })
}

// EntryID returns the entry's id, or "" when it has none.
func EntryID(e Entry) string {
	switch id := e["id"].(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// EntryTripID returns the entry's trip id when it is an integer.
func EntryTripID(e Entry) (int64, bool) {
	return pricing.StrictInt(e["trip_id"])
}

// EntryPricing returns the entry's pricing record, or nil.
func EntryPricing(e Entry) map[string]any {
	p, _ := e["pricing"].(map[string]any)
	return p
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

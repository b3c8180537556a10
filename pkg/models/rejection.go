package models

import "time"

// Rejection is the persisted fingerprint of a rejected pairing. It suppresses the pairing on later runs
// for as long as both the item content and the config that produced it are unchanged.
type Rejection struct {
	CandidateID       string    `json:"candidate_id"`
	Group1            []string  `json:"group_1"`
	Group2            []string  `json:"group_2"`
	ItemsFingerprint  string    `json:"items_fingerprint"`
	ConfigFingerprint string    `json:"config_fingerprint"`
	Reason            *string   `json:"reason,omitempty"`
	RejectedBy        *string   `json:"rejected_by,omitempty"`
	RejectedAt        time.Time `json:"rejected_at"`
}

// Suppresses reports whether the rejection still applies to a freshly computed candidate
func (r *Rejection) Suppresses(c *MatchCandidate) bool {
	return r.CandidateID == c.ID &&
		r.ItemsFingerprint == c.ItemsFingerprint &&
		r.ConfigFingerprint == c.ConfigFingerprint
}

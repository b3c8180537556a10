package models

import "time"

// RunResult is the outcome of a reconciliation pass
type RunResult struct {
	RunID                   string           `json:"run_id"`
	Candidates              []MatchCandidate `json:"new_candidates"`
	InvalidatedCandidateIDs []string         `json:"invalidated_candidate_ids"`
	AutoMatched             []string         `json:"auto_matched_match_ids"`
	Stats                   RunStats         `json:"stats"`
	Warnings                []string         `json:"warnings,omitempty"`
	StartedAt               time.Time        `json:"started_at"`
	Duration                time.Duration    `json:"duration"`
}

// RunStats counts what a run did
type RunStats struct {
	UnmatchedItems int `json:"unmatched_items"`
	Buckets        int `json:"buckets"`
	ComparedPairs  int `json:"compared_pairs"`
	SkippedPairs   int `json:"skipped_pairs"`
	Added          int `json:"added"`
	Updated        int `json:"updated"`
	Unchanged      int `json:"unchanged"`
	Suppressed     int `json:"suppressed"`
	Demoted        int `json:"demoted"`
}

// Summary is a read-side projection of a dataset's reconciliation progress
type Summary struct {
	Scope             Scope                `json:"scope"`
	TotalItems        map[Side]int         `json:"total_items"`
	MatchedItems      map[Side]int         `json:"matched_items"`
	UnmatchedItems    map[Side]int         `json:"unmatched_items"`
	CandidatesByTier  map[DecisionTier]int `json:"candidates_by_tier"`
	MatchesByMethod   map[MatchMethod]int  `json:"matches_by_method"`
	ProgressPercent   float64              `json:"progress_percent"`
	PendingCandidates int                  `json:"pending_candidates"`
}

// AuditAction names an audited state change
type AuditAction string

const (
	AuditActionAccept      AuditAction = "accept"
	AuditActionReject      AuditAction = "reject"
	AuditActionManualMatch AuditAction = "manual_match"
	AuditActionUnmatch     AuditAction = "unmatch"
	AuditActionRun         AuditAction = "run"
	AuditActionConfig      AuditAction = "config_update"
)

// AuditEntry records a single state change in a dataset
type AuditEntry struct {
	ID       string      `json:"id"`
	Action   AuditAction `json:"action"`
	EntityID string      `json:"entity_id"`
	Actor    *string     `json:"actor,omitempty"`
	Reason   *string     `json:"reason,omitempty"`
	At       time.Time   `json:"at"`
}

package models

import "fmt"

// Scope identifies a reconciliation dataset within a tenant. Every item, candidate and match belongs to exactly one scope.
type Scope struct {
	TenantID  string `json:"tenant_id"`
	DatasetID string `json:"dataset_id"`
}

// Key returns a stable string form of the scope, used for lock and cache keys
func (s Scope) Key() string {
	return fmt.Sprintf("%s/%s", s.TenantID, s.DatasetID)
}

func (s Scope) String() string {
	return s.Key()
}

package models

import "time"

// Workflow is the unit of user-authored automation. The routing engine only
// consults it through narrow read contracts: whether it is active, which
// namespace and organization own it, and which deployment is current.
type Workflow struct {
	ID             string     `json:"id"              validate:"required"`
	Name           string     `json:"name"            validate:"required,min=3"`
	NamespaceID    string     `json:"namespace_id"    validate:"required"`
	OrganizationID string     `json:"organization_id" validate:"required"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

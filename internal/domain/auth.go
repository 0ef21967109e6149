package domain

// OperatorRole scopes what an authenticated operator may change.
type OperatorRole string

const (
	OperatorRoleAdmin  OperatorRole = "ADMIN"
	OperatorRoleViewer OperatorRole = "VIEWER"
)

// Operator is a human allowed to manage the agent roster.
type Operator struct {
	ID    string
	Email string
	Role  OperatorRole
}

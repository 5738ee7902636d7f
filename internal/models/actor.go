package models

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleSystem   Role = "system"
)

// Actor is an already-authenticated identity supplied by the caller.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (a Actor) Validate() error {
	if a.ID == "" {
		return &ValidationError{Field: "actor.id", Message: "is required"}
	}
	switch a.Role {
	case RoleAdmin, RoleOperator, RoleSystem:
		return nil
	}
	return &ValidationError{Field: "actor.role", Message: "unknown role " + string(a.Role)}
}

// IsOperator reports whether a human initiated the request.
func (a Actor) IsOperator() bool {
	return a.Role == RoleAdmin || a.Role == RoleOperator
}

var (
	SystemCheckout   = Actor{ID: "checkout", Role: RoleSystem}
	SystemReconciler = Actor{ID: "payment-reconciler", Role: RoleSystem}
)

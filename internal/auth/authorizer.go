package auth

// Role names the capabilities gating administrative operations.
type Role string

const (
	RoleAdmin     Role = "admin"     // asset registration, capacity updates
	RolePauser    Role = "pauser"    // pause/resume
	RoleTreasurer Role = "treasurer" // fund rescue
)

// Authorizer is the external capability-check collaborator. The core never
// manages role membership itself; it only asks.
type Authorizer interface {
	HasRole(role Role, caller string) bool
}

// StaticAuthorizer is a fixed role table, for dev mode and tests.
type StaticAuthorizer struct {
	grants map[Role]map[string]bool
}

func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{grants: make(map[Role]map[string]bool)}
}

// Grant gives caller the role. Returns the authorizer for chaining.
func (a *StaticAuthorizer) Grant(role Role, caller string) *StaticAuthorizer {
	if a.grants[role] == nil {
		a.grants[role] = make(map[string]bool)
	}
	a.grants[role][caller] = true
	return a
}

func (a *StaticAuthorizer) HasRole(role Role, caller string) bool {
	return a.grants[role][caller]
}

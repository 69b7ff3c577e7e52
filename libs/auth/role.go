package auth

// Role is the portal-wide identity role. It travels inside JWT claims and is
// passed explicitly to every operation that needs authorization context;
// there is deliberately no ambient "current user" state anywhere.
type Role string

const (
	RolePatient   Role = "patient"
	RoleDoctor    Role = "doctor"
	RoleSecretary Role = "secretary"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleSecretary:
		return true
	}
	return false
}

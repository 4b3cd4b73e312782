package domain

// Role names issued in access tokens. Any other role string is still a valid
// audience target; these are the ones the API itself checks.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

package domain

// SessionState — состояние сессии оператора.
// Переходы монотонны: unknown -> signed-in/signed-out, дальше только между ними.
type SessionState int

const (
	SessionUnknown SessionState = iota
	SessionSignedOut
	SessionSignedIn
)

func (s SessionState) String() string {
	switch s {
	case SessionSignedIn:
		return "signed-in"
	case SessionSignedOut:
		return "signed-out"
	default:
		return "unknown"
	}
}

// PermissionSet — роль оператора и плоский список прав вида resource.action.
// Неизменяем в рамках сессии, кроме явного refetch.
type PermissionSet struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

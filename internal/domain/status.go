package domain

type Status string

const (
	StatusIdle          Status = "idle"
	StatusFetchingToken Status = "fetching_token"
	StatusJoining       Status = "joining"
	StatusActive        Status = "active"
	StatusDisconnecting Status = "disconnecting"
	StatusError         Status = "error"
)

// InFlight reports whether a start attempt is running.
func (s Status) InFlight() bool {
	return s == StatusFetchingToken || s == StatusJoining
}

// JoinCredential is fetched fresh for every join attempt and never reused.
type JoinCredential struct {
	Token     string
	IssuedFor SessionConfig
}

package core

// SessionID identifies a view (a browser tab) bound to one call session.
type SessionID string

func (s SessionID) String() string { return string(s) }

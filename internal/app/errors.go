package app

import (
	"errors"
	"fmt"
)

var (
	ErrSessionBusy    = errors.New("call session busy")
	ErrAttemptAborted = errors.New("call attempt aborted")
	ErrMissingParams  = errors.New("missing join parameters")
)

// Status messages shown to the user.
const (
	MsgMissingParams    = "Missing required parameters (appId, channelName, uid, or token) to start the call."
	MsgInvalidRole      = "Invalid role. Choose publisher or subscriber."
	MsgTokenMissing     = "Failed to fetch token. Please try again."
	MsgPublishedAV      = "Audio and video tracks published successfully"
	MsgPublishedAudio   = "Audio track published successfully"
	MsgJoinedSubscriber = "Joined as a subscriber"
	MsgDisconnected     = "Disconnected"
)

func tokenErrorMessage(err error) string { return "Error fetching token: " + err.Error() }
func startErrorMessage(err error) string { return "Error starting the call: " + err.Error() }

type FailureKind int

const (
	ConfigValidationFailure FailureKind = iota
	TokenFetchFailure
	EngineJoinFailure
)

func (k FailureKind) String() string {
	switch k {
	case ConfigValidationFailure:
		return "config validation failure"
	case TokenFetchFailure:
		return "token fetch failure"
	case EngineJoinFailure:
		return "engine join failure"
	}
	return "unknown failure"
}

// CallError is returned by Start when an attempt ends in the error state.
// Message is the text the view shows.
type CallError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

package rtc

import "github.com/dkeye/Call/internal/domain"

// Signaling message types exchanged with the room server.
const (
	msgJoin        = "join"
	msgJoined      = "joined"
	msgLeave       = "leave"
	msgLeft        = "left"
	msgOffer       = "offer"
	msgAnswer      = "answer"
	msgCandidate   = "candidate"
	msgSubscribe   = "subscribe"
	msgPublished   = "user-published"
	msgUnpublished = "user-unpublished"
	msgError       = "error"
	msgPing        = "ping"
	msgPong        = "pong"
)

// envelope is the single JSON shape on the signaling socket; only the
// fields relevant to Type are set.
type envelope struct {
	Type          string           `json:"type"`
	ClientID      string           `json:"client_id,omitempty"`
	AppID         string           `json:"app_id,omitempty"`
	Channel       string           `json:"channel,omitempty"`
	Token         string           `json:"token,omitempty"`
	Mode          string           `json:"mode,omitempty"`
	Codec         string           `json:"codec,omitempty"`
	UID           domain.UID       `json:"uid"`
	Kind          domain.MediaKind `json:"kind,omitempty"`
	SDP           string           `json:"sdp,omitempty"`
	Candidate     string           `json:"candidate,omitempty"`
	SDPMid        *string          `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16          `json:"sdpMLineIndex,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	ErrChannelEmpty = errors.New("channel name empty")
	ErrUnknownRole  = errors.New("unknown role")
)

// UID is the numeric identity of a participant inside a channel.
type UID uint32

func (u UID) String() string { return strconv.FormatUint(uint64(u), 10) }

type ChannelName string

type Role int

const (
	RolePublisher Role = iota
	RoleSubscriber
)

func (r Role) String() string {
	if r == RoleSubscriber {
		return "subscriber"
	}
	return "publisher"
}

// ParseRole accepts the names used by the call forms and their numeric
// encoding (0 publisher, 1 subscriber). Empty input is a publisher.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "publisher", "0":
		return RolePublisher, nil
	case "subscriber", "1":
		return RoleSubscriber, nil
	}
	return RolePublisher, ErrUnknownRole
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// SessionConfig is what a call session joins with. Fixed before join.
type SessionConfig struct {
	ChannelName   ChannelName `json:"channel_name"`
	LocalIdentity UID         `json:"uid"`
	Role          Role        `json:"role"`
}

// NewSessionConfig validates the channel and normalizes the identity.
// An identity that does not parse is not an error, it becomes 0.
func NewSessionConfig(channel, uid string, role Role) (SessionConfig, error) {
	if len(channel) == 0 {
		return SessionConfig{}, ErrChannelEmpty
	}
	return SessionConfig{
		ChannelName:   ChannelName(channel),
		LocalIdentity: ParseIdentity(uid),
		Role:          role,
	}, nil
}

// ParseIdentity reads the leading decimal digits of s, the way a browser
// parseInt does. Anything without leading digits, negative, or out of the
// uint32 range yields 0.
func ParseIdentity(s string) UID {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.ParseUint(s[:end], 10, 64)
	if err != nil || n > math.MaxUint32 {
		return 0
	}
	return UID(n)
}

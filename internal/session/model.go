package session

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	KeyToken = "token"
	KeyUser  = "user"
)

type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Profile is the snapshot of the signed-in user kept alongside the token.
type Profile struct {
	ID               int64  `json:"id" validate:"gt=0"`
	Username         string `json:"username" validate:"required"`
	IconURL          string `json:"user_icon"`
	IntroductionText string `json:"introduction_text"`
}

// Snapshot is a point-in-time copy of the session. User and Token are set
// only when State is StateAuthenticated.
type Snapshot struct {
	State State
	User  *Profile
	Token string
}

func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated
}

func (s Snapshot) clone() Snapshot {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

func (s Snapshot) equal(other Snapshot) bool {
	if s.State != other.State || s.Token != other.Token {
		return false
	}
	if s.User == nil || other.User == nil {
		return s.User == nil && other.User == nil
	}
	return *s.User == *other.User
}

var validate = validator.New()

func validateProfile(p Profile) error {
	return validate.Struct(p)
}

func encodeProfile(p Profile) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeProfile(raw string) (Profile, error) {
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	if err := validateProfile(p); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	return p, nil
}

package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/storage"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
)

const stateExpiration = 10 * time.Minute

var errInvalidState = errors.NewC("oauth: invalid state parameter", codes.InvalidArgument)

// State is carried through the provider's consent screen and back to the
// callback.
type State struct {
	Provider storage.Provider `json:"p"`

	// Where to send the user after login.
	Redirect string `json:"r,omitempty"`

	// Also stored in a cookie, which ties the callback to the browser that
	// started the flow.
	Nonce     string    `json:"n"`
	TimeStamp time.Time `json:"t"`
	Signature string    `json:"sig,omitempty"`
}

func (s *State) encode() string {
	b, _ := json.Marshal(s)
	return base64.RawURLEncoding.EncodeToString(b)
}

// StateCodec signs and verifies State values.
type StateCodec struct {
	key []byte
	now func() time.Time
}

func NewStateCodec(key []byte) *StateCodec {
	return &StateCodec{key: key, now: time.Now}
}

// New returns a signed state and its encoded form.
func (c *StateCodec) New(provider storage.Provider, redirect string) (*State, string) {
	s := &State{
		Provider:  provider,
		Redirect:  redirect,
		Nonce:     uuid.NewString(),
		TimeStamp: c.now().UTC(),
	}
	s.Signature = c.sign(s)
	return s, s.encode()
}

// Parse verifies an encoded state for provider.
func (c *StateCodec) Parse(raw string, provider storage.Provider) (*State, error) {
	if raw == "" {
		return nil, errors.Mark(errInvalidState, 0).WithPublicMessage("state parameter is empty")
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.Mark(errInvalidState, 0).WithPublicMessage("state parameter is not base64 encoded")
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errors.Mark(errInvalidState, 0).WithPublicMessage("state parameter could not be decoded")
	}

	actual, err := hex.DecodeString(s.Signature)
	if err != nil || !hmac.Equal(actual, c.mac(&s)) {
		return nil, errors.Mark(errInvalidState, 0).WithPublicMessage("state parameter has an invalid signature")
	}
	if s.TimeStamp.Add(stateExpiration).Before(c.now()) {
		return nil, errors.Mark(errInvalidState, 0).WithPublicMessage("state parameter has expired")
	}
	if s.Provider != provider {
		return nil, errors.Mark(errInvalidState, 0).WithPublicMessage("state parameter is for another provider")
	}
	return &s, nil
}

func (c *StateCodec) sign(s *State) string {
	return hex.EncodeToString(c.mac(s))
}

func (c *StateCodec) mac(s *State) []byte {
	unsigned := *s
	unsigned.Signature = ""
	h := hmac.New(sha256.New, c.key)
	h.Write([]byte(unsigned.encode()))
	return h.Sum(nil)
}

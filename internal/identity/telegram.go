package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Credential errors
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrNotConfigured     = errors.New("telegram bot token is not configured")
)

// Identity is the caller resolved from a verified credential. It is the only
// shape identity data takes after decoding.
type Identity struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// DisplayName picks the best human readable name
func (i Identity) DisplayName() string {
	if i.Username != "" {
		return i.Username
	}
	name := strings.TrimSpace(i.FirstName + " " + i.LastName)
	if name != "" {
		return name
	}
	return strconv.FormatInt(i.ID, 10)
}

// TelegramVerifier checks Telegram Mini App initData signatures
type TelegramVerifier struct {
	botToken string
	maxAge   time.Duration
	now      func() time.Time
}

// NewTelegramVerifier creates a verifier. maxAge <= 0 disables the freshness check.
func NewTelegramVerifier(botToken string, maxAge time.Duration) *TelegramVerifier {
	return &TelegramVerifier{botToken: botToken, maxAge: maxAge, now: time.Now}
}

// secretKey derives the WebApp signing key from the bot token
func secretKey(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

// dataCheckString joins every field except hash as sorted key=value lines
func dataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}
	return strings.Join(lines, "\n")
}

// Sign computes the hash Telegram would attach to values. Used by tests and
// local tooling to build valid initData.
func Sign(botToken string, values url.Values) string {
	mac := hmac.New(sha256.New, secretKey(botToken))
	mac.Write([]byte(dataCheckString(values)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify validates initData and decodes the user it carries
func (v *TelegramVerifier) Verify(initData string) (Identity, error) {
	if v.botToken == "" {
		return Identity{}, ErrNotConfigured
	}
	values, err := url.ParseQuery(strings.TrimSpace(initData))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: malformed initData", ErrInvalidCredential)
	}

	received := values.Get("hash")
	if received == "" {
		return Identity{}, fmt.Errorf("%w: hash missing", ErrInvalidCredential)
	}

	if v.maxAge > 0 {
		raw := values.Get("auth_date")
		if raw == "" {
			return Identity{}, fmt.Errorf("%w: auth_date missing", ErrInvalidCredential)
		}
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: bad auth_date", ErrInvalidCredential)
		}
		if v.now().Sub(time.Unix(ts, 0)) > v.maxAge {
			return Identity{}, fmt.Errorf("%w: initData expired", ErrInvalidCredential)
		}
	}

	expected := Sign(v.botToken, values)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(received))) {
		return Identity{}, fmt.Errorf("%w: hash mismatch", ErrInvalidCredential)
	}

	return decodeUser(values.Get("user"))
}

// decodeUser turns the user JSON field into an Identity
func decodeUser(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: user missing", ErrInvalidCredential)
	}
	var u struct {
		ID        json.Number `json:"id"`
		Username  string      `json:"username"`
		FirstName string      `json:"first_name"`
		LastName  string      `json:"last_name"`
		PhotoURL  string      `json:"photo_url"`
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&u); err != nil {
		return Identity{}, fmt.Errorf("%w: user is not valid JSON", ErrInvalidCredential)
	}
	id, err := u.ID.Int64()
	if err != nil || id == 0 {
		return Identity{}, fmt.Errorf("%w: user id missing", ErrInvalidCredential)
	}
	return Identity{
		ID:        id,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		PhotoURL:  u.PhotoURL,
	}, nil
}

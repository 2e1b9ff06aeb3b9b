package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTicket = errors.New("invalid download ticket")
	ErrTicketExpired = errors.New("download ticket expired")
)

// Ticket is a signed, expiring reference to a stored export.
type Ticket struct {
	Token     string
	Name      string
	ExpiresAt time.Time
}

// TicketSigner issues and checks download tickets with an HMAC-SHA256 signature.
type TicketSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTicketSigner constructs a signer; ttl defaults to one hour.
func NewTicketSigner(secret string, ttl time.Duration) *TicketSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TicketSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a ticket for the stored file name.
func (s *TicketSigner) Issue(name string) (Ticket, error) {
	if name == "" {
		return Ticket{}, fmt.Errorf("export name required")
	}
	if len(s.secret) == 0 {
		return Ticket{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(name))
	expiry := strconv.FormatInt(expiresAt.Unix(), 10)
	token := encoded + "." + expiry + "." + s.sign(encoded, expiry)
	return Ticket{Token: token, Name: name, ExpiresAt: expiresAt}, nil
}

// Redeem verifies token and returns the ticket it encodes.
func (s *TicketSigner) Redeem(token string) (Ticket, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Ticket{}, ErrInvalidTicket
	}
	encoded, expiry, signature := parts[0], parts[1], parts[2]
	if !hmac.Equal([]byte(s.sign(encoded, expiry)), []byte(signature)) {
		return Ticket{}, ErrInvalidTicket
	}
	name, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Ticket{}, ErrInvalidTicket
	}
	unix, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil {
		return Ticket{}, ErrInvalidTicket
	}
	expiresAt := time.Unix(unix, 0)
	if s.now().After(expiresAt) {
		return Ticket{}, ErrTicketExpired
	}
	return Ticket{Token: token, Name: string(name), ExpiresAt: expiresAt}, nil
}

func (s *TicketSigner) sign(encodedName, expiry string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(encodedName + "|" + expiry))
	return hex.EncodeToString(mac.Sum(nil))
}

package control

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrNotAuthorized = errors.New("control: connection not authorized")

// IPAuthorizer enforces spec §4.12's "Authorisation is IP-based" rule: a
// set of CIDR blocks allowed to open a control connection at all.
type IPAuthorizer struct {
	nets []*net.IPNet
}

func NewIPAuthorizer(cidrs []string) (*IPAuthorizer, error) {
	a := &IPAuthorizer{}
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("control: bad allowed_cidrs entry %q: %w", c, err)
		}
		a.nets = append(a.nets, n)
	}
	return a, nil
}

// Allowed reports whether ip may connect at all. An authorizer with no
// configured CIDRs allows everyone, matching an unconfigured deployment's
// default-open behaviour (operators are expected to set allowed_cidrs in
// production, same as the teacher's unauthenticated-by-default dev mode).
func (a *IPAuthorizer) Allowed(ip net.IP) bool {
	if len(a.nets) == 0 {
		return true
	}
	for _, n := range a.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// borrowClaims is the JWT payload minted by BORROW_STATE/BORROW_STATE_Q:
// it binds a borrow to the state it names and the IP that requested it,
// so RETURN_STATE/ROLLBACK_STATE from a different address are rejected
// even holding a syntactically valid token (extends spec §4.12's IP-only
// authorisation, which alone cannot detect a borrowed handle replayed
// from elsewhere).
type borrowClaims struct {
	State string `json:"state"`
	IP    string `json:"ip"`
	jwt.RegisteredClaims
}

// MintBorrowToken signs a borrow token for state, scoped to requesterIP,
// expiring after ttl.
func MintBorrowToken(secret, state string, requesterIP net.IP, ttl time.Duration) (string, error) {
	claims := borrowClaims{
		State: state,
		IP:    requesterIP.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}

// VerifyBorrowToken checks tokenStr's signature, expiry, and that it was
// minted for state and requesterIP.
func VerifyBorrowToken(secret, tokenStr, state string, requesterIP net.IP) error {
	tok, err := jwt.ParseWithClaims(tokenStr, &borrowClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("control: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	claims, ok := tok.Claims.(*borrowClaims)
	if !ok || !tok.Valid {
		return ErrNotAuthorized
	}
	if claims.State != state || claims.IP != requesterIP.String() {
		return ErrNotAuthorized
	}
	return nil
}

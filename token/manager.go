package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/s3csys/authcore/fingerprint"
)

// Token type discriminators. A token is only ever accepted for the type it
// was issued as.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// SigningMethod selects the JWT signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

var (
	// ErrTokenInvalid covers signature failure, expiry, malformed claims,
	// and issuer/audience mismatch. Callers must treat it as one opaque
	// rejection.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTypeMismatch is returned when a structurally valid token carries
	// the wrong type discriminator for the verification call.
	ErrTypeMismatch = errors.New("token type mismatch")

	// ErrBindingRejected is returned when the token verifies
	// cryptographically but its fingerprint or network-origin claim does
	// not match the presenting request. Kept distinct because it indicates
	// a token replayed from an unexpected context.
	ErrBindingRejected = errors.New("token binding rejected")
)

// Config holds process-wide signing parameters. Rotating the key invalidates
// all outstanding tokens; refresh then forces re-login, which is acceptable.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	Secret        []byte // HS256
	PrivateKey    []byte // Ed25519
	PublicKey     []byte // Ed25519
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// Claims is the verified payload of an access or refresh token.
type Claims struct {
	TokenType     string `json:"type"`
	Fingerprint   string `json:"fgp,omitempty"`
	Origin        string `json:"ip,omitempty"`
	TwoFAVerified bool   `json:"2fa,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID parses the subject claim as the numeric identity ID.
func (c *Claims) SubjectID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad subject", ErrTokenInvalid)
	}
	return id, nil
}

// Manager issues and verifies tokens. Verification is pure and side-effect
// free; Managers are safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.Secret) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// IssueAccess signs a short-lived access token for subjectID, optionally
// bound to a device fingerprint and network origin. twoFAVerified records
// whether the session has completed step-up.
func (m *Manager) IssueAccess(subjectID int64, fp, origin string, twoFAVerified bool) (string, error) {
	return m.issue(TypeAccess, subjectID, fp, origin, twoFAVerified, m.config.AccessTTL)
}

// IssueRefresh signs a long-lived refresh token for subjectID with the same
// optional binding claims. twoFAVerified is carried so rotation can keep a
// stepped-up session stepped up.
func (m *Manager) IssueRefresh(subjectID int64, fp, origin string, twoFAVerified bool) (string, error) {
	return m.issue(TypeRefresh, subjectID, fp, origin, twoFAVerified, m.config.RefreshTTL)
}

func (m *Manager) issue(tokenType string, subjectID int64, fp, origin string, twoFAVerified bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TokenType:     tokenType,
		Fingerprint:   fp,
		Origin:        origin,
		TwoFAVerified: twoFAVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			// The jti keeps every issued token distinct even when two are
			// minted within the same second for the same subject.
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(subjectID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	tok := jwt.NewWithClaims(m.method(), claims)

	key, err := m.signKey()
	if err != nil {
		return "", err
	}
	return tok.SignedString(key)
}

// Verify parses and validates a token, enforcing the expected type and the
// fingerprint/origin binding against the presenting request. It fails
// closed: on any rejection no claims are returned.
//
// The error distinguishes [ErrBindingRejected] from other failures so the
// caller can raise the distinct replay event; everything else surfaces as
// [ErrTokenInvalid] or [ErrTypeMismatch].
func (m *Manager) Verify(tokenStr, expectedType, requestFP, requestOrigin string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.verifyKey()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.TokenType != expectedType {
		return nil, ErrTypeMismatch
	}

	if !fingerprint.Verify(claims.Fingerprint, requestFP, claims.Origin, requestOrigin) {
		return nil, ErrBindingRejected
	}

	return claims, nil
}

func (m *Manager) method() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func (m *Manager) signKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodEd25519:
		return parseEdPrivateKey(m.config.PrivateKey)
	default:
		return m.config.Secret, nil
	}
}

func (m *Manager) verifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodEd25519:
		return parseEdPublicKey(m.config.PublicKey)
	default:
		return m.config.Secret, nil
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

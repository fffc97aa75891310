package attestation

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialIssuer mints the short-lived token a worker must present on
// claim requests. Admission through the gate is the only way to get one.
type CredentialIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// CredentialClaims bind a credential to one worker and one measurement.
type CredentialClaims struct {
	WorkerID string `json:"worker_id"`
	RTMR3    string `json:"rtmr3"`
	jwt.RegisteredClaims
}

func NewCredentialIssuer(secret []byte, ttl time.Duration) *CredentialIssuer {
	return &CredentialIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a credential for an admitted worker.
func (i *CredentialIssuer) Issue(workerID string, m Measurements) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, CredentialClaims{
		WorkerID: workerID,
		RTMR3:    m.RTMR3,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "execution-plane",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign worker credential: %w", err)
	}
	return signed, nil
}

// Validate parses a presented credential and returns its claims. Expired or
// tampered credentials fail here.
func (i *CredentialIssuer) Validate(credential string) (*CredentialClaims, error) {
	claims := &CredentialClaims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now() }))
	if err != nil {
		return nil, fmt.Errorf("parse worker credential: %w", err)
	}
	return claims, nil
}

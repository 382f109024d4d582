// Package auth implements the auth plane (C3): bearer extraction, JWT
// HS256 validation, and the AWS credential-exchange pipeline with a
// single-flight, expiry-bounded cache.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quiltdata/quilt-mcp-server/internal/model"
	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

// SecretSource resolves the shared HS256 secret and the key id the
// server expects tokens to be signed with. Param-store wins over the
// plain env/flag secret when both are configured (spec §4.2).
type SecretSource struct {
	Secret       string
	SecretParam  string
	ExpectedKeyID string

	resolveParam func(name string) (string, error) // nil in the common case; set for parameter-store lookups
}

func (s SecretSource) resolve() (string, error) {
	if s.SecretParam != "" {
		if s.resolveParam == nil {
			return "", errors.New("jwt-secret-param configured but no parameter-store resolver is wired")
		}
		return s.resolveParam(s.SecretParam)
	}
	return s.Secret, nil
}

// Verifier validates bearer tokens against a SecretSource.
type Verifier struct {
	Secrets SecretSource
}

func NewVerifier(secrets SecretSource) *Verifier {
	return &Verifier{Secrets: secrets}
}

// ExtractBearer pulls the token out of an Authorization header value.
// Absence of a token is reported via ok=false, never an error — the
// caller (C1/C9) decides whether that's fatal based on require-jwt.
func ExtractBearer(authHeader string) (token string, ok bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", false
	}
	token = strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	return token, token != ""
}

// Verify validates a raw JWT and returns its decoded claims. Any
// validation failure is reported as toolerr.KindAuthInvalid, never a
// bare error, so C9's dispatch boundary can surface it verbatim.
func (v *Verifier) Verify(rawToken string) (*model.JWTClaims, error) {
	secret, err := v.Secrets.resolve()
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindConfigInvalid, "jwt secret source unavailable", err)
	}
	if secret == "" {
		return nil, toolerr.New(toolerr.KindConfigInvalid, "no jwt secret configured").
			WithFixHint("set jwt-secret or jwt-secret-param")
	}

	parsed, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		if v.Secrets.ExpectedKeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != v.Secrets.ExpectedKeyID {
				return nil, fmt.Errorf("token kid %q does not match configured key id", kid)
			}
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindAuthInvalid, "token rejected: "+redactedReason(err), err)
	}
	if !parsed.Valid {
		return nil, toolerr.New(toolerr.KindAuthInvalid, "token failed validation")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, toolerr.New(toolerr.KindAuthInvalid, "token claims malformed")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, toolerr.New(toolerr.KindAuthInvalid, "token missing sub claim")
	}

	out := &model.JWTClaims{
		Subject: sub,
	}
	if iss, ok := claims["iss"].(string); ok {
		out.Issuer = iss
	}
	if aud, ok := claims["aud"].(string); ok {
		out.Audience = aud
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.Expiry = time.Unix(int64(exp), 0)
	}
	if kid, ok := parsed.Header["kid"].(string); ok {
		out.KeyID = kid
	}
	out.Roles = stringSlice(claims["roles"])
	out.Buckets = stringSlice(claims["buckets"])
	out.Permissions = stringSlice(claims["permissions"])
	if raw, ok := claims["credentials"]; ok {
		if bundle := decodeEmbeddedCredentials(raw); bundle != nil {
			out.EmbeddedCredentials = bundle
		}
	}

	return out, nil
}

// redactedReason never includes the raw token or jwt/v5's error text; it
// maps the error to one of the fixed words below.
func redactedReason(err error) string {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "expired"
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return "signature invalid"
	}
	return "malformed"
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeEmbeddedCredentials(raw interface{}) *model.AWSCredentialBundle {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var wire struct {
		AccessKeyID     string `json:"AccessKeyId"`
		SecretAccessKey string `json:"SecretAccessKey"`
		SessionToken    string `json:"SessionToken"`
		Expiration      string `json:"Expiration"`
	}
	if err := json.Unmarshal(b, &wire); err != nil || wire.AccessKeyID == "" {
		return nil
	}
	exp, err := time.Parse(time.RFC3339, wire.Expiration)
	if err != nil {
		exp = time.Now().Add(15 * time.Minute)
	}
	return &model.AWSCredentialBundle{
		AccessKeyID:     wire.AccessKeyID,
		SecretAccessKey: wire.SecretAccessKey,
		SessionToken:    wire.SessionToken,
		Expiration:      exp,
	}
}

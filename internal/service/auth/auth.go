package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oshokin/metadeploy/internal/logger"
	"github.com/oshokin/metadeploy/internal/service/common"
)

const (
	// TokenPath is the OAuth token endpoint relative to the login URL.
	TokenPath = "/services/oauth2/token"
	// GrantTypeJWTBearer is the OAuth grant type of signed assertions.
	GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// assertionLifetime is how long a signed assertion stays valid.
	assertionLifetime = 60 * time.Second
	// pemPrefix marks inline key material as opposed to a key file path.
	pemPrefix = "-----BEGIN"
)

var (
	// ErrAuthenticationFailed is returned when the token endpoint rejects the assertion.
	ErrAuthenticationFailed = errors.New("authentication failed")

	errMissingCredentials = errors.New("missing credentials")
	errIncompleteSession  = errors.New("token response lacks access token or instance URL")
)

// Session is an authenticated connection to one remote instance.
type Session struct {
	// AccessToken authenticates API calls.
	AccessToken string
	// InstanceURL is the base URL of API calls.
	InstanceURL string
}

// Authenticator produces a session.
type Authenticator interface {
	// Authenticate returns a session ready for API calls.
	Authenticate(ctx context.Context) (*Session, error)
}

// Static returns a pre-issued session.
type Static struct {
	// AccessToken is the pre-issued token.
	AccessToken string
	// InstanceURL is the instance the token was issued for.
	InstanceURL string
}

// Authenticate returns the configured session.
func (s Static) Authenticate(ctx context.Context) (*Session, error) {
	if s.AccessToken == "" || s.InstanceURL == "" {
		return nil, fmt.Errorf("%w: access token and instance URL are required", errMissingCredentials)
	}

	logger.InfoKV(ctx, "Using pre-issued session", "instance_url", s.InstanceURL)

	return &Session{
		AccessToken: s.AccessToken,
		InstanceURL: strings.TrimRight(s.InstanceURL, "/"),
	}, nil
}

// JWTBearer exchanges an RS256 signed assertion for a session.
type JWTBearer struct {
	// LoginURL is the authorization server and the audience of the assertion.
	LoginURL string
	// ClientID is the connected application consumer key, the assertion issuer.
	ClientID string
	// Username is the subject of the assertion.
	Username string
	// PrivateKey is either PEM encoded key material or a path to a PEM file.
	PrivateKey string
	// HTTPClient performs the token request; nil means http.DefaultClient.
	HTTPClient *http.Client
	// Timeout bounds the token request.
	Timeout time.Duration
	// Now returns the current time; nil means time.Now.
	Now func() time.Time
}

// tokenResponse is the subset of the token endpoint answer used here.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	InstanceURL      string `json:"instance_url"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Authenticate signs an assertion and exchanges it at the token endpoint.
func (j *JWTBearer) Authenticate(ctx context.Context) (*Session, error) {
	if j.LoginURL == "" || j.ClientID == "" || j.Username == "" || j.PrivateKey == "" {
		return nil, fmt.Errorf("%w: login URL, client id, username and private key are required", errMissingCredentials)
	}

	assertion, err := j.Assertion()
	if err != nil {
		return nil, err
	}

	client, err := common.NewClient(j.LoginURL, common.WithHTTPClient(j.HTTPClient), common.WithCallTimeout(j.Timeout))
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Requesting access token", "login_url", j.LoginURL, "username", j.Username)

	response, err := client.PostForm(ctx, TokenPath, url.Values{
		"grant_type": {GrantTypeJWTBearer},
		"assertion":  {assertion},
	})
	if err != nil {
		return nil, fmt.Errorf("request access token: %w", err)
	}

	var token tokenResponse

	decodeErr := response.DecodeJSON(&token)

	if !response.IsSuccess() {
		reason := strings.TrimSpace(token.Error + " " + token.ErrorDescription)
		if decodeErr != nil || reason == "" {
			reason = strings.TrimSpace(string(response.Body))
		}

		return nil, fmt.Errorf("%w: status %d: %s", ErrAuthenticationFailed, response.StatusCode, reason)
	}

	if decodeErr != nil {
		return nil, decodeErr
	}

	if token.AccessToken == "" || token.InstanceURL == "" {
		return nil, errIncompleteSession
	}

	logger.InfoKV(ctx, "Authenticated", "instance_url", token.InstanceURL)

	return &Session{
		AccessToken: token.AccessToken,
		InstanceURL: strings.TrimRight(token.InstanceURL, "/"),
	}, nil
}

// Assertion returns the signed assertion exchanged for a session.
func (j *JWTBearer) Assertion() (string, error) {
	keyPEM, err := j.keyMaterial()
	if err != nil {
		return "", err
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	now := time.Now
	if j.Now != nil {
		now = j.Now
	}

	// The audience is a plain string; the token endpoint rejects an array.
	claims := jwt.MapClaims{
		"iss": j.ClientID,
		"sub": j.Username,
		"aud": j.LoginURL,
		"exp": jwt.NewNumericDate(now().Add(assertionLifetime)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	return signed, nil
}

func (j *JWTBearer) keyMaterial() ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(j.PrivateKey), pemPrefix) {
		return []byte(j.PrivateKey), nil
	}

	contents, err := os.ReadFile(filepath.Clean(j.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	return contents, nil
}

package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	UserKey = "user"

	GoogleCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

	defaultCertsTTL = time.Hour

	// minCertsRefresh bounds how often an unknown key id can force a refetch.
	minCertsRefresh = time.Minute
)

var ErrMissingToken = errors.New("missing or invalid token")

// Authenticator verifies identity-provider ID tokens. Tokens are RS256 signed
// by the provider's rotating certificates, or HS256 signed with a shared
// secret when one is configured for local development.
type Authenticator struct {
	projectID string
	secret    []byte
	certsURL  string
	client    *http.Client

	fetches singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expires   time.Time
	lastFetch time.Time
}

type AuthOption func(*Authenticator)

// WithHMACSecret accepts HS256 tokens signed with secret instead of
// provider-signed tokens.
func WithHMACSecret(secret string) AuthOption {
	return func(a *Authenticator) {
		if secret != "" {
			a.secret = []byte(secret)
		}
	}
}

func WithCertsURL(url string) AuthOption {
	return func(a *Authenticator) { a.certsURL = url }
}

func NewAuthenticator(projectID string, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		projectID: projectID,
		certsURL:  GoogleCertsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Issuer is the token issuer expected for the project.
func (a *Authenticator) Issuer() string {
	return "https://securetoken.google.com/" + a.projectID
}

// Verify parses and validates an ID token.
func (a *Authenticator) Verify(ctx context.Context, tokenString string) (*models.IdentityClaims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	methods := []string{jwt.SigningMethodRS256.Alg()}
	if a.secret != nil {
		methods = []string{jwt.SigningMethodHS256.Alg()}
	}

	claims := &models.IdentityClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if a.secret != nil {
			return a.secret, nil
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no key id")
		}
		return a.key(ctx, kid)
	},
		jwt.WithValidMethods(methods),
		jwt.WithIssuer(a.Issuer()),
		jwt.WithAudience(a.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, err
	}
	if claims.UID() == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// key returns the public key for kid. The certificate set is refetched when
// it has expired or does not know kid, at most once per minCertsRefresh
// whether or not the last attempt succeeded. Concurrent refetches share one
// request.
func (a *Authenticator) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	a.mu.RLock()
	k, ok := a.keys[kid]
	now := time.Now()
	fresh := now.Before(a.expires)
	recent := now.Sub(a.lastFetch) < minCertsRefresh
	a.mu.RUnlock()
	if ok && fresh {
		return k, nil
	}
	if recent {
		if ok {
			return k, nil
		}
		return nil, fmt.Errorf("unknown key id %q", kid)
	}

	_, err, _ := a.fetches.Do("certs", func() (interface{}, error) {
		a.mu.RLock()
		done := time.Since(a.lastFetch) < minCertsRefresh
		a.mu.RUnlock()
		if done {
			return nil, nil
		}
		return nil, a.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if k, ok := a.keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("unknown key id %q", kid)
}

func (a *Authenticator) refresh(ctx context.Context) error {
	a.mu.Lock()
	a.lastFetch = time.Now()
	a.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.certsURL, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching signing certificates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error fetching signing certificates: status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return fmt.Errorf("error decoding signing certificates: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, pem := range certs {
		k, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			logger.Get().Warn("skipping unparsable signing certificate", zap.String("kid", kid), zap.Error(err))
			continue
		}
		keys[kid] = k
	}

	a.mu.Lock()
	a.keys = keys
	a.expires = time.Now().Add(maxAge(resp.Header.Get("Cache-Control")))
	a.mu.Unlock()
	logger.Get().Debug("refreshed signing certificates", zap.Int("keys", len(keys)))
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultCertsTTL
}

// Middleware rejects requests without a valid ID token and stores the claims
// under UserKey. Event streams cannot set headers from a browser, so
// allowQueryToken also accepts ?token=.
func (a *Authenticator) Middleware(allowQueryToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c.Request)
		if tokenString == "" && allowQueryToken {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid token"})
			c.Abort()
			return
		}

		claims, err := a.Verify(c.Request.Context(), tokenString)
		if err != nil {
			logger.Get().Info("rejected token", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: " + err.Error()})
			c.Abort()
			return
		}

		c.Set(UserKey, claims)
		c.Next()
	}
}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(c *gin.Context) (*models.IdentityClaims, bool) {
	user, exists := c.Get(UserKey)
	if !exists {
		return nil, false
	}
	claims, ok := user.(*models.IdentityClaims)
	return claims, ok
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	return parts[1]
}

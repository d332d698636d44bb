package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const project = "accountability-test"

func init() {
	gin.SetMode(gin.TestMode)
}

func claimsFor(uid string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   "https://securetoken.google.com/" + project,
		"aud":   project,
		"sub":   uid,
		"email": uid + "@example.com",
		"iat":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
}

func hmacToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func protected(a *Authenticator, allowQuery bool) *gin.Engine {
	r := gin.New()
	r.GET("/me", a.Middleware(allowQuery), func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"uid": claims.UID(), "email": claims.Email})
	})
	return r
}

func TestAuthHMAC(t *testing.T) {
	a := NewAuthenticator(project, WithHMACSecret("dev-secret"))
	r := protected(a, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+hmacToken(t, "dev-secret", claimsFor("u1", time.Hour)))
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"uid":"u1","email":"u1@example.com"}`, w.Body.String())

	cases := map[string]string{
		"missing":      "",
		"wrong secret": "Bearer " + hmacToken(t, "other", claimsFor("u1", time.Hour)),
		"expired":      "Bearer " + hmacToken(t, "dev-secret", claimsFor("u1", -time.Minute)),
		"not bearer":   "Basic abc",
	}
	for name, header := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
	}

	wrongAud := claimsFor("u1", time.Hour)
	wrongAud["aud"] = "someone-else"
	_, err := a.Verify(context.Background(), hmacToken(t, "dev-secret", wrongAud))
	assert.Error(t, err)
}

func TestAuthQueryToken(t *testing.T) {
	a := NewAuthenticator(project, WithHMACSecret("dev-secret"))
	token := hmacToken(t, "dev-secret", claimsFor("u1", time.Hour))

	w := httptest.NewRecorder()
	protected(a, false).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	protected(a, true).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func selfSignedPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestAuthProviderCertificates(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	certs := map[string]string{"kid-1": selfSignedPEM(t, key)}

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=600, must-revalidate")
		json.NewEncoder(w).Encode(certs)
	}))
	defer srv.Close()

	a := NewAuthenticator(project, WithCertsURL(srv.URL))
	sign := func(kid string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claimsFor("u1", time.Hour))
		tok.Header["kid"] = kid
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}

	claims, err := a.Verify(context.Background(), sign("kid-1"))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UID())

	_, err = a.Verify(context.Background(), sign("kid-1"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load())

	_, err = a.Verify(context.Background(), sign("kid-unknown"))
	assert.Error(t, err)

	_, err = a.Verify(context.Background(), hmacToken(t, "x", claimsFor("u1", time.Hour)))
	assert.Error(t, err)
}

func TestUnknownKeyIDsDoNotForceRefetch(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	certs := map[string]string{"kid-1": selfSignedPEM(t, key)}

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Cache-Control", "max-age=600")
		json.NewEncoder(w).Encode(certs)
	}))
	defer srv.Close()

	sign := func(kid string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claimsFor("u1", time.Hour))
		tok.Header["kid"] = kid
		s, err := tok.SignedString(other)
		require.NoError(t, err)
		return s
	}
	bogus := make([]string, 20)
	for i := range bogus {
		bogus[i] = sign("bogus-" + strconv.Itoa(i))
	}
	verifyAll := func(a *Authenticator) {
		var wg sync.WaitGroup
		for _, tok := range bogus {
			wg.Add(1)
			go func(tok string) {
				defer wg.Done()
				_, err := a.Verify(context.Background(), tok)
				assert.Error(t, err)
			}(tok)
		}
		wg.Wait()
	}

	cold := NewAuthenticator(project, WithCertsURL(srv.URL))
	verifyAll(cold)
	assert.Equal(t, int32(1), fetches.Load())

	fetches.Store(0)
	warm := NewAuthenticator(project, WithCertsURL(srv.URL))
	_, err = warm.key(context.Background(), "kid-1")
	require.NoError(t, err)
	verifyAll(warm)
	verifyAll(warm)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestMaxAge(t *testing.T) {
	assert.Equal(t, 600*time.Second, maxAge("public, max-age=600, must-revalidate"))
	assert.Equal(t, defaultCertsTTL, maxAge(""))
	assert.Equal(t, defaultCertsTTL, maxAge("max-age=abc"))
}

func webhookRouter(secret string) *gin.Engine {
	r := gin.New()
	r.POST("/api/webhook", StripeWebhookVerifier(secret), func(c *gin.Context) {
		event, ok := StripeEventFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": event.ID})
	})
	return r
}

func TestStripeWebhookVerifier(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signed.Header)
	webhookRouter("whsec_test").ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"evt_1"}`, w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	webhookRouter("whsec_test").ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Webhook handler failed"}`, w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signed.Header)
	webhookRouter("").ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Missing webhook secret"}`, w.Body.String())
}

func TestStripeWebhookVerifierBodyLimit(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","pad":"` +
		strings.Repeat("x", int(MaxWebhookBodyBytes)) + `"}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signed.Header)
	webhookRouter("whsec_test").ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Webhook handler failed"}`, w.Body.String())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	r := gin.New()
	r.POST("/checkout", rl.Handler(), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req.RemoteAddr = "198.51.100.1:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	rl.Cleanup(-time.Second)
	assert.Empty(t, rl.limiters)
}

func TestInternalAPIKey(t *testing.T) {
	for _, tc := range []struct {
		key, header string
		want        int
	}{
		{"k", "k", http.StatusOK},
		{"k", "nope", http.StatusUnauthorized},
		{"", "", http.StatusUnauthorized},
	} {
		r := gin.New()
		r.GET("/internal", InternalAPIKey(tc.key), func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/internal", nil)
		req.Header.Set("X-API-Key", tc.header)
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code)
	}
}

func TestCors(t *testing.T) {
	r := gin.New()
	r.Use(Cors("https://accountability.place"))
	r.POST("/api/tasks", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/tasks", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://accountability.place", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/webhook", nil))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

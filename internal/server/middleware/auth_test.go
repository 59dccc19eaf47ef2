package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percmarket/percolator-markets/internal/crypto"
	"github.com/percmarket/percolator-markets/internal/domain"
)

func authedMux(t *testing.T, verifier Verifier, now time.Time) (http.Handler, *string) {
	t.Helper()

	var seenCaller string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if caller, ok := CallerFrom(r.Context()); ok {
			seenCaller = caller
		}
		w.WriteHeader(http.StatusOK)
	})

	clock := domain.ClockFunc(func() time.Time { return now })
	return Auth(verifier, clock)(inner), &seenCaller
}

func TestAuth_SignedRequest(t *testing.T) {
	privHex, address, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(privHex)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	body := `{"side":"yes","amount":100}`
	headers, err := signer.SignRequest("POST", "/api/markets/1/bets", []byte(body), now.Unix())
	require.NoError(t, err)

	h, seenCaller := authedMux(t, crypto.NewVerifier(30*time.Second), now)

	req := httptest.NewRequest(http.MethodPost, "/api/markets/1/bets", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, address, *seenCaller)
}

func TestAuth_UnsignedMutationRejected(t *testing.T) {
	h, _ := authedMux(t, crypto.NewVerifier(30*time.Second), time.Now())

	req := httptest.NewRequest(http.MethodPost, "/api/markets/1/bets", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_UnsignedReadPasses(t *testing.T) {
	h, seenCaller := authedMux(t, crypto.NewVerifier(30*time.Second), time.Now())

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, *seenCaller)
}

func TestAuth_TamperedBodyRejected(t *testing.T) {
	privHex, _, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(privHex)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	headers, err := signer.SignRequest("POST", "/api/markets/1/bets", []byte(`{"amount":100}`), now.Unix())
	require.NoError(t, err)

	h, _ := authedMux(t, crypto.NewVerifier(30*time.Second), now)

	req := httptest.NewRequest(http.MethodPost, "/api/markets/1/bets", strings.NewReader(`{"amount":999}`))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_DisabledTrustsHeader(t *testing.T) {
	h, seenCaller := authedMux(t, nil, time.Now())

	req := httptest.NewRequest(http.MethodPost, "/api/markets/1/bets", strings.NewReader("{}"))
	req.Header.Set(crypto.HeaderAddress, "0xdev")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xdev", *seenCaller)
}

package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRequest(t *testing.T) {
	privHex, address, err := GenerateKey()
	require.NoError(t, err)

	signer, err := NewSigner(privHex)
	require.NoError(t, err)
	assert.Equal(t, address, signer.Address())

	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"amount":100,"side":"yes"}`)

	headers, err := signer.SignRequest("POST", "/api/markets/7/bets", body, now.Unix())
	require.NoError(t, err)

	v := NewVerifier(30 * time.Second)
	caller, err := v.VerifyRequest(
		headers[HeaderAddress], headers[HeaderTimestamp],
		"POST", "/api/markets/7/bets", body,
		headers[HeaderSignature], now)
	require.NoError(t, err)
	assert.Equal(t, address, caller)
}

func TestVerifyRequest_TamperedBody(t *testing.T) {
	privHex, _, err := GenerateKey()
	require.NoError(t, err)
	signer, err := NewSigner(privHex)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	headers, err := signer.SignRequest("POST", "/api/markets/7/bets", []byte(`{"amount":100}`), now.Unix())
	require.NoError(t, err)

	v := NewVerifier(30 * time.Second)
	_, err = v.VerifyRequest(
		headers[HeaderAddress], headers[HeaderTimestamp],
		"POST", "/api/markets/7/bets", []byte(`{"amount":999}`),
		headers[HeaderSignature], now)
	assert.Error(t, err)
}

func TestVerifyRequest_WrongClaimedAddress(t *testing.T) {
	privHex, _, err := GenerateKey()
	require.NoError(t, err)
	signer, err := NewSigner(privHex)
	require.NoError(t, err)

	_, otherAddr, err := GenerateKey()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	headers, err := signer.SignRequest("GET", "/api/protocol", nil, now.Unix())
	require.NoError(t, err)

	v := NewVerifier(30 * time.Second)
	_, err = v.VerifyRequest(
		otherAddr, headers[HeaderTimestamp],
		"GET", "/api/protocol", nil,
		headers[HeaderSignature], now)
	assert.ErrorContains(t, err, "does not match")
}

func TestVerifyRequest_StaleTimestamp(t *testing.T) {
	privHex, _, err := GenerateKey()
	require.NoError(t, err)
	signer, err := NewSigner(privHex)
	require.NoError(t, err)

	signedAt := time.Unix(1_700_000_000, 0)
	headers, err := signer.SignRequest("GET", "/api/protocol", nil, signedAt.Unix())
	require.NoError(t, err)

	v := NewVerifier(30 * time.Second)
	_, err = v.VerifyRequest(
		headers[HeaderAddress], headers[HeaderTimestamp],
		"GET", "/api/protocol", nil,
		headers[HeaderSignature], signedAt.Add(5*time.Minute))
	assert.ErrorContains(t, err, "skew")
}

func TestKeyFileRoundTrip(t *testing.T) {
	privHex, address, err := GenerateKey()
	require.NoError(t, err)

	blob, err := EncryptKeyFile(privHex, address, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), address)

	got, err := DecryptKeyFile(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, privHex, got)

	_, err = DecryptKeyFile(blob, "wrong-password")
	assert.Error(t, err)
}

func TestLoadKey_RawTakesPrecedence(t *testing.T) {
	privHex, _, err := GenerateKey()
	require.NoError(t, err)

	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + privHex, KeyFilePath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, privHex, got)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestWriteKeyFile(t *testing.T) {
	path := t.TempDir() + "/oracle.key.json"

	address, err := WriteKeyFile(path, "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, address)

	privHex, err := LoadKey(KeyConfig{KeyFilePath: path, KeyPassword: "s3cret"})
	require.NoError(t, err)

	signer, err := NewSigner(privHex)
	require.NoError(t, err)
	assert.Equal(t, address, signer.Address())
}

// Package xcrypto implements the HMAC/hash primitives and the per-venue
// signing-family message compositions described in the venue adapter
// contract. Each Sign* function implements exactly one signing family from
// the signing-variants table; adapters pick the family that matches their
// venue and assemble the venue-specific inputs (query string, path, nonce,
// body) before calling in.
//
// All hashing goes through the standard library — crypto/hmac and
// crypto/sha256/sha512 are what every signed-request example in the source
// corpus reaches for; no third-party crypto library is involved at this
// layer.
package xcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
)

func hmacSum(newHash func() hash.Hash, secret []byte, message string) []byte {
	mac := hmac.New(newHash, secret)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}

// HMACSHA256Hex returns the lowercase hex HMAC-SHA256 of message under secret.
func HMACSHA256Hex(secret, message string) string {
	return hex.EncodeToString(hmacSum(sha256.New, []byte(secret), message))
}

// HMACSHA256Base64 returns the standard-base64 HMAC-SHA256 of message under secret.
func HMACSHA256Base64(secret, message string) string {
	return base64.StdEncoding.EncodeToString(hmacSum(sha256.New, []byte(secret), message))
}

// HMACSHA384Hex returns the lowercase hex HMAC-SHA384 of message under secret.
func HMACSHA384Hex(secret, message string) string {
	return hex.EncodeToString(hmacSum(sha512.New384, []byte(secret), message))
}

// HMACSHA512Hex returns the lowercase hex HMAC-SHA512 of message under secret.
func HMACSHA512Hex(secret, message string) string {
	return hex.EncodeToString(hmacSum(sha512.New, []byte(secret), message))
}

// HMACSHA256HexBase64Secret HMAC-SHA256-hexes message using a secret that is
// itself base64-encoded at rest (decoded before use) — the P family's key
// handling.
func HMACSHA256HexBase64Secret(base64Secret, message string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hmacSum(sha256.New, key, message)), nil
}

// SHA256Hex is the plain (unkeyed) SHA-256 hex digest of data.
func SHA256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// SHA512Hex is the plain (unkeyed) SHA-512 hex digest of data.
func SHA512Hex(data string) string {
	sum := sha512.Sum512([]byte(data))
	return hex.EncodeToString(sum[:])
}

// SignB1 implements the B1 family: HMAC-SHA256 hex over sorted URL-encoded
// params; the caller appends the result back onto the query as `signature`
// and sets the `X-APIKEY` header.
func SignB1(secret, sortedEncodedParams string) string {
	return HMACSHA256Hex(secret, sortedEncodedParams)
}

// SignB2 implements the B2 (Binance-style) family: HMAC-SHA256 hex over the
// fully assembled query/body string, which the caller has already extended
// with timestamp and recvWindow fields before calling in.
func SignB2(secret, queryOrBody string) string {
	return HMACSHA256Hex(secret, queryOrBody)
}

// SignK implements the K (OKX-style) family: HMAC-SHA256 base64 over
// ISO-8601 timestamp + METHOD + requestPath + body.
func SignK(secret, timestampISO8601, method, requestPath, body string) string {
	message := timestampISO8601 + method + requestPath + body
	return HMACSHA256Base64(secret, message)
}

// SignG implements the G (Gate.io-style) family: HMAC-SHA512 hex over
// METHOD\nPATH\nQUERY\nSHA512(body)\nTIMESTAMP.
func SignG(secret, method, path, query, body, timestamp string) string {
	message := method + "\n" + path + "\n" + query + "\n" + SHA512Hex(body) + "\n" + timestamp
	return HMACSHA512Hex(secret, message)
}

// SignF implements the F (Bitfinex-style) family: HMAC-SHA384 hex over
// "/api/" + path + nonce + JSON(body).
func SignF(secret, path, nonce, jsonBody string) string {
	message := "/api/" + path + nonce + jsonBody
	return HMACSHA384Hex(secret, message)
}

// SignP implements the P (Phemex-style) family: HMAC-SHA256 hex, keyed with
// a base64-decoded secret, over path + (queryString or expiry+body) + expiry.
func SignP(base64Secret, path, queryOrBody, expiry string) (string, error) {
	message := path + queryOrBody + expiry
	return HMACSHA256HexBase64Secret(base64Secret, message)
}

// SignM implements the M (memo-based) family: HMAC-SHA256 hex over
// timestamp + '#' + memo + '#' + body.
func SignM(secret, timestamp, memo, body string) string {
	message := timestamp + "#" + memo + "#" + body
	return HMACSHA256Hex(secret, message)
}

// SignX implements the X (access-key+nonce) family: HMAC-SHA256 hex over
// path + '?' + sorted-urlenc(params+accessKey+nonce); the signature is added
// back into params by the caller, not carried as a header.
func SignX(secret, path, sortedEncodedParamsWithKeyAndNonce string) string {
	message := path + "?" + sortedEncodedParamsWithKeyAndNonce
	return HMACSHA256Hex(secret, message)
}

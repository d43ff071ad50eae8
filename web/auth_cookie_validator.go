package web

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	authCookie    = "auth"
	authCookieTTL = 24 * time.Hour
)

// generateAuthToken signs "userID|expiresUnix" with secretKey.
func generateAuthToken(userID int64, expires time.Time, secretKey string) string {
	payload := strconv.FormatInt(userID, 10) + "|" + strconv.FormatInt(expires.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." +
		base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// parseAuthToken returns the user ID of a valid, unexpired token.
func parseAuthToken(token, secretKey string, now time.Time) (int64, bool) {
	encodedPayload, encodedMac, found := strings.Cut(token, ".")
	if !found {
		return 0, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return 0, false
	}
	expectedMac, err := base64.RawURLEncoding.DecodeString(encodedMac)
	if err != nil {
		return 0, false
	}

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(payload)
	if !hmac.Equal(expectedMac, mac.Sum(nil)) {
		return 0, false
	}

	idPart, expPart, found := strings.Cut(string(payload), "|")
	if !found {
		return 0, false
	}
	userID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, false
	}
	expires, err := strconv.ParseInt(expPart, 10, 64)
	if err != nil || now.Unix() >= expires {
		return 0, false
	}
	return userID, true
}

func setAuthCookie(w http.ResponseWriter, userID int64, secretKey string) {
	expires := time.Now().Add(authCookieTTL)
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    generateAuthToken(userID, expires, secretKey),
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// newAPIKey returns a random worker credential.
func newAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

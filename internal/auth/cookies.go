package auth

import (
	"net/http"
	"time"
)

// Cookie names shared with the web client.
const (
	AccessTokenCookie   = "auth-token"
	RefreshTokenCookie  = "refresh-token"
	TrustedDeviceCookie = "trusted-device"
)

// CookieConfig holds cookie attribute settings
type CookieConfig struct {
	Domain string // empty string = current host only
	Secure bool   // HTTPS only, gated by the production flag
}

// SetAuthCookies sets the access and refresh token cookies after a fully
// authenticated login. Both are HttpOnly and SameSite=Strict on path "/".
func SetAuthCookies(w http.ResponseWriter, accessToken, refreshToken string, accessTTL, refreshTTL time.Duration, config CookieConfig) {
	setTokenCookie(w, AccessTokenCookie, accessToken, accessTTL, true, config)
	setTokenCookie(w, RefreshTokenCookie, refreshToken, refreshTTL, true, config)
}

// SetTrustedDeviceCookie sets the 2FA device-trust cookie.
func SetTrustedDeviceCookie(w http.ResponseWriter, token string, ttl time.Duration, config CookieConfig) {
	setTokenCookie(w, TrustedDeviceCookie, token, ttl, true, config)
}

// ClearAuthCookies removes both auth cookies at logout.
func ClearAuthCookies(w http.ResponseWriter, config CookieConfig) {
	clearCookie(w, AccessTokenCookie, config)
	clearCookie(w, RefreshTokenCookie, config)
}

// ClearTrustedDeviceCookie removes the device-trust cookie, used when 2FA
// is disabled or the account is deleted.
func ClearTrustedDeviceCookie(w http.ResponseWriter, config CookieConfig) {
	clearCookie(w, TrustedDeviceCookie, config)
}

// GetAccessTokenCookie retrieves the access token from cookies
func GetAccessTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetRefreshTokenCookie retrieves the refresh token from cookies
func GetRefreshTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetTrustedDeviceCookie retrieves the device-trust token from cookies
func GetTrustedDeviceCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(TrustedDeviceCookie)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

func setTokenCookie(w http.ResponseWriter, name, value string, ttl time.Duration, httpOnly bool, config CookieConfig) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: httpOnly, // prevents JavaScript access (XSS protection)
		Secure:   config.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	http.SetCookie(w, cookie)
}

func clearCookie(w http.ResponseWriter, name string, config CookieConfig) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1, // negative MaxAge deletes the cookie
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	http.SetCookie(w, cookie)
}

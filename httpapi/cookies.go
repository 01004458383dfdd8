package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/learnkit/authn"
	"github.com/learnkit/authn/account"
	"github.com/learnkit/authn/jwt"
)

var epoch = time.Unix(0, 0).UTC()

type userInfo struct {
	Version    int               `json:"version"`
	Username   string            `json:"username"`
	HeaderURLs map[string]string `json:"header_urls"`
}

type cookieWriter struct {
	cfg      authn.CookieConfig
	platform authn.PlatformConfig
}

func (c cookieWriter) base(name, value string, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.cfg.Domain,
		Secure:   c.cfg.Secure,
		HttpOnly: httpOnly,
		SameSite: c.cfg.SameSite,
	}
}

// setLogin writes the session cookie and both marketing cookies. They
// share the session's expiry.
func (c cookieWriter) setLogin(w http.ResponseWriter, r *http.Request, sessionID string, expires time.Time, user *account.User) error {
	sess := c.base(c.cfg.SessionName, sessionID, true)
	sess.Expires = expires
	http.SetCookie(w, sess)

	loggedIn := c.base(c.cfg.LoggedInName, "true", false)
	loggedIn.Expires = expires
	http.SetCookie(w, loggedIn)

	value, err := c.userInfoValue(r, user)
	if err != nil {
		return err
	}
	info := c.base(c.cfg.UserInfoName, value, false)
	info.Expires = expires
	http.SetCookie(w, info)
	return nil
}

// userInfoValue is the URL-escaped JSON user-info document. Header URLs
// are made absolute against the request's scheme and host.
func (c cookieWriter) userInfoValue(r *http.Request, user *account.User) (string, error) {
	root := requestScheme(r) + "://" + r.Host
	urls := make(map[string]string, len(c.platform.HeaderURLs))
	keys := make([]string, 0, len(c.platform.HeaderURLs))
	for k := range c.platform.HeaderURLs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		path := strings.ReplaceAll(c.platform.HeaderURLs[k], "{username}", url.PathEscape(user.Username))
		if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
			urls[k] = path
			continue
		}
		urls[k] = root + path
	}

	raw, err := json.Marshal(userInfo{
		Version:    c.cfg.UserInfoVersion,
		Username:   user.Username,
		HeaderURLs: urls,
	})
	if err != nil {
		return "", err
	}
	return url.QueryEscape(string(raw)), nil
}

// setJWT splits token over the header.payload cookie, readable by
// scripts, and the HttpOnly signature cookie.
func (c cookieWriter) setJWT(w http.ResponseWriter, token string, expires time.Time) error {
	headerPayload, signature, err := jwt.SplitCookieValues(token)
	if err != nil {
		return err
	}
	hp := c.base(c.cfg.JWTHeaderPayloadName, headerPayload, false)
	hp.Expires = expires
	http.SetCookie(w, hp)

	sig := c.base(c.cfg.JWTSignatureName, signature, true)
	sig.Expires = expires
	http.SetCookie(w, sig)
	return nil
}

// clearAll expires every login cookie at the epoch.
func (c cookieWriter) clearAll(w http.ResponseWriter) {
	for _, name := range []string{
		c.cfg.SessionName,
		c.cfg.LoggedInName,
		c.cfg.UserInfoName,
		c.cfg.JWTHeaderPayloadName,
		c.cfg.JWTSignatureName,
	} {
		ck := c.base(name, "", name == c.cfg.SessionName || name == c.cfg.JWTSignatureName)
		ck.Expires = epoch
		ck.MaxAge = -1
		http.SetCookie(w, ck)
	}
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return "https"
	}
	return "http"
}

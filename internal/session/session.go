// Package session establishes and carries the cookie/header material the
// provider endpoints expect from a browser-originated visitor.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/chemdocs/sds-downloader/internal/models"
)

// ErrEstablishment means the priming request or browser navigation did not
// produce a usable session. Fatal for the run unless a cached session was
// requested and is present.
var ErrEstablishment = errors.New("session establishment failed")

// BrowserHeaders is the header set a recent desktop Chrome sends on a
// top-level navigation. Providers whose bot mitigation is fingerprint-based
// accept a plain client that carries these.
func BrowserHeaders(userAgent, acceptLanguage string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": acceptLanguage,
		"Connection":      "keep-alive",
		"Pragma":          "no-cache",
		"Cache-Control":   "no-cache",
	}
}

// NewHTTPClient builds the plain client used for all post-bootstrap
// requests. The jar carries the session cookies between calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: timeout,
		Jar:     jar,
	}
}

// Prime issues a single priming GET against pageURL and turns the cookies
// the server set into a SessionContext. requireCookies controls whether an
// empty cookie set fails the bootstrap; pure fingerprint-gated providers
// sometimes set nothing on the first hit.
func Prime(ctx context.Context, client *http.Client, provider, pageURL string, headers map[string]string, requireCookies bool) (*models.SessionContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEstablishment, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: priming %s: %v", ErrEstablishment, pageURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: priming %s returned HTTP %d", ErrEstablishment, pageURL, resp.StatusCode)
	}

	sess := &models.SessionContext{
		Provider: provider,
		Cookies:  cookiesFromJar(client, pageURL),
		Headers:  headers,
		IssuedAt: time.Now(),
	}
	if requireCookies && len(sess.Cookies) == 0 {
		return nil, fmt.Errorf("%w: priming %s set no cookies", ErrEstablishment, pageURL)
	}
	return sess, nil
}

// Apply seeds the client cookie jar and returns the header set for the
// session, so a cached or browser-collected session drives a plain client.
func Apply(client *http.Client, sess *models.SessionContext, baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("applying session to %q: %w", baseURL, err)
	}
	cookies := make([]*http.Cookie, 0, len(sess.Cookies))
	for name, value := range sess.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	client.Jar.SetCookies(u, cookies)
	return nil
}

func cookiesFromJar(client *http.Client, pageURL string) map[string]string {
	out := map[string]string{}
	u, err := url.Parse(pageURL)
	if err != nil || client.Jar == nil {
		return out
	}
	for _, c := range client.Jar.Cookies(u) {
		out[c.Name] = c.Value
	}
	return out
}

package modem

import (
	"crypto/tls"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
)

// Default per-request timeouts. Slow devices use SlowTimeout.
const (
	DefaultTimeout = 10 * time.Second
	SlowTimeout    = 30 * time.Second
)

// Transport is the HTTP session a driver talks through. It keeps cookies
// between requests and accepts the self-signed certificates modems ship with.
type Transport struct {
	BaseURL string
	Client  *http.Client
	jar     http.CookieJar
}

// NewTransport builds a Transport for baseURL. A missing scheme defaults to http.
func NewTransport(baseURL string, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &Transport{BaseURL: NormalizeBaseURL(baseURL)}
	t.Client = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // modems use self-signed certs
		},
	}
	t.ResetSession()
	return t
}

// NormalizeBaseURL adds a scheme and drops a trailing slash.
func NormalizeBaseURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return u
	}
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	return strings.TrimRight(u, "/")
}

// Request starts a request for path on the device.
func (t *Transport) Request(path string) *requests.Builder {
	return requests.
		URL(t.BaseURL).
		Client(t.Client).
		Path(path).
		UserAgent("Mozilla/5.0 (X11; Linux x86_64) docsismon")
}

// Cookie returns the value of a session cookie set by the device.
func (t *Transport) Cookie(name string) string {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return ""
	}
	for _, c := range t.jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// SetCookie stores a cookie for the device as if the device had set it.
func (t *Transport) SetCookie(name, value string) {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return
	}
	t.jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

// ResetSession drops all cookies.
func (t *Transport) ResetSession() {
	jar, _ := cookiejar.New(nil)
	t.jar = jar
	t.Client.Jar = jar
}

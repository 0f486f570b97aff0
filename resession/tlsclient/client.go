package tlsclient

import (
	"crypto/tls"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	neturl "net/url"
	"os"
	"sync"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"k8s.io/klog/v2"
)

// ProfileRotationMode determines how browser profiles are selected
type ProfileRotationMode int

const (
	// ProfileRotationOff always uses the first profile
	ProfileRotationOff ProfileRotationMode = iota
	// ProfileRotationRandom selects a random profile for each client
	ProfileRotationRandom
	// ProfileRotationSequential rotates through profiles in order
	ProfileRotationSequential
)

var (
	// DefaultProfiles contains the browser profiles to rotate between.
	// Focused on modern Chrome and Firefox versions.
	DefaultProfiles = []profiles.ClientProfile{
		profiles.Chrome_144,
		profiles.Chrome_146,
		profiles.Chrome_133,
		profiles.Chrome_131,
		profiles.Firefox_147,
		profiles.Firefox_135,
	}

	// defaultProfileNames maps the profiles above to display names, since the
	// profile structs themselves don't carry one we can reach.
	defaultProfileNames = map[int]string{
		0: "Chrome_144",
		1: "Chrome_146",
		2: "Chrome_133",
		3: "Chrome_131",
		4: "Firefox_147",
		5: "Firefox_135",
	}

	// currentProfileIndex tracks the current profile for sequential rotation
	currentProfileIndex int
	profileMutex        sync.Mutex
)

// ClientOptions configures the TLS client behavior
type ClientOptions struct {
	// ProfileRotationMode determines how profiles are selected
	ProfileRotationMode ProfileRotationMode
	// CustomProfiles allows overriding the default profile list
	CustomProfiles []profiles.ClientProfile
	// Timeout sets the HTTP client timeout
	Timeout time.Duration
	// FollowRedirects controls redirect behavior
	FollowRedirects bool
	// CookieJar allows setting a custom cookie jar
	CookieJar http.CookieJar
	// ProxyURL routes all requests through the given proxy. Supports http,
	// https and socks5 URLs, as understood by the underlying TLS client.
	ProxyURL string
	// InsecureSkipProxyVerify disables certificate and hostname verification
	// for the proxy connection. Only honored when ProxyURL is set.
	InsecureSkipProxyVerify bool
}

// DefaultClientOptions returns sensible defaults for the TLS client
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		ProfileRotationMode: ProfileRotationRandom,
		CustomProfiles:      DefaultProfiles,
		Timeout:             90 * time.Second,
		FollowRedirects:     true,
	}
}

// selectProfile chooses a browser profile based on the rotation mode and
// returns it along with its index in the profile list.
func selectProfile(opts *ClientOptions) (profiles.ClientProfile, int) {
	profileList := opts.CustomProfiles
	if len(profileList) == 0 {
		profileList = DefaultProfiles
	}

	switch opts.ProfileRotationMode {
	case ProfileRotationRandom:
		i := rand.Intn(len(profileList))
		return profileList[i], i
	case ProfileRotationSequential:
		profileMutex.Lock()
		defer profileMutex.Unlock()
		i := currentProfileIndex % len(profileList)
		currentProfileIndex++
		return profileList[i], i
	default:
		return profileList[0], 0
	}
}

// NewHTTPClient creates a new HTTP client with TLS fingerprinting support.
// It returns an *http.Client that can be used as a drop-in replacement for
// standard net/http clients.
//
// Proxy resolution: an explicit ClientOptions.ProxyURL keeps TLS
// fingerprinting and tunnels through the proxy. Otherwise, if HTTP_PROXY or
// HTTPS_PROXY is set in the environment, a plain proxy client without
// fingerprinting is returned (useful behind fingerprint-rewriting proxies).
func NewHTTPClient(opts *ClientOptions) (*http.Client, error) {
	if opts == nil {
		opts = DefaultClientOptions()
	}

	if opts.ProxyURL == "" {
		httpProxy := os.Getenv("HTTP_PROXY")
		httpsProxy := os.Getenv("HTTPS_PROXY")
		if httpProxy != "" || httpsProxy != "" {
			klog.V(2).Infof("HTTP_PROXY or HTTPS_PROXY detected, using proxy transport instead of TLS fingerprinting")
			return newEnvProxyClient(opts, httpProxy, httpsProxy)
		}
	}

	profile, profileIdx := selectProfile(opts)
	klog.V(2).Infof("Creating TLS client with profile: %s", profileName(profileIdx))

	tlsJar := tls_client.NewCookieJar()

	clientOptions := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(opts.Timeout.Seconds())),
		tls_client.WithClientProfile(profile),
		tls_client.WithCookieJar(tlsJar),
		tls_client.WithRandomTLSExtensionOrder(),
	}

	if !opts.FollowRedirects {
		clientOptions = append(clientOptions, tls_client.WithNotFollowRedirects())
	}

	if opts.ProxyURL != "" {
		clientOptions = append(clientOptions, tls_client.WithProxyUrl(opts.ProxyURL))
		if opts.InsecureSkipProxyVerify {
			klog.V(2).Infof("proxy TLS verification disabled for %s", opts.ProxyURL)
			clientOptions = append(clientOptions, tls_client.WithInsecureSkipVerify())
		}
	}

	tlsClient, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS client: %w", err)
	}

	return &http.Client{
		Transport: &tlsClientTransport{client: tlsClient, jar: tlsJar, profileIdx: profileIdx},
		Jar:       &cookieJarWrapper{jar: tlsJar},
		Timeout:   opts.Timeout,
	}, nil
}

// newEnvProxyClient creates a plain HTTP client that uses the proxy from the
// HTTP_PROXY/HTTPS_PROXY environment variables, without TLS fingerprinting.
func newEnvProxyClient(opts *ClientOptions, httpProxy, httpsProxy string) (*http.Client, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipProxyVerify,
		},
		Proxy: func(req *http.Request) (*neturl.URL, error) {
			proxyURL := httpProxy
			if req.URL.Scheme == "https" && httpsProxy != "" {
				proxyURL = httpsProxy
			}
			if proxyURL == "" {
				return nil, nil
			}
			return neturl.Parse(proxyURL)
		},
	}

	jar := opts.CookieJar
	if jar == nil {
		var err error
		jar, err = cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		Jar:       jar,
	}

	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return client, nil
}

// tlsClientTransport wraps the TLS client to implement http.RoundTripper
type tlsClientTransport struct {
	client     tls_client.HttpClient
	jar        fhttp.CookieJar
	profileIdx int
}

var profileUserAgents = map[string]string{
	"Chrome_144":  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36",
	"Chrome_146":  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/146.0.0.0 Safari/537.36",
	"Chrome_133":  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Chrome_131":  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Firefox_147": "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:147.0) Gecko/20100101 Firefox/147.0",
	"Firefox_135": "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0",
}

// RoundTrip implements http.RoundTripper
func (t *tlsClientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fReq, err := t.convertRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}

	fResp, err := t.client.Do(fReq)
	if err != nil {
		return nil, err
	}

	return convertResponse(fResp), nil
}

// convertRequest converts a net/http.Request to an fhttp.Request, setting a
// User-Agent matching the negotiated TLS profile when the caller didn't.
func (t *tlsClientTransport) convertRequest(req *http.Request) (*fhttp.Request, error) {
	fReq, err := fhttp.NewRequest(req.Method, req.URL.String(), req.Body)
	if err != nil {
		return nil, err
	}

	fReq.Header = make(fhttp.Header, len(req.Header))
	for k, v := range req.Header {
		fReq.Header[k] = v
	}

	ua := fReq.Header.Get("User-Agent")
	if ua == "" || ua == "Go-http-client/1.1" {
		if mapped, ok := profileUserAgents[profileName(t.profileIdx)]; ok {
			fReq.Header.Set("User-Agent", mapped)
		}
	}

	fReq.Host = req.Host
	fReq.ContentLength = req.ContentLength
	fReq.TransferEncoding = req.TransferEncoding
	fReq.Close = req.Close

	return fReq, nil
}

// convertResponse converts an fhttp.Response to a net/http.Response
func convertResponse(fResp *fhttp.Response) *http.Response {
	resp := &http.Response{
		Status:        fResp.Status,
		StatusCode:    fResp.StatusCode,
		Proto:         fResp.Proto,
		ProtoMajor:    fResp.ProtoMajor,
		ProtoMinor:    fResp.ProtoMinor,
		Header:        make(http.Header, len(fResp.Header)),
		Body:          fResp.Body,
		ContentLength: fResp.ContentLength,
		Close:         fResp.Close,
		Uncompressed:  fResp.Uncompressed,
	}
	for k, v := range fResp.Header {
		resp.Header[k] = v
	}

	if fResp.Request != nil {
		resp.Request = &http.Request{
			Method: fResp.Request.Method,
			URL:    fResp.Request.URL,
			Host:   fResp.Request.Host,
			Header: make(http.Header, len(fResp.Request.Header)),
		}
		for k, v := range fResp.Request.Header {
			resp.Request.Header[k] = v
		}
	}

	return resp
}

// cookieJarWrapper wraps fhttp.CookieJar to implement http.CookieJar
type cookieJarWrapper struct {
	jar fhttp.CookieJar
}

// SetCookies implements http.CookieJar.SetCookies
func (w *cookieJarWrapper) SetCookies(u *neturl.URL, cookies []*http.Cookie) {
	fCookies := make([]*fhttp.Cookie, len(cookies))
	for i, c := range cookies {
		fCookies[i] = &fhttp.Cookie{
			Name:       c.Name,
			Value:      c.Value,
			Path:       c.Path,
			Domain:     c.Domain,
			Expires:    c.Expires,
			RawExpires: c.RawExpires,
			MaxAge:     c.MaxAge,
			Secure:     c.Secure,
			HttpOnly:   c.HttpOnly,
			SameSite:   fhttp.SameSite(c.SameSite),
			Raw:        c.Raw,
			Unparsed:   c.Unparsed,
		}
	}
	w.jar.SetCookies(u, fCookies)
}

// Cookies implements http.CookieJar.Cookies
func (w *cookieJarWrapper) Cookies(u *neturl.URL) []*http.Cookie {
	fCookies := w.jar.Cookies(u)
	cookies := make([]*http.Cookie, len(fCookies))
	for i, fc := range fCookies {
		cookies[i] = &http.Cookie{
			Name:       fc.Name,
			Value:      fc.Value,
			Path:       fc.Path,
			Domain:     fc.Domain,
			Expires:    fc.Expires,
			RawExpires: fc.RawExpires,
			MaxAge:     fc.MaxAge,
			Secure:     fc.Secure,
			HttpOnly:   fc.HttpOnly,
			SameSite:   http.SameSite(fc.SameSite),
			Raw:        fc.Raw,
			Unparsed:   fc.Unparsed,
		}
	}
	return cookies
}

// profileName returns a human-readable name for a profile index into
// DefaultProfiles. Custom profiles are reported by index only.
func profileName(idx int) string {
	if name, ok := defaultProfileNames[idx]; ok {
		return name
	}
	return fmt.Sprintf("profile_%d", idx)
}

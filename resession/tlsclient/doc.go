// Package tlsclient provides HTTP client creation with TLS fingerprinting and browser impersonation.
//
// This package wraps github.com/bogdanfinn/tls-client to create HTTP clients that can impersonate
// real browsers, helping avoid detection and blocking by websites that use TLS fingerprinting.
// It is the default transport factory for resettable sessions: every time a session is reset the
// replacement client is built here, from the same frozen ClientOptions.
//
// Features:
//   - Browser Profile Rotation: Randomly or sequentially rotate between multiple browser profiles
//   - TLS Fingerprinting: Accurate TLS fingerprints matching Chrome and Firefox
//   - Proxy Support: Route requests through http/https/socks5 proxies, optionally without
//     verifying the proxy's certificate
//   - Drop-in Replacement: Returns standard *http.Client compatible with existing code
//
// Example Usage:
//
//	// Create client with default options (random profile rotation)
//	client, err := tlsclient.NewHTTPClient(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create client routed through an interception proxy with a self-signed cert
//	opts := &tlsclient.ClientOptions{
//	    ProfileRotationMode:     tlsclient.ProfileRotationRandom,
//	    Timeout:                 30 * time.Second,
//	    ProxyURL:                "http://localhost:8080",
//	    InsecureSkipProxyVerify: true,
//	}
//	client, err := tlsclient.NewHTTPClient(opts)
//
// Profile Rotation Modes:
//   - ProfileRotationOff: Always use the same profile (Chrome 144)
//   - ProfileRotationRandom: Randomly select a profile for each client
//   - ProfileRotationSequential: Rotate through profiles in order
package tlsclient

// Package resession provides a resettable HTTP session: a long-lived handle
// that transparently replaces its underlying transport when the remote side
// signals, through specific HTTP status codes, that the current connection's
// TLS fingerprint or proxy-routed identity has been flagged and should not be
// reused.
//
// A poison status code does not tear the session down mid-response. It arms a
// deferred reset instead; the next request (or an explicit Reset) closes the
// old transport and builds a fresh one from the same construction parameters.
// Exactly one replacement happens per poison event, no matter how many
// concurrent requests observe the armed flag.
//
// Example Usage:
//
//	s, err := resession.New(resession.WithResetOnStatus(403, 429))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	resp, err := s.Get(ctx, "https://example.com/profile")
//
// By default sessions are built by the tlsclient subpackage, which
// impersonates real-browser TLS fingerprints. Any other transport can be
// plugged in through WithFactory.
package resession

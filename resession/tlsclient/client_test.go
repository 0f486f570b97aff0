package tlsclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/bogdanfinn/tls-client/profiles"
)

func TestNewHTTPClient(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		client, err := NewHTTPClient(nil)
		if err != nil {
			t.Fatalf("NewHTTPClient() error = %v", err)
		}
		if client == nil {
			t.Fatal("NewHTTPClient() returned nil client")
		}
		if client.Jar == nil {
			t.Error("Client should have a cookie jar")
		}
	})

	t.Run("custom timeout", func(t *testing.T) {
		opts := &ClientOptions{
			Timeout: 10 * time.Second,
		}
		client, err := NewHTTPClient(opts)
		if err != nil {
			t.Fatalf("NewHTTPClient() error = %v", err)
		}
		if client.Timeout != 10*time.Second {
			t.Errorf("Client timeout = %v, want %v", client.Timeout, 10*time.Second)
		}
	})

	t.Run("explicit proxy keeps fingerprinting", func(t *testing.T) {
		opts := &ClientOptions{
			ProfileRotationMode:     ProfileRotationOff,
			ProxyURL:                "http://localhost:8080",
			InsecureSkipProxyVerify: true,
			Timeout:                 5 * time.Second,
		}
		client, err := NewHTTPClient(opts)
		if err != nil {
			t.Fatalf("NewHTTPClient() error = %v", err)
		}
		if _, ok := client.Transport.(*tlsClientTransport); !ok {
			t.Errorf("Client transport = %T, want *tlsClientTransport", client.Transport)
		}
	})

	t.Run("env proxy uses plain transport", func(t *testing.T) {
		t.Setenv("HTTP_PROXY", "http://localhost:8080")
		t.Setenv("HTTPS_PROXY", "")

		opts := &ClientOptions{InsecureSkipProxyVerify: true, Timeout: 5 * time.Second}
		client, err := NewHTTPClient(opts)
		if err != nil {
			t.Fatalf("NewHTTPClient() error = %v", err)
		}
		transport, ok := client.Transport.(*http.Transport)
		if !ok {
			t.Fatalf("Client transport = %T, want *http.Transport", client.Transport)
		}
		if !transport.TLSClientConfig.InsecureSkipVerify {
			t.Error("proxy transport should skip TLS verification when requested")
		}
	})
}

func TestProfileRotation(t *testing.T) {
	t.Run("random rotation", func(t *testing.T) {
		opts := &ClientOptions{
			ProfileRotationMode: ProfileRotationRandom,
			CustomProfiles:      DefaultProfiles,
		}

		// Probabilistic: with 6 profiles the chance of 20 identical picks is
		// negligible, but only log if it happens.
		seen := make(map[int]bool)
		for i := 0; i < 20; i++ {
			_, idx := selectProfile(opts)
			seen[idx] = true
		}
		if len(seen) < 2 {
			t.Logf("Warning: Random rotation only selected %d unique profiles in 20 tries", len(seen))
		}
	})

	t.Run("sequential rotation", func(t *testing.T) {
		profileMutex.Lock()
		currentProfileIndex = 0
		profileMutex.Unlock()

		opts := &ClientOptions{
			ProfileRotationMode: ProfileRotationSequential,
			CustomProfiles: []profiles.ClientProfile{
				profiles.Chrome_144,
				profiles.Firefox_147,
				profiles.Chrome_146,
			},
		}

		indices := make([]int, 4)
		for i := 0; i < 4; i++ {
			_, indices[i] = selectProfile(opts)
		}

		want := []int{0, 1, 2, 0}
		for i := range want {
			if indices[i] != want[i] {
				t.Errorf("selection %d = profile %d, want %d", i, indices[i], want[i])
			}
		}
	})

	t.Run("rotation off", func(t *testing.T) {
		opts := &ClientOptions{
			ProfileRotationMode: ProfileRotationOff,
			CustomProfiles: []profiles.ClientProfile{
				profiles.Chrome_144,
				profiles.Firefox_147,
			},
		}

		for i := 0; i < 5; i++ {
			if _, idx := selectProfile(opts); idx != 0 {
				t.Errorf("rotation off selected profile %d, want 0", idx)
			}
		}
	})

	t.Run("empty custom list falls back to defaults", func(t *testing.T) {
		opts := &ClientOptions{ProfileRotationMode: ProfileRotationOff}
		if _, idx := selectProfile(opts); idx != 0 {
			t.Errorf("fallback selection = profile %d, want 0", idx)
		}
	})
}

func TestDefaultClientOptions(t *testing.T) {
	opts := DefaultClientOptions()
	if opts.ProfileRotationMode != ProfileRotationRandom {
		t.Errorf("default rotation mode = %v, want random", opts.ProfileRotationMode)
	}
	if !opts.FollowRedirects {
		t.Error("defaults should follow redirects")
	}
	if opts.Timeout <= 0 {
		t.Error("defaults should set a timeout")
	}
}

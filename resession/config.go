package resession

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"
)

// Environment variables consumed by FromEnv.
const (
	EnvResetStatusCodes   = "RESESSION_RESET_STATUS_CODES"
	EnvSkipProxyTLSVerify = "RESESSION_SKIP_PROXY_TLS_VERIFY"
	EnvProxyURL           = "RESESSION_PROXY_URL"
)

// Config carries the externally resolved settings a session consumes at
// construction time. It is read once; changing it after New has no effect on
// an existing session.
type Config struct {
	// ResetStatusCodes is the default poison-code list used when no explicit
	// codes are passed to New. nil means "not configured" (falls back to
	// 403); an empty non-nil slice disables reset-by-status.
	ResetStatusCodes []int

	// SkipProxyTLSVerify requests that proxy certificate and hostname
	// verification be disabled. Only honored when ProxyURL is also set.
	SkipProxyTLSVerify bool

	// ProxyURL is the base URL of the upstream proxy, if any.
	ProxyURL string
}

// skipProxyVerify resolves the effective TLS-verification policy: skipping
// is only meaningful when there is a proxy to skip it for.
func (c *Config) skipProxyVerify() bool {
	return c != nil && c.SkipProxyTLSVerify && c.ProxyURL != ""
}

// FromEnv builds a Config from the environment, loading a .env file first if
// one is present.
func FromEnv() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ProxyURL: os.Getenv(EnvProxyURL),
	}

	if v := os.Getenv(EnvSkipProxyTLSVerify); v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			klog.Warningf("config: invalid %s value %q, ignoring", EnvSkipProxyTLSVerify, v)
		}
		cfg.SkipProxyTLSVerify = skip
	}

	if v := os.Getenv(EnvResetStatusCodes); v != "" {
		cfg.ResetStatusCodes = parseStatusCodes(v)
	}

	return cfg
}

// parseStatusCodes parses a comma-separated status code list. Entries that
// don't parse are skipped with a warning rather than failing construction.
func parseStatusCodes(raw string) []int {
	codes := make([]int, 0, 4)
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		code, err := strconv.Atoi(field)
		if err != nil {
			klog.Warningf("config: invalid status code %q in %s, skipping", field, EnvResetStatusCodes)
			continue
		}
		codes = append(codes, code)
	}
	return codes
}

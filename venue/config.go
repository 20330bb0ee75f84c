package venue

import "time"

// Config is the construction record every adapter constructor accepts,
// following the external interfaces section: apiKey/secret/passphrase/memo
// credentials, timeout, rate-limit opt-out, verbose logging, an opaque
// adapter-specific options bag, and a sandbox/testnet flag.
type Config struct {
	APIKey          string
	Secret          string
	Passphrase      string
	Memo            string
	Timeout         time.Duration
	EnableRateLimit bool
	Verbose         bool
	Sandbox         bool
	Options         map[string]interface{}
}

// WithDefaults fills zero-valued fields with the spec's stated defaults
// (timeout 30000ms). EnableRateLimit has no zero-value default here since a
// bare bool can't distinguish "unset" from "explicitly false" — callers
// that want the spec's documented default-enabled behavior should build
// Config through config.Config.VenueConfig, which defaults it to true
// before this ever sees it.
func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Options == nil {
		c.Options = map[string]interface{}{}
	}
	return c
}

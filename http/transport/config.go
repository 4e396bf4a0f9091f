package transport

import "time"

const (
	defaultIdleConnTimeout       = 90 * time.Second
	defaultMaxIdleConns          = 100
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultTransportDialTimeout  = 30 * time.Second //nolint:mnd
	defaultKeepAlive             = 30 * time.Second //nolint:mnd
	defaultClientTimeout         = 30 * time.Second //nolint:mnd
	defaultMaxRetries            = 3
	defaultDNSCacheRefresh       = 5 * time.Minute //nolint:mnd
)

// Config controls the transport and client built by New and NewClient.
// Zero values fall back to the defaults above.
type Config struct {
	// Timeout bounds a whole client call, retries included.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// MaxRetries is the number of retries after the first attempt for
	// transient failures (network errors, 429 and 5xx). Zero disables them.
	MaxRetries uint `yaml:"maxRetries" mapstructure:"maxRetries"`
	// EnableDNSCache routes dialing through a shared caching resolver.
	EnableDNSCache bool `yaml:"dnsCache" mapstructure:"dnsCache"`
	// DNSCacheRefresh is the interval RefreshDNSCache uses.
	DNSCacheRefresh time.Duration `yaml:"dnsCacheRefresh" mapstructure:"dnsCacheRefresh"`

	DisableConnectionPooling bool          `yaml:"disableConnectionPooling" mapstructure:"disableConnectionPooling"`
	InsecureTLS              bool          `yaml:"insecureTLS" mapstructure:"insecureTLS"`
	MaxIdleConns             int           `yaml:"maxIdleConns" mapstructure:"maxIdleConns"`
	IdleConnTimeout          time.Duration `yaml:"idleConnTimeout" mapstructure:"idleConnTimeout"`
	DialTimeout              time.Duration `yaml:"dialTimeout" mapstructure:"dialTimeout"`
	KeepAlive                time.Duration `yaml:"keepAlive" mapstructure:"keepAlive"`

	// DisableTracing skips the otelhttp wrapper.
	DisableTracing bool `yaml:"disableTracing" mapstructure:"disableTracing"`
}

// DefaultConfig returns the configuration plugins use when none is given.
func DefaultConfig() Config {
	return Config{
		Timeout:         defaultClientTimeout,
		MaxRetries:      defaultMaxRetries,
		EnableDNSCache:  true,
		DNSCacheRefresh: defaultDNSCacheRefresh,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}

	if c.IdleConnTimeout == 0 {
		c.IdleConnTimeout = defaultIdleConnTimeout
	}

	if c.DialTimeout == 0 {
		c.DialTimeout = defaultTransportDialTimeout
	}

	if c.KeepAlive == 0 {
		c.KeepAlive = defaultKeepAlive
	}

	if c.DNSCacheRefresh == 0 {
		c.DNSCacheRefresh = defaultDNSCacheRefresh
	}

	return c
}

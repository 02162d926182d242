package feed

import (
	"strings"
	"time"

	"github.com/cargolink/tracker/internal/domain/catalogstore"
)

const (
	defaultHTTPTimeout   = 10 * time.Second
	defaultMaxAttempts   = 3
	defaultRetryInterval = time.Second
	defaultTrackingPath  = "/v1/tracking"
)

// Config captures operator-overridable feed settings.
type Config struct {
	SourceID    string
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
	// MaxAttempts bounds in-call retries of transient upstream failures.
	MaxAttempts int
	// RetryInterval seeds the backoff between in-call retries.
	RetryInterval time.Duration
}

// Options configure the industry feed adapter.
type Options struct {
	Config  Config
	Catalog catalogstore.Store
}

func withDefaults(in Options) Options {
	if strings.TrimSpace(in.Config.SourceID) == "" {
		in.Config.SourceID = "industry-feed"
	}
	if in.Config.HTTPTimeout <= 0 {
		in.Config.HTTPTimeout = defaultHTTPTimeout
	}
	if in.Config.MaxAttempts <= 0 {
		in.Config.MaxAttempts = defaultMaxAttempts
	}
	if in.Config.RetryInterval <= 0 {
		in.Config.RetryInterval = defaultRetryInterval
	}
	return in
}

func (o Options) trackingEndpoint() string {
	base := strings.TrimSuffix(strings.TrimSpace(o.Config.BaseURL), "/")
	if base == "" {
		return ""
	}
	return base + defaultTrackingPath
}

package client

import (
	"crypto/tls"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type options struct {
	tlsConfig      *tls.Config
	userAgent      string
	installationID string
	logger         *zap.SugaredLogger
	httpClient     *http.Client
	requestTimeout time.Duration
}

func newOptions(opts ...Option) (*options, error) {
	o := &options{
		userAgent:      "marqueed",
		requestTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

type Option func(o *options) error

func WithTLSConfig(
	config *tls.Config,
) Option {
	return func(o *options) error {
		o.tlsConfig = config
		return nil
	}
}

func WithUserAgent(
	userAgent string,
) Option {
	return func(o *options) error {
		o.userAgent = userAgent
		return nil
	}
}

// WithInstallationID tags every request with the id of this install.
func WithInstallationID(
	id string,
) Option {
	return func(o *options) error {
		o.installationID = id
		return nil
	}
}

func WithLogger(
	logger *zap.SugaredLogger,
) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithHTTPClient replaces the transport. WithTLSConfig is ignored when set.
func WithHTTPClient(
	client *http.Client,
) Option {
	return func(o *options) error {
		o.httpClient = client
		return nil
	}
}

// WithRequestTimeout bounds requests whose context has no deadline. Zero
// leaves requests bounded only by the caller's context.
func WithRequestTimeout(
	timeout time.Duration,
) Option {
	return func(o *options) error {
		o.requestTimeout = timeout
		return nil
	}
}

package monarch

import (
	"errors"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/mmkit/monarch/session"
)

// Builder assembles a [Client]. Configure it during initialization and call
// Build once; the resulting client is immutable and safe for concurrent use.
type Builder struct {
	config    Config
	creds     *Credentials
	store     session.Store
	http      *http.Client
	logger    logr.Logger
	loggerSet bool

	built bool
}

// New starts a builder with the documented defaults.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the configuration. Zero-valued fields are filled from
// the defaults at Build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithCredentials retains login material for initial and forced
// re-authentication. Omitting credentials is valid when a persisted session
// is expected to exist; re-login will then fail with [ErrNoCredentials].
func (b *Builder) WithCredentials(creds Credentials) *Builder {
	c := creds
	b.creds = &c
	return b
}

// WithSessionStore replaces the default encrypted file store.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithHTTPClient replaces the transport, typically for tests or custom
// proxy/TLS setups.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.http = client
	return b
}

// WithLogger attaches a logger. Without one the client is silent.
func (b *Builder) WithLogger(logger logr.Logger) *Builder {
	b.logger = logger
	b.loggerSet = true
	return b
}

// WithMetricsEnabled toggles counter collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and assembles the client.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := fillDefaults(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logr.Discard()
	if b.loggerSet {
		logger = b.logger
	}

	store := b.store
	if store == nil {
		path := cfg.Session.FilePath
		if path == "" {
			path = session.DefaultFilePath
		}
		var codec session.Codec = session.NewAESCodec(cfg.Session.Passphrase)
		if cfg.Session.AllowPlaintext {
			codec = session.PlainCodec{}
			logger.Info("session persistence is plaintext; tokens are readable at rest", "path", path)
		}
		store = session.NewFileStore(path, codec)
	}

	httpClient := b.http
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	b.built = true
	return &Client{
		config:  cfg,
		logger:  logger,
		http:    httpClient,
		store:   store,
		creds:   b.creds,
		metrics: NewMetrics(cfg.Metrics.Enabled),
	}, nil
}

// Package config loads the gateway configuration from environment variables.
package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config is the full gateway configuration.
type Config struct {
	Port    string `env:"PORT" envDefault:"8080"`
	AppName string `env:"APP_NAME" envDefault:"Galeria Gateway"`
	Env     string `env:"ENV" envDefault:"DEV"`

	// BaseURL is the public URL of this gateway, used to build the OIDC
	// redirect and post-logout targets.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// PostLoginPath is where the user agent lands after a completed login.
	PostLoginPath string `env:"POST_LOGIN_PATH" envDefault:"/obras"`

	// External identity provider registration.
	OIDCIssuer       string `env:"OIDC_ISSUER,required,notEmpty"`
	OIDCClientID     string `env:"OIDC_CLIENT_ID,required,notEmpty"`
	OIDCClientSecret string `env:"OIDC_CLIENT_SECRET"`

	// APIBaseURL is the backend profile service base URL.
	APIBaseURL string `env:"API_BASE_URL,required,notEmpty"`

	// Session store selection: Redis when an address is set, a local
	// SQLite file otherwise.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	SessionDBPath string `env:"SESSION_DB_PATH" envDefault:"./data/session.db"`
}

// New parses the configuration from the environment.
func New() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "[New] env.Parse")
	}
	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// RedirectURL is the OIDC callback URL registered with the provider.
func (c Config) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/callback"
}

// PostLogoutURL is where the provider sends the user agent after logout.
func (c Config) PostLogoutURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/"
}

// IsDev reports whether the gateway runs in the development environment.
func (c Config) IsDev() bool {
	return c.Env == "DEV"
}

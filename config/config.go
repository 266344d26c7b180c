// Package config holds the development server configuration. Values load
// from config/app.json and are overridden by APP_ prefixed environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-auth-client"
)

const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

type Config struct {
	Debug    bool     `koanf:"debug" json:"debug"`
	Server   Server   `koanf:"server" json:"server"`
	Identity Identity `koanf:"identity" json:"identity"`
	Storage  Storage  `koanf:"storage" json:"storage"`
	Widgets  []Widget `koanf:"widgets" json:"widgets"`
	Sentry   Sentry   `koanf:"sentry" json:"sentry"`
	Metrics  Metrics  `koanf:"metrics" json:"metrics"`
}

// Server describes the development server. CSRFKey signs widget form
// tokens; when empty a random key is generated at startup.
type Server struct {
	Address   string `koanf:"address" json:"address"`
	PublicURL string `koanf:"public_url" json:"public_url"`
	CSRFKey   string `koanf:"csrf_key" json:"csrf_key"`
}

// Identity describes the identity provider the widgets talk to. When
// EmbedDemo is set the demo backend is started on DemoAddress and APIURL
// should point at it.
type Identity struct {
	APIURL           string `koanf:"api_url" json:"api_url"`
	ClientID         string `koanf:"client_id" json:"client_id"`
	ClientSecret     string `koanf:"client_secret" json:"client_secret"`
	EmbedDemo        bool   `koanf:"embed_demo" json:"embed_demo"`
	DemoAddress      string `koanf:"demo_address" json:"demo_address"`
	VerifyWithServer bool   `koanf:"verify_with_server" json:"verify_with_server"`
	VerifySignatures bool   `koanf:"verify_signatures" json:"verify_signatures"`
}

type Storage struct {
	Driver        string `koanf:"driver" json:"driver"`
	DSN           string `koanf:"dsn" json:"dsn"`
	RedisAddr     string `koanf:"redis_addr" json:"redis_addr"`
	RedisPrefix   string `koanf:"redis_prefix" json:"redis_prefix"`
	TTLExpression string `koanf:"ttl" json:"ttl"`
}

type Widget struct {
	ContainerID string `koanf:"container_id" json:"container_id"`
	Theme       string `koanf:"theme" json:"theme"`
}

type Sentry struct {
	DSN         string `koanf:"dsn" json:"dsn"`
	Environment string `koanf:"environment" json:"environment"`
}

type Metrics struct {
	Enabled bool   `koanf:"enabled" json:"enabled"`
	Path    string `koanf:"path" json:"path"`
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.Identity),
		validation.Field(&c.Storage),
		validation.Field(&c.Widgets, validation.Required.Error("at least one widget is required")),
	)
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required),
		validation.Field(&s.PublicURL, validation.Required, authclient.AbsoluteURL),
		validation.Field(&s.CSRFKey, validation.Length(32, 0)),
	)
}

func (i Identity) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.APIURL, validation.Required, authclient.AbsoluteURL),
		validation.Field(&i.ClientID, validation.Required),
		validation.Field(&i.DemoAddress, validation.When(i.EmbedDemo, validation.Required)),
	)
}

func (s Storage) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.In(StorageMemory, StorageSQLite, StorageRedis)),
		validation.Field(&s.DSN, validation.When(s.Driver == StorageSQLite, validation.Required)),
		validation.Field(&s.RedisAddr, validation.When(s.Driver == StorageRedis, validation.Required)),
	)
}

func (w Widget) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.ContainerID, validation.Required),
	)
}

func (c Config) GetServer() Server      { return c.Server }
func (c Config) GetIdentity() Identity  { return c.Identity }
func (c Config) GetStorage() Storage    { return c.Storage }
func (c Config) GetWidgets() []Widget   { return c.Widgets }
func (c Config) GetSentry() Sentry      { return c.Sentry }
func (c Config) GetMetrics() Metrics    { return c.Metrics }
func (s Storage) GetDriver() string     { return s.Driver }
func (m Metrics) GetPath() string       { return m.Path }
func (i Identity) GetAPIURL() string    { return i.APIURL }
func (s Server) GetPublicURL() string   { return s.PublicURL }
func (w Widget) GetContainerID() string { return w.ContainerID }
func (s Sentry) GetEnvironment() string { return s.Environment }

// GetTTL returns the storage entry lifetime. Empty means no expiry.
func (s Storage) GetTTL() time.Duration {
	if s.TTLExpression == "" {
		return 0
	}
	dur, err := time.ParseDuration(s.TTLExpression)
	if err != nil {
		panic(
			fmt.Sprintf("unable to parse time: expr %s", s.TTLExpression),
		)
	}
	return dur
}

// SecureCookies reports whether the public URL is served over https.
func (s Server) SecureCookies() bool {
	return strings.HasPrefix(strings.ToLower(s.PublicURL), "https://")
}

// RedirectURI is the OAuth callback of widget w on this server.
func (c Config) RedirectURI(prefix string, w Widget) string {
	return c.Server.PublicURL + prefix + "/" + w.ContainerID + "/callback"
}

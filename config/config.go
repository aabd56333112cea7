// Package config resolves the toolkit's connection settings from defaults,
// environment variables (IO_* keys), and an optional broker URL, with
// explicit fields taking precedence over values parsed out of the URL.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ErrTLSMaterialMissing is returned when TLS is requested without any of
// cert, key, or ca.
var ErrTLSMaterialMissing = errors.New("config: tls requested but none of cert, key, or ca provided")

// Config is the recognized configuration surface.
type Config struct {
	URL      string `koanf:"url"`
	Hostname string `koanf:"hostname"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Exchange string `koanf:"exchange"`
	Vhost    string `koanf:"vhost"`
	Prefix   string `koanf:"prefix"`

	SSL        bool   `koanf:"ssl"`
	Cert       string `koanf:"cert"`
	Key        string `koanf:"key"`
	CA         string `koanf:"ca"`
	Passphrase string `koanf:"passphrase"`

	Mgmt Mgmt `koanf:"mgmt"`

	// KeyValue and Documents configure the optional store capabilities;
	// empty values leave the capability disabled.
	KeyValue  KeyValue  `koanf:"keyvalue"`
	Documents Documents `koanf:"documents"`
}

// Mgmt overrides for the management HTTP API; unset fields fall back to
// the AMQP connection's host and credentials.
type Mgmt struct {
	URL      string `koanf:"url"`
	Hostname string `koanf:"hostname"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	SSL      bool   `koanf:"ssl"`
}

// KeyValue configures the Redis-backed key-value capability.
type KeyValue struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// Documents configures the document-database capability.
type Documents struct {
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Hostname: "localhost",
		Port:     5672,
		Username: "guest",
		Password: "guest",
		Exchange: "amq.topic",
		Vhost:    "/",
		Mgmt: Mgmt{
			Port: 15672,
		},
	}
}

const envPrefix = "IO_"

// Load resolves configuration: defaults, then IO_* environment variables,
// then URL-derived fields where no explicit value was given.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: transformEnvKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// transformEnvKey maps IO_MGMT_PORT to mgmt.port, IO_KEYVALUE_ADDR to
// keyvalue.addr, and everything else to a flat lowercase key.
func transformEnvKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	for _, section := range []string{"mgmt", "keyvalue", "documents"} {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest, value
		}
	}
	return key, value
}

// Resolve fills connection fields from the broker URL and validates the
// result. Programmatically built configs go through the same resolution as
// Load, so a URL-only config dials the URL's host rather than the default.
func (c *Config) Resolve() error {
	if err := c.applyURL(); err != nil {
		return err
	}
	return c.Validate()
}

// applyURL fills connection fields from the broker URL. Only fields still
// holding their default give way; explicit settings win.
func (c *Config) applyURL() error {
	if c.URL == "" {
		return nil
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("config: parse url: %w", err)
	}

	def := Default()

	if u.Scheme == "amqps" {
		c.SSL = true
	}
	if h := u.Hostname(); h != "" && c.Hostname == def.Hostname {
		c.Hostname = h
	}
	if p := u.Port(); p != "" && c.Port == def.Port {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("config: parse url port: %w", err)
		}
		c.Port = port
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" && c.Username == def.Username {
			c.Username = name
		}
		if pass, ok := u.User.Password(); ok && c.Password == def.Password {
			c.Password = pass
		}
	}
	if vhost := strings.TrimPrefix(u.Path, "/"); vhost != "" && c.Vhost == def.Vhost {
		unescaped, err := url.PathUnescape(vhost)
		if err != nil {
			return fmt.Errorf("config: parse url vhost: %w", err)
		}
		c.Vhost = unescaped
	}
	return nil
}

// Validate enforces the TLS material requirement.
func (c *Config) Validate() error {
	if c.SSL && c.Cert == "" && c.Key == "" && c.CA == "" {
		return ErrTLSMaterialMissing
	}
	return nil
}

// AMQPURL renders the broker dial URL.
func (c *Config) AMQPURL() string {
	scheme := "amqp"
	if c.SSL {
		scheme = "amqps"
	}
	vhost := ""
	if c.Vhost != "/" {
		vhost = "/" + url.PathEscape(c.Vhost)
	}
	return fmt.Sprintf("%s://%s@%s:%d%s",
		scheme, url.UserPassword(c.Username, c.Password).String(), c.Hostname, c.Port, vhost)
}

// ManagementURL renders the management API base URL. An explicit mgmt.url
// wins; otherwise the URL is assembled from mgmt fields falling back to
// the AMQP host.
func (c *Config) ManagementURL() string {
	if c.Mgmt.URL != "" {
		return strings.TrimSuffix(c.Mgmt.URL, "/")
	}
	scheme := "http"
	if c.Mgmt.SSL {
		scheme = "https"
	}
	hostname := c.Mgmt.Hostname
	if hostname == "" {
		hostname = c.Hostname
	}
	return fmt.Sprintf("%s://%s:%d/api", scheme, hostname, c.Mgmt.Port)
}

// ManagementUsername returns the management credential, falling back to
// the AMQP username.
func (c *Config) ManagementUsername() string {
	if c.Mgmt.Username != "" {
		return c.Mgmt.Username
	}
	return c.Username
}

// ManagementPassword returns the management credential, falling back to
// the AMQP password.
func (c *Config) ManagementPassword() string {
	if c.Mgmt.Password != "" {
		return c.Mgmt.Password
	}
	return c.Password
}

// TLSConfig builds the TLS configuration from the cert, key, and ca files.
// Encrypted private keys are not supported; the passphrase field exists
// only for configuration-surface compatibility.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if !c.SSL {
		return nil, nil
	}

	tlsCfg := &tls.Config{}

	if c.CA != "" {
		pem, err := os.ReadFile(c.CA)
		if err != nil {
			return nil, fmt.Errorf("config: read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("config: no certificates parsed from ca file")
		}
		tlsCfg.RootCAs = pool
	}

	if c.Cert != "" && c.Key != "" {
		pair, err := tls.LoadX509KeyPair(c.Cert, c.Key)
		if err != nil {
			return nil, fmt.Errorf("config: load cert/key pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{pair}
	}

	return tlsCfg, nil
}

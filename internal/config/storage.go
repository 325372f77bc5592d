package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// PostgresURL builds the postgres:// connection URL handed to both the pgx
// pool and the migration runner. Credentials are URL-encoded, so passwords
// with reserved characters survive the round trip.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort)),
		Path:     "/" + c.PostgresDBName,
		RawQuery: "sslmode=" + c.PostgresSSLMode,
	}
	return u.String()
}

// applyDatabaseURL overlays a postgres:// or postgresql:// connection URL
// onto the postgres_* fields. Cloud deployments usually hand out a single
// DATABASE_URL, so it wins over per-field settings; components the URL
// leaves out keep their configured values.
func (c *Config) applyDatabaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing connection URL: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported scheme %q, want postgres:// or postgresql://", u.Scheme)
	}

	if host := u.Hostname(); host != "" {
		c.PostgresHost = host
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("parsing port %q: %w", p, err)
		}
		c.PostgresPort = n
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			c.PostgresUser = name
		}
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		c.PostgresDBName = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

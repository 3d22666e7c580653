package pg

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"sort"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type opt struct {
	TraceFn TraceFn
	url.Values
	bind *Bind
}

// Opt is a functional option for NewPool.
type Opt func(*opt) error

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	DefaultPort     = "5432"
	defaultHost     = "localhost"
	defaultDatabase = "postgres"
	defaultMaxConns = "10"
)

var defaultScheme = []string{"postgres", "postgresql"}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func apply(opts ...Opt) (*opt, error) {
	var o opt
	o.Values = make(url.Values)
	o.Set("host", defaultHost)
	o.Set("port", DefaultPort)
	o.Set("pool_max_conns", defaultMaxConns)
	o.bind = NewBind()

	for _, fn := range opts {
		if err := fn(&o); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// WithURL sets connection parameters from a postgres:// URL.
func WithURL(value string) Opt {
	return func(o *opt) error {
		u, err := parseUrl(value)
		if err != nil {
			return err
		}
		o.Values.Set("host", u.Hostname())
		o.Values.Set("port", u.Port())
		o.Values.Set("dbname", strings.TrimPrefix(u.Path, "/"))
		if user := u.User.Username(); user != "" {
			o.Values.Set("user", user)
		}
		if password, ok := u.User.Password(); ok {
			o.Values.Set("password", password)
		}
		for key, values := range u.Query() {
			for _, v := range values {
				o.Values.Add(key, v)
			}
		}
		return nil
	}
}

// WithCredentials sets the connection username and password.
func WithCredentials(user, password string) Opt {
	return func(o *opt) error {
		if user != "" {
			o.Set("user", user)
		}
		if password != "" {
			o.Set("password", password)
		}
		if !o.Has("dbname") && user != "" {
			o.Set("dbname", user)
		}
		return nil
	}
}

// WithDatabase sets the database name for the connection.
func WithDatabase(name string) Opt {
	return func(o *opt) error {
		if name == "" {
			o.Del("dbname")
		} else {
			o.Set("dbname", name)
		}
		if !o.Has("user") && name != "" {
			o.Set("user", name)
		}
		return nil
	}
}

// WithHostPort sets the host and port for the connection.
func WithHostPort(host, port string) Opt {
	return func(o *opt) error {
		if host != "" {
			o.Set("host", host)
		}
		if port != "" {
			o.Set("port", port)
		}
		return nil
	}
}

// WithSSLMode sets the PostgreSQL SSL mode.
func WithSSLMode(mode string) Opt {
	return func(o *opt) error {
		if mode != "" {
			o.Set("sslmode", mode)
		}
		return nil
	}
}

// WithApplicationName sets application_name, visible in pg_stat_activity.
func WithApplicationName(name string) Opt {
	return func(o *opt) error {
		if name != "" {
			o.Set("application_name", name)
		}
		return nil
	}
}

// WithTrace sets a query trace callback for the connection pool.
func WithTrace(fn TraceFn) Opt {
	return func(o *opt) error {
		o.TraceFn = fn
		return nil
	}
}

// WithMaxConns sets the maximum pool size.
func WithMaxConns(n int) Opt {
	return func(o *opt) error {
		if n > 0 {
			o.Set("pool_max_conns", fmt.Sprint(n))
		}
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (o *opt) encode(skip ...string) []string {
	keys := make([]string, 0, len(o.Values))
	for key := range o.Values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		if slices.Contains(skip, key) {
			continue
		}
		if value := o.Values.Get(key); value != "" {
			parts = append(parts, fmt.Sprintf("%v=%v", key, value))
		}
	}
	return parts
}

func (o *opt) Encode() string {
	return strings.Join(o.encode(), " ")
}

func parseUrl(value string) (*url.URL, error) {
	u, err := url.Parse(value)
	if err != nil {
		return nil, err
	}

	if u.Scheme == "" {
		u.Scheme = defaultScheme[0]
	} else if !slices.Contains(defaultScheme, u.Scheme) {
		return nil, ErrBadParameter.With("invalid database scheme")
	}

	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Host, DefaultPort)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, ErrBadParameter.With("invalid database host format")
	}
	if port == "" {
		port = DefaultPort
	}
	if host == "" {
		host = defaultHost
	}
	u.Host = net.JoinHostPort(host, port)

	if u.User != nil {
		if user := u.User.Username(); user != "" && u.Path == "" {
			u.Path = "/" + user
		}
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/" + defaultDatabase
	}

	return u, nil
}

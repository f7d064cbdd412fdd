package source

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"

	"incentive-pipeline/services/pipeline"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Descriptor describes how to reach a campaign's source database.
type Descriptor struct {
	Driver   string            `json:"driver"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Database string            `json:"database"`
	User     string            `json:"user"`
	Password string            `json:"password"`
	SSLMode  string            `json:"ssl_mode,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

// Empty reports whether the campaign carries no connection settings.
func (d Descriptor) Empty() bool {
	return d.Host == "" && d.Database == ""
}

func (d Descriptor) driver() string {
	switch strings.ToLower(d.Driver) {
	case "", "postgres", "postgresql", "pq":
		return DriverPostgres
	case "mysql", "mariadb":
		return DriverMySQL
	}
	return strings.ToLower(d.Driver)
}

// Validate reports missing or unsupported settings as a configuration error.
func (d Descriptor) Validate() error {
	switch {
	case d.Empty():
		return pipeline.Configuration("missing connection descriptor", nil)
	case d.Host == "":
		return pipeline.Configuration("connection descriptor has no host", nil)
	case d.Database == "":
		return pipeline.Configuration("connection descriptor has no database", nil)
	}
	switch d.driver() {
	case DriverPostgres, DriverMySQL:
		return nil
	}
	return pipeline.Configuration(fmt.Sprintf("unsupported source driver %q", d.Driver), nil)
}

// DSN renders the driver-specific connection string.
func (d Descriptor) DSN() (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}

	switch d.driver() {
	case DriverMySQL:
		port := d.Port
		if port == 0 {
			port = 3306
		}
		cfg := mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, fmt.Sprint(port))
		cfg.DBName = d.Database
		cfg.ParseTime = true
		if d.SSLMode != "" && d.SSLMode != "disable" {
			cfg.TLSConfig = "true"
		}
		if len(d.Options) > 0 {
			cfg.Params = make(map[string]string, len(d.Options))
			for k, v := range d.Options {
				cfg.Params[k] = v
			}
		}
		return cfg.FormatDSN(), nil

	default:
		port := d.Port
		if port == 0 {
			port = 5432
		}
		sslMode := d.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		q := url.Values{}
		q.Set("sslmode", sslMode)
		for k, v := range d.Options {
			q.Set(k, v)
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(d.User, d.Password),
			Host:     net.JoinHostPort(d.Host, fmt.Sprint(port)),
			Path:     "/" + d.Database,
			RawQuery: q.Encode(),
		}
		return u.String(), nil
	}
}

// Redacted is a loggable form of the descriptor.
func (d Descriptor) Redacted() string {
	return fmt.Sprintf("%s://%s@%s:%d/%s", d.driver(), d.User, d.Host, d.Port, d.Database)
}

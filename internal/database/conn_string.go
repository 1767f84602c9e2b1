package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/stompbridge/internal/config"
)

// BuildConnString builds a PostgreSQL connection string from config.
// applicationName is reported in pg_stat_activity; empty omits it.
func BuildConnString(cfg config.DBConfig, applicationName string) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Name,
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	if applicationName != "" {
		q.Set("application_name", applicationName)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

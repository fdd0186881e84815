package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/opensource-finance/fraudwatch/internal/domain"
)

const (
	defaultPostgresConnectTimeout = 5
	defaultApplicationName        = "fraudwatch"
)

// openPostgres opens the rule and alert database on PostgreSQL.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if err := ping(db, connectTimeout(cfg)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database %s: %w", postgresAddr(cfg), err)
	}

	return db, nil
}

// postgresDSN builds a lib/pq keyword/value connection string. Values are
// quoted so passwords with spaces or quotes survive.
func postgresDSN(cfg domain.RepositoryConfig) string {
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "fraudwatch"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	appName := cfg.ApplicationName
	if appName == "" {
		appName = defaultApplicationName
	}
	host, port := postgresHostPort(cfg)

	params := []struct{ key, value string }{
		{"host", host},
		{"port", fmt.Sprint(port)},
		{"user", cfg.PostgresUser},
		{"password", cfg.PostgresPassword},
		{"dbname", dbname},
		{"sslmode", sslmode},
		{"application_name", appName},
		{"connect_timeout", fmt.Sprint(int(connectTimeout(cfg) / time.Second))},
	}

	var b strings.Builder
	for _, p := range params {
		if p.value == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(quoteDSNValue(p.value))
	}
	return b.String()
}

func postgresHostPort(cfg domain.RepositoryConfig) (string, int) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	return host, port
}

// postgresAddr is the database location without credentials, for errors.
func postgresAddr(cfg domain.RepositoryConfig) string {
	host, port := postgresHostPort(cfg)
	return fmt.Sprintf("%s:%d", host, port)
}

func connectTimeout(cfg domain.RepositoryConfig) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return time.Duration(cfg.ConnectTimeout) * time.Second
	}
	return defaultPostgresConnectTimeout * time.Second
}

func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

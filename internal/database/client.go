package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"mysql-auto-backup/internal/errors"
	"mysql-auto-backup/internal/logging"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/ini.v1"
)

// Params identifies the server a Client connects to.
type Params struct {
	Host         string
	Port         int
	User         string
	Password     string
	DefaultsFile string
	Timeout      time.Duration
}

// Inspector is the read-only catalog access used by pre-flight checks and the
// artifact header.
type Inspector interface {
	ListTables(ctx context.Context, database string) ([]string, error)
	ShowCreateTable(ctx context.Context, database, table string) error
	GlobalVariables(ctx context.Context, names []string) (map[string]string, error)
}

// Client wraps a connection pool to one MySQL server.
type Client struct {
	db      *sql.DB
	logger  *logging.Logger
	timeout time.Duration
}

// NewClient wraps an existing pool, e.g. one created by sqlmock.
func NewClient(db *sql.DB, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Client{db: db, logger: logger, timeout: 30 * time.Second}
}

// Open connects with retries on recoverable errors. Credentials missing from
// params are read from the [client] section of the defaults file.
func Open(ctx context.Context, params Params, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if params.DefaultsFile != "" {
		if err := params.fillFromDefaultsFile(); err != nil {
			logger.Warnf("Could not read defaults file %s: %v", params.DefaultsFile, err)
		}
	}
	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Second
	}

	start := time.Now()
	var db *sql.DB
	err := errors.DefaultBackoff.Retry(ctx, func() error {
		conn, err := sql.Open("mysql", params.DSN())
		if err != nil {
			return errors.WrapError(err, "failed to open database connection")
		}
		conn.SetMaxOpenConns(2)
		conn.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, params.Timeout)
		defer cancel()
		if err := conn.PingContext(pingCtx); err != nil {
			conn.Close()
			return errors.WrapError(err, "failed to ping database")
		}
		db = conn
		return nil
	})
	logger.LogDatabaseConnection(params.Host, params.Port, err == nil, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return &Client{db: db, logger: logger, timeout: 30 * time.Second}, nil
}

// DSN renders the driver connection string.
func (p Params) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	cfg.Timeout = p.Timeout
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

func (p *Params) fillFromDefaultsFile() error {
	file, err := ini.LoadSources(ini.LoadOptions{
		Insensitive:         true,
		AllowBooleanKeys:    true,
		IgnoreInlineComment: true,
	}, p.DefaultsFile)
	if err != nil {
		return err
	}
	section := file.Section("client")
	if p.User == "" {
		p.User = section.Key("user").String()
	}
	if p.Password == "" {
		p.Password = strings.Trim(section.Key("password").String(), `"'`)
	}
	if p.Host == "" {
		p.Host = section.Key("host").String()
	}
	if p.Port == 0 {
		p.Port = section.Key("port").MustInt(3306)
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return errors.WrapError(err, "failed to close database connection")
	}
	return nil
}

// ServerVersion returns the server version, or the zero Version if it cannot be read.
func (c *Client) ServerVersion(ctx context.Context) Version {
	if c == nil || c.db == nil {
		return Version{}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var raw string
	if err := c.db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&raw); err != nil {
		c.logger.Warnf("Failed to read server version: %v", err)
		return Version{}
	}
	v, err := ParseVersion(raw)
	if err != nil {
		c.logger.Warnf("Failed to parse server version %q: %v", raw, err)
		return Version{}
	}
	c.logger.WithField("version", raw).Debug("Retrieved server version")
	return v
}

// ListTables runs SHOW TABLES FROM database.
func (c *Client) ListTables(ctx context.Context, database string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, "SHOW TABLES FROM "+quoteIdent(database))
	if err != nil {
		return nil, errors.WrapError(err, fmt.Sprintf("failed to list tables of %s", database))
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.WrapError(err, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// ShowCreateTable returns an error when the table definition cannot be read.
func (c *Client) ShowCreateTable(ctx context.Context, database, table string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, "SHOW CREATE TABLE "+quoteIdent(database)+"."+quoteIdent(table))
	if err != nil {
		return errors.WrapError(err, fmt.Sprintf("failed to read definition of %s.%s", database, table))
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// GlobalVariables reads the named server variables. Returned names are lowercase.
func (c *Client) GlobalVariables(ctx context.Context, names []string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	if len(names) == 0 {
		return values, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	args := make([]interface{}, len(names))
	for i, n := range names {
		args[i] = n
	}
	rows, err := c.db.QueryContext(ctx,
		"SHOW GLOBAL VARIABLES WHERE Variable_name IN ("+placeholders+")", args...)
	if err != nil {
		return nil, errors.WrapError(err, "failed to read global variables")
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.WrapError(err, "failed to scan global variable")
		}
		values[strings.ToLower(name)] = value
	}
	return values, rows.Err()
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

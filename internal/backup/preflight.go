package backup

import (
	"context"
	"fmt"
	"strings"

	"mysql-auto-backup/internal/database"
	"mysql-auto-backup/internal/logging"
)

// Preflight finds tables that are listed by the server but whose definition cannot be read.
type Preflight struct {
	inspector  database.Inspector
	logger     *logging.Logger
	configName string
}

// NewPreflight creates a pre-flight validator over inspector.
func NewPreflight(configName string, inspector database.Inspector, logger *logging.Logger) *Preflight {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Preflight{inspector: inspector, logger: logger, configName: configName}
}

// Check returns lowercase schema.table names that failed SHOW CREATE TABLE.
// A database whose tables cannot be listed contributes nothing.
func (p *Preflight) Check(ctx context.Context, databases []string) []string {
	var broken []string
	for _, db := range databases {
		tables, err := p.inspector.ListTables(ctx, db)
		if err != nil {
			p.logger.WithConfig(p.configName).Warnf("Failed to list tables of %s: %v", db, err)
			continue
		}
		for _, table := range tables {
			if err := p.inspector.ShowCreateTable(ctx, db, table); err != nil {
				p.logger.WithConfig(p.configName).Debugf("Table %s.%s is unreadable: %v", db, table, err)
				broken = append(broken, strings.ToLower(db+"."+table))
			}
		}
	}
	return broken
}

// Apply runs Check and narrows cmd. Each new table is skipped, ignored and noted in the run.
func (p *Preflight) Apply(ctx context.Context, run *Run, cmd *DumpCommand, databases []string) {
	for _, table := range p.Check(ctx, databases) {
		if !run.Skip(table) {
			continue
		}
		cmd.IgnoreTable(table)
		msg := fmt.Sprintf("[%s] pre-check found missing table: %s", run.ConfigName, table)
		run.RetryErrors = append(run.RetryErrors, msg)
		p.logger.WithConfig(run.ConfigName).Warn(msg)
	}
}

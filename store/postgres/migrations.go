package postgres

import (
	"fmt"

	"github.com/flowable/jobservice/job"
)

// migration is one named schema step. Applied steps are recorded in
// flw_migrations and skipped on later runs.
type migration struct {
	name       string
	statements []string
}

// jobTableStatements builds the DDL for one job table. All six kinds share
// the same column set; only the table name and the per-kind indexes differ.
func jobTableStatements(table string) []string {
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id                          TEXT PRIMARY KEY,
				revision                    INTEGER NOT NULL DEFAULT 0,
				handler_type                TEXT NOT NULL,
				handler_configuration       TEXT NOT NULL DEFAULT '',
				custom_values_ref_id        TEXT,
				execution_id                TEXT NOT NULL DEFAULT '',
				process_instance_id         TEXT NOT NULL DEFAULT '',
				process_definition_id       TEXT NOT NULL DEFAULT '',
				scope_id                    TEXT NOT NULL DEFAULT '',
				sub_scope_id                TEXT NOT NULL DEFAULT '',
				scope_type                  TEXT NOT NULL DEFAULT '',
				scope_definition_id         TEXT NOT NULL DEFAULT '',
				element_id                  TEXT NOT NULL DEFAULT '',
				element_name                TEXT NOT NULL DEFAULT '',
				create_time                 TIMESTAMPTZ NOT NULL,
				due_date                    TIMESTAMPTZ,
				repeat_expr                 TEXT NOT NULL DEFAULT '',
				end_date                    TIMESTAMPTZ,
				max_iterations              INTEGER NOT NULL DEFAULT 0,
				retries                     INTEGER NOT NULL DEFAULT 0,
				exclusive                   BOOLEAN NOT NULL DEFAULT FALSE,
				tenant_id                   TEXT NOT NULL DEFAULT '',
				exception_message           TEXT NOT NULL DEFAULT '',
				exception_stacktrace_ref_id TEXT,
				lock_owner                  TEXT NOT NULL DEFAULT '',
				lock_expiration_time        TIMESTAMPTZ,
				correlation_id              TEXT NOT NULL DEFAULT '',
				topic                       TEXT NOT NULL DEFAULT ''
			)`, table),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%[1]s_acquire
				ON %[1]s (due_date ASC NULLS FIRST, create_time ASC)
				WHERE lock_expiration_time IS NULL`, table),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%[1]s_lock_expiration
				ON %[1]s (lock_expiration_time)
				WHERE lock_expiration_time IS NOT NULL`, table),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%[1]s_execution
				ON %[1]s (execution_id)`, table),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%[1]s_scope
				ON %[1]s (scope_id, sub_scope_id)`, table),
	}
}

var migrations = buildMigrations()

func buildMigrations() []migration {
	var jobTables []string
	for _, kind := range job.Kinds {
		jobTables = append(jobTables, jobTableStatements(tableFor(kind))...)
	}

	return []migration{
		{
			name:       "create_job_tables",
			statements: jobTables,
		},
		{
			name: "create_external_worker_indexes",
			statements: []string{
				fmt.Sprintf(`
					CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_correlation
						ON %[1]s (correlation_id)
						WHERE correlation_id <> ''`, tableFor(job.KindExternalWorker)),
				fmt.Sprintf(`
					CREATE INDEX IF NOT EXISTS idx_%[1]s_topic
						ON %[1]s (topic)`, tableFor(job.KindExternalWorker)),
			},
		},
		{
			name: "create_byte_arrays_table",
			statements: []string{`
				CREATE TABLE IF NOT EXISTS flw_byte_arrays (
					id       TEXT PRIMARY KEY,
					revision INTEGER NOT NULL DEFAULT 0,
					name     TEXT NOT NULL DEFAULT '',
					bytes    BYTEA
				)`,
			},
		},
	}
}

package storage

import (
	"fmt"

	"txetl/internal/model"
)

// Migration is one versioned schema step. Statements are rendered for the
// target dialect at apply time.
type Migration struct {
	Version    int
	Name       string
	Statements func(d Dialect) []string
}

// Migrations is the ordered schema history. Append only.
var Migrations = []Migration{
	{Version: 1, Name: "normalized_model", Statements: normalizedModel},
	{Version: 2, Name: "summary_aggregates", Statements: summaryTables},
	{Version: 3, Name: "load_run_ledger", Statements: loadRunTable},
}

func normalizedModel(d Dialect) []string {
	var out []string
	for _, dim := range model.Dimensions {
		out = append(out, d.CreateTable(dim.Table(), fmt.Sprintf(
			"id %s, canonical_name %s NOT NULL, CONSTRAINT uq_%s_name UNIQUE (canonical_name)",
			d.AutoID, d.Text, dim.Table())))
	}

	out = append(out, d.CreateTable("customer_profile", fmt.Sprintf(
		"id %s, gender %s NOT NULL, age INTEGER NOT NULL, marital_status %s NOT NULL, "+
			"CONSTRAINT uq_customer_profile UNIQUE (gender, age, marital_status), "+
			"CONSTRAINT ck_customer_age CHECK (age > 0 AND age < 120)",
		d.AutoID, d.Text, d.Text)))

	body := "id BIGINT NOT NULL PRIMARY KEY, customer_id BIGINT NOT NULL"
	for _, dim := range model.Dimensions {
		body += ", " + dim.FactColumn() + " BIGINT NOT NULL"
	}
	body += fmt.Sprintf(", occurred_at %s NOT NULL, is_referral SMALLINT NOT NULL, amount_cents BIGINT NOT NULL", d.Timestamp)
	body += ", CONSTRAINT fk_fact_customer FOREIGN KEY (customer_id) REFERENCES customer_profile (id)"
	for _, dim := range model.Dimensions {
		body += fmt.Sprintf(", CONSTRAINT fk_fact_%s FOREIGN KEY (%s) REFERENCES %s (id)",
			dim, dim.FactColumn(), dim.Table())
	}
	body += ", CONSTRAINT ck_fact_referral CHECK (is_referral IN (0, 1))"
	body += ", CONSTRAINT ck_fact_amount CHECK (amount_cents >= 0)"
	out = append(out, d.CreateTable("fact_transaction", body))
	return out
}

func summaryTables(d Dialect) []string {
	var out []string
	for _, name := range model.AggregateNames {
		out = append(out, d.CreateTable(model.AggregateTable(name), fmt.Sprintf(
			"seq INTEGER NOT NULL PRIMARY KEY, group_key %s NOT NULL, group_id BIGINT NULL, "+
				"transaction_count BIGINT NOT NULL, total_cents BIGINT NOT NULL, "+
				"average_cents BIGINT NOT NULL, rank_position INTEGER NOT NULL",
			d.Text)))
	}
	out = append(out, d.CreateTable("summary_refresh", fmt.Sprintf(
		"aggregate_name %s NOT NULL PRIMARY KEY, row_count BIGINT NOT NULL, "+
			"generation BIGINT NOT NULL, refreshed_unix_ms BIGINT NOT NULL",
		d.Text)))
	return out
}

func loadRunTable(d Dialect) []string {
	return []string{d.CreateTable("load_run", fmt.Sprintf(
		"run_id %s NOT NULL PRIMARY KEY, job %s NOT NULL, source %s NOT NULL, fingerprint %s NOT NULL, "+
			"status %s NOT NULL, started_at %s NOT NULL, started_unix_ms BIGINT NOT NULL, finished_at %s NULL, "+
			"rows_read BIGINT NOT NULL, rows_loaded BIGINT NOT NULL, rows_rejected BIGINT NOT NULL, "+
			"rows_unflushed BIGINT NOT NULL, resume_line BIGINT NOT NULL, error_text %s NULL",
		d.Text, d.Text, d.Text, d.Text, d.Text, d.Timestamp, d.Timestamp, d.Text))}
}

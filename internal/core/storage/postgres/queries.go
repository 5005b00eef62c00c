package postgres

// SQL queries for the audit store

const (
	// queryRecordVersion stores a published catalog version. Versions are
	// immutable, so a replayed publish is ignored.
	queryRecordVersion = `
		INSERT INTO catalog_versions (
			id, fingerprint, cube_count, pre_aggregation_count, warning_count, published_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	// queryRecordSelection appends one served selection to the log.
	queryRecordSelection = `
		INSERT INTO selection_log (
			id, catalog_version, anchor_cube, measures, dimensions, matched,
			pre_aggregation, effective_granularity, reason, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	// queryLastRefresh reads the latest materialization of a pre-aggregation,
	// written by whatever process builds it.
	queryLastRefresh = `
		SELECT refreshed_at, stale_after_seconds
		FROM pre_aggregation_refreshes
		WHERE cube_name = $1 AND pre_aggregation = $2
	`

	querySchemaExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = 'selection_log'
		)
	`
)

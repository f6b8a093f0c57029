//go:build integration

package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/taplist-enrich/internal/model"
)

// pgxPool is the subset of *pgxpool.Pool that PostgresStore uses, so tests
// can substitute a pgxmock pool.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool. Built behind the
// "integration" tag so the default build stays pure-Go/SQLite-only.
type PostgresStore struct {
	pool pgxPool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS enriched_beers (
	id                        TEXT PRIMARY KEY,
	brew_name                 TEXT NOT NULL,
	brewer                    TEXT NOT NULL,
	brew_description          TEXT,
	description_hash          TEXT,
	brew_description_cleaned  TEXT,
	description_cleaned_at    TIMESTAMPTZ,
	cleanup_source            TEXT,
	abv                       DOUBLE PRECISION,
	confidence                DOUBLE PRECISION,
	enrichment_source         TEXT,
	enrichment_status         TEXT NOT NULL DEFAULT 'pending',
	last_seen_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_beers_abv_null ON enriched_beers(id) WHERE abv IS NULL;

CREATE TABLE IF NOT EXISTS rate_limits (
	client_identifier TEXT NOT NULL,
	minute_bucket     BIGINT NOT NULL,
	request_count     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (client_identifier, minute_bucket)
);

CREATE TABLE IF NOT EXISTS enrichment_limits (
	date          TEXT PRIMARY KEY,
	request_count INTEGER NOT NULL DEFAULT 0,
	last_updated  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cleanup_limits (
	date          TEXT PRIMARY KEY,
	request_count INTEGER NOT NULL DEFAULT 0,
	last_updated  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dlq_messages (
	id              BIGSERIAL PRIMARY KEY,
	message_id      TEXT NOT NULL UNIQUE,
	beer_id         TEXT NOT NULL,
	beer_name       TEXT NOT NULL,
	brewer          TEXT NOT NULL,
	failed_at       TIMESTAMPTZ NOT NULL,
	failure_count   INTEGER NOT NULL DEFAULT 0,
	source_queue    TEXT NOT NULL,
	raw_message     TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	replay_count    INTEGER NOT NULL DEFAULT 0,
	replayed_at     TIMESTAMPTZ,
	acknowledged_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_dlq_status ON dlq_messages(status);
CREATE INDEX IF NOT EXISTS idx_dlq_beer_id ON dlq_messages(beer_id);
CREATE INDEX IF NOT EXISTS idx_dlq_failed_at ON dlq_messages(failed_at DESC, id DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertBeer implements Store. Same perplexity-wins CASE guard as the
// SQLite backend.
func (s *PostgresStore) UpsertBeer(ctx context.Context, in UpsertBeerInput) (*model.Beer, error) {
	now := time.Now().UTC()

	var abv, confidence any
	var source any
	if in.ParsedABV != nil {
		abv = *in.ParsedABV
		confidence = 0.9
		source = string(model.EnrichmentSourceDescription)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO enriched_beers (id, brew_name, brewer, brew_description, description_hash, abv, confidence, enrichment_source, enrichment_status, last_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $9)
		ON CONFLICT(id) DO UPDATE SET
			brew_name        = excluded.brew_name,
			brewer           = excluded.brewer,
			brew_description = excluded.brew_description,
			description_hash = excluded.description_hash,
			abv = CASE WHEN enriched_beers.enrichment_source = 'perplexity' THEN enriched_beers.abv
			           WHEN excluded.abv IS NOT NULL THEN excluded.abv
			           ELSE enriched_beers.abv END,
			confidence = CASE WHEN enriched_beers.enrichment_source = 'perplexity' THEN enriched_beers.confidence
			           WHEN excluded.abv IS NOT NULL THEN excluded.confidence
			           ELSE enriched_beers.confidence END,
			enrichment_source = CASE WHEN enriched_beers.enrichment_source = 'perplexity' THEN enriched_beers.enrichment_source
			           WHEN excluded.abv IS NOT NULL THEN excluded.enrichment_source
			           ELSE enriched_beers.enrichment_source END,
			last_seen_at = excluded.last_seen_at,
			updated_at   = excluded.updated_at
		RETURNING id, brew_name, brewer, brew_description, description_hash, brew_description_cleaned,
		          description_cleaned_at, cleanup_source, abv, confidence, enrichment_source,
		          enrichment_status, last_seen_at, updated_at`,
		in.ID, in.BrewName, in.Brewer, in.BrewDescription, in.DescriptionHash, abv, confidence, source, now,
	)
	return scanBeerPgx(row)
}

func (s *PostgresStore) UpdateEnrichment(ctx context.Context, beerID string, abv *float64, source model.EnrichmentSource, confidence *float64, status model.EnrichmentStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE enriched_beers
		SET abv = $1, confidence = $2, enrichment_source = $3, enrichment_status = $4, updated_at = $5
		WHERE id = $6`,
		abv, confidence, string(source), string(status), time.Now().UTC(), beerID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update enrichment %s", beerID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("beer not found: %s", beerID)
	}
	return nil
}

func (s *PostgresStore) UpdateCleanup(ctx context.Context, beerID string, in CleanupUpdateInput) error {
	var cleanupSource, enrichmentSource *string
	if in.CleanupSource != nil {
		v := string(*in.CleanupSource)
		cleanupSource = &v
	}
	if in.EnrichmentSource != nil {
		v := string(*in.EnrichmentSource)
		enrichmentSource = &v
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE enriched_beers SET
			brew_description_cleaned = COALESCE($1, brew_description_cleaned),
			cleanup_source           = COALESCE($2, cleanup_source),
			description_cleaned_at   = COALESCE($3, description_cleaned_at),
			abv                      = COALESCE($4, abv),
			confidence               = COALESCE($5, confidence),
			enrichment_source        = COALESCE($6, enrichment_source),
			updated_at               = $7
		WHERE id = $8`,
		in.CleanedDescription, cleanupSource, in.CleanedAt, in.ABV, in.Confidence, enrichmentSource,
		time.Now().UTC(), beerID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update cleanup %s", beerID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("beer not found: %s", beerID)
	}
	return nil
}

func (s *PostgresStore) GetBeer(ctx context.Context, id string) (*model.Beer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, brew_name, brewer, brew_description, description_hash, brew_description_cleaned,
		       description_cleaned_at, cleanup_source, abv, confidence, enrichment_source,
		       enrichment_status, last_seen_at, updated_at
		FROM enriched_beers WHERE id = $1`, id)
	return scanBeerPgx(row)
}

func (s *PostgresStore) ListBeers(ctx context.Context, ids []string) ([]model.Beer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, brew_name, brewer, brew_description, description_hash, brew_description_cleaned,
		       description_cleaned_at, cleanup_source, abv, confidence, enrichment_source,
		       enrichment_status, last_seen_at, updated_at
		FROM enriched_beers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list beers")
	}
	defer rows.Close()

	var out []model.Beer
	for rows.Next() {
		b, err := scanBeerPgx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list beers iterate")
}

func (s *PostgresStore) ListBeersMissingABV(ctx context.Context, limit int, excludeDLQPending bool) ([]model.Beer, error) {
	query := `SELECT id, brew_name, brewer, brew_description, description_hash, brew_description_cleaned,
	                 description_cleaned_at, cleanup_source, abv, confidence, enrichment_source,
	                 enrichment_status, last_seen_at, updated_at
	          FROM enriched_beers WHERE abv IS NULL`
	if excludeDLQPending {
		query += ` AND id NOT IN (SELECT beer_id FROM dlq_messages WHERE status = 'pending')`
	}
	query += ` ORDER BY last_seen_at ASC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list beers missing abv")
	}
	defer rows.Close()

	var out []model.Beer
	for rows.Next() {
		b, err := scanBeerPgx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list beers missing abv iterate")
}

func (s *PostgresStore) IncrementRateLimit(ctx context.Context, key string, bucket int64) (int64, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO rate_limits (client_identifier, minute_bucket, request_count)
		VALUES ($1, $2, 1)
		ON CONFLICT(client_identifier, minute_bucket) DO UPDATE SET request_count = rate_limits.request_count + 1
		RETURNING request_count`,
		key, bucket,
	)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, eris.Wrap(err, "postgres: increment rate limit")
	}
	return count, nil
}

func (s *PostgresStore) PurgeRateLimits(ctx context.Context, olderThanBucket int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE minute_bucket < $1`, olderThanBucket)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge rate limits")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ReserveQuotaBatch(ctx context.Context, scope model.QuotaScope, date string, requested, dailyLimit int) (int, int, error) {
	table := quotaTable(scope)
	now := time.Now().UTC()

	if _, err := s.pool.Exec(ctx, `INSERT INTO `+table+` (date, request_count, last_updated) VALUES ($1, 0, $2) ON CONFLICT(date) DO NOTHING`, date, now); err != nil {
		return 0, 0, eris.Wrap(err, "postgres: ensure quota row")
	}

	var oldCount int
	if err := s.pool.QueryRow(ctx, `SELECT request_count FROM `+table+` WHERE date = $1`, date).Scan(&oldCount); err != nil {
		return 0, 0, eris.Wrap(err, "postgres: read quota old count")
	}

	var newCount int
	row := s.pool.QueryRow(ctx, `
		UPDATE `+table+`
		SET request_count = CASE WHEN request_count + $1 <= $2 THEN request_count + $1 ELSE request_count END,
		    last_updated = $3
		WHERE date = $4
		RETURNING request_count`,
		requested, dailyLimit, now, date,
	)
	if err := row.Scan(&newCount); err != nil {
		return 0, 0, eris.Wrap(err, "postgres: reserve quota batch")
	}

	reserved := newCount - oldCount
	if reserved < 0 {
		reserved = 0
	}
	remaining := dailyLimit - newCount
	if remaining < 0 {
		remaining = 0
	}
	return reserved, remaining, nil
}

func (s *PostgresStore) ReserveQuotaSlot(ctx context.Context, scope model.QuotaScope, date string, dailyLimit int) (int, bool, error) {
	table := quotaTable(scope)
	now := time.Now().UTC()

	if _, err := s.pool.Exec(ctx, `INSERT INTO `+table+` (date, request_count, last_updated) VALUES ($1, 0, $2) ON CONFLICT(date) DO NOTHING`, date, now); err != nil {
		return 0, false, eris.Wrap(err, "postgres: ensure quota row")
	}

	var before int
	if err := s.pool.QueryRow(ctx, `SELECT request_count FROM `+table+` WHERE date = $1`, date).Scan(&before); err != nil {
		return 0, false, eris.Wrap(err, "postgres: read quota slot before")
	}

	var newCount int
	row := s.pool.QueryRow(ctx, `
		UPDATE `+table+`
		SET request_count = CASE WHEN request_count < $1 THEN request_count + 1 ELSE request_count END,
		    last_updated = $2
		WHERE date = $3
		RETURNING request_count`,
		dailyLimit, now, date,
	)
	if err := row.Scan(&newCount); err != nil {
		return 0, false, eris.Wrap(err, "postgres: reserve quota slot")
	}

	return newCount, newCount > before, nil
}

func (s *PostgresStore) GetDailyQuotaCount(ctx context.Context, scope model.QuotaScope, date string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT request_count FROM `+quotaTable(scope)+` WHERE date = $1`, date).Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return count, eris.Wrap(err, "postgres: get daily quota count")
}

func (s *PostgresStore) GetMonthlyQuotaSum(ctx context.Context, scope model.QuotaScope, monthStart, monthEndExclusive string) (int, error) {
	var sum sql.NullInt64
	err := s.pool.QueryRow(ctx,
		`SELECT SUM(request_count) FROM `+quotaTable(scope)+` WHERE date >= $1 AND date < $2`,
		monthStart, monthEndExclusive,
	).Scan(&sum)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: get monthly quota sum")
	}
	return int(sum.Int64), nil
}

func (s *PostgresStore) PurgeDailyQuota(ctx context.Context, cutoffDate string) (int, error) {
	tag1, err := s.pool.Exec(ctx, `DELETE FROM enrichment_limits WHERE date < $1`, cutoffDate)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge enrichment quota")
	}
	tag2, err := s.pool.Exec(ctx, `DELETE FROM cleanup_limits WHERE date < $1`, cutoffDate)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge cleanup quota")
	}
	return int(tag1.RowsAffected() + tag2.RowsAffected()), nil
}

func (s *PostgresStore) IngestDLQ(ctx context.Context, entry model.DlqMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dlq_messages (message_id, beer_id, beer_name, brewer, failed_at, failure_count, source_queue, raw_message, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		ON CONFLICT(message_id) DO UPDATE SET
			status        = 'pending',
			failed_at     = excluded.failed_at,
			failure_count = excluded.failure_count,
			raw_message   = excluded.raw_message`,
		entry.MessageID, entry.BeerID, entry.BeerName, entry.Brewer,
		entry.FailedAt.UTC(), entry.FailureCount, string(entry.SourceQueue), entry.RawMessage,
	)
	return eris.Wrap(err, "postgres: ingest dlq")
}

func (s *PostgresStore) ClaimDlqForReplay(ctx context.Context, ids []int64) ([]ReplayCandidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE dlq_messages SET status = 'replaying'
		WHERE id = ANY($1) AND status = 'pending'
		RETURNING id, message_id, raw_message, source_queue`,
		ids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim dlq for replay")
	}
	defer rows.Close()

	var claimed []ReplayCandidate
	for rows.Next() {
		var c ReplayCandidate
		var sq string
		if err := rows.Scan(&c.ID, &c.MessageID, &c.RawMessage, &sq); err != nil {
			return nil, eris.Wrap(err, "postgres: scan claimed dlq row")
		}
		c.SourceQueue = model.SourceQueue(sq)
		claimed = append(claimed, c)
	}
	return claimed, eris.Wrap(rows.Err(), "postgres: claim dlq iterate")
}

func (s *PostgresStore) RollbackDlq(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE dlq_messages SET status = 'pending' WHERE id = ANY($1)`, ids)
	return eris.Wrap(err, "postgres: rollback dlq")
}

func (s *PostgresStore) MarkReplayed(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE dlq_messages SET status = 'replayed', replay_count = replay_count + 1, replayed_at = $1
		WHERE id = ANY($2)`, now.UTC(), ids)
	return eris.Wrap(err, "postgres: mark replayed")
}

func (s *PostgresStore) MarkAcknowledged(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE dlq_messages SET status = 'acknowledged', acknowledged_at = $1
		WHERE id = ANY($2) AND status = 'pending'`, now.UTC(), ids)
	return eris.Wrap(err, "postgres: mark acknowledged")
}

func (s *PostgresStore) ListDlq(ctx context.Context, filter DlqFilter) (*DlqListResult, error) {
	status := filter.Status
	if status == "" {
		status = model.DlqStatusPending
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `SELECT id, message_id, beer_id, beer_name, brewer, failed_at, failure_count, source_queue,
	                 raw_message, status, replay_count, replayed_at, acknowledged_at
	          FROM dlq_messages WHERE status = $1`
	args := []any{string(status)}
	n := 1

	if filter.BeerID != "" {
		n++
		query += " AND beer_id = $" + strconv.Itoa(n)
		args = append(args, filter.BeerID)
	}
	if filter.Cursor != "" {
		c, err := decodeDlqCursor(filter.Cursor)
		if err != nil {
			return nil, err
		}
		n++
		failedAtPlaceholder := "$" + strconv.Itoa(n)
		n++
		idPlaceholder := "$" + strconv.Itoa(n)
		query += " AND (failed_at < " + failedAtPlaceholder + " OR (failed_at = " + failedAtPlaceholder + " AND id < " + idPlaceholder + "))"
		args = append(args, c.FailedAt.UTC(), c.ID)
	}
	n++
	query += " ORDER BY failed_at DESC, id DESC LIMIT $" + strconv.Itoa(n)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var msgs []model.DlqMessage
	for rows.Next() {
		m, err := scanDlqMessagePgx(rows)
		if err != nil {
			return nil, err
		}
		if !filter.IncludeRaw {
			m.RawMessage = ""
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq iterate")
	}

	result := &DlqListResult{Messages: msgs}
	if len(msgs) > limit {
		last := msgs[limit-1]
		result.Messages = msgs[:limit]
		result.HasMore = true
		result.NextCursor = encodeDlqCursor(last.FailedAt, last.ID)
	}
	return result, nil
}

func (s *PostgresStore) DlqStatsSnapshot(ctx context.Context) (*DlqStats, error) {
	stats := &DlqStats{}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM dlq_messages GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dlq stats by status")
	}
	for rows.Next() {
		var sc DlqStatusCount
		var status string
		if err := rows.Scan(&status, &sc.Count); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		sc.Status = model.DlqStatus(status)
		stats.ByStatus = append(stats.ByStatus, sc)
	}
	rows.Close()

	var oldestPending sql.NullTime
	if err := s.pool.QueryRow(ctx, `SELECT MIN(failed_at) FROM dlq_messages WHERE status = 'pending'`).Scan(&oldestPending); err != nil {
		return nil, eris.Wrap(err, "postgres: oldest pending")
	}
	if oldestPending.Valid {
		stats.OldestPendingAge = time.Since(oldestPending.Time)
	}

	brewerRows, err := s.pool.Query(ctx, `
		SELECT brewer, COUNT(*) c FROM dlq_messages WHERE status = 'pending'
		GROUP BY brewer ORDER BY c DESC LIMIT 10`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: top failing brewers")
	}
	for brewerRows.Next() {
		var bc DlqBrewerCount
		if err := brewerRows.Scan(&bc.Brewer, &bc.Count); err != nil {
			brewerRows.Close()
			return nil, eris.Wrap(err, "postgres: scan brewer count")
		}
		stats.TopFailingBrewers = append(stats.TopFailingBrewers, bc)
	}
	brewerRows.Close()

	since := time.Now().UTC().Add(-24 * time.Hour)
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dlq_messages WHERE failed_at >= $1`, since).Scan(&stats.Last24hFailed); err != nil {
		return nil, eris.Wrap(err, "postgres: last24h failed")
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dlq_messages WHERE replayed_at >= $1`, since).Scan(&stats.Last24hReplayed); err != nil {
		return nil, eris.Wrap(err, "postgres: last24h replayed")
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dlq_messages WHERE acknowledged_at >= $1`, since).Scan(&stats.Last24hAcked); err != nil {
		return nil, eris.Wrap(err, "postgres: last24h acked")
	}

	mostReplayed, err := s.pool.Query(ctx, `
		SELECT beer_id, replay_count FROM dlq_messages WHERE replay_count > 0
		ORDER BY replay_count DESC LIMIT 10`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: most replayed beers")
	}
	defer mostReplayed.Close()
	for mostReplayed.Next() {
		var bc DlqBrewerCount
		if err := mostReplayed.Scan(&bc.Brewer, &bc.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan most replayed")
		}
		stats.MostReplayedBeers = append(stats.MostReplayedBeers, bc)
	}

	return stats, nil
}

func (s *PostgresStore) PurgeDlq(ctx context.Context, status model.DlqStatus, olderThan time.Time, batchLimit int) (int, error) {
	var timestampCol string
	switch status {
	case model.DlqStatusAcknowledged:
		timestampCol = "acknowledged_at"
	case model.DlqStatusReplayed:
		timestampCol = "replayed_at"
	default:
		return 0, eris.Errorf("postgres: purge dlq: unsupported status %q", status)
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM dlq_messages WHERE id IN (
			SELECT id FROM dlq_messages WHERE status = $1 AND `+timestampCol+` < $2 LIMIT $3
		)`, string(status), olderThan.UTC(), batchLimit)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge dlq")
	}
	return int(tag.RowsAffected()), nil
}

type pgxScannable interface {
	Scan(dest ...any) error
}

func scanBeerPgx(row pgxScannable) (*model.Beer, error) {
	var b model.Beer
	var brewDescription, descriptionHash, cleanedDescription, cleanupSource, enrichmentSource *string
	var cleanedAt *time.Time
	var abv, confidence *float64

	err := row.Scan(&b.ID, &b.BrewName, &b.Brewer, &brewDescription, &descriptionHash, &cleanedDescription,
		&cleanedAt, &cleanupSource, &abv, &confidence, &enrichmentSource,
		&b.EnrichmentStatus, &b.LastSeenAt, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.New("beer not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan beer")
	}

	b.BrewDescription = brewDescription
	b.DescriptionHash = descriptionHash
	b.BrewDescriptionCleaned = cleanedDescription
	b.DescriptionCleanedAt = cleanedAt
	b.ABV = abv
	b.Confidence = confidence
	if cleanupSource != nil {
		cs := model.CleanupSource(*cleanupSource)
		b.CleanupSource = &cs
	}
	if enrichmentSource != nil {
		es := model.EnrichmentSource(*enrichmentSource)
		b.EnrichmentSource = &es
	}
	return &b, nil
}

func scanDlqMessagePgx(row pgxScannable) (*model.DlqMessage, error) {
	var m model.DlqMessage
	var sourceQueue, status string
	var replayedAt, ackedAt *time.Time

	err := row.Scan(&m.ID, &m.MessageID, &m.BeerID, &m.BeerName, &m.Brewer, &m.FailedAt, &m.FailureCount,
		&sourceQueue, &m.RawMessage, &status, &m.ReplayCount, &replayedAt, &ackedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan dlq message")
	}
	m.SourceQueue = model.SourceQueue(sourceQueue)
	m.Status = model.DlqStatus(status)
	m.ReplayedAt = replayedAt
	m.AcknowledgedAt = ackedAt
	return &m, nil
}

package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forgescore/internal/db"
	"github.com/sells-group/forgescore/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot paths of ingestion and the worker loop.
var preparedStatements = map[string]string{
	"insert_evidence": `INSERT INTO evidence (` + evidenceColumns + `, attester_id) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, $10, $11) ON CONFLICT (builder_id, hash) DO NOTHING`,
	"claim_job":       `UPDATE recompute_queue SET status = $1 WHERE id = $2 AND status = $3`,
	"latest_history":  `SELECT ` + historyColumns + ` FROM score_history WHERE builder_id = $1 ORDER BY computed_at DESC, seq DESC LIMIT 1`,
	"active_model":    `SELECT ` + modelColumns + ` FROM scoring_model_versions WHERE deprecated_at IS NULL ORDER BY effective_from DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Statements reference tables that only exist after Migrate, so a
	// prepare failure on a fresh database is logged and skipped.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				zap.L().Debug("postgres: skip prepare", zap.String("statement", name), zap.Error(err))
				return nil
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	builder_id    TEXT NOT NULL,
	project_id    TEXT,
	delivery_id   TEXT,
	type          TEXT NOT NULL,
	source        TEXT NOT NULL,
	payload       JSONB NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	hash          TEXT NOT NULL,
	attester_id   TEXT,
	superseded_by TEXT REFERENCES evidence(id),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (builder_id, hash)
);

CREATE INDEX IF NOT EXISTS idx_evidence_builder_created ON evidence(builder_id, created_at);
CREATE INDEX IF NOT EXISTS idx_evidence_attester ON evidence(attester_id) WHERE attester_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS scoring_model_versions (
	version        TEXT PRIMARY KEY,
	weights        JSONB NOT NULL,
	caps           JSONB NOT NULL,
	tier_config    JSONB NOT NULL,
	effective_from TIMESTAMPTZ NOT NULL DEFAULT now(),
	deprecated_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS score_history (
	seq                   BIGINT GENERATED ALWAYS AS IDENTITY,
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	builder_id            TEXT NOT NULL,
	score                 INTEGER NOT NULL CHECK (score BETWEEN 100 AND 999),
	previous_score        INTEGER,
	delta                 INTEGER NOT NULL,
	breakdown             JSONB NOT NULL,
	anomaly_flags         JSONB NOT NULL DEFAULT '[]',
	evidence_snapshot_ids JSONB NOT NULL DEFAULT '[]',
	model_version         TEXT NOT NULL,
	reason                TEXT NOT NULL,
	confidence            DOUBLE PRECISION NOT NULL,
	computed_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_score_history_builder ON score_history(builder_id, computed_at DESC);

CREATE TABLE IF NOT EXISTS builders (
	builder_id           TEXT PRIMARY KEY,
	score_v3             INTEGER,
	score_v3_model       TEXT,
	score_v3_computed_at TIMESTAMPTZ,
	score_v3_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	tenure_start         TIMESTAMPTZ,
	legacy_score_v2      DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS recompute_stamps (
	builder_id      TEXT PRIMARY KEY,
	last_recomputed TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS recompute_queue (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	builder_id          TEXT NOT NULL,
	trigger_type        TEXT NOT NULL,
	trigger_evidence_id TEXT,
	priority            INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL DEFAULT 'pending',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at        TIMESTAMPTZ,
	error_message       TEXT
);

CREATE INDEX IF NOT EXISTS idx_recompute_queue_pending ON recompute_queue(priority DESC, created_at) WHERE status = 'pending';
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// pgExecer is satisfied by db.Pool and pgx.Tx.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) InsertEvidence(ctx context.Context, ev *model.Evidence) (bool, error) {
	return insertPostgresEvidence(ctx, s.pool, ev)
}

func insertPostgresEvidence(ctx context.Context, ex pgExecer, ev *model.Evidence) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	payload, err := marshalPayload(ev)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert evidence")
	}

	tag, err := ex.Exec(ctx,
		`INSERT INTO evidence (`+evidenceColumns+`, attester_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, $10, $11)
		 ON CONFLICT (builder_id, hash) DO NOTHING`,
		ev.ID, ev.BuilderID, nullIfEmpty(ev.ProjectID), nullIfEmpty(ev.DeliveryID),
		string(ev.Type), string(ev.Source), payload, ev.Confidence, ev.Hash,
		ev.CreatedAt.UTC(), nullIfEmpty(ev.AttesterID()),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert evidence %s", ev.ID)
	}
	return tag.RowsAffected() == 1, nil
}

// SupersedeEvidence inserts replacement and retires oldID in one transaction.
func (s *PostgresStore) SupersedeEvidence(ctx context.Context, oldID string, replacement *model.Evidence) (bool, error) {
	var inserted bool
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		ok, err := insertPostgresEvidence(ctx, tx, replacement)
		if err != nil || !ok {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE evidence SET superseded_by = $1
			 WHERE id = $2 AND builder_id = $3 AND superseded_by IS NULL`,
			replacement.ID, oldID, replacement.BuilderID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: supersede evidence %s", oldID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotFound, "active evidence %s", oldID)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *PostgresStore) GetEvidence(ctx context.Context, id string) (*model.Evidence, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE id = $1`, id,
	)
	ev, err := scanPostgresEvidence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "evidence %s", id)
	}
	return ev, err
}

func (s *PostgresStore) ListEvidence(ctx context.Context, builderID string, filter EvidenceFilter) ([]model.Evidence, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence WHERE builder_id = $1`
	args := []any{builderID}

	if !filter.IncludeSuperseded {
		query += ` AND superseded_by IS NULL`
	}
	if len(filter.Types) > 0 {
		args = append(args, typeStrings(filter.Types))
		query += ` AND type = ANY(` + pgArg(len(args)) + `)`
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		query += ` AND created_at >= ` + pgArg(len(args))
	}
	if filter.NewestFirst {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT ` + pgArg(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evidence")
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		ev, err := scanPostgresEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list evidence rows")
}

func (s *PostgresStore) CountEvidenceByType(ctx context.Context, builderID string) (map[model.EvidenceType]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT type, COUNT(*) FROM evidence
		 WHERE builder_id = $1 AND superseded_by IS NULL
		 GROUP BY type`,
		builderID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count evidence")
	}
	defer rows.Close()

	counts := make(map[model.EvidenceType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence count")
		}
		counts[model.EvidenceType(t)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count evidence rows")
}

func (s *PostgresStore) ListAttestationsInvolving(ctx context.Context, builderID string) ([]model.Evidence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+evidenceColumns+` FROM evidence
		 WHERE type = $1 AND superseded_by IS NULL AND (builder_id = $2 OR attester_id = $2)
		 ORDER BY created_at ASC, id ASC`,
		string(model.EvidenceTeamAttestation), builderID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list attestations")
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		ev, err := scanPostgresEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list attestations rows")
}

func (s *PostgresStore) ActiveModelVersion(ctx context.Context) (*model.ScoringModelVersion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+modelColumns+` FROM scoring_model_versions
		 WHERE deprecated_at IS NULL
		 ORDER BY effective_from DESC LIMIT 1`,
	)
	mv, err := scanPostgresModel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return mv, err
}

func (s *PostgresStore) PublishModelVersion(ctx context.Context, mv model.ScoringModelVersion) error {
	raw, err := marshalModel(mv)
	if err != nil {
		return eris.Wrap(err, "postgres: publish model")
	}
	if mv.EffectiveFrom.IsZero() {
		mv.EffectiveFrom = time.Now().UTC()
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE scoring_model_versions SET deprecated_at = now() WHERE deprecated_at IS NULL AND version <> $1`,
			mv.Version,
		); err != nil {
			return eris.Wrap(err, "postgres: deprecate models")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO scoring_model_versions (`+modelColumns+`) VALUES ($1, $2, $3, $4, $5, NULL)`,
			mv.Version, raw.weights, raw.caps, raw.tiers, mv.EffectiveFrom.UTC(),
		); err != nil {
			return eris.Wrapf(err, "postgres: insert model %s", mv.Version)
		}
		return nil
	})
}

func (s *PostgresStore) ListModelVersions(ctx context.Context) ([]model.ScoringModelVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+modelColumns+` FROM scoring_model_versions ORDER BY effective_from DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list models")
	}
	defer rows.Close()

	var out []model.ScoringModelVersion
	for rows.Next() {
		mv, err := scanPostgresModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *mv)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list models rows")
}

func (s *PostgresStore) InsertScoreHistory(ctx context.Context, h *model.ScoreHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.ComputedAt.IsZero() {
		h.ComputedAt = time.Now().UTC()
	}
	raw, err := marshalHistory(h)
	if err != nil {
		return eris.Wrap(err, "postgres: insert score history")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO score_history (`+historyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		h.ID, h.BuilderID, h.Score, h.PreviousScore, h.Delta,
		raw.breakdown, raw.flags, raw.snapshot,
		h.ModelVersion, h.Reason, h.Confidence, h.ComputedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert score history %s", h.ID)
}

func (s *PostgresStore) LatestScoreHistory(ctx context.Context, builderID string) (*model.ScoreHistory, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+historyColumns+` FROM score_history
		 WHERE builder_id = $1
		 ORDER BY computed_at DESC, seq DESC LIMIT 1`,
		builderID,
	)
	h, err := scanPostgresHistory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

func (s *PostgresStore) ListScoreHistory(ctx context.Context, builderID string, limit int) ([]model.ScoreHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM score_history
		WHERE builder_id = $1 ORDER BY computed_at DESC, seq DESC`
	args := []any{builderID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list score history")
	}
	defer rows.Close()

	var out []model.ScoreHistory
	for rows.Next() {
		h, err := scanPostgresHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list score history rows")
}

func (s *PostgresStore) GetBuilderProjection(ctx context.Context, builderID string) (*model.BuilderProjection, error) {
	var p model.BuilderProjection
	var modelVersion *string

	err := s.pool.QueryRow(ctx,
		`SELECT builder_id, score_v3, score_v3_model, score_v3_computed_at, score_v3_confidence, tenure_start, legacy_score_v2
		 FROM builders WHERE builder_id = $1`,
		builderID,
	).Scan(&p.BuilderID, &p.ScoreV3, &modelVersion, &p.ScoreV3ComputedAt, &p.ScoreV3Confidence, &p.TenureStart, &p.LegacyScoreV2)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "builder %s", builderID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get builder projection")
	}
	p.ScoreV3Model = derefString(modelVersion)
	return &p, nil
}

func (s *PostgresStore) UpsertBuilderProjection(ctx context.Context, p *model.BuilderProjection) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO builders (builder_id, score_v3, score_v3_model, score_v3_computed_at, score_v3_confidence, tenure_start)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (builder_id) DO UPDATE SET
			score_v3 = COALESCE(EXCLUDED.score_v3, builders.score_v3),
			score_v3_model = COALESCE(EXCLUDED.score_v3_model, builders.score_v3_model),
			score_v3_computed_at = COALESCE(EXCLUDED.score_v3_computed_at, builders.score_v3_computed_at),
			score_v3_confidence = CASE WHEN EXCLUDED.score_v3 IS NULL THEN builders.score_v3_confidence ELSE EXCLUDED.score_v3_confidence END,
			tenure_start = COALESCE(builders.tenure_start, EXCLUDED.tenure_start)`,
		p.BuilderID, p.ScoreV3, nullIfEmpty(p.ScoreV3Model), p.ScoreV3ComputedAt,
		p.ScoreV3Confidence, p.TenureStart,
	)
	return eris.Wrapf(err, "postgres: upsert builder %s", p.BuilderID)
}

func (s *PostgresStore) SetLegacyScoreV2(ctx context.Context, builderID string, score float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO builders (builder_id, legacy_score_v2) VALUES ($1, $2)
		 ON CONFLICT (builder_id) DO UPDATE SET legacy_score_v2 = EXCLUDED.legacy_score_v2`,
		builderID, score,
	)
	return eris.Wrapf(err, "postgres: set legacy score %s", builderID)
}

// ImportLegacyScores bulk-loads legacy scores through a COPY-staged upsert.
func (s *PostgresStore) ImportLegacyScores(ctx context.Context, scores []LegacyScore) (int64, error) {
	rows := make([][]any, len(scores))
	for i, ls := range scores {
		rows[i] = []any{ls.BuilderID, ls.Score}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "builders",
		Columns:      []string{"builder_id", "legacy_score_v2"},
		ConflictKeys: []string{"builder_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import legacy scores")
}

func (s *PostgresStore) GetProjectionStats(ctx context.Context) (*ProjectionStats, error) {
	var st ProjectionStats
	var avg *float64
	var maxScore *int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(score_v3), AVG(score_v3)::float8, MAX(score_v3) FROM builders`,
	).Scan(&st.Scored, &avg, &maxScore)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: projection stats")
	}
	if avg != nil {
		st.AvgScore = *avg
	}
	if maxScore != nil {
		st.MaxScore = *maxScore
	}
	return &st, nil
}

func (s *PostgresStore) TouchRecomputeStamp(ctx context.Context, builderID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recompute_stamps (builder_id, last_recomputed) VALUES ($1, $2)
		 ON CONFLICT (builder_id) DO UPDATE SET last_recomputed = EXCLUDED.last_recomputed`,
		builderID, at.UTC(),
	)
	return eris.Wrapf(err, "postgres: touch recompute stamp %s", builderID)
}

func (s *PostgresStore) LastRecomputeAt(ctx context.Context, builderID string) (*time.Time, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_recomputed FROM recompute_stamps WHERE builder_id = $1`, builderID,
	).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last recompute")
	}
	at = at.UTC()
	return &at, nil
}

func (s *PostgresStore) EnqueueJob(ctx context.Context, job *model.RecomputeJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = model.JobStatusPending

	_, err := s.pool.Exec(ctx,
		`INSERT INTO recompute_queue (id, builder_id, trigger_type, trigger_evidence_id, priority, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.BuilderID, job.TriggerType, nullIfEmpty(job.TriggerEvidenceID),
		job.Priority, string(job.Status), job.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: enqueue job %s", job.ID)
}

func (s *PostgresStore) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recompute_queue SET status = $1 WHERE id = $2 AND status = $3`,
		string(model.JobStatusProcessing), jobID, string(model.JobStatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim job %s", jobID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recompute_queue SET status = $1, processed_at = now(), error_message = NULL WHERE id = $2`,
		string(model.JobStatusCompleted), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recompute_queue SET status = $1, processed_at = now(), error_message = $2 WHERE id = $3`,
		string(model.JobStatusFailed), message, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.RecomputeJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM recompute_queue WHERE id = $1`, jobID,
	)
	job, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return job, err
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.RecomputeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM recompute_queue WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = ` + pgArg(len(args))
	}
	if filter.BuilderID != "" {
		args = append(args, filter.BuilderID)
		query += ` AND builder_id = ` + pgArg(len(args))
	}
	query += ` ORDER BY priority DESC, created_at ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT ` + pgArg(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var out []model.RecomputeJob
	for rows.Next() {
		job, err := scanPostgresJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list jobs rows")
}

func (s *PostgresStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM recompute_queue GROUP BY status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count jobs")
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job count")
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count jobs rows")
}

func pgArg(n int) string {
	return "$" + strconv.Itoa(n)
}

func scanPostgresEvidence(row scannable) (*model.Evidence, error) {
	var ev model.Evidence
	var projectID, deliveryID, supersededBy *string
	var typ, source string
	var payload []byte

	err := row.Scan(&ev.ID, &ev.BuilderID, &projectID, &deliveryID, &typ, &source,
		&payload, &ev.Confidence, &ev.Hash, &supersededBy, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan evidence")
	}
	ev.Type = model.EvidenceType(typ)
	ev.Source = model.EvidenceSource(source)
	if err := evidenceFromRaw(&ev, payload, projectID, deliveryID, supersededBy); err != nil {
		return nil, eris.Wrap(err, "postgres: scan evidence")
	}
	return &ev, nil
}

func scanPostgresModel(row scannable) (*model.ScoringModelVersion, error) {
	var mv model.ScoringModelVersion
	var raw modelJSON

	err := row.Scan(&mv.Version, &raw.weights, &raw.caps, &raw.tiers, &mv.EffectiveFrom, &mv.DeprecatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan model")
	}
	if err := unmarshalModel(&mv, raw); err != nil {
		return nil, eris.Wrap(err, "postgres: scan model")
	}
	return &mv, nil
}

func scanPostgresHistory(row scannable) (*model.ScoreHistory, error) {
	var h model.ScoreHistory
	var raw historyJSON

	err := row.Scan(&h.ID, &h.BuilderID, &h.Score, &h.PreviousScore, &h.Delta, &raw.breakdown,
		&raw.flags, &raw.snapshot, &h.ModelVersion, &h.Reason, &h.Confidence, &h.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan score history")
	}
	if err := unmarshalHistory(&h, raw); err != nil {
		return nil, eris.Wrap(err, "postgres: scan score history")
	}
	return &h, nil
}

func scanPostgresJob(row scannable) (*model.RecomputeJob, error) {
	var job model.RecomputeJob
	var evidenceID, errMsg *string
	var status string

	err := row.Scan(&job.ID, &job.BuilderID, &job.TriggerType, &evidenceID, &job.Priority,
		&status, &job.CreatedAt, &job.ProcessedAt, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}
	job.Status = model.JobStatus(status)
	job.TriggerEvidenceID = derefString(evidenceID)
	job.ErrorMessage = derefString(errMsg)
	job.CreatedAt = job.CreatedAt.UTC()
	return &job, nil
}

var _ Store = (*PostgresStore)(nil)

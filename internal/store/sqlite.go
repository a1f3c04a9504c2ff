package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/forgescore/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id            TEXT PRIMARY KEY,
	builder_id    TEXT NOT NULL,
	project_id    TEXT,
	delivery_id   TEXT,
	type          TEXT NOT NULL,
	source        TEXT NOT NULL,
	payload       TEXT NOT NULL,
	confidence    REAL NOT NULL,
	hash          TEXT NOT NULL,
	attester_id   TEXT,
	superseded_by TEXT REFERENCES evidence(id),
	created_at    DATETIME NOT NULL,
	UNIQUE (builder_id, hash)
);

CREATE TABLE IF NOT EXISTS scoring_model_versions (
	version        TEXT PRIMARY KEY,
	weights        TEXT NOT NULL,
	caps           TEXT NOT NULL,
	tier_config    TEXT NOT NULL,
	effective_from DATETIME NOT NULL,
	deprecated_at  DATETIME
);

CREATE TABLE IF NOT EXISTS score_history (
	id                    TEXT PRIMARY KEY,
	builder_id            TEXT NOT NULL,
	score                 INTEGER NOT NULL,
	previous_score        INTEGER,
	delta                 INTEGER NOT NULL,
	breakdown             TEXT NOT NULL,
	anomaly_flags         TEXT NOT NULL,
	evidence_snapshot_ids TEXT NOT NULL,
	model_version         TEXT NOT NULL,
	reason                TEXT NOT NULL,
	confidence            REAL NOT NULL,
	computed_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS builders (
	builder_id           TEXT PRIMARY KEY,
	score_v3             INTEGER,
	score_v3_model       TEXT,
	score_v3_computed_at DATETIME,
	score_v3_confidence  REAL NOT NULL DEFAULT 0,
	tenure_start         DATETIME,
	legacy_score_v2      REAL
);

CREATE TABLE IF NOT EXISTS recompute_stamps (
	builder_id       TEXT PRIMARY KEY,
	last_recomputed  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS recompute_queue (
	id                  TEXT PRIMARY KEY,
	builder_id          TEXT NOT NULL,
	trigger_type        TEXT NOT NULL,
	trigger_evidence_id TEXT,
	priority            INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL DEFAULT 'pending',
	created_at          DATETIME NOT NULL,
	processed_at        DATETIME,
	error_message       TEXT
);

CREATE INDEX IF NOT EXISTS idx_evidence_builder_created ON evidence(builder_id, created_at);
CREATE INDEX IF NOT EXISTS idx_evidence_attester ON evidence(attester_id);
CREATE INDEX IF NOT EXISTS idx_score_history_builder ON score_history(builder_id, computed_at);
CREATE INDEX IF NOT EXISTS idx_recompute_queue_pending ON recompute_queue(status, priority, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlExecer is satisfied by both *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertEvidence writes ev unless a row with the same (builder_id, hash)
// already exists, in which case it returns false.
func (s *SQLiteStore) InsertEvidence(ctx context.Context, ev *model.Evidence) (bool, error) {
	return insertSQLiteEvidence(ctx, s.db, ev)
}

func insertSQLiteEvidence(ctx context.Context, ex sqlExecer, ev *model.Evidence) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	payload, err := marshalPayload(ev)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert evidence")
	}

	res, err := ex.ExecContext(ctx,
		`INSERT INTO evidence (`+evidenceColumns+`, attester_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		 ON CONFLICT (builder_id, hash) DO NOTHING`,
		ev.ID, ev.BuilderID, nullIfEmpty(ev.ProjectID), nullIfEmpty(ev.DeliveryID),
		string(ev.Type), string(ev.Source), string(payload), ev.Confidence, ev.Hash,
		ev.CreatedAt.UTC(), nullIfEmpty(ev.AttesterID()),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert evidence %s", ev.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// SupersedeEvidence inserts replacement and points oldID at it in one
// transaction. It returns false without changes when the replacement
// duplicates an existing row, and ErrNotFound when oldID is not an active row
// of the same builder.
func (s *SQLiteStore) SupersedeEvidence(ctx context.Context, oldID string, replacement *model.Evidence) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	inserted, err := insertSQLiteEvidence(ctx, tx, replacement)
	if err != nil || !inserted {
		return false, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE evidence SET superseded_by = ?
		 WHERE id = ? AND builder_id = ? AND superseded_by IS NULL`,
		replacement.ID, oldID, replacement.BuilderID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: supersede evidence %s", oldID)
	}
	if err := checkRowsAffected(res, "active evidence", oldID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit supersede")
	}
	return true, nil
}

func (s *SQLiteStore) GetEvidence(ctx context.Context, id string) (*model.Evidence, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE id = ?`, id,
	)
	ev, err := scanSQLiteEvidence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "evidence %s", id)
	}
	return ev, err
}

// ListEvidence returns the builder's evidence ordered by created_at, oldest
// first unless the filter asks otherwise.
func (s *SQLiteStore) ListEvidence(ctx context.Context, builderID string, filter EvidenceFilter) ([]model.Evidence, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence WHERE builder_id = ?`
	args := []any{builderID}

	if !filter.IncludeSuperseded {
		query += ` AND superseded_by IS NULL`
	}
	if len(filter.Types) > 0 {
		query += ` AND type IN (` + placeholders(len(filter.Types)) + `)`
		for _, t := range typeStrings(filter.Types) {
			args = append(args, t)
		}
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	if filter.NewestFirst {
		query += ` ORDER BY created_at DESC, rowid DESC`
	} else {
		query += ` ORDER BY created_at ASC, rowid ASC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evidence")
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		ev, err := scanSQLiteEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list evidence rows")
}

func (s *SQLiteStore) CountEvidenceByType(ctx context.Context, builderID string) (map[model.EvidenceType]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM evidence
		 WHERE builder_id = ? AND superseded_by IS NULL
		 GROUP BY type`,
		builderID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count evidence")
	}
	defer rows.Close()

	counts := make(map[model.EvidenceType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence count")
		}
		counts[model.EvidenceType(t)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count evidence rows")
}

// ListAttestationsInvolving returns non-superseded attestations given by or
// received by builderID.
func (s *SQLiteStore) ListAttestationsInvolving(ctx context.Context, builderID string) ([]model.Evidence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evidenceColumns+` FROM evidence
		 WHERE type = ? AND superseded_by IS NULL AND (builder_id = ? OR attester_id = ?)
		 ORDER BY created_at ASC, rowid ASC`,
		string(model.EvidenceTeamAttestation), builderID, builderID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list attestations")
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		ev, err := scanSQLiteEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list attestations rows")
}

// ActiveModelVersion returns the newest non-deprecated model, or nil when
// none has been published.
func (s *SQLiteStore) ActiveModelVersion(ctx context.Context) (*model.ScoringModelVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+modelColumns+` FROM scoring_model_versions
		 WHERE deprecated_at IS NULL
		 ORDER BY effective_from DESC, rowid DESC LIMIT 1`,
	)
	mv, err := scanSQLiteModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return mv, err
}

// PublishModelVersion inserts mv and deprecates every other active version
// in the same transaction.
func (s *SQLiteStore) PublishModelVersion(ctx context.Context, mv model.ScoringModelVersion) error {
	raw, err := marshalModel(mv)
	if err != nil {
		return eris.Wrap(err, "sqlite: publish model")
	}
	if mv.EffectiveFrom.IsZero() {
		mv.EffectiveFrom = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE scoring_model_versions SET deprecated_at = ? WHERE deprecated_at IS NULL AND version <> ?`,
		time.Now().UTC(), mv.Version,
	); err != nil {
		return eris.Wrap(err, "sqlite: deprecate models")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scoring_model_versions (`+modelColumns+`) VALUES (?, ?, ?, ?, ?, NULL)`,
		mv.Version, string(raw.weights), string(raw.caps), string(raw.tiers), mv.EffectiveFrom.UTC(),
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert model %s", mv.Version)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit publish model")
}

func (s *SQLiteStore) ListModelVersions(ctx context.Context) ([]model.ScoringModelVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+modelColumns+` FROM scoring_model_versions ORDER BY effective_from DESC, rowid DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list models")
	}
	defer rows.Close()

	var out []model.ScoringModelVersion
	for rows.Next() {
		mv, err := scanSQLiteModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *mv)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list models rows")
}

func (s *SQLiteStore) InsertScoreHistory(ctx context.Context, h *model.ScoreHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.ComputedAt.IsZero() {
		h.ComputedAt = time.Now().UTC()
	}
	raw, err := marshalHistory(h)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert score history")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO score_history (`+historyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.BuilderID, h.Score, h.PreviousScore, h.Delta,
		string(raw.breakdown), string(raw.flags), string(raw.snapshot),
		h.ModelVersion, h.Reason, h.Confidence, h.ComputedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert score history %s", h.ID)
}

// LatestScoreHistory returns the most recent history row, or nil if the
// builder has never been scored.
func (s *SQLiteStore) LatestScoreHistory(ctx context.Context, builderID string) (*model.ScoreHistory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM score_history
		 WHERE builder_id = ?
		 ORDER BY computed_at DESC, rowid DESC LIMIT 1`,
		builderID,
	)
	h, err := scanSQLiteHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

// ListScoreHistory returns history newest first.
func (s *SQLiteStore) ListScoreHistory(ctx context.Context, builderID string, limit int) ([]model.ScoreHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM score_history
		WHERE builder_id = ? ORDER BY computed_at DESC, rowid DESC`
	args := []any{builderID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list score history")
	}
	defer rows.Close()

	var out []model.ScoreHistory
	for rows.Next() {
		h, err := scanSQLiteHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list score history rows")
}

func (s *SQLiteStore) GetBuilderProjection(ctx context.Context, builderID string) (*model.BuilderProjection, error) {
	var p model.BuilderProjection
	var score sql.NullInt64
	var modelVersion sql.NullString
	var computedAt, tenureStart sql.NullTime
	var legacy sql.NullFloat64

	err := s.db.QueryRowContext(ctx,
		`SELECT builder_id, score_v3, score_v3_model, score_v3_computed_at, score_v3_confidence, tenure_start, legacy_score_v2
		 FROM builders WHERE builder_id = ?`,
		builderID,
	).Scan(&p.BuilderID, &score, &modelVersion, &computedAt, &p.ScoreV3Confidence, &tenureStart, &legacy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "builder %s", builderID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get builder projection")
	}

	if score.Valid {
		v := int(score.Int64)
		p.ScoreV3 = &v
	}
	p.ScoreV3Model = modelVersion.String
	if computedAt.Valid {
		t := computedAt.Time.UTC()
		p.ScoreV3ComputedAt = &t
	}
	if tenureStart.Valid {
		t := tenureStart.Time.UTC()
		p.TenureStart = &t
	}
	if legacy.Valid {
		v := legacy.Float64
		p.LegacyScoreV2 = &v
	}
	return &p, nil
}

// UpsertBuilderProjection writes the score cache. A nil field leaves the
// stored column untouched, and tenure_start is only ever set once.
func (s *SQLiteStore) UpsertBuilderProjection(ctx context.Context, p *model.BuilderProjection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builders (builder_id, score_v3, score_v3_model, score_v3_computed_at, score_v3_confidence, tenure_start)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (builder_id) DO UPDATE SET
			score_v3 = COALESCE(excluded.score_v3, builders.score_v3),
			score_v3_model = COALESCE(excluded.score_v3_model, builders.score_v3_model),
			score_v3_computed_at = COALESCE(excluded.score_v3_computed_at, builders.score_v3_computed_at),
			score_v3_confidence = CASE WHEN excluded.score_v3 IS NULL THEN builders.score_v3_confidence ELSE excluded.score_v3_confidence END,
			tenure_start = COALESCE(builders.tenure_start, excluded.tenure_start)`,
		p.BuilderID, p.ScoreV3, nullIfEmpty(p.ScoreV3Model), utcPtr(p.ScoreV3ComputedAt),
		p.ScoreV3Confidence, utcPtr(p.TenureStart),
	)
	return eris.Wrapf(err, "sqlite: upsert builder %s", p.BuilderID)
}

func (s *SQLiteStore) SetLegacyScoreV2(ctx context.Context, builderID string, score float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builders (builder_id, legacy_score_v2) VALUES (?, ?)
		 ON CONFLICT (builder_id) DO UPDATE SET legacy_score_v2 = excluded.legacy_score_v2`,
		builderID, score,
	)
	return eris.Wrapf(err, "sqlite: set legacy score %s", builderID)
}

// ImportLegacyScores writes every score in a single transaction.
func (s *SQLiteStore) ImportLegacyScores(ctx context.Context, scores []LegacyScore) (int64, error) {
	if len(scores) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO builders (builder_id, legacy_score_v2) VALUES (?, ?)
		 ON CONFLICT (builder_id) DO UPDATE SET legacy_score_v2 = excluded.legacy_score_v2`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare legacy import")
	}
	defer stmt.Close() //nolint:errcheck

	for _, ls := range scores {
		if _, err := stmt.ExecContext(ctx, ls.BuilderID, ls.Score); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import legacy score %s", ls.BuilderID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit legacy import")
	}
	return int64(len(scores)), nil
}

func (s *SQLiteStore) GetProjectionStats(ctx context.Context) (*ProjectionStats, error) {
	var st ProjectionStats
	var avg sql.NullFloat64
	var maxScore sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(score_v3), AVG(score_v3), MAX(score_v3) FROM builders`,
	).Scan(&st.Scored, &avg, &maxScore)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: projection stats")
	}
	st.AvgScore = avg.Float64
	st.MaxScore = int(maxScore.Int64)
	return &st, nil
}

func (s *SQLiteStore) TouchRecomputeStamp(ctx context.Context, builderID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recompute_stamps (builder_id, last_recomputed) VALUES (?, ?)
		 ON CONFLICT (builder_id) DO UPDATE SET last_recomputed = excluded.last_recomputed`,
		builderID, at.UTC(),
	)
	return eris.Wrapf(err, "sqlite: touch recompute stamp %s", builderID)
}

func (s *SQLiteStore) LastRecomputeAt(ctx context.Context, builderID string) (*time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_recomputed FROM recompute_stamps WHERE builder_id = ?`, builderID,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last recompute")
	}
	at = at.UTC()
	return &at, nil
}

func (s *SQLiteStore) EnqueueJob(ctx context.Context, job *model.RecomputeJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = model.JobStatusPending

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recompute_queue (id, builder_id, trigger_type, trigger_evidence_id, priority, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.BuilderID, job.TriggerType, nullIfEmpty(job.TriggerEvidenceID),
		job.Priority, string(job.Status), job.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: enqueue job %s", job.ID)
}

// ClaimJob moves a pending job to processing. It returns false when another
// worker already claimed it.
func (s *SQLiteStore) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recompute_queue SET status = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusProcessing), jobID, string(model.JobStatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recompute_queue SET status = ?, processed_at = ?, error_message = NULL WHERE id = ?`,
		string(model.JobStatusCompleted), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recompute_queue SET status = ?, processed_at = ?, error_message = ? WHERE id = ?`,
		string(model.JobStatusFailed), time.Now().UTC(), message, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.RecomputeJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM recompute_queue WHERE id = ?`, jobID,
	)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return job, err
}

// ListJobs returns jobs ordered by priority descending then age.
func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.RecomputeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM recompute_queue WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.BuilderID != "" {
		query += ` AND builder_id = ?`
		args = append(args, filter.BuilderID)
	}
	query += ` ORDER BY priority DESC, created_at ASC, rowid ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var out []model.RecomputeJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list jobs rows")
}

func (s *SQLiteStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM recompute_queue GROUP BY status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count jobs")
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job count")
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count jobs rows")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func scanSQLiteEvidence(row scannable) (*model.Evidence, error) {
	var ev model.Evidence
	var projectID, deliveryID, supersededBy sql.NullString
	var typ, source, payload string

	err := row.Scan(&ev.ID, &ev.BuilderID, &projectID, &deliveryID, &typ, &source,
		&payload, &ev.Confidence, &ev.Hash, &supersededBy, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan evidence")
	}
	ev.Type = model.EvidenceType(typ)
	ev.Source = model.EvidenceSource(source)
	if err := evidenceFromRaw(&ev, []byte(payload),
		nullStringPtr(projectID), nullStringPtr(deliveryID), nullStringPtr(supersededBy)); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan evidence")
	}
	return &ev, nil
}

func scanSQLiteModel(row scannable) (*model.ScoringModelVersion, error) {
	var mv model.ScoringModelVersion
	var weights, caps, tiers string
	var deprecated sql.NullTime

	err := row.Scan(&mv.Version, &weights, &caps, &tiers, &mv.EffectiveFrom, &deprecated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan model")
	}
	if deprecated.Valid {
		t := deprecated.Time.UTC()
		mv.DeprecatedAt = &t
	}
	raw := modelJSON{weights: []byte(weights), caps: []byte(caps), tiers: []byte(tiers)}
	if err := unmarshalModel(&mv, raw); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan model")
	}
	return &mv, nil
}

func scanSQLiteHistory(row scannable) (*model.ScoreHistory, error) {
	var h model.ScoreHistory
	var prev sql.NullInt64
	var breakdown, flags, snapshot string

	err := row.Scan(&h.ID, &h.BuilderID, &h.Score, &prev, &h.Delta, &breakdown, &flags,
		&snapshot, &h.ModelVersion, &h.Reason, &h.Confidence, &h.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan score history")
	}
	if prev.Valid {
		v := int(prev.Int64)
		h.PreviousScore = &v
	}
	raw := historyJSON{breakdown: []byte(breakdown), flags: []byte(flags), snapshot: []byte(snapshot)}
	if err := unmarshalHistory(&h, raw); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan score history")
	}
	return &h, nil
}

func scanSQLiteJob(row scannable) (*model.RecomputeJob, error) {
	var job model.RecomputeJob
	var evidenceID, errMsg sql.NullString
	var status string
	var processedAt sql.NullTime

	err := row.Scan(&job.ID, &job.BuilderID, &job.TriggerType, &evidenceID, &job.Priority,
		&status, &job.CreatedAt, &processedAt, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	job.Status = model.JobStatus(status)
	job.TriggerEvidenceID = evidenceID.String
	job.ErrorMessage = errMsg.String
	job.CreatedAt = job.CreatedAt.UTC()
	if processedAt.Valid {
		t := processedAt.Time.UTC()
		job.ProcessedAt = &t
	}
	return &job, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// compile-time check
var _ Store = (*SQLiteStore)(nil)

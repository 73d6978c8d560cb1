package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// Store is the persistence layer for claim records and their processing
// telemetry. It wraps a *sql.DB pool; every operation scopes its connection
// use to that single call via context and releases it on all exit paths.
type Store struct {
	db        *sql.DB
	driver    string
	opTimeout time.Duration
}

// NewStore opens the backing database. DATABASE_URLs with a postgres://
// scheme go through pgx; anything else is treated as a SQLite path.
func NewStore(dataSourceName string, opTimeout time.Duration) (*Store, error) {
	driver := "sqlite3"
	if strings.HasPrefix(dataSourceName, "postgres://") || strings.HasPrefix(dataSourceName, "postgresql://") {
		driver = "pgx"
	}

	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, driver: driver, opTimeout: opTimeout}

	ctx, cancel := s.opCtx(context.Background())
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err = s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// rebind rewrites ? placeholders to $1..$N for the Postgres driver.
// Queries are written once with ? and rebound per driver.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) initSchema(ctx context.Context) error {
	serialPK := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "pgx" {
		serialPK = "BIGSERIAL PRIMARY KEY"
	}

	schema := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS email_intake (
        id %s,
        subject TEXT NOT NULL,
        body TEXT NOT NULL,
        attachments TEXT NOT NULL DEFAULT '[]',
        sender TEXT,
        received_at TIMESTAMP,
        extracted_fields TEXT,
        created_at TIMESTAMP NOT NULL
    );

    CREATE TABLE IF NOT EXISTS fnol_traces (
        fnol_id TEXT PRIMARY KEY,
        status TEXT NOT NULL CHECK (status IN ('SUCCESS', 'FAILED', 'PARTIAL')),
        start_time TIMESTAMP NOT NULL,
        end_time TIMESTAMP,
        total_duration_ms BIGINT,
        failure_stage TEXT,
        created_at TIMESTAMP NOT NULL
    );

    CREATE TABLE IF NOT EXISTS fnol_stage_executions (
        id TEXT PRIMARY KEY, -- UUID
        fnol_id TEXT NOT NULL,
        stage_name TEXT NOT NULL CHECK (stage_name IN (
            'EMAIL_INGESTION', 'ATTACHMENT_PARSING', 'OCR_PROCESSING',
            'LLM_EXTRACTION', 'VALIDATION', 'S3_STORAGE', 'GUIDEWIRE_PUSH'
        )),
        status TEXT NOT NULL CHECK (status IN ('SUCCESS', 'FAILED', 'SKIPPED')),
        start_time TIMESTAMP NOT NULL,
        end_time TIMESTAMP,
        duration_ms BIGINT,
        error_code TEXT,
        error_message TEXT,
        created_at TIMESTAMP NOT NULL
    );

    CREATE TABLE IF NOT EXISTS llm_metrics (
        id TEXT PRIMARY KEY, -- UUID
        fnol_id TEXT NOT NULL,
        stage_name TEXT NOT NULL,
        model_name TEXT NOT NULL,
        prompt_version TEXT NOT NULL,
        prompt_hash TEXT NOT NULL,
        prompt_tokens BIGINT NOT NULL DEFAULT 0,
        completion_tokens BIGINT NOT NULL DEFAULT 0,
        total_tokens BIGINT NOT NULL DEFAULT 0,
        cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
        latency_ms BIGINT NOT NULL DEFAULT 0,
        temperature DOUBLE PRECISION,
        created_at TIMESTAMP NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_email_intake_received_at ON email_intake (received_at);
    CREATE INDEX IF NOT EXISTS idx_fnol_traces_status ON fnol_traces (status);
    CREATE INDEX IF NOT EXISTS idx_fnol_traces_created_at ON fnol_traces (created_at);
    CREATE INDEX IF NOT EXISTS idx_stage_executions_fnol_id ON fnol_stage_executions (fnol_id);
    CREATE INDEX IF NOT EXISTS idx_stage_executions_status ON fnol_stage_executions (status);
    CREATE INDEX IF NOT EXISTS idx_llm_metrics_fnol_id ON llm_metrics (fnol_id);
    CREATE INDEX IF NOT EXISTS idx_llm_metrics_created_at ON llm_metrics (created_at);
    `, serialPK)

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// InsertIngestion persists a new claim record and its processing telemetry in
// one transaction, stamps the derived fnol id on the telemetry rows, and
// returns the assigned row id with its display identifier.
func (s *Store) InsertIngestion(ctx context.Context, rec EmailIntake, tel IngestTelemetry) (int64, string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	attachments := rec.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal attachments: %w", err)
	}

	var extractedJSON sql.NullString
	if rec.ExtractedFields != nil {
		b, err := json.Marshal(rec.ExtractedFields)
		if err != nil {
			return 0, "", fmt.Errorf("failed to marshal extracted fields: %w", err)
		}
		extractedJSON = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to begin ingestion tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	insertEmail := `INSERT INTO email_intake (subject, body, attachments, sender, received_at, extracted_fields, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	if s.driver == "pgx" {
		err = tx.QueryRowContext(ctx, s.rebind(insertEmail)+" RETURNING id",
			rec.Subject, rec.Body, string(attachmentsJSON), toNullString(rec.Sender), toNullTime(rec.ReceivedAt), extractedJSON, rec.CreatedAt).Scan(&id)
		if err != nil {
			return 0, "", fmt.Errorf("failed to insert email_intake row: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, insertEmail,
			rec.Subject, rec.Body, string(attachmentsJSON), toNullString(rec.Sender), toNullTime(rec.ReceivedAt), extractedJSON, rec.CreatedAt)
		if err != nil {
			return 0, "", fmt.Errorf("failed to insert email_intake row: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, "", fmt.Errorf("failed to read inserted id: %w", err)
		}
	}

	fnolID := FormatFNOLID(id)

	if err := s.insertTelemetryTx(ctx, tx, fnolID, tel, now); err != nil {
		return 0, "", err
	}

	if err := tx.Commit(); err != nil {
		return 0, "", fmt.Errorf("failed to commit ingestion tx: %w", err)
	}
	return id, fnolID, nil
}

func (s *Store) insertTelemetryTx(ctx context.Context, tx *sql.Tx, fnolID string, tel IngestTelemetry, now time.Time) error {
	if tel.Trace.Status != "" {
		t := tel.Trace
		t.FNOLID = fnolID
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		_, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO fnol_traces (fnol_id, status, start_time, end_time, total_duration_ms, failure_stage, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`),
			t.FNOLID, t.Status, t.StartTime, toNullTime(t.EndTime), toNullInt64(t.TotalDurationMs), toNullString(t.FailureStage), t.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert trace: %w", err)
		}
	}

	for _, st := range tel.Stages {
		st.FNOLID = fnolID
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		if st.CreatedAt.IsZero() {
			st.CreatedAt = now
		}
		_, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO fnol_stage_executions (id, fnol_id, stage_name, status, start_time, end_time, duration_ms, error_code, error_message, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			st.ID, st.FNOLID, st.StageName, st.Status, st.StartTime, toNullTime(st.EndTime), toNullInt64(st.DurationMs),
			toNullString(st.ErrorCode), toNullString(st.ErrorMessage), st.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert stage execution: %w", err)
		}
	}

	for _, m := range tel.Metrics {
		m.FNOLID = fnolID
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		var temp sql.NullFloat64
		if m.Temperature != nil {
			temp = sql.NullFloat64{Float64: *m.Temperature, Valid: true}
		}
		_, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO llm_metrics (id, fnol_id, stage_name, model_name, prompt_version, prompt_hash,
                 prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, temperature, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			m.ID, m.FNOLID, m.StageName, m.ModelName, m.PromptVersion, m.PromptHash,
			m.PromptTokens, m.CompletionTokens, m.TotalTokens, m.CostUSD, m.LatencyMs, temp, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert llm metric: %w", err)
		}
	}
	return nil
}

// Count returns the total number of claim records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM email_intake").Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count email_intake rows: %w", err)
	}
	return total, nil
}

// ListFilter narrows ListEmails. Nil fields are ignored.
type ListFilter struct {
	Status   *string
	Search   *string
	DateFrom *time.Time
	DateTo   *time.Time
}

// ListEmails returns one page of claim records joined with their traces,
// newest first with null received_at sorted last, plus the filtered total.
// Page and total come from the same transaction so they agree with each other.
func (s *Store) ListEmails(ctx context.Context, filter ListFilter, limit, offset int) ([]EmailListRow, int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	where, args := buildListPredicate(filter)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: s.driver == "pgx"})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin list tx: %w", err)
	}
	defer tx.Rollback()

	var total int64
	countQuery := `SELECT COUNT(*)
        FROM email_intake e
        LEFT JOIN fnol_traces t ON t.fnol_id = 'EMAIL-' || e.id` + where
	if err := tx.QueryRowContext(ctx, s.rebind(countQuery), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count fnols: %w", err)
	}

	pageQuery := `SELECT e.id, e.subject, e.sender, e.received_at,
            COALESCE(t.status, 'SUCCESS'), t.total_duration_ms, t.failure_stage
        FROM email_intake e
        LEFT JOIN fnol_traces t ON t.fnol_id = 'EMAIL-' || e.id` + where + `
        ORDER BY e.received_at DESC NULLS LAST, e.id DESC
        LIMIT ? OFFSET ?`
	rows, err := tx.QueryContext(ctx, s.rebind(pageQuery), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query fnols: %w", err)
	}
	defer rows.Close()

	var items []EmailListRow
	for rows.Next() {
		var (
			row        EmailListRow
			sender     sql.NullString
			receivedAt sql.NullTime
			durationMs sql.NullInt64
			failure    sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.Subject, &sender, &receivedAt, &row.Status, &durationMs, &failure); err != nil {
			return nil, 0, fmt.Errorf("failed to scan fnol row: %w", err)
		}
		row.Sender = fromNullString(sender)
		row.ReceivedAt = fromNullTime(receivedAt)
		row.TotalDurationMs = fromNullInt64(durationMs)
		row.FailureStage = fromNullString(failure)
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate fnol rows: %w", err)
	}
	return items, total, tx.Commit()
}

func buildListPredicate(filter ListFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != nil && *filter.Status != "" {
		clauses = append(clauses, "COALESCE(t.status, 'SUCCESS') = ?")
		args = append(args, *filter.Status)
	}
	if filter.Search != nil && *filter.Search != "" {
		clauses = append(clauses, "(LOWER(e.subject) LIKE ? OR LOWER(COALESCE(e.sender, '')) LIKE ?)")
		pattern := "%" + strings.ToLower(*filter.Search) + "%"
		args = append(args, pattern, pattern)
	}
	if filter.DateFrom != nil {
		clauses = append(clauses, "e.received_at >= ?")
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		clauses = append(clauses, "e.received_at <= ?")
		args = append(args, *filter.DateTo)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// GetEmail returns the full claim record for one row id, or ErrNotFound.
func (s *Store) GetEmail(ctx context.Context, id int64) (*EmailIntake, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		rec             EmailIntake
		attachmentsJSON string
		sender          sql.NullString
		receivedAt      sql.NullTime
		extractedJSON   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, subject, body, attachments, sender, received_at, extracted_fields, created_at
         FROM email_intake WHERE id = ?`), id).
		Scan(&rec.ID, &rec.Subject, &rec.Body, &attachmentsJSON, &sender, &receivedAt, &extractedJSON, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get email_intake row: %w", err)
	}

	rec.Sender = fromNullString(sender)
	rec.ReceivedAt = fromNullTime(receivedAt)
	if attachmentsJSON != "" {
		if err := json.Unmarshal([]byte(attachmentsJSON), &rec.Attachments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attachments for record %d: %w", id, err)
		}
	}
	if rec.Attachments == nil {
		rec.Attachments = []string{}
	}
	if extractedJSON.Valid && extractedJSON.String != "" {
		// Parse failures leave ExtractedFields nil; callers treat that the
		// same as extraction never having run.
		_ = json.Unmarshal([]byte(extractedJSON.String), &rec.ExtractedFields)
	}
	return &rec, nil
}

// GetTrace returns the stored trace for a fnol id, or nil when the record
// predates trace capture.
func (s *Store) GetTrace(ctx context.Context, fnolID string) (*Trace, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		t          Trace
		endTime    sql.NullTime
		durationMs sql.NullInt64
		failure    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT fnol_id, status, start_time, end_time, total_duration_ms, failure_stage, created_at
         FROM fnol_traces WHERE fnol_id = ?`), fnolID).
		Scan(&t.FNOLID, &t.Status, &t.StartTime, &endTime, &durationMs, &failure, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get trace: %w", err)
	}
	t.EndTime = fromNullTime(endTime)
	t.TotalDurationMs = fromNullInt64(durationMs)
	t.FailureStage = fromNullString(failure)
	return &t, nil
}

func (s *Store) ListStageExecutions(ctx context.Context, fnolID string) ([]StageExecution, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, fnol_id, stage_name, status, start_time, end_time, duration_ms, error_code, error_message, created_at
         FROM fnol_stage_executions WHERE fnol_id = ? ORDER BY start_time ASC, id ASC`), fnolID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage executions: %w", err)
	}
	defer rows.Close()

	var stages []StageExecution
	for rows.Next() {
		var (
			st         StageExecution
			endTime    sql.NullTime
			durationMs sql.NullInt64
			errCode    sql.NullString
			errMsg     sql.NullString
		)
		if err := rows.Scan(&st.ID, &st.FNOLID, &st.StageName, &st.Status, &st.StartTime, &endTime, &durationMs, &errCode, &errMsg, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage execution: %w", err)
		}
		st.EndTime = fromNullTime(endTime)
		st.DurationMs = fromNullInt64(durationMs)
		st.ErrorCode = fromNullString(errCode)
		st.ErrorMessage = fromNullString(errMsg)
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

func (s *Store) ListLLMMetrics(ctx context.Context, fnolID string) ([]LLMMetric, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, fnol_id, stage_name, model_name, prompt_version, prompt_hash,
                prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, temperature, created_at
         FROM llm_metrics WHERE fnol_id = ? ORDER BY created_at ASC, id ASC`), fnolID)
	if err != nil {
		return nil, fmt.Errorf("failed to query llm metrics: %w", err)
	}
	defer rows.Close()
	return scanLLMMetrics(rows)
}

// MetricRowsSince returns every llm_metrics row created at or after the
// cutoff, oldest first. Day bucketing for trends happens in the service
// layer, where it stays portable across both SQL dialects.
func (s *Store) MetricRowsSince(ctx context.Context, since time.Time) ([]LLMMetric, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, fnol_id, stage_name, model_name, prompt_version, prompt_hash,
                prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, temperature, created_at
         FROM llm_metrics WHERE created_at >= ? ORDER BY created_at ASC`), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query llm metric rows: %w", err)
	}
	defer rows.Close()
	return scanLLMMetrics(rows)
}

func scanLLMMetrics(rows *sql.Rows) ([]LLMMetric, error) {
	var metrics []LLMMetric
	for rows.Next() {
		var (
			m    LLMMetric
			temp sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.FNOLID, &m.StageName, &m.ModelName, &m.PromptVersion, &m.PromptHash,
			&m.PromptTokens, &m.CompletionTokens, &m.TotalTokens, &m.CostUSD, &m.LatencyMs, &temp, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan llm metric: %w", err)
		}
		if temp.Valid {
			m.Temperature = &temp.Float64
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// StageFailureCount is one bucket of FailuresByStageSince.
type StageFailureCount struct {
	StageName string `json:"stage_name"`
	Count     int64  `json:"count"`
}

func (s *Store) FailuresByStageSince(ctx context.Context, since time.Time) ([]StageFailureCount, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT stage_name, COUNT(*) FROM fnol_stage_executions
         WHERE status = 'FAILED' AND created_at >= ?
         GROUP BY stage_name ORDER BY COUNT(*) DESC, stage_name ASC`), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures by stage: %w", err)
	}
	defer rows.Close()

	var out []StageFailureCount
	for rows.Next() {
		var c StageFailureCount
		if err := rows.Scan(&c.StageName, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan stage failure count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ErrorCodeCount is one bucket of TopErrorCodesSince.
type ErrorCodeCount struct {
	ErrorCode string `json:"error_code"`
	Count     int64  `json:"count"`
}

func (s *Store) TopErrorCodesSince(ctx context.Context, since time.Time, limit int) ([]ErrorCodeCount, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT COALESCE(error_code, 'UNKNOWN'), COUNT(*) FROM fnol_stage_executions
         WHERE status = 'FAILED' AND created_at >= ?
         GROUP BY COALESCE(error_code, 'UNKNOWN') ORDER BY COUNT(*) DESC, 1 ASC LIMIT ?`), since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top error codes: %w", err)
	}
	defer rows.Close()

	var out []ErrorCodeCount
	for rows.Next() {
		var c ErrorCodeCount
		if err := rows.Scan(&c.ErrorCode, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan error code count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FailedStageTimesSince returns creation timestamps of failed stage
// executions for trend bucketing in the service layer.
func (s *Store) FailedStageTimesSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT created_at FROM fnol_stage_executions
         WHERE status = 'FAILED' AND created_at >= ? ORDER BY created_at ASC`), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed stage times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan failed stage time: %w", err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// TraceStats aggregates fnol_traces over a window.
type TraceStats struct {
	Total         int64
	SuccessCount  int64
	FailureCount  int64
	PartialCount  int64
	AvgDurationMs *float64
}

func (s *Store) TraceStatsSince(ctx context.Context, since time.Time) (TraceStats, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		stats TraceStats
		avg   sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*),
                COALESCE(SUM(CASE WHEN status = 'SUCCESS' THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN status = 'PARTIAL' THEN 1 ELSE 0 END), 0),
                AVG(total_duration_ms)
         FROM fnol_traces WHERE created_at >= ?`), since).
		Scan(&stats.Total, &stats.SuccessCount, &stats.FailureCount, &stats.PartialCount, &avg)
	if err != nil {
		return TraceStats{}, fmt.Errorf("failed to query trace stats: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMs = &avg.Float64
	}
	return stats, nil
}

// null helpers

func toNullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func toNullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func fromNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/soldrproxy/soldr/internal/backoff"
	"github.com/soldrproxy/soldr/internal/clock"
	"github.com/soldrproxy/soldr/internal/domain"
	"github.com/soldrproxy/soldr/internal/errs"
)

// maxAttemptsBeforeDeadLetter is the §4.1 "20-attempt ceiling": a request
// with this many or more prior attempts is never retried again.
const maxAttemptsBeforeDeadLetter = 20

// requestSortColumns whitelists the ORDER BY column names ListRequests
// accepts, so an operator-supplied sort field is always interpolated as a
// known-safe literal column name rather than bound as a parameter (which
// SQLite silently ignores in an ORDER BY) or interpolated unchecked
// (spec.md §9 Open Question). Unrecognized fields fall back to "id".
var requestSortColumns = map[string]string{
	"id":         "id",
	"created_at": "created_at",
	"state":      "state",
	"retry_ms_at": "retry_ms_at",
}

var attemptSortColumns = map[string]string{
	"id":              "id",
	"created_at":      "created_at",
	"response_status": "response_status",
	"request_id":      "request_id",
}

// SQLiteStore is the production Store backed by an embedded SQLite
// database. Concurrent writers are serialized by database/sql's
// connection pool plus SQLite's own locking; no cross-statement
// transaction is required beyond what each operation performs internally
// (spec.md §4.1).
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

// Open opens (creating if absent) the SQLite database at dsn, applies
// pending migrations, and returns a ready Store.
func Open(dsn string, c clock.Clock) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.Wrap("store.open", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	db.SetMaxOpenConns(1) // SQLite: a single writer avoids SQLITE_BUSY thrash under load.

	if err := migrate(db); err != nil {
		db.Close()
		return nil, errs.Wrap("store.migrate", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}

	if c == nil {
		c = clock.Real{}
	}
	return &SQLiteStore{db: db, clock: c}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) InsertRequest(ctx context.Context, method, uri string, headers []domain.Header, body []byte) (int64, error) {
	encodedHeaders, err := json.Marshal(headers)
	if err != nil {
		return 0, errs.Wrap("store.insert_request", "", fmt.Errorf("%w: encode headers: %v", errs.ErrStorage, err))
	}

	now := s.clock.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (method, uri, headers, body, state, created_at, retry_ms_at, from_request_id)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0)
	`, method, uri, string(encodedHeaders), body, string(domain.StateCreated), now)
	if err != nil {
		return 0, errs.Wrap("store.insert_request", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id int64) (domain.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, method, uri, headers, body, state, created_at, retry_ms_at, from_request_id
		FROM requests WHERE id = ?
	`, id)
	return scanRequest(row)
}

func scanRequest(row *sql.Row) (domain.Request, error) {
	var (
		r              domain.Request
		headersJSON    string
		body           sql.NullString
		state          string
		fromRequestID  sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Method, &r.URI, &headersJSON, &body, &state, &r.CreatedAt, &r.RetryMSAt, &fromRequestID); err != nil {
		if err == sql.ErrNoRows {
			return domain.Request{}, errs.Wrap("store.get_request", "", errs.ErrNotFound)
		}
		return domain.Request{}, errs.Wrap("store.get_request", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	if err := json.Unmarshal([]byte(headersJSON), &r.Headers); err != nil {
		return domain.Request{}, errs.Wrap("store.get_request", "", fmt.Errorf("%w: decode headers: %v", errs.ErrStorage, err))
	}
	if body.Valid {
		r.Body = []byte(body.String)
	}
	r.State = domain.RequestState(state)
	r.FromRequestID = fromRequestID.Int64
	return r, nil
}

func (s *SQLiteStore) UpdateRequestState(ctx context.Context, id int64, state domain.RequestState) error {
	_, err := s.db.ExecContext(ctx, `UPDATE requests SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return errs.Wrap("store.update_request_state", fmt.Sprint(id), fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	return nil
}

// RetryRequest implements spec.md §4.1: reads the prior attempt count; if
// it's at or past the dead-letter ceiling, returns nil and leaves
// state/retry_ms_at untouched, writing no log line and returning no
// error the caller could log; otherwise sets state and schedules
// retry_ms_at via the backoff policy.
func (s *SQLiteStore) RetryRequest(ctx context.Context, id int64, state domain.RequestState) error {
	count, err := s.AttemptCount(ctx, id)
	if err != nil {
		return err
	}
	if count >= maxAttemptsBeforeDeadLetter {
		return nil // spec.md invariant 5: leave state and retry_ms_at unchanged.
	}

	delayMS := backoff.Delay(int(count), nil)
	nowMS := s.clock.Now().UnixMilli()

	_, err = s.db.ExecContext(ctx, `
		UPDATE requests SET state = ?, retry_ms_at = ? WHERE id = ?
	`, string(state), nowMS+delayMS, id)
	if err != nil {
		return errs.Wrap("store.retry_request", fmt.Sprint(id), fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	return nil
}

func (s *SQLiteStore) AttemptsReachedThreshold(ctx context.Context, id int64, threshold int64) (bool, error) {
	count, err := s.AttemptCount(ctx, id)
	if err != nil {
		return false, err
	}
	return count >= threshold, nil
}

func (s *SQLiteStore) ListFailedRequests(ctx context.Context) ([]domain.Request, error) {
	nowMS := s.clock.Now().UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, method, uri, headers, body, state, created_at, retry_ms_at, from_request_id
		FROM requests
		WHERE state IN (?, ?, ?, ?) AND retry_ms_at <= ?
		ORDER BY retry_ms_at ASC
		LIMIT 5
	`, string(domain.StateCreated), string(domain.StateFailed), string(domain.StatePanic), string(domain.StateTimeout), nowMS)
	if err != nil {
		return nil, errs.Wrap("store.list_failed_requests", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	defer rows.Close()
	return scanRequests(rows)
}

func scanRequests(rows *sql.Rows) ([]domain.Request, error) {
	var out []domain.Request
	for rows.Next() {
		var (
			r             domain.Request
			headersJSON   string
			body          sql.NullString
			state         string
			fromRequestID sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Method, &r.URI, &headersJSON, &body, &state, &r.CreatedAt, &r.RetryMSAt, &fromRequestID); err != nil {
			return nil, errs.Wrap("store.scan_requests", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
		}
		if err := json.Unmarshal([]byte(headersJSON), &r.Headers); err != nil {
			return nil, errs.Wrap("store.scan_requests", "", fmt.Errorf("%w: decode headers: %v", errs.ErrStorage, err))
		}
		if body.Valid {
			r.Body = []byte(body.String)
		}
		r.State = domain.RequestState(state)
		r.FromRequestID = fromRequestID.Int64
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddRequestToQueue(ctx context.Context, id int64) error {
	nowMS := s.clock.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET state = ?, retry_ms_at = ? WHERE id = ?
	`, string(domain.StateCreated), nowMS, id)
	if err != nil {
		return errs.Wrap("store.add_request_to_queue", fmt.Sprint(id), fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	return nil
}

// PurgeCompletedRequests deletes Completed requests older than days days.
// Uses created_at < cutoff: the "delete old rows" intent spec.md's Open
// Question raises only holds for the "<" direction (SPEC_FULL.md §4.1).
func (s *SQLiteStore) PurgeCompletedRequests(ctx context.Context, days int) (int64, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -days).Unix()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM requests WHERE state = ? AND created_at < ?
	`, string(domain.StateCompleted), cutoff)
	if err != nil {
		return 0, errs.Wrap("store.purge_completed_requests", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListRequests(ctx context.Context, filter RequestFilter) ([]domain.Request, int, error) {
	where, args := requestFilterClause(filter)

	var total int
	countQuery := "SELECT COUNT(*) FROM requests" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errs.Wrap("store.list_requests", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}

	column := requestSortColumns[filter.Sort]
	if column == "" {
		column = "id"
	}
	order := filter.Order
	if order != Ascending && order != Descending {
		order = Ascending
	}
	limit := filter.End - filter.Start
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT id, method, uri, headers, body, state, created_at, retry_ms_at, from_request_id
		FROM requests%s
		ORDER BY %s %s
		LIMIT ? OFFSET ?
	`, where, column, order)
	args = append(args, limit, filter.Start)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errs.Wrap("store.list_requests", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	defer rows.Close()

	reqs, err := scanRequests(rows)
	return reqs, total, err
}

func requestFilterClause(filter RequestFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		clauses = append(clauses, fmt.Sprintf("id IN (%s)", join(placeholders, ",")))
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, st := range filter.States {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, fmt.Sprintf("state IN (%s)", join(placeholders, ",")))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + join(clauses, " AND "), args
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

func (s *SQLiteStore) ForkRequest(ctx context.Context, fromID int64) (int64, error) {
	from, err := s.GetRequest(ctx, fromID)
	if err != nil {
		return 0, err
	}

	encodedHeaders, err := json.Marshal(from.Headers)
	if err != nil {
		return 0, errs.Wrap("store.fork_request", fmt.Sprint(fromID), fmt.Errorf("%w: encode headers: %v", errs.ErrStorage, err))
	}

	now := s.clock.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (method, uri, headers, body, state, created_at, retry_ms_at, from_request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, from.Method, from.URI, string(encodedHeaders), from.Body, string(domain.StateCreated), now, now*1000, fromID)
	if err != nil {
		return 0, errs.Wrap("store.fork_request", fmt.Sprint(fromID), fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) InsertAttempt(ctx context.Context, requestID int64, status int, body []byte) (int64, error) {
	now := s.clock.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (request_id, response_status, response_body, created_at)
		VALUES (?, ?, ?, ?)
	`, requestID, status, body, now)
	if err != nil {
		return 0, errs.Wrap("store.insert_attempt", fmt.Sprint(requestID), fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) AttemptCount(ctx context.Context, requestID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE request_id = ?`, requestID).Scan(&count)
	if err != nil {
		return 0, errs.Wrap("store.attempt_count", fmt.Sprint(requestID), fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	return count, nil
}

func (s *SQLiteStore) ListAttemptsByRequest(ctx context.Context, requestID int64) ([]domain.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, response_status, response_body, created_at
		FROM attempts WHERE request_id = ? ORDER BY id ASC
	`, requestID)
	if err != nil {
		return nil, errs.Wrap("store.list_attempts_by_request", fmt.Sprint(requestID), fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]domain.Attempt, error) {
	var out []domain.Attempt
	for rows.Next() {
		var (
			a    domain.Attempt
			body sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.RequestID, &a.ResponseStatus, &body, &a.CreatedAt); err != nil {
			return nil, errs.Wrap("store.scan_attempts", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
		}
		if body.Valid {
			a.ResponseBody = []byte(body.String)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, filter AttemptFilter) ([]domain.Attempt, int, error) {
	where := ""
	var args []interface{}
	if filter.RequestID != 0 {
		where = " WHERE request_id = ?"
		args = append(args, filter.RequestID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attempts"+where, args...).Scan(&total); err != nil {
		return nil, 0, errs.Wrap("store.list_attempts", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}

	column := attemptSortColumns[filter.Sort]
	if column == "" {
		column = "id"
	}
	order := filter.Order
	if order != Ascending && order != Descending {
		order = Ascending
	}
	limit := filter.End - filter.Start
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT id, request_id, response_status, response_body, created_at
		FROM attempts%s
		ORDER BY %s %s
		LIMIT ? OFFSET ?
	`, where, column, order)
	args = append(args, limit, filter.Start)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errs.Wrap("store.list_attempts", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	defer rows.Close()

	attempts, err := scanAttempts(rows)
	return attempts, total, err
}

func (s *SQLiteStore) InsertOrigin(ctx context.Context, o domain.Origin) (int64, error) {
	now := s.clock.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO origins (domain, origin_uri, timeout_ms, alert_threshold, alert_email,
			smtp_host, smtp_port, smtp_username, smtp_password, smtp_tls, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.Domain, o.OriginURI, o.TimeoutMS, o.AlertThreshold, o.AlertEmail,
		o.SMTPHost, o.SMTPPort, o.SMTPUsername, o.SMTPPassword, boolToInt(o.SMTPTLS), now, now)
	if err != nil {
		return 0, errs.Wrap("store.insert_origin", o.Domain, fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateOrigin(ctx context.Context, o domain.Origin) error {
	now := s.clock.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		UPDATE origins SET domain=?, origin_uri=?, timeout_ms=?, alert_threshold=?, alert_email=?,
			smtp_host=?, smtp_port=?, smtp_username=?, smtp_password=?, smtp_tls=?, updated_at=?
		WHERE id=?
	`, o.Domain, o.OriginURI, o.TimeoutMS, o.AlertThreshold, o.AlertEmail,
		o.SMTPHost, o.SMTPPort, o.SMTPUsername, o.SMTPPassword, boolToInt(o.SMTPTLS), now, o.ID)
	if err != nil {
		return errs.Wrap("store.update_origin", fmt.Sprint(o.ID), fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	return nil
}

func (s *SQLiteStore) DeleteOrigin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM origins WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap("store.delete_origin", fmt.Sprint(id), fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	return nil
}

func (s *SQLiteStore) GetOrigin(ctx context.Context, id int64) (domain.Origin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, origin_uri, timeout_ms, alert_threshold, alert_email,
			smtp_host, smtp_port, smtp_username, smtp_password, smtp_tls, created_at, updated_at
		FROM origins WHERE id = ?
	`, id)
	return scanOrigin(row)
}

func scanOrigin(row *sql.Row) (domain.Origin, error) {
	var (
		o       domain.Origin
		smtpTLS int
	)
	err := row.Scan(&o.ID, &o.Domain, &o.OriginURI, &o.TimeoutMS, &o.AlertThreshold, &o.AlertEmail,
		&o.SMTPHost, &o.SMTPPort, &o.SMTPUsername, &o.SMTPPassword, &smtpTLS, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Origin{}, errs.Wrap("store.get_origin", "", errs.ErrNotFound)
		}
		return domain.Origin{}, errs.Wrap("store.get_origin", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	o.SMTPTLS = smtpTLS != 0
	return o, nil
}

func (s *SQLiteStore) ListOrigins(ctx context.Context) ([]domain.Origin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, origin_uri, timeout_ms, alert_threshold, alert_email,
			smtp_host, smtp_port, smtp_username, smtp_password, smtp_tls, created_at, updated_at
		FROM origins ORDER BY id ASC
	`)
	if err != nil {
		return nil, errs.Wrap("store.list_origins", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
	}
	defer rows.Close()

	var out []domain.Origin
	for rows.Next() {
		var (
			o       domain.Origin
			smtpTLS int
		)
		if err := rows.Scan(&o.ID, &o.Domain, &o.OriginURI, &o.TimeoutMS, &o.AlertThreshold, &o.AlertEmail,
			&o.SMTPHost, &o.SMTPPort, &o.SMTPUsername, &o.SMTPPassword, &smtpTLS, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, errs.Wrap("store.list_origins", "", fmt.Errorf("%w: %v", errs.ErrStorage, err))
		}
		o.SMTPTLS = smtpTLS != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)

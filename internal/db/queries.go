package db

import (
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/esnunes/quickllm/internal/models"
)

// Queries wraps the history database. All mutating operations are
// append-or-update; rows are only removed by the explicit clear and prune
// operations. Content lengths are always recomputed from the text, never
// trusted from the caller.
type Queries struct {
	db *sql.DB
}

func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Sessions

func (q *Queries) CreateSession(provider, model string) (string, error) {
	sessionID := uuid.NewString()
	_, err := q.db.Exec(
		`INSERT INTO sessions (session_id, provider, model) VALUES (?, ?, ?)`,
		sessionID, provider, model,
	)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return sessionID, nil
}

func (q *Queries) EndSession(sessionID string) error {
	_, err := q.db.Exec(
		`UPDATE sessions SET end_time = datetime('now') WHERE session_id = ?`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	return nil
}

func (q *Queries) IncrementSessionRequests(sessionID string) error {
	_, err := q.db.Exec(
		`UPDATE sessions SET total_requests = total_requests + 1 WHERE session_id = ?`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("updating session request count: %w", err)
	}
	return nil
}

func (q *Queries) GetSession(sessionID string) (*models.Session, error) {
	s := &models.Session{}
	var startTime string
	var endTime *string
	err := q.db.QueryRow(
		`SELECT id, session_id, start_time, end_time, provider, model, total_requests
		 FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&s.ID, &s.SessionID, &startTime, &endTime, &s.Provider, &s.Model, &s.TotalRequests)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	s.StartTime, _ = time.Parse(time.DateTime, startTime)
	s.EndTime = parseTimePtr(endTime)
	return s, nil
}

func (q *Queries) RecentSessions(limit int) ([]models.Session, error) {
	rows, err := q.db.Query(
		`SELECT id, session_id, start_time, end_time, provider, model, total_requests
		 FROM sessions ORDER BY start_time DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var results []models.Session
	for rows.Next() {
		var s models.Session
		var startTime string
		var endTime *string
		if err := rows.Scan(&s.ID, &s.SessionID, &startTime, &endTime, &s.Provider, &s.Model, &s.TotalRequests); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		s.StartTime, _ = time.Parse(time.DateTime, startTime)
		s.EndTime = parseTimePtr(endTime)
		results = append(results, s)
	}
	return results, rows.Err()
}

// Requests

// CreateRequest inserts a request in the pending state, before the provider
// call is made.
func (q *Queries) CreateRequest(sessionID, provider, model, mode, inputText string) (int64, error) {
	res, err := q.db.Exec(
		`INSERT INTO requests (session_id, provider, model, mode, input_text, input_length, status)
		 VALUES (?, ?, ?, ?, ?, ?, 'pending')`,
		sessionID, provider, model, mode, inputText, utf8.RuneCountInString(inputText),
	)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// CompleteRequest records the single terminal success update.
func (q *Queries) CompleteRequest(id int64, outputText string, processingTime time.Duration) error {
	_, err := q.db.Exec(
		`UPDATE requests SET status = 'success', output_text = ?, output_length = ?, processing_time_ms = ?, error_message = NULL
		 WHERE id = ?`,
		outputText, utf8.RuneCountInString(outputText), processingTime.Milliseconds(), id,
	)
	if err != nil {
		return fmt.Errorf("completing request: %w", err)
	}
	return nil
}

// FailRequest records the single terminal error update.
func (q *Queries) FailRequest(id int64, errMsg string, processingTime time.Duration) error {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	_, err := q.db.Exec(
		`UPDATE requests SET status = 'error', error_message = ?, processing_time_ms = ?, output_text = NULL, output_length = NULL
		 WHERE id = ?`,
		errMsg, processingTime.Milliseconds(), id,
	)
	if err != nil {
		return fmt.Errorf("failing request: %w", err)
	}
	return nil
}

func (q *Queries) GetRequest(id int64) (*models.Request, error) {
	r := &models.Request{}
	var timestamp string
	err := q.db.QueryRow(
		`SELECT id, session_id, provider, model, mode, input_text, output_text,
		        input_length, output_length, processing_time_ms, status, error_message, timestamp
		 FROM requests WHERE id = ?`, id,
	).Scan(&r.ID, &r.SessionID, &r.Provider, &r.Model, &r.Mode, &r.InputText, &r.OutputText,
		&r.InputLength, &r.OutputLength, &r.ProcessingTimeMs, &r.Status, &r.ErrorMessage, &timestamp)
	if err != nil {
		return nil, fmt.Errorf("getting request: %w", err)
	}
	r.Timestamp, _ = time.Parse(time.DateTime, timestamp)
	return r, nil
}

// Clipboard operations

func (q *Queries) LogClipboard(sessionID, operationType, content string, mode *string, source string) error {
	_, err := q.db.Exec(
		`INSERT INTO clipboard_operations (session_id, operation_type, content, content_length, mode, source)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, operationType, content, utf8.RuneCountInString(content), mode, source,
	)
	if err != nil {
		return fmt.Errorf("logging clipboard operation: %w", err)
	}
	return nil
}

// History

func (q *Queries) AddHistory(sessionID, mode, originalText, processedText, provider, model string, processingTime time.Duration) error {
	_, err := q.db.Exec(
		`INSERT INTO history (session_id, mode, original_text, processed_text, provider, model, processing_time_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, mode, originalText, processedText, provider, model, processingTime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("adding history entry: %w", err)
	}
	return nil
}

// ListHistory returns entries newest-first, optionally scoped to a session.
func (q *Queries) ListHistory(sessionID string, limit, offset int) ([]models.HistoryEntry, error) {
	query := `SELECT id, session_id, mode, original_text, processed_text, provider, model, processing_time_ms, timestamp
	          FROM history`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var results []models.HistoryEntry
	for rows.Next() {
		var h models.HistoryEntry
		var timestamp string
		if err := rows.Scan(&h.ID, &h.SessionID, &h.Mode, &h.OriginalText, &h.ProcessedText,
			&h.Provider, &h.Model, &h.ProcessingTimeMs, &timestamp); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		h.Timestamp, _ = time.Parse(time.DateTime, timestamp)
		results = append(results, h)
	}
	return results, rows.Err()
}

// ClearHistory removes history entries, scoped to a session when given.
// Sessions and requests are never touched.
func (q *Queries) ClearHistory(sessionID string) error {
	var err error
	if sessionID != "" {
		_, err = q.db.Exec(`DELETE FROM history WHERE session_id = ?`, sessionID)
	} else {
		_, err = q.db.Exec(`DELETE FROM history`)
	}
	if err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// PruneHistory keeps only the newest maxItems entries.
func (q *Queries) PruneHistory(maxItems int) error {
	if maxItems <= 0 {
		return nil
	}
	_, err := q.db.Exec(
		`DELETE FROM history WHERE id NOT IN (
		     SELECT id FROM history ORDER BY timestamp DESC, id DESC LIMIT ?
		 )`, maxItems,
	)
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	return nil
}

// Aggregates

func (q *Queries) SessionStats(sessionID string) (*models.SessionStats, error) {
	st := &models.SessionStats{}
	var startTime string
	var endTime *string
	err := q.db.QueryRow(
		`SELECT s.session_id, s.start_time, s.end_time, s.provider, s.model,
		        COUNT(r.id),
		        COALESCE(SUM(CASE WHEN r.status = 'success' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN r.status = 'error' THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(r.processing_time_ms), 0),
		        COALESCE(SUM(r.input_length), 0),
		        COALESCE(SUM(r.output_length), 0)
		 FROM sessions s
		 LEFT JOIN requests r ON s.session_id = r.session_id
		 WHERE s.session_id = ?
		 GROUP BY s.session_id`, sessionID,
	).Scan(&st.SessionID, &startTime, &endTime, &st.Provider, &st.Model,
		&st.TotalRequests, &st.SuccessfulRequests, &st.FailedRequests,
		&st.AvgProcessingMs, &st.TotalInputChars, &st.TotalOutputChars)
	if err != nil {
		return nil, fmt.Errorf("getting session stats: %w", err)
	}
	st.StartTime, _ = time.Parse(time.DateTime, startTime)
	st.EndTime = parseTimePtr(endTime)
	return st, nil
}

// Settings backups

func (q *Queries) BackupSettings(name, settingsJSON string) error {
	if name == "" {
		name = "backup_" + time.Now().UTC().Format(time.RFC3339)
	}
	_, err := q.db.Exec(
		`INSERT INTO settings_backup (backup_name, settings_json) VALUES (?, ?)`,
		name, settingsJSON,
	)
	if err != nil {
		return fmt.Errorf("backing up settings: %w", err)
	}
	return nil
}

func (q *Queries) ListSettingsBackups(limit int) ([]models.SettingsBackup, error) {
	rows, err := q.db.Query(
		`SELECT id, backup_name, settings_json, timestamp
		 FROM settings_backup ORDER BY timestamp DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing settings backups: %w", err)
	}
	defer rows.Close()

	var results []models.SettingsBackup
	for rows.Next() {
		var b models.SettingsBackup
		var timestamp string
		if err := rows.Scan(&b.ID, &b.BackupName, &b.Settings, &timestamp); err != nil {
			return nil, fmt.Errorf("scanning settings backup: %w", err)
		}
		b.Timestamp, _ = time.Parse(time.DateTime, timestamp)
		results = append(results, b)
	}
	return results, rows.Err()
}

// Export

func (q *Queries) ExportData() (*models.Export, error) {
	out := &models.Export{ExportedAt: time.Now().UTC()}

	sessions, err := q.RecentSessions(1 << 30)
	if err != nil {
		return nil, err
	}
	out.Sessions = sessions

	rows, err := q.db.Query(
		`SELECT id, session_id, provider, model, mode, input_text, output_text,
		        input_length, output_length, processing_time_ms, status, error_message, timestamp
		 FROM requests ORDER BY timestamp DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("exporting requests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r models.Request
		var timestamp string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Provider, &r.Model, &r.Mode, &r.InputText, &r.OutputText,
			&r.InputLength, &r.OutputLength, &r.ProcessingTimeMs, &r.Status, &r.ErrorMessage, &timestamp); err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.DateTime, timestamp)
		out.Requests = append(out.Requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	history, err := q.ListHistory("", 1<<30, 0)
	if err != nil {
		return nil, err
	}
	out.History = history

	clipRows, err := q.db.Query(
		`SELECT id, session_id, operation_type, content, content_length, mode, source, timestamp
		 FROM clipboard_operations ORDER BY timestamp DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("exporting clipboard operations: %w", err)
	}
	defer clipRows.Close()
	for clipRows.Next() {
		var c models.ClipboardOperation
		var timestamp string
		if err := clipRows.Scan(&c.ID, &c.SessionID, &c.OperationType, &c.Content, &c.ContentLength,
			&c.Mode, &c.Source, &timestamp); err != nil {
			return nil, fmt.Errorf("scanning clipboard operation: %w", err)
		}
		c.Timestamp, _ = time.Parse(time.DateTime, timestamp)
		out.Clipboard = append(out.Clipboard, c)
	}
	return out, clipRows.Err()
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.DateTime, *s)
	if err != nil {
		return nil
	}
	return &t
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quillforge/quillforge/pkg/models"
)

// SessionStore persists durable session records with SQLite.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a new SQLite session store.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Insert persists a new session record and returns its generated id.
func (s *SessionStore) Insert(ctx context.Context, rec *models.SessionRecord) (string, error) {
	id := uuid.New().String()
	status := rec.Status
	if status == "" {
		status = models.SessionInProgress
	}

	cols, err := marshalSlots(rec)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, status, tracking_id, source, angles, angles_context, selected_angle,
			approved_context, outline, selected_hook, selected_template, written_content)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(status), nullStr(rec.TrackingID),
		cols.source, cols.angles, cols.anglesContext, cols.selectedAngle,
		cols.approvedContext, cols.outline, cols.selectedHook, cols.selectedTemplate, cols.writtenContent,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

// Update overwrites the record's slot values by id. Every update carries
// the full current slot values, so last-write-wins is at whole-record
// granularity.
func (s *SessionStore) Update(ctx context.Context, id string, rec *models.SessionRecord) error {
	status := rec.Status
	if status == "" {
		status = models.SessionInProgress
	}

	cols, err := marshalSlots(rec)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, tracking_id = ?, source = ?, angles = ?, angles_context = ?,
			selected_angle = ?, approved_context = ?, outline = ?, selected_hook = ?,
			selected_template = ?, written_content = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		string(status), nullStr(rec.TrackingID),
		cols.source, cols.angles, cols.anglesContext, cols.selectedAngle,
		cols.approvedContext, cols.outline, cols.selectedHook, cols.selectedTemplate, cols.writtenContent,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// Get retrieves a session record by its id.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	var (
		status     string
		trackingID sql.NullString
		cols       slotColumns
		createdAt  time.Time
		updatedAt  time.Time
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT status, tracking_id, source, angles, angles_context, selected_angle, approved_context,
			outline, selected_hook, selected_template, written_content, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&status, &trackingID, &cols.source, &cols.angles, &cols.anglesContext, &cols.selectedAngle,
		&cols.approvedContext, &cols.outline, &cols.selectedHook, &cols.selectedTemplate,
		&cols.writtenContent, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	rec := &models.SessionRecord{
		ID:         id,
		Status:     models.SessionStatus(status),
		TrackingID: trackingID.String,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
	if err := unmarshalSlots(&cols, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns session summaries ordered by most recently updated.
func (s *SessionStore) List(ctx context.Context, limit int) ([]*models.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, created_at, updated_at FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var recs []*models.SessionRecord
	for rows.Next() {
		rec := &models.SessionRecord{}
		var status string
		if err := rows.Scan(&rec.ID, &status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		rec.Status = models.SessionStatus(status)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// StatusCounts returns the number of sessions per lifecycle status.
func (s *SessionStore) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan session count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// slotColumns holds the JSON-encoded nullable slot values as stored.
type slotColumns struct {
	source           sql.NullString
	angles           sql.NullString
	anglesContext    sql.NullString
	selectedAngle    sql.NullString
	approvedContext  sql.NullString
	outline          sql.NullString
	selectedHook     sql.NullString
	selectedTemplate sql.NullString
	writtenContent   sql.NullString
}

func marshalSlots(rec *models.SessionRecord) (*slotColumns, error) {
	cols := &slotColumns{}
	var err error
	if cols.source, err = jsonCol(rec.Source); err != nil {
		return nil, err
	}
	if rec.Angles != nil {
		if cols.angles, err = jsonCol(rec.Angles); err != nil {
			return nil, err
		}
	}
	cols.anglesContext = rawCol(rec.AnglesContext)
	if cols.selectedAngle, err = jsonCol(rec.SelectedAngle); err != nil {
		return nil, err
	}
	cols.approvedContext = rawCol(rec.ApprovedContext)
	if cols.outline, err = jsonCol(rec.Outline); err != nil {
		return nil, err
	}
	if cols.selectedHook, err = jsonCol(rec.SelectedHook); err != nil {
		return nil, err
	}
	if cols.selectedTemplate, err = jsonCol(rec.SelectedTemplate); err != nil {
		return nil, err
	}
	if cols.writtenContent, err = jsonCol(rec.WrittenContent); err != nil {
		return nil, err
	}
	return cols, nil
}

func unmarshalSlots(cols *slotColumns, rec *models.SessionRecord) error {
	if cols.source.Valid {
		rec.Source = &models.Source{}
		if err := json.Unmarshal([]byte(cols.source.String), rec.Source); err != nil {
			return fmt.Errorf("failed to decode source: %w", err)
		}
	}
	if cols.angles.Valid {
		if err := json.Unmarshal([]byte(cols.angles.String), &rec.Angles); err != nil {
			return fmt.Errorf("failed to decode angles: %w", err)
		}
	}
	if cols.anglesContext.Valid {
		rec.AnglesContext = models.RawContext(cols.anglesContext.String)
	}
	if cols.selectedAngle.Valid {
		rec.SelectedAngle = &models.Angle{}
		if err := json.Unmarshal([]byte(cols.selectedAngle.String), rec.SelectedAngle); err != nil {
			return fmt.Errorf("failed to decode selected angle: %w", err)
		}
	}
	if cols.approvedContext.Valid {
		rec.ApprovedContext = models.RawContext(cols.approvedContext.String)
	}
	if cols.outline.Valid {
		rec.Outline = &models.Outline{}
		if err := json.Unmarshal([]byte(cols.outline.String), rec.Outline); err != nil {
			return fmt.Errorf("failed to decode outline: %w", err)
		}
	}
	if cols.selectedHook.Valid {
		rec.SelectedHook = &models.HookOption{}
		if err := json.Unmarshal([]byte(cols.selectedHook.String), rec.SelectedHook); err != nil {
			return fmt.Errorf("failed to decode selected hook: %w", err)
		}
	}
	if cols.selectedTemplate.Valid {
		rec.SelectedTemplate = &models.TemplateOption{}
		if err := json.Unmarshal([]byte(cols.selectedTemplate.String), rec.SelectedTemplate); err != nil {
			return fmt.Errorf("failed to decode selected template: %w", err)
		}
	}
	if cols.writtenContent.Valid {
		rec.WrittenContent = &models.WrittenContent{}
		if err := json.Unmarshal([]byte(cols.writtenContent.String), rec.WrittenContent); err != nil {
			return fmt.Errorf("failed to decode written content: %w", err)
		}
	}
	return nil
}

// jsonCol marshals a possibly-nil pointer (or slice) into a nullable
// column value.
func jsonCol(v any) (sql.NullString, error) {
	if isNil(v) {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode slot: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func rawCol(raw models.RawContext) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isNil(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case *models.Source:
		return x == nil
	case *models.Angle:
		return x == nil
	case *models.Outline:
		return x == nil
	case *models.HookOption:
		return x == nil
	case *models.TemplateOption:
		return x == nil
	case *models.WrittenContent:
		return x == nil
	case []models.Angle:
		return x == nil
	}
	return false
}

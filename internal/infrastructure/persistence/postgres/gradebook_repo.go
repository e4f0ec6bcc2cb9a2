package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/classpulse/classpulse-core/internal/domain/gradebook"
	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
	"github.com/classpulse/classpulse-core/pkg/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRADEBOOK REPOSITORY
// The only write path for grade records and gradebook entries. ApplyGrade
// runs one serializable transaction covering source re-validation, the
// record upsert, the entry delta, and the grade.mutated ledger append.
// ══════════════════════════════════════════════════════════════════════════════

// GradebookRepo implements gradebook.Store on PostgreSQL.
type GradebookRepo struct {
	conn    *Connection
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewGradebookRepo creates a new GradebookRepo. m may be nil.
func NewGradebookRepo(conn *Connection, m *metrics.Metrics) *GradebookRepo {
	return &GradebookRepo{conn: conn, metrics: m, now: time.Now}
}

// ─────────────────────────────────────────────────────────────────────────────
// Source definitions
// ─────────────────────────────────────────────────────────────────────────────

// RegisterSource persists a grade source definition. Re-registering the
// same reference replaces the definition and bumps its version.
func (r *GradebookRepo) RegisterSource(ctx context.Context, src gradebook.GradeSource) error {
	if err := src.Validate(); err != nil {
		return err
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO grade_sources (
			course_id, source_type, source_id, title,
			points_possible, due_at, allotted_seconds, version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
		ON CONFLICT (course_id, source_type, source_id) DO UPDATE SET
			title = EXCLUDED.title,
			points_possible = EXCLUDED.points_possible,
			due_at = EXCLUDED.due_at,
			allotted_seconds = EXCLUDED.allotted_seconds,
			version = grade_sources.version + 1`,
		src.CourseID.String(),
		src.Ref.Type.String(),
		src.Ref.ID,
		src.Title,
		src.PointsPossible.Float64(),
		nullableTime(src.DueAt),
		int(src.Allotted.Seconds()),
		r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to register source: %w", err)
	}
	return nil
}

const selectSourceSQL = `
	SELECT course_id, source_type, source_id, title,
	       points_possible, due_at, allotted_seconds, version, created_at
	FROM grade_sources
`

// GetSource returns the definition for a source reference.
func (r *GradebookRepo) GetSource(ctx context.Context, courseID shared.CourseID, ref shared.SourceRef) (*gradebook.GradeSource, error) {
	row := r.conn.QueryRow(ctx,
		selectSourceSQL+" WHERE course_id = $1 AND source_type = $2 AND source_id = $3",
		courseID.String(), ref.Type.String(), ref.ID)
	src, err := scanSource(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSourceNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get source: %w", err)
	}
	return src, nil
}

// ListSources returns all source definitions for a course.
func (r *GradebookRepo) ListSources(ctx context.Context, courseID shared.CourseID) ([]gradebook.GradeSource, error) {
	rows, err := r.conn.Query(ctx,
		selectSourceSQL+" WHERE course_id = $1 ORDER BY source_type, source_id",
		courseID.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []gradebook.GradeSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan source: %w", err)
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Grade mutation
// ─────────────────────────────────────────────────────────────────────────────

// ApplyGrade executes one atomic grade transaction:
//
//  1. re-read the source definition and re-validate the score against it
//  2. read the prior record, if any
//  3. upsert the record at revision prior+1
//  4. advance the gradebook entry by the freshly computed deltas
//  5. append grade.mutated to the ledger
//
// All five steps commit together or not at all. A serialization failure
// surfaces as shared.ErrConcurrentModification; the caller retries the
// whole mutation so every read is fresh.
func (r *GradebookRepo) ApplyGrade(ctx context.Context, m gradebook.Mutation) (*gradebook.MutationResult, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	var (
		result        *gradebook.MutationResult
		eventInserted bool
	)

	err := r.conn.WithTx(ctx, SerializableTxOptions(), func(tx pgx.Tx) error {
		source, err := getSourceTx(ctx, tx, m.CourseID, m.Source)
		if err != nil {
			return err
		}
		if m.PointsPossible != source.PointsPossible {
			return shared.ErrPointsMismatch
		}
		if err := shared.ValidateScore(m.Score, source.PointsPossible); err != nil {
			return err
		}

		prior, err := getRecordTx(ctx, tx, m.CourseID, m.RecordID())
		if err != nil && !shared.IsNotFound(err) {
			return err
		}

		record := m.NextRecord(prior, *source, now)
		if err := upsertRecordTx(ctx, tx, record); err != nil {
			return err
		}

		deltaScore, deltaPossible := m.Deltas(prior)
		entry, err := advanceEntryTx(ctx, tx, m.CourseID, m.StudentID, deltaScore, deltaPossible, now)
		if err != nil {
			return err
		}

		before := gradebook.Snapshot{}
		if prior != nil {
			before = prior.Snapshot()
		}
		after := record.Snapshot()

		ev, err := ledger.NewDomainEvent(ledger.EventInput{
			Type:      shared.EventGradeMutated,
			CourseID:  m.CourseID,
			ActorUID:  m.GradedBy,
			ActorRole: m.ActorRole,
			Aggregate: ledger.Aggregate{
				Kind:    shared.AggregateGradeRecord,
				ID:      record.RecordID,
				Version: record.GradeRevision.Int(),
			},
			Payload:        gradebook.MutatedPayload(m, before, after, deltaScore, deltaPossible),
			IdempotencyKey: ledger.Key(shared.EventGradeMutated, m.CourseID, record.GradeRevision.Int(), record.RecordID),
			RequestID:      m.RequestID,
			OccurredAt:     now,
		}, now)
		if err != nil {
			return err
		}
		inserted, err := appendEvent(ctx, tx, ev)
		if err != nil {
			return err
		}
		eventInserted = inserted

		result = &gradebook.MutationResult{
			Before:        before,
			After:         after,
			Record:        record,
			Entry:         *entry,
			DeltaScore:    deltaScore,
			DeltaPossible: deltaPossible,
			Event:         ev,
		}
		return nil
	})
	if err != nil {
		if IsSerializationFailure(err) {
			return nil, shared.WrapError("gradebook", "ApplyGrade",
				shared.ErrConcurrentModification, "grade transaction lost a write race", err)
		}
		return nil, err
	}
	// Counted after commit so a retried transaction is not double-counted.
	r.metrics.ObserveAppend(string(shared.EventGradeMutated), eventInserted)
	return result, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// GetRecord returns a grade record by its deterministic ID.
func (r *GradebookRepo) GetRecord(ctx context.Context, courseID shared.CourseID, recordID string) (*gradebook.GradeRecord, error) {
	row := r.conn.QueryRow(ctx,
		selectRecordSQL+" WHERE course_id = $1 AND record_id = $2",
		courseID.String(), recordID)
	rec, err := scanRecord(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrRecordNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get record: %w", err)
	}
	return rec, nil
}

// ListRecordsByStudent returns all grade records for one student in a course.
func (r *GradebookRepo) ListRecordsByStudent(ctx context.Context, courseID shared.CourseID, studentID shared.StudentID) ([]gradebook.GradeRecord, error) {
	return r.listRecords(ctx,
		selectRecordSQL+" WHERE course_id = $1 AND student_id = $2 ORDER BY record_id",
		courseID.String(), studentID.String())
}

// ListRecordsByCourse returns all grade records in a course.
func (r *GradebookRepo) ListRecordsByCourse(ctx context.Context, courseID shared.CourseID) ([]gradebook.GradeRecord, error) {
	return r.listRecords(ctx,
		selectRecordSQL+" WHERE course_id = $1 ORDER BY record_id",
		courseID.String())
}

func (r *GradebookRepo) listRecords(ctx context.Context, query string, args ...interface{}) ([]gradebook.GradeRecord, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list records: %w", err)
	}
	defer rows.Close()

	var records []gradebook.GradeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// GetEntry returns the live gradebook entry for a student.
func (r *GradebookRepo) GetEntry(ctx context.Context, courseID shared.CourseID, studentID shared.StudentID) (*gradebook.GradebookEntry, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT course_id, student_id, total_score, total_possible, computed_at
		FROM gradebook_entries
		WHERE course_id = $1 AND student_id = $2`,
		courseID.String(), studentID.String())
	entry, err := scanEntry(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEntryNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get entry: %w", err)
	}
	return entry, nil
}

// ListEntries returns all live gradebook entries in a course.
func (r *GradebookRepo) ListEntries(ctx context.Context, courseID shared.CourseID) ([]gradebook.GradebookEntry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT course_id, student_id, total_score, total_possible, computed_at
		FROM gradebook_entries
		WHERE course_id = $1
		ORDER BY student_id`, courseID.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []gradebook.GradebookEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Transaction helpers
// ─────────────────────────────────────────────────────────────────────────────

func getSourceTx(ctx context.Context, tx pgx.Tx, courseID shared.CourseID, ref shared.SourceRef) (*gradebook.GradeSource, error) {
	row := tx.QueryRow(ctx,
		selectSourceSQL+" WHERE course_id = $1 AND source_type = $2 AND source_id = $3",
		courseID.String(), ref.Type.String(), ref.ID)
	src, err := scanSource(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSourceNotFound
		}
		return nil, err
	}
	return src, nil
}

func getRecordTx(ctx context.Context, tx pgx.Tx, courseID shared.CourseID, recordID string) (*gradebook.GradeRecord, error) {
	row := tx.QueryRow(ctx,
		selectRecordSQL+" WHERE course_id = $1 AND record_id = $2",
		courseID.String(), recordID)
	rec, err := scanRecord(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

func upsertRecordTx(ctx context.Context, tx pgx.Tx, rec gradebook.GradeRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO grade_records (
			record_id, course_id, student_id, source_type, source_id,
			source_version, score, points_possible, feedback,
			graded_by, grade_revision, graded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (course_id, record_id) DO UPDATE SET
			source_version = EXCLUDED.source_version,
			score = EXCLUDED.score,
			points_possible = EXCLUDED.points_possible,
			feedback = EXCLUDED.feedback,
			graded_by = EXCLUDED.graded_by,
			grade_revision = EXCLUDED.grade_revision,
			graded_at = EXCLUDED.graded_at`,
		rec.RecordID,
		rec.CourseID.String(),
		rec.StudentID.String(),
		rec.Source.Type.String(),
		rec.Source.ID,
		rec.SourceVersion,
		rec.Score.Float64(),
		rec.PointsPossible.Float64(),
		rec.Feedback,
		rec.GradedBy,
		rec.GradeRevision.Int(),
		rec.GradedAt,
	)
	return err
}

func advanceEntryTx(ctx context.Context, tx pgx.Tx, courseID shared.CourseID, studentID shared.StudentID, deltaScore, deltaPossible shared.Points, now time.Time) (*gradebook.GradebookEntry, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO gradebook_entries (course_id, student_id, total_score, total_possible, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (course_id, student_id) DO UPDATE SET
			total_score = gradebook_entries.total_score + EXCLUDED.total_score,
			total_possible = gradebook_entries.total_possible + EXCLUDED.total_possible,
			computed_at = EXCLUDED.computed_at
		RETURNING course_id, student_id, total_score, total_possible, computed_at`,
		courseID.String(),
		studentID.String(),
		deltaScore.Float64(),
		deltaPossible.Float64(),
		now,
	)
	return scanEntry(row)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ─────────────────────────────────────────────────────────────────────────────

const selectRecordSQL = `
	SELECT record_id, course_id, student_id, source_type, source_id,
	       source_version, score, points_possible, feedback,
	       graded_by, grade_revision, graded_at
	FROM grade_records
`

func scanSource(row pgx.Row) (*gradebook.GradeSource, error) {
	var (
		src             gradebook.GradeSource
		courseID        string
		sourceType      string
		dueAt           *time.Time
		allottedSeconds int
		points          float64
	)
	err := row.Scan(
		&courseID,
		&sourceType,
		&src.Ref.ID,
		&src.Title,
		&points,
		&dueAt,
		&allottedSeconds,
		&src.Version,
		&src.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	src.CourseID = shared.CourseID(courseID)
	src.Ref.Type = shared.SourceType(sourceType)
	src.PointsPossible = shared.Points(points)
	src.Allotted = time.Duration(allottedSeconds) * time.Second
	if dueAt != nil {
		src.DueAt = dueAt.UTC()
	}
	src.CreatedAt = src.CreatedAt.UTC()
	return &src, nil
}

func scanRecord(row pgx.Row) (*gradebook.GradeRecord, error) {
	var (
		rec        gradebook.GradeRecord
		courseID   string
		studentID  string
		sourceType string
		score      float64
		possible   float64
		revision   int
	)
	err := row.Scan(
		&rec.RecordID,
		&courseID,
		&studentID,
		&sourceType,
		&rec.Source.ID,
		&rec.SourceVersion,
		&score,
		&possible,
		&rec.Feedback,
		&rec.GradedBy,
		&revision,
		&rec.GradedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CourseID = shared.CourseID(courseID)
	rec.StudentID = shared.StudentID(studentID)
	rec.Source.Type = shared.SourceType(sourceType)
	rec.Score = shared.Points(score)
	rec.PointsPossible = shared.Points(possible)
	rec.GradeRevision = shared.Revision(revision)
	rec.GradedAt = rec.GradedAt.UTC()
	return &rec, nil
}

func scanEntry(row pgx.Row) (*gradebook.GradebookEntry, error) {
	var (
		entry     gradebook.GradebookEntry
		courseID  string
		studentID string
		score     float64
		possible  float64
	)
	err := row.Scan(&courseID, &studentID, &score, &possible, &entry.ComputedAt)
	if err != nil {
		return nil, err
	}
	entry.CourseID = shared.CourseID(courseID)
	entry.StudentID = shared.StudentID(studentID)
	entry.TotalScore = shared.Points(score)
	entry.TotalPossible = shared.Points(possible)
	entry.ComputedAt = entry.ComputedAt.UTC()
	return &entry, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/classpulse/classpulse-core/internal/domain/gradebook"
	"github.com/classpulse/classpulse-core/internal/domain/ledger"
	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// GradebookStore implements gradebook.Store in memory. A single mutex
// serializes grade mutations, so ApplyGrade is atomic the same way the
// postgres serializable transaction is.
type GradebookStore struct {
	mu      sync.RWMutex
	sources map[string]gradebook.GradeSource
	records map[string]gradebook.GradeRecord
	entries map[string]gradebook.GradebookEntry
	events  *EventLedger
	now     func() time.Time
}

// NewGradebookStore creates an empty store writing its grade.mutated
// events into the given ledger.
func NewGradebookStore(events *EventLedger) *GradebookStore {
	return &GradebookStore{
		sources: make(map[string]gradebook.GradeSource),
		records: make(map[string]gradebook.GradeRecord),
		entries: make(map[string]gradebook.GradebookEntry),
		events:  events,
		now:     time.Now,
	}
}

// SetClock overrides the mutation timestamp source. Test helper.
func (s *GradebookStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func sourceKey(courseID shared.CourseID, ref shared.SourceRef) string {
	return courseID.String() + "/" + ref.Key()
}

func recordKey(courseID shared.CourseID, recordID string) string {
	return courseID.String() + "/" + recordID
}

func entryKey(courseID shared.CourseID, studentID shared.StudentID) string {
	return courseID.String() + "/" + studentID.String()
}

// RegisterSource persists a grade source definition. Re-registering the
// same reference replaces the definition and bumps its version.
func (s *GradebookStore) RegisterSource(_ context.Context, src gradebook.GradeSource) error {
	if err := src.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sourceKey(src.CourseID, src.Ref)
	if prior, ok := s.sources[key]; ok {
		src.Version = prior.Version + 1
		src.CreatedAt = prior.CreatedAt
	} else {
		src.Version = 1
		src.CreatedAt = s.now().UTC()
	}
	s.sources[key] = src
	return nil
}

// GetSource returns the definition for a source reference.
func (s *GradebookStore) GetSource(_ context.Context, courseID shared.CourseID, ref shared.SourceRef) (*gradebook.GradeSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[sourceKey(courseID, ref)]
	if !ok {
		return nil, shared.ErrSourceNotFound
	}
	return &src, nil
}

// ListSources returns all source definitions for a course.
func (s *GradebookStore) ListSources(_ context.Context, courseID shared.CourseID) ([]gradebook.GradeSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sources []gradebook.GradeSource
	for _, src := range s.sources {
		if src.CourseID == courseID {
			sources = append(sources, src)
		}
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Ref.Key() < sources[j].Ref.Key()
	})
	return sources, nil
}

// ApplyGrade executes one atomic grade transaction under the store lock:
// source re-validation, prior read, record upsert, entry delta, and the
// grade.mutated ledger append.
func (s *GradebookStore) ApplyGrade(ctx context.Context, m gradebook.Mutation) (*gradebook.MutationResult, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.sources[sourceKey(m.CourseID, m.Source)]
	if !ok {
		return nil, shared.ErrSourceNotFound
	}
	if m.PointsPossible != source.PointsPossible {
		return nil, shared.ErrPointsMismatch
	}
	if err := shared.ValidateScore(m.Score, source.PointsPossible); err != nil {
		return nil, err
	}

	now := s.now().UTC()

	var prior *gradebook.GradeRecord
	if rec, ok := s.records[recordKey(m.CourseID, m.RecordID())]; ok {
		cp := rec
		prior = &cp
	}

	record := m.NextRecord(prior, source, now)
	deltaScore, deltaPossible := m.Deltas(prior)

	entry, ok := s.entries[entryKey(m.CourseID, m.StudentID)]
	if !ok {
		entry = gradebook.GradebookEntry{CourseID: m.CourseID, StudentID: m.StudentID}
	}
	entry.Apply(deltaScore, deltaPossible, now)

	before := gradebook.Snapshot{}
	if prior != nil {
		before = prior.Snapshot()
	}
	after := record.Snapshot()

	ev, err := s.events.Append(ctx, ledger.EventInput{
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
	})
	if err != nil {
		return nil, err
	}

	s.records[recordKey(m.CourseID, m.RecordID())] = record
	s.entries[entryKey(m.CourseID, m.StudentID)] = entry

	return &gradebook.MutationResult{
		Before:        before,
		After:         after,
		Record:        record,
		Entry:         entry,
		DeltaScore:    deltaScore,
		DeltaPossible: deltaPossible,
		Event:         ev,
	}, nil
}

// GetRecord returns a grade record by its deterministic ID.
func (s *GradebookStore) GetRecord(_ context.Context, courseID shared.CourseID, recordID string) (*gradebook.GradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey(courseID, recordID)]
	if !ok {
		return nil, shared.ErrRecordNotFound
	}
	return &rec, nil
}

// ListRecordsByStudent returns all grade records for one student in a course.
func (s *GradebookStore) ListRecordsByStudent(_ context.Context, courseID shared.CourseID, studentID shared.StudentID) ([]gradebook.GradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []gradebook.GradeRecord
	for _, rec := range s.records {
		if rec.CourseID == courseID && rec.StudentID == studentID {
			records = append(records, rec)
		}
	}
	sortRecords(records)
	return records, nil
}

// ListRecordsByCourse returns all grade records in a course.
func (s *GradebookStore) ListRecordsByCourse(_ context.Context, courseID shared.CourseID) ([]gradebook.GradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []gradebook.GradeRecord
	for _, rec := range s.records {
		if rec.CourseID == courseID {
			records = append(records, rec)
		}
	}
	sortRecords(records)
	return records, nil
}

// GetEntry returns the live gradebook entry for a student.
func (s *GradebookStore) GetEntry(_ context.Context, courseID shared.CourseID, studentID shared.StudentID) (*gradebook.GradebookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[entryKey(courseID, studentID)]
	if !ok {
		return nil, shared.ErrEntryNotFound
	}
	return &entry, nil
}

// ListEntries returns all live gradebook entries in a course.
func (s *GradebookStore) ListEntries(_ context.Context, courseID shared.CourseID) ([]gradebook.GradebookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []gradebook.GradebookEntry
	for _, entry := range s.entries {
		if entry.CourseID == courseID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StudentID < entries[j].StudentID
	})
	return entries, nil
}

// CorruptEntry overwrites a live entry's totals without touching its
// records. Test helper for exercising drift detection.
func (s *GradebookStore) CorruptEntry(courseID shared.CourseID, studentID shared.StudentID, score, possible shared.Points) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryKey(courseID, studentID)]
	if !ok {
		entry = gradebook.GradebookEntry{CourseID: courseID, StudentID: studentID}
	}
	entry.TotalScore = score
	entry.TotalPossible = possible
	entry.ComputedAt = s.now().UTC()
	s.entries[entryKey(courseID, studentID)] = entry
}

func sortRecords(records []gradebook.GradeRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].RecordID < records[j].RecordID
	})
}

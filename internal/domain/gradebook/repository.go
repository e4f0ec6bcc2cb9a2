// Package gradebook contains the canonical grade records and the derived
// per-student gradebook totals.
package gradebook

import (
	"context"

	"github.com/classpulse/classpulse-core/internal/domain/shared"
)

// Store defines the transactional persistence contract for grades.
// This interface is implemented by the infrastructure layer; the domain
// layer has no knowledge of the actual storage mechanism.
//
// ApplyGrade is the only write path for records and entries. It must run
// the whole read-validate-write sequence atomically, including the
// grade.mutated ledger append, so "mutation happened" and "event
// recorded" are indivisible. On write conflict it returns an error
// matching shared.ErrConcurrentModification; the caller retries the whole
// mutation with fresh reads.
type Store interface {
	// Source definitions

	// RegisterSource persists a grade source definition.
	RegisterSource(ctx context.Context, src GradeSource) error

	// GetSource returns the definition for a source reference.
	GetSource(ctx context.Context, courseID shared.CourseID, ref shared.SourceRef) (*GradeSource, error)

	// ListSources returns all source definitions for a course.
	ListSources(ctx context.Context, courseID shared.CourseID) ([]GradeSource, error)

	// Grade mutation

	// ApplyGrade executes one atomic grade transaction and returns the
	// before/after pair. The mutation must already be validated.
	ApplyGrade(ctx context.Context, m Mutation) (*MutationResult, error)

	// Reads

	// GetRecord returns a grade record by its deterministic ID.
	GetRecord(ctx context.Context, courseID shared.CourseID, recordID string) (*GradeRecord, error)

	// ListRecordsByStudent returns all grade records for one student in a course.
	ListRecordsByStudent(ctx context.Context, courseID shared.CourseID, studentID shared.StudentID) ([]GradeRecord, error)

	// ListRecordsByCourse returns all grade records in a course.
	ListRecordsByCourse(ctx context.Context, courseID shared.CourseID) ([]GradeRecord, error)

	// GetEntry returns the live gradebook entry for a student.
	// Absence yields shared.ErrEntryNotFound; callers treat it as zero.
	GetEntry(ctx context.Context, courseID shared.CourseID, studentID shared.StudentID) (*GradebookEntry, error)

	// ListEntries returns all live gradebook entries in a course.
	ListEntries(ctx context.Context, courseID shared.CourseID) ([]GradebookEntry, error)
}

package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE DOMAIN EVENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create the append-only domain event ledger
-- Version: 001

CREATE TABLE IF NOT EXISTS domain_events (
    event_id VARCHAR(32) PRIMARY KEY,
    event_type VARCHAR(64) NOT NULL,
    course_id UUID NOT NULL,
    actor_uid VARCHAR(100) NOT NULL,
    actor_role VARCHAR(20) NOT NULL,
    aggregate_kind VARCHAR(40) NOT NULL,
    aggregate_id VARCHAR(200) NOT NULL,
    aggregate_version INTEGER NOT NULL DEFAULT 0,
    payload JSONB NOT NULL DEFAULT '{}'::jsonb,
    idempotency_key TEXT NOT NULL UNIQUE,
    request_id VARCHAR(100),
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
    stored_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_actor_role CHECK (actor_role IN ('teacher', 'student', 'system'))
);

-- Analyzer snapshot reads scan by course and time
CREATE INDEX IF NOT EXISTS idx_domain_events_course_time ON domain_events(course_id, occurred_at, event_id);
CREATE INDEX IF NOT EXISTS idx_domain_events_course_type ON domain_events(course_id, event_type);
`

const migration001Down = `
DROP TABLE IF EXISTS domain_events;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE GRADE SOURCES AND RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create grade source definitions and canonical grade records
-- Version: 002

CREATE TABLE IF NOT EXISTS grade_sources (
    course_id UUID NOT NULL,
    source_type VARCHAR(20) NOT NULL,
    source_id VARCHAR(100) NOT NULL,
    title VARCHAR(200) NOT NULL,
    points_possible DOUBLE PRECISION NOT NULL,
    due_at TIMESTAMP WITH TIME ZONE,
    allotted_seconds INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (course_id, source_type, source_id),
    CONSTRAINT valid_source_type CHECK (source_type IN ('assignment', 'test', 'quiz', 'project')),
    CONSTRAINT positive_points CHECK (points_possible > 0)
);

CREATE TABLE IF NOT EXISTS grade_records (
    record_id VARCHAR(250) NOT NULL,
    course_id UUID NOT NULL,
    student_id UUID NOT NULL,
    source_type VARCHAR(20) NOT NULL,
    source_id VARCHAR(100) NOT NULL,
    source_version INTEGER NOT NULL DEFAULT 1,
    score DOUBLE PRECISION NOT NULL,
    points_possible DOUBLE PRECISION NOT NULL,
    feedback TEXT NOT NULL DEFAULT '',
    graded_by VARCHAR(100) NOT NULL,
    grade_revision INTEGER NOT NULL,
    graded_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (course_id, record_id),
    CONSTRAINT valid_score CHECK (score >= 0 AND score <= points_possible),
    CONSTRAINT positive_revision CHECK (grade_revision >= 1)
);

CREATE INDEX IF NOT EXISTS idx_grade_records_student ON grade_records(course_id, student_id);
`

const migration002Down = `
DROP TABLE IF EXISTS grade_records;
DROP TABLE IF EXISTS grade_sources;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE GRADEBOOK ENTRIES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create the derived per-student gradebook totals
-- Version: 003

CREATE TABLE IF NOT EXISTS gradebook_entries (
    course_id UUID NOT NULL,
    student_id UUID NOT NULL,
    total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_possible DOUBLE PRECISION NOT NULL DEFAULT 0,
    computed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (course_id, student_id)
);

CREATE INDEX IF NOT EXISTS idx_gradebook_entries_course ON gradebook_entries(course_id, total_score DESC);
`

const migration003Down = `
DROP TABLE IF EXISTS gradebook_entries;
`

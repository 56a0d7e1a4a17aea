package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	apperrors "brazier/errors"
	"brazier/knowledge"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// FindProgramIDs resolves (school, major) pairs against the curated program
// catalog. Major matching is a case-insensitive substring in either direction
// so "计算机" finds "计算机科学与技术" and vice versa. When majors is empty
// every program of the school matches.
func (s *PostgresStore) FindProgramIDs(ctx context.Context, school string, majors []string) ([]uuid.UUID, error) {
	if school == "" {
		return nil, nil
	}

	query := `
        SELECT id, program_name FROM school_programs WHERE school_name = $1
    `
	rows, err := s.DB.QueryContext(ctx, query, school)
	if err != nil {
		return nil, fmt.Errorf("%w: find school programs: %v", apperrors.ErrDatabaseOperation, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		var programName string
		if err := rows.Scan(&id, &programName); err != nil {
			return nil, fmt.Errorf("%w: scan school program: %v", apperrors.ErrDatabaseOperation, err)
		}
		if len(majors) == 0 || matchesAnyMajor(programName, majors) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// ApprovedTrackAttributes loads the approved academic tracks for the given
// programs, each with its approved attributes only. Tracks or attributes
// still pending review never leave this layer.
func (s *PostgresStore) ApprovedTrackAttributes(ctx context.Context, programIDs []uuid.UUID) ([]knowledge.AcademicTrack, error) {
	if len(programIDs) == 0 {
		return nil, nil
	}

	idStrings := make([]string, len(programIDs))
	for i, id := range programIDs {
		idStrings[i] = id.String()
	}

	trackQuery := `
        SELECT id, program_id, school_name, major_name
        FROM academic_tracks
        WHERE program_id = ANY($1::uuid[]) AND status = 'approved'
        ORDER BY school_name, major_name
    `
	rows, err := s.DB.QueryContext(ctx, trackQuery, pq.Array(idStrings))
	if err != nil {
		return nil, fmt.Errorf("%w: find academic tracks: %v", apperrors.ErrDatabaseOperation, err)
	}
	defer rows.Close()

	var tracks []knowledge.AcademicTrack
	for rows.Next() {
		var track knowledge.AcademicTrack
		if err := rows.Scan(&track.ID, &track.ProgramID, &track.SchoolName, &track.MajorName); err != nil {
			return nil, fmt.Errorf("%w: scan academic track: %v", apperrors.ErrDatabaseOperation, err)
		}
		track.Status = knowledge.ReviewApproved
		tracks = append(tracks, track)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tracks {
		attrs, err := s.approvedAttributes(ctx, tracks[i].ID)
		if err != nil {
			return nil, err
		}
		tracks[i].Attributes = attrs
	}
	return tracks, nil
}

func (s *PostgresStore) approvedAttributes(ctx context.Context, trackID uuid.UUID) ([]knowledge.TrackAttribute, error) {
	query := `
        SELECT id, track_id, attribute_name, attribute_value, year, confidence_level
        FROM academic_track_attributes
        WHERE track_id = $1 AND status = 'approved'
        ORDER BY attribute_name, year
    `
	rows, err := s.DB.QueryContext(ctx, query, trackID)
	if err != nil {
		return nil, fmt.Errorf("%w: find track attributes: %v", apperrors.ErrDatabaseOperation, err)
	}
	defer rows.Close()

	var attrs []knowledge.TrackAttribute
	for rows.Next() {
		var attr knowledge.TrackAttribute
		var year sql.NullInt64
		if err := rows.Scan(&attr.ID, &attr.TrackID, &attr.AttributeName,
			&attr.AttributeValue, &year, &attr.ConfidenceLevel); err != nil {
			return nil, fmt.Errorf("%w: scan track attribute: %v", apperrors.ErrDatabaseOperation, err)
		}
		if year.Valid {
			y := int(year.Int64)
			attr.Year = &y
		}
		attr.Status = knowledge.ReviewApproved
		attrs = append(attrs, attr)
	}
	return attrs, rows.Err()
}

// UpsertProgram registers a school/program pair, returning the existing id
// when the pair is already cataloged.
func (s *PostgresStore) UpsertProgram(ctx context.Context, school, program, programType string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.DB.QueryRowContext(ctx, `
        INSERT INTO school_programs (id, school_name, program_name, program_type)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (school_name, program_name) DO UPDATE SET program_type = EXCLUDED.program_type
        RETURNING id
    `, uuid.New(), school, program, programType).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: upsert program returned no id", apperrors.ErrDatabaseOperation)
		}
		return uuid.Nil, fmt.Errorf("%w: upsert program: %v", apperrors.ErrDatabaseOperation, err)
	}
	return id, nil
}

func matchesAnyMajor(programName string, majors []string) bool {
	for _, major := range majors {
		if major == "" {
			continue
		}
		if containsFold(programName, major) || containsFold(major, programName) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

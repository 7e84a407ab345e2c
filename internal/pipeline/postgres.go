package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusbridge/cutover/pkg/models"
)

// PostgresTarget implements TargetStore over the relational store.
type PostgresTarget struct {
	Pool *pgxpool.Pool
}

// NewPostgresTarget wraps a connected pool.
func NewPostgresTarget(pool *pgxpool.Pool) *PostgresTarget {
	return &PostgresTarget{Pool: pool}
}

func (p *PostgresTarget) LoadSubjects(ctx context.Context) ([]models.Subject, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT id, COALESCE(email, ''), COALESCE(roll_number, ''), COALESCE(name, ''),
		       COALESCE(role, ''), COALESCE(profile_image_key, ''), COALESCE(resume_key, '')
		FROM subjects`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Subject
	for rows.Next() {
		var s models.Subject
		var role string
		if err := rows.Scan(&s.TargetID, &s.Email, &s.RollNumber, &s.Name, &role, &s.ProfileImageKey, &s.ResumeKey); err != nil {
			return nil, err
		}
		s.Role = models.Role(role)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresTarget) InsertSubject(ctx context.Context, s models.Subject, credentialHash string) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO subjects (id, email, roll_number, name, role, temp_credential)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`,
		s.TargetID, s.Email, s.RollNumber, s.Name, string(s.Role), credentialHash)
	return err
}

func (p *PostgresTarget) UpdateSubject(ctx context.Context, s models.Subject) error {
	tag, err := p.Pool.Exec(ctx, `
		UPDATE subjects
		SET email = $2, roll_number = NULLIF($3, ''), name = $4, role = $5
		WHERE id = $1`,
		s.TargetID, s.Email, s.RollNumber, s.Name, string(s.Role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subject %s: %w", s.TargetID, ErrNotFound)
	}
	return nil
}

func (p *PostgresTarget) SubjectExists(ctx context.Context, targetID string) (bool, error) {
	var exists bool
	err := p.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subjects WHERE id = $1)`, targetID).Scan(&exists)
	return exists, err
}

// CountTable counts a configured entity table. Table names come from the
// plan file, not user input, but are still sanitized as identifiers.
func (p *PostgresTarget) CountTable(ctx context.Context, table string) (int64, error) {
	var n int64
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, pgx.Identifier{table}.Sanitize())
	err := p.Pool.QueryRow(ctx, q).Scan(&n)
	return n, err
}

func (p *PostgresTarget) CountSubjects(ctx context.Context, role string) (int64, error) {
	var n int64
	if role == "" {
		err := p.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM subjects`).Scan(&n)
		return n, err
	}
	err := p.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM subjects WHERE role = $1`, role).Scan(&n)
	return n, err
}

func (p *PostgresTarget) ActiveRelationship(ctx context.Context, subjectID string) (models.Relationship, error) {
	var rel models.Relationship
	err := p.Pool.QueryRow(ctx, `
		SELECT id, subject_id, mentor_id, is_active, assigned_at
		FROM mentorships
		WHERE subject_id = $1 AND is_active`, subjectID).
		Scan(&rel.ID, &rel.SubjectID, &rel.MentorID, &rel.IsActive, &rel.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Relationship{}, ErrNotFound
	}
	if err != nil {
		return models.Relationship{}, err
	}
	return rel, nil
}

// SupersedeAndInsert deactivates every active mentorship for the subject and
// inserts the new one, inside a single transaction so the subject can never
// be observed with two active rows.
func (p *PostgresTarget) SupersedeAndInsert(ctx context.Context, rel models.Relationship) error {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE mentorships
		SET is_active = FALSE, deactivated_at = NOW(), deactivation_reason = $2
		WHERE subject_id = $1 AND is_active`,
		rel.SubjectID, models.DeactivationSuperseded)
	if err != nil {
		return fmt.Errorf("supersede: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO mentorships (id, subject_id, mentor_id, is_active, assigned_at)
		VALUES ($1, $2, $3, TRUE, $4)`,
		rel.ID, rel.SubjectID, rel.MentorID, rel.AssignedAt)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *PostgresTarget) ActiveRelationshipCounts(ctx context.Context) (map[string]int, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT subject_id, COUNT(*) FROM mentorships WHERE is_active GROUP BY subject_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jurismatch/backend/internal/models"
)

type LawyerRepo struct{}

func NewLawyerRepo() *LawyerRepo {
	return &LawyerRepo{}
}

const lawyerSelect = `
	SELECT l.id, l.name, l.email, l.city, l.state, l.plan, l.verified, l.rating, l.response_time_minutes,
		l.years_experience, l.languages, l.created_at, l.updated_at,
		ARRAY(SELECT pa.practice_area_id FROM lawyer_practice_areas pa WHERE pa.lawyer_id = l.id ORDER BY pa.practice_area_id)
	FROM lawyers l`

func scanLawyer(row pgx.Row) (*models.Lawyer, error) {
	var l models.Lawyer
	err := row.Scan(&l.ID, &l.Name, &l.Email, &l.City, &l.State, &l.Plan, &l.Verified, &l.Rating, &l.ResponseTimeMinutes,
		&l.YearsExperience, &l.Languages, &l.CreatedAt, &l.UpdatedAt, &l.PracticeAreaIDs)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LawyerRepo) GetLawyer(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Lawyer, error) {
	return scanLawyer(tx.QueryRow(ctx, lawyerSelect+` WHERE l.id = $1`, id))
}

func (r *LawyerRepo) ListLawyersByPracticeArea(ctx context.Context, tx pgx.Tx, areaID uuid.UUID) ([]models.Lawyer, error) {
	rows, err := tx.Query(ctx, lawyerSelect+`
		WHERE EXISTS (SELECT 1 FROM lawyer_practice_areas x WHERE x.lawyer_id = l.id AND x.practice_area_id = $1)
		ORDER BY l.id
	`, areaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Lawyer
	for rows.Next() {
		l, err := scanLawyer(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *l)
	}
	return list, rows.Err()
}

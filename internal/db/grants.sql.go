package db

import (
	"context"
	"database/sql"

	"github.com/sqlc-dev/pqtype"
)

const grantColumns = `id, name, funder, source_url, due_date, amount_string, description, status,
eligibility_analysis, eligibility_score, last_analysis, org_id, created_at, updated_at, last_scraped_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGrant(row rowScanner) (Grant, error) {
	var i Grant
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Funder,
		&i.SourceUrl,
		&i.DueDate,
		&i.AmountString,
		&i.Description,
		&i.Status,
		&i.EligibilityAnalysis,
		&i.EligibilityScore,
		&i.LastAnalysis,
		&i.OrgID,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.LastScrapedAt,
	)
	return i, err
}

func scanGrants(rows *sql.Rows) ([]Grant, error) {
	defer rows.Close()
	var items []Grant
	for rows.Next() {
		i, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getGrant = `SELECT ` + grantColumns + ` FROM grants WHERE id = $1`

func (q *Queries) GetGrant(ctx context.Context, id int64) (Grant, error) {
	row := q.db.QueryRowContext(ctx, getGrant, id)
	return scanGrant(row)
}

const listGrants = `SELECT ` + grantColumns + ` FROM grants
WHERE ($1::text IS NULL OR status = $1::text)
  AND ($2::text IS NULL OR funder = $2::text)
ORDER BY due_date ASC NULLS LAST, id ASC`

type ListGrantsParams struct {
	Status sql.NullString
	Funder sql.NullString
}

func (q *Queries) ListGrants(ctx context.Context, arg ListGrantsParams) ([]Grant, error) {
	rows, err := q.db.QueryContext(ctx, listGrants, arg.Status, arg.Funder)
	if err != nil {
		return nil, err
	}
	return scanGrants(rows)
}

const createGrant = `INSERT INTO grants (name, funder, source_url, due_date, amount_string, description, status, org_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + grantColumns

type CreateGrantParams struct {
	Name         string
	Funder       string
	SourceUrl    sql.NullString
	DueDate      sql.NullTime
	AmountString sql.NullString
	Description  sql.NullString
	Status       string
	OrgID        sql.NullInt64
}

func (q *Queries) CreateGrant(ctx context.Context, arg CreateGrantParams) (Grant, error) {
	row := q.db.QueryRowContext(ctx, createGrant,
		arg.Name,
		arg.Funder,
		arg.SourceUrl,
		arg.DueDate,
		arg.AmountString,
		arg.Description,
		arg.Status,
		arg.OrgID,
	)
	return scanGrant(row)
}

const upsertGrantBySourceURL = `INSERT INTO grants (name, funder, source_url, due_date, amount_string, description, status, last_scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (source_url) DO UPDATE SET
  name = EXCLUDED.name,
  funder = EXCLUDED.funder,
  due_date = COALESCE(EXCLUDED.due_date, grants.due_date),
  amount_string = COALESCE(EXCLUDED.amount_string, grants.amount_string),
  description = COALESCE(EXCLUDED.description, grants.description),
  status = EXCLUDED.status,
  last_scraped_at = now(),
  updated_at = now()
RETURNING ` + grantColumns

type UpsertGrantBySourceURLParams struct {
	Name         string
	Funder       string
	SourceUrl    string
	DueDate      sql.NullTime
	AmountString sql.NullString
	Description  sql.NullString
	Status       string
}

func (q *Queries) UpsertGrantBySourceURL(ctx context.Context, arg UpsertGrantBySourceURLParams) (Grant, error) {
	row := q.db.QueryRowContext(ctx, upsertGrantBySourceURL,
		arg.Name,
		arg.Funder,
		arg.SourceUrl,
		arg.DueDate,
		arg.AmountString,
		arg.Description,
		arg.Status,
	)
	return scanGrant(row)
}

const setGrantEligibility = `UPDATE grants
SET eligibility_analysis = $2, eligibility_score = $3, last_analysis = $4, updated_at = now()
WHERE id = $1`

type SetGrantEligibilityParams struct {
	ID                  int64
	EligibilityAnalysis pqtype.NullRawMessage
	EligibilityScore    sql.NullFloat64
	LastAnalysis        sql.NullTime
}

func (q *Queries) SetGrantEligibility(ctx context.Context, arg SetGrantEligibilityParams) error {
	res, err := q.db.ExecContext(ctx, setGrantEligibility,
		arg.ID,
		arg.EligibilityAnalysis,
		arg.EligibilityScore,
		arg.LastAnalysis,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const countGrantsByStatus = `SELECT status, COUNT(*)::bigint AS total FROM grants GROUP BY status`

type CountGrantsByStatusRow struct {
	Status string
	Total  int64
}

func (q *Queries) CountGrantsByStatusRows(ctx context.Context) ([]CountGrantsByStatusRow, error) {
	rows, err := q.db.QueryContext(ctx, countGrantsByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CountGrantsByStatusRow
	for rows.Next() {
		var i CountGrantsByStatusRow
		if err := rows.Scan(&i.Status, &i.Total); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

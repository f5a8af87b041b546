package db

import (
	"context"
	"database/sql"
)

const organisationColumns = `id, name, abn, dgr_status, annual_revenue, profile_text, mission, focus_areas,
years_active, annual_budget, previous_grants, staff_size, target_demographics, user_id, created_at, updated_at`

func scanOrganisation(row rowScanner) (OrganisationProfile, error) {
	var i OrganisationProfile
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Abn,
		&i.DgrStatus,
		&i.AnnualRevenue,
		&i.ProfileText,
		&i.Mission,
		&i.FocusAreas,
		&i.YearsActive,
		&i.AnnualBudget,
		&i.PreviousGrants,
		&i.StaffSize,
		&i.TargetDemographics,
		&i.UserID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getOrganisation = `SELECT ` + organisationColumns + ` FROM organisation_profiles WHERE id = $1`

func (q *Queries) GetOrganisation(ctx context.Context, id int64) (OrganisationProfile, error) {
	row := q.db.QueryRowContext(ctx, getOrganisation, id)
	return scanOrganisation(row)
}

const listOrganisations = `SELECT ` + organisationColumns + ` FROM organisation_profiles ORDER BY name ASC, id ASC`

func (q *Queries) ListOrganisations(ctx context.Context) ([]OrganisationProfile, error) {
	rows, err := q.db.QueryContext(ctx, listOrganisations)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrganisationProfile
	for rows.Next() {
		i, err := scanOrganisation(rows)
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

const createOrganisation = `INSERT INTO organisation_profiles (
  name, abn, dgr_status, annual_revenue, profile_text, mission, focus_areas,
  years_active, annual_budget, previous_grants, staff_size, target_demographics, user_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING ` + organisationColumns

type CreateOrganisationParams struct {
	Name               string
	Abn                sql.NullString
	DgrStatus          bool
	AnnualRevenue      sql.NullInt64
	ProfileText        sql.NullString
	Mission            sql.NullString
	FocusAreas         sql.NullString
	YearsActive        sql.NullInt32
	AnnualBudget       sql.NullInt64
	PreviousGrants     sql.NullString
	StaffSize          sql.NullInt32
	TargetDemographics sql.NullString
	UserID             sql.NullInt64
}

func (q *Queries) CreateOrganisation(ctx context.Context, arg CreateOrganisationParams) (OrganisationProfile, error) {
	row := q.db.QueryRowContext(ctx, createOrganisation,
		arg.Name,
		arg.Abn,
		arg.DgrStatus,
		arg.AnnualRevenue,
		arg.ProfileText,
		arg.Mission,
		arg.FocusAreas,
		arg.YearsActive,
		arg.AnnualBudget,
		arg.PreviousGrants,
		arg.StaffSize,
		arg.TargetDemographics,
		arg.UserID,
	)
	return scanOrganisation(row)
}

const trackGrant = `INSERT INTO org_grants (organisation_id, grant_id, tracking_status)
VALUES ($1, $2, $3)
ON CONFLICT (organisation_id, grant_id) DO UPDATE SET tracking_status = EXCLUDED.tracking_status
RETURNING organisation_id, grant_id, tracking_status, added_at`

type TrackGrantParams struct {
	OrganisationID int64
	GrantID        int64
	TrackingStatus string
}

func (q *Queries) TrackGrant(ctx context.Context, arg TrackGrantParams) (OrgGrant, error) {
	row := q.db.QueryRowContext(ctx, trackGrant, arg.OrganisationID, arg.GrantID, arg.TrackingStatus)
	var i OrgGrant
	err := row.Scan(
		&i.OrganisationID,
		&i.GrantID,
		&i.TrackingStatus,
		&i.AddedAt,
	)
	return i, err
}

const listTrackedGrants = `SELECT og.tracking_status, og.added_at, g.id, g.name, g.funder, g.source_url, g.due_date, g.amount_string,
g.description, g.status, g.eligibility_analysis, g.eligibility_score, g.last_analysis, g.org_id,
g.created_at, g.updated_at, g.last_scraped_at
FROM org_grants og JOIN grants g ON g.id = og.grant_id
WHERE og.organisation_id = $1
ORDER BY og.added_at DESC`

type ListTrackedGrantsRow struct {
	TrackingStatus string
	AddedAt        sql.NullTime
	Grant          Grant
}

func (q *Queries) ListTrackedGrants(ctx context.Context, organisationID int64) ([]ListTrackedGrantsRow, error) {
	rows, err := q.db.QueryContext(ctx, listTrackedGrants, organisationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListTrackedGrantsRow
	for rows.Next() {
		var i ListTrackedGrantsRow
		g := &i.Grant
		if err := rows.Scan(
			&i.TrackingStatus,
			&i.AddedAt,
			&g.ID,
			&g.Name,
			&g.Funder,
			&g.SourceUrl,
			&g.DueDate,
			&g.AmountString,
			&g.Description,
			&g.Status,
			&g.EligibilityAnalysis,
			&g.EligibilityScore,
			&g.LastAnalysis,
			&g.OrgID,
			&g.CreatedAt,
			&g.UpdatedAt,
			&g.LastScrapedAt,
		); err != nil {
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

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// IsUniqueViolation reports whether err is a PostgreSQL unique_violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CountGrantsByStatus returns grant totals keyed by status.
func (q *Queries) CountGrantsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := q.CountGrantsByStatusRows(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Total
	}
	return out, nil
}

// SearchGrantsParams filters SearchGrants. Zero values are ignored.
type SearchGrantsParams struct {
	Keyword string
	MinDate time.Time
	MaxDate time.Time
	Status  string
	Limit   int
}

func buildGrantSearch(p SearchGrantsParams) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT " + grantColumns + " FROM grants WHERE 1=1")
	args := make([]any, 0, 4)
	if kw := strings.TrimSpace(p.Keyword); kw != "" {
		args = append(args, "%"+escapeLike(kw)+"%")
		n := len(args)
		sb.WriteString(fmt.Sprintf(" AND (name ILIKE $%d OR description ILIKE $%d OR funder ILIKE $%d)", n, n, n))
	}
	if !p.MinDate.IsZero() {
		args = append(args, p.MinDate)
		sb.WriteString(fmt.Sprintf(" AND due_date >= $%d", len(args)))
	}
	if !p.MaxDate.IsZero() {
		args = append(args, p.MaxDate)
		sb.WriteString(fmt.Sprintf(" AND due_date <= $%d", len(args)))
	}
	if p.Status != "" {
		args = append(args, p.Status)
		sb.WriteString(fmt.Sprintf(" AND status = $%d", len(args)))
	}
	sb.WriteString(" ORDER BY due_date ASC NULLS LAST, id ASC")
	if p.Limit > 0 {
		args = append(args, p.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	return sb.String(), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SearchGrants matches keyword against name, description and funder and
// bounds the due date.
func (q *Queries) SearchGrants(ctx context.Context, p SearchGrantsParams) ([]Grant, error) {
	stmt, args := buildGrantSearch(p)
	rows, err := q.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	return scanGrants(rows)
}

type assignment struct {
	column string
	value  any
}

// GrantUpdate carries the fields of a partial grant update; nil means unchanged.
type GrantUpdate struct {
	Name         *string
	Funder       *string
	SourceUrl    *string
	DueDate      *time.Time
	AmountString *string
	Description  *string
	Status       *string
	OrgID        *int64
}

func (u GrantUpdate) assignments() []assignment {
	var out []assignment
	if u.Name != nil {
		out = append(out, assignment{"name", *u.Name})
	}
	if u.Funder != nil {
		out = append(out, assignment{"funder", *u.Funder})
	}
	if u.SourceUrl != nil {
		out = append(out, assignment{"source_url", NullString(*u.SourceUrl)})
	}
	if u.DueDate != nil {
		out = append(out, assignment{"due_date", NullTime(*u.DueDate)})
	}
	if u.AmountString != nil {
		out = append(out, assignment{"amount_string", *u.AmountString})
	}
	if u.Description != nil {
		out = append(out, assignment{"description", *u.Description})
	}
	if u.Status != nil {
		out = append(out, assignment{"status", *u.Status})
	}
	if u.OrgID != nil {
		out = append(out, assignment{"org_id", *u.OrgID})
	}
	return out
}

// buildUpdate renders UPDATE ... SET ... WHERE id = $1 RETURNING returning.
func buildUpdate(table string, id int64, sets []assignment, returning string) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(sets)+1)
	args = append(args, id)
	sb.WriteString("UPDATE " + table + " SET ")
	for i, a := range sets {
		if i > 0 {
			sb.WriteString(", ")
		}
		args = append(args, a.value)
		sb.WriteString(fmt.Sprintf("%s = $%d", a.column, len(args)))
	}
	if len(sets) > 0 {
		sb.WriteString(", ")
	}
	sb.WriteString("updated_at = now() WHERE id = $1 RETURNING " + returning)
	return sb.String(), args
}

// UpdateGrant applies a partial update and returns the stored row.
func (q *Queries) UpdateGrant(ctx context.Context, id int64, u GrantUpdate) (Grant, error) {
	stmt, args := buildUpdate("grants", id, u.assignments(), grantColumns)
	return scanGrant(q.db.QueryRowContext(ctx, stmt, args...))
}

// OrganisationUpdate carries the fields of a partial organisation update.
type OrganisationUpdate struct {
	Name               *string
	Abn                *string
	DgrStatus          *bool
	AnnualRevenue      *int64
	ProfileText        *string
	Mission            *string
	FocusAreas         *string
	YearsActive        *int32
	AnnualBudget       *int64
	PreviousGrants     *string
	StaffSize          *int32
	TargetDemographics *string
}

func (u OrganisationUpdate) assignments() []assignment {
	var out []assignment
	if u.Name != nil {
		out = append(out, assignment{"name", *u.Name})
	}
	if u.Abn != nil {
		out = append(out, assignment{"abn", *u.Abn})
	}
	if u.DgrStatus != nil {
		out = append(out, assignment{"dgr_status", *u.DgrStatus})
	}
	if u.AnnualRevenue != nil {
		out = append(out, assignment{"annual_revenue", *u.AnnualRevenue})
	}
	if u.ProfileText != nil {
		out = append(out, assignment{"profile_text", *u.ProfileText})
	}
	if u.Mission != nil {
		out = append(out, assignment{"mission", *u.Mission})
	}
	if u.FocusAreas != nil {
		out = append(out, assignment{"focus_areas", *u.FocusAreas})
	}
	if u.YearsActive != nil {
		out = append(out, assignment{"years_active", *u.YearsActive})
	}
	if u.AnnualBudget != nil {
		out = append(out, assignment{"annual_budget", *u.AnnualBudget})
	}
	if u.PreviousGrants != nil {
		out = append(out, assignment{"previous_grants", *u.PreviousGrants})
	}
	if u.StaffSize != nil {
		out = append(out, assignment{"staff_size", *u.StaffSize})
	}
	if u.TargetDemographics != nil {
		out = append(out, assignment{"target_demographics", *u.TargetDemographics})
	}
	return out
}

// UpdateOrganisation applies a partial update and returns the stored row.
func (q *Queries) UpdateOrganisation(ctx context.Context, id int64, u OrganisationUpdate) (OrganisationProfile, error) {
	stmt, args := buildUpdate("organisation_profiles", id, u.assignments(), organisationColumns)
	return scanOrganisation(q.db.QueryRowContext(ctx, stmt, args...))
}

// BatchUpsertGrants upserts scraped grants keyed by source_url in multi-row
// statements of at most batchSize rows. Rows without a source URL are skipped.
// Returns the number of rows written.
func (q *Queries) BatchUpsertGrants(ctx context.Context, grants []UpsertGrantBySourceURLParams, batchSize int) (int, error) {
	if len(grants) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	// Deduplicate by source URL; the last occurrence wins.
	uniq := make(map[string]int, len(grants))
	dedup := make([]UpsertGrantBySourceURLParams, 0, len(grants))
	for _, g := range grants {
		if g.SourceUrl == "" {
			continue
		}
		if i, ok := uniq[g.SourceUrl]; ok {
			dedup[i] = g
			continue
		}
		uniq[g.SourceUrl] = len(dedup)
		dedup = append(dedup, g)
	}
	written := 0
	for start := 0; start < len(dedup); start += batchSize {
		end := start + batchSize
		if end > len(dedup) {
			end = len(dedup)
		}
		stmt, args := buildGrantUpsertBatch(dedup[start:end])
		res, err := q.db.ExecContext(ctx, stmt, args...)
		if err != nil {
			return written, err
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}
	return written, nil
}

func buildGrantUpsertBatch(batch []UpsertGrantBySourceURLParams) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO grants (name, funder, source_url, due_date, amount_string, description, status, last_scraped_at) VALUES ")
	args := make([]any, 0, len(batch)*7)
	for i, g := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		idx := i*7 + 1
		sb.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,now())", idx, idx+1, idx+2, idx+3, idx+4, idx+5, idx+6))
		args = append(args, g.Name, g.Funder, g.SourceUrl, g.DueDate, g.AmountString, g.Description, g.Status)
	}
	sb.WriteString(" ON CONFLICT (source_url) DO UPDATE SET name=EXCLUDED.name,funder=EXCLUDED.funder," +
		"due_date=COALESCE(EXCLUDED.due_date,grants.due_date)," +
		"amount_string=COALESCE(EXCLUDED.amount_string,grants.amount_string)," +
		"description=COALESCE(EXCLUDED.description,grants.description)," +
		"status=EXCLUDED.status,last_scraped_at=now(),updated_at=now()")
	return sb.String(), args
}

// NullString converts an empty string to an invalid sql.NullString.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NullTime converts a zero time to an invalid sql.NullTime.
func NullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

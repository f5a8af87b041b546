package db

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// Grant statuses used by the API and scrapers.
const (
	GrantStatusPotential = "potential"
	GrantStatusActive    = "active"
	GrantStatusClosed    = "closed"
)

// Tracking statuses for org_grants.
const (
	TrackingInterested = "interested"
	TrackingApplying   = "applying"
	TrackingSubmitted  = "submitted"
)

type Grant struct {
	ID                  int64
	Name                string
	Funder              string
	SourceUrl           sql.NullString
	DueDate             sql.NullTime
	AmountString        sql.NullString
	Description         sql.NullString
	Status              string
	EligibilityAnalysis pqtype.NullRawMessage
	EligibilityScore    sql.NullFloat64
	LastAnalysis        sql.NullTime
	OrgID               sql.NullInt64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastScrapedAt       sql.NullTime
}

type OrganisationProfile struct {
	ID                 int64
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
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type OrgGrant struct {
	OrganisationID int64
	GrantID        int64
	TrackingStatus string
	AddedAt        time.Time
}

type User struct {
	ID           int64
	Email        string
	PasswordHash string
	FirstName    sql.NullString
	LastName     sql.NullString
	Roles        pq.StringArray
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    sql.NullTime
}

// HasRole reports whether the user carries role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

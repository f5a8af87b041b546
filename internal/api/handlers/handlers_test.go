package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/A1anMc/GrantSGE/internal/db"
	"github.com/gorilla/mux"
)

// fakeStore implements GrantStore and OrganisationStore over maps.
type fakeStore struct {
	mu      sync.Mutex
	grants  map[int64]db.Grant
	orgs    map[int64]db.OrganisationProfile
	tracked map[int64][]db.ListTrackedGrantsRow
	nextID  int64
	err     error
	calls   map[string]int

	lastList   db.ListGrantsParams
	lastSearch db.SearchGrantsParams
	lastCreate db.CreateGrantParams
	lastOrg    db.CreateOrganisationParams
	lastTrack  db.TrackGrantParams
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		grants:  make(map[int64]db.Grant),
		orgs:    make(map[int64]db.OrganisationProfile),
		tracked: make(map[int64][]db.ListTrackedGrantsRow),
		nextID:  100,
		calls:   make(map[string]int),
	}
}

func (f *fakeStore) call(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.err
}

func (f *fakeStore) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeStore) GetGrant(ctx context.Context, id int64) (db.Grant, error) {
	if err := f.call("GetGrant"); err != nil {
		return db.Grant{}, err
	}
	g, ok := f.grants[id]
	if !ok {
		return db.Grant{}, db.ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) ListGrants(ctx context.Context, arg db.ListGrantsParams) ([]db.Grant, error) {
	if err := f.call("ListGrants"); err != nil {
		return nil, err
	}
	f.lastList = arg
	var out []db.Grant
	for _, g := range f.grants {
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeStore) SearchGrants(ctx context.Context, p db.SearchGrantsParams) ([]db.Grant, error) {
	if err := f.call("SearchGrants"); err != nil {
		return nil, err
	}
	f.lastSearch = p
	return nil, nil
}

func (f *fakeStore) CreateGrant(ctx context.Context, arg db.CreateGrantParams) (db.Grant, error) {
	if err := f.call("CreateGrant"); err != nil {
		return db.Grant{}, err
	}
	f.lastCreate = arg
	f.nextID++
	g := db.Grant{
		ID:           f.nextID,
		Name:         arg.Name,
		Funder:       arg.Funder,
		SourceUrl:    arg.SourceUrl,
		DueDate:      arg.DueDate,
		AmountString: arg.AmountString,
		Description:  arg.Description,
		Status:       arg.Status,
		OrgID:        arg.OrgID,
	}
	f.grants[g.ID] = g
	return g, nil
}

func (f *fakeStore) UpdateGrant(ctx context.Context, id int64, u db.GrantUpdate) (db.Grant, error) {
	if err := f.call("UpdateGrant"); err != nil {
		return db.Grant{}, err
	}
	g, ok := f.grants[id]
	if !ok {
		return db.Grant{}, db.ErrNotFound
	}
	if u.Name != nil {
		g.Name = *u.Name
	}
	if u.Status != nil {
		g.Status = *u.Status
	}
	if u.DueDate != nil {
		g.DueDate = db.NullTime(*u.DueDate)
	}
	f.grants[id] = g
	return g, nil
}

func (f *fakeStore) GetOrganisation(ctx context.Context, id int64) (db.OrganisationProfile, error) {
	if err := f.call("GetOrganisation"); err != nil {
		return db.OrganisationProfile{}, err
	}
	o, ok := f.orgs[id]
	if !ok {
		return db.OrganisationProfile{}, db.ErrNotFound
	}
	return o, nil
}

func (f *fakeStore) ListOrganisations(ctx context.Context) ([]db.OrganisationProfile, error) {
	if err := f.call("ListOrganisations"); err != nil {
		return nil, err
	}
	var out []db.OrganisationProfile
	for _, o := range f.orgs {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeStore) CreateOrganisation(ctx context.Context, arg db.CreateOrganisationParams) (db.OrganisationProfile, error) {
	if err := f.call("CreateOrganisation"); err != nil {
		return db.OrganisationProfile{}, err
	}
	f.lastOrg = arg
	f.nextID++
	o := db.OrganisationProfile{
		ID:          f.nextID,
		Name:        arg.Name,
		Abn:         arg.Abn,
		DgrStatus:   arg.DgrStatus,
		Mission:     arg.Mission,
		YearsActive: arg.YearsActive,
		UserID:      arg.UserID,
	}
	f.orgs[o.ID] = o
	return o, nil
}

func (f *fakeStore) UpdateOrganisation(ctx context.Context, id int64, u db.OrganisationUpdate) (db.OrganisationProfile, error) {
	if err := f.call("UpdateOrganisation"); err != nil {
		return db.OrganisationProfile{}, err
	}
	o, ok := f.orgs[id]
	if !ok {
		return db.OrganisationProfile{}, db.ErrNotFound
	}
	if u.Mission != nil {
		o.Mission = db.NullString(*u.Mission)
	}
	f.orgs[id] = o
	return o, nil
}

func (f *fakeStore) TrackGrant(ctx context.Context, arg db.TrackGrantParams) (db.OrgGrant, error) {
	if err := f.call("TrackGrant"); err != nil {
		return db.OrgGrant{}, err
	}
	f.lastTrack = arg
	f.tracked[arg.OrganisationID] = append(f.tracked[arg.OrganisationID], db.ListTrackedGrantsRow{
		TrackingStatus: arg.TrackingStatus,
		AddedAt:        sql.NullTime{Time: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), Valid: true},
		Grant:          f.grants[arg.GrantID],
	})
	return db.OrgGrant{
		OrganisationID: arg.OrganisationID,
		GrantID:        arg.GrantID,
		TrackingStatus: arg.TrackingStatus,
		AddedAt:        time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

func (f *fakeStore) ListTrackedGrants(ctx context.Context, organisationID int64) ([]db.ListTrackedGrantsRow, error) {
	if err := f.call("ListTrackedGrants"); err != nil {
		return nil, err
	}
	return f.tracked[organisationID], nil
}

func sampleGrant(id int64) db.Grant {
	return db.Grant{
		ID:           id,
		Name:         "Community Arts Fund",
		Funder:       "Creative Australia",
		SourceUrl:    db.NullString("https://example.org/grants/arts"),
		DueDate:      db.NullTime(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)),
		AmountString: db.NullString("Up to $50,000"),
		Status:       db.GrantStatusPotential,
	}
}

// request builds a request with mux path variables already set.
func request(method, target string, body any, vars map[string]string) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Count   *int            `json:"count"`
	Message string          `json:"message"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return env
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, status, rr.Body.String())
	}
	env := decodeBody(t, rr)
	if env.Error == nil || env.Error.Code != code {
		t.Fatalf("error = %+v, want code %s", env.Error, code)
	}
}

package pos

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"wisppos-backend/lib/cookies"
	"wisppos-backend/lib/testutil"
	"wisppos-backend/lib/timezone"
	"wisppos-backend/services/wisphub"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func ptr[T any](v T) *T {
	return &v
}

var testCatalog = wisphub.Catalog{
	Plans: []wisphub.Plan{
		{
			Id: "101", Router: "R1", Name: "Plan A", Prefix: "P1",
			Price: ptr(10.0), Currency: ptr("MXN"),
			Outlets: []wisphub.Outlet{{Id: "7", Name: "Outlet-7"}},
		},
		{
			Id: "102", Router: "R1", Name: "Plan B", Prefix: "P2",
			Price: ptr(25.5), Currency: ptr("MXN"),
			Outlets: []wisphub.Outlet{{Id: "7", Name: "Outlet-7"}, {Id: "8", Name: "Outlet-8"}},
		},
		{
			Id: "201", Router: "R2", Name: "Plan C", Prefix: "P9",
			Outlets: []wisphub.Outlet{{Id: "8", Name: "Outlet-8"}},
		},
	},
}

// stubPortal answers from memory and records what it was asked.
type stubPortal struct {
	lock        sync.Mutex
	initialized bool
	logins      []string
	created     []wisphub.Plan
	queries     []wisphub.ReportQuery
	reports     map[string]wisphub.Report
	loginErr    error
}

func (p *stubPortal) Login(ctx context.Context, account, password string) (cookies.Jar, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.logins = append(p.logins, account)
	if p.loginErr != nil {
		return nil, p.loginErr
	}
	return cookies.Jar{"sessionid": {Value: account}}, nil
}

func (p *stubPortal) RefreshPlans(ctx context.Context, account string, jar cookies.Jar) (wisphub.Catalog, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.initialized = true
	return testCatalog, nil
}

func (p *stubPortal) Catalog(ctx context.Context) (wisphub.Catalog, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.initialized {
		return wisphub.Catalog{}, wisphub.ErrCatalogNotInitialized
	}
	return testCatalog, nil
}

func (p *stubPortal) GetPlans(ctx context.Context, outlet string) ([]wisphub.Plan, error) {
	catalog, err := p.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.ForOutlet(outlet), nil
}

func (p *stubPortal) CreateAccessCode(ctx context.Context, account string, plan wisphub.Plan, outlet string, jar cookies.Jar) (wisphub.Voucher, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if _, ok := plan.OutletId(outlet); !ok {
		return wisphub.Voucher{}, &wisphub.OutletNotAssociatedError{PlanId: plan.Id, Outlet: outlet}
	}
	p.created = append(p.created, plan)
	return wisphub.Voucher{TaskId: "task-1", Code: "CODE-" + plan.Id}, nil
}

func (p *stubPortal) Report(ctx context.Context, query wisphub.ReportQuery, jar cookies.Jar) (wisphub.Report, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.queries = append(p.queries, query)
	report, ok := p.reports[query.Outlet]
	if !ok {
		return wisphub.Report{Outlet: query.Outlet, Plans: []wisphub.PlanReport{}}, nil
	}
	return report, nil
}

type recordedEvent struct {
	key  string
	body any
}

type recordingPublisher struct {
	lock   sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, body any) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.events = append(p.events, recordedEvent{key: routingKey, body: body})
	return nil
}

var serviceNow = time.Date(2026, time.October, 15, 12, 0, 0, 0, timezone.Location)

type fixture struct {
	service Service
	portal  *stubPortal
	users   UserStore
	history History
	tokens  TokenIssuer
	events  *recordingPublisher
}

func newFixture(t testing.TB) fixture {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:   "services/pos",
		Sqlite: true,
	})
	t.Cleanup(cleanup)
	store := res.Store

	portal := &stubPortal{initialized: true}
	users := NewUserStore(store)
	history := NewHistory(store)
	tokens := NewTokenIssuer("test-secret", time.Hour)
	tokens.now = func() time.Time { return serviceNow }
	events := &recordingPublisher{}

	for _, u := range []struct{ username, outlet string }{
		{"cajero7", "Outlet-7"},
		{"cajero8", "Outlet-8"},
		{"gerente7", "Outlet-7"},
	} {
		hash, err := HashPassword("pass-" + u.username)
		require.NoError(t, err)
		err = users.Put(context.Background(), User{
			Username:                u.username,
			PasswordHash:            hash,
			PointOfSaleFriendlyName: "Tienda " + u.outlet,
			WispHub: WispHubAccount{
				Username:        u.username + "@company",
				Password:        "portal",
				PointOfSaleName: u.outlet,
			},
		})
		require.NoError(t, err)
	}

	service := NewService(portal, users, history, tokens, Options{
		Admin:  AdminAccount{Username: "pos-admin@company", Password: "admin"},
		Now:    func() time.Time { return serviceNow },
		Events: events,
	})
	return fixture{service: service, portal: portal, users: users, history: history, tokens: tokens, events: events}
}

func TestLoginIssuesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.service.Login(ctx, " Cajero7 ", "pass-cajero7")
	require.NoError(t, err)
	require.Equal(t, []string{"cajero7@company"}, f.portal.logins)

	claims, err := f.tokens.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "cajero7", claims.Username)
	require.Equal(t, "Outlet-7", claims.PointOfSaleName)
	require.Equal(t, "Tienda Outlet-7", claims.PointOfSaleFriendlyName)
	require.Len(t, claims.AvailablePlans, 2)
	require.Equal(t, "101", claims.AvailablePlans[0].Id)
	require.Equal(t, "102", claims.AvailablePlans[1].Id)

	_, err = f.service.Login(ctx, "cajero7", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.service.Login(ctx, "nobody", "pass")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Len(t, f.portal.logins, 1)
}

func TestLoginWithoutCatalog(t *testing.T) {
	f := newFixture(t)
	f.portal.initialized = false

	token, err := f.service.Login(context.Background(), "cajero7", "pass-cajero7")
	require.NoError(t, err)
	claims, err := f.tokens.Parse(token)
	require.NoError(t, err)
	require.Empty(t, claims.AvailablePlans)
}

func TestLoginPortalFailure(t *testing.T) {
	f := newFixture(t)
	f.portal.loginErr = &wisphub.AuthenticationError{Account: "cajero7@company", Status: 200}

	_, err := f.service.Login(context.Background(), "cajero7", "pass-cajero7")
	var authErr *wisphub.AuthenticationError
	require.True(t, errors.As(err, &authErr))
}

func TestCreateAccessCodeRecordsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	voucher, err := f.service.CreateAccessCode(ctx, "cajero7", "102")
	require.NoError(t, err)
	require.Equal(t, "CODE-102", voucher.Code)
	require.Len(t, f.portal.created, 1)
	require.Equal(t, "102", f.portal.created[0].Id)

	entries, err := f.service.AccessCodes(ctx, "cajero7", serviceNow.Add(-time.Minute), serviceNow)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "CODE-102", entries[0].Code)
	require.Equal(t, "102", entries[0].PlanId)
	require.NotEmpty(t, entries[0].Id)
	require.True(t, serviceNow.Equal(entries[0].AddedOn))

	count, err := f.service.AccessCodeCount(ctx, "cajero7", serviceNow.Add(-time.Minute), serviceNow)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	count, err = f.service.AccessCodeCount(ctx, "cajero8", serviceNow.Add(-time.Minute), serviceNow)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	require.Len(t, f.events.events, 1)
	require.Equal(t, AccessCodeCreatedKey, f.events.events[0].key)
	event := f.events.events[0].body.(AccessCodeCreated)
	require.Equal(t, entries[0].Id, event.Id)
	require.Equal(t, "cajero7", event.Username)
	require.Equal(t, "Outlet-7", event.Outlet)
	require.Equal(t, "Plan B", event.Plan)
	require.Equal(t, 25.5, *event.Price)
	require.Equal(t, "CODE-102", event.Code)

	_, err = f.service.CreateAccessCode(ctx, "cajero7", "999")
	require.ErrorIs(t, err, ErrPlanNotFound)

	_, err = f.service.CreateAccessCode(ctx, "cajero7", "201")
	var outletErr *wisphub.OutletNotAssociatedError
	require.True(t, errors.As(err, &outletErr))
	require.Len(t, f.events.events, 1)
}

func TestMonthlyAccessCodesQuery(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.MonthlyAccessCodes(context.Background(), "cajero8", time.March, false)
	require.NoError(t, err)

	require.Len(t, f.portal.queries, 1)
	query := f.portal.queries[0]
	require.Equal(t, "Outlet-8", query.Outlet)
	require.Equal(t, "cajero8@company", query.Account)
	require.False(t, query.PosOnly)
	require.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, timezone.Location), query.From)
	require.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, timezone.Location), query.To)
}

func TestCorte(t *testing.T) {
	f := newFixture(t)
	f.portal.reports = map[string]wisphub.Report{
		"Outlet-7": {
			Outlet: "Outlet-7",
			Plans: []wisphub.PlanReport{
				{Plan: testCatalog.Plans[0], RecordsTotal: 3},
				{Plan: testCatalog.Plans[1], RecordsTotal: 0},
			},
		},
		"Outlet-8": {
			Outlet: "Outlet-8",
			Plans: []wisphub.PlanReport{
				{Plan: testCatalog.Plans[1], RecordsTotal: 2},
				{Plan: testCatalog.Plans[2], RecordsTotal: 1},
			},
		},
	}

	corte, err := f.service.Corte(context.Background(), 2026, time.September)
	require.NoError(t, err)
	require.Equal(t, []string{"pos-admin@company"}, f.portal.logins)
	require.Len(t, f.portal.queries, 2)
	for _, q := range f.portal.queries {
		require.True(t, q.PosOnly)
		require.Equal(t, "pos-admin@company", q.Account)
	}

	expected := []OutletCut{
		{
			Outlet: "Outlet-7",
			Rows: []CutRow{
				{PlanId: "101", Plan: "Plan A", Price: 10, Currency: "MXN", Sales: 3, Total: 30},
			},
			Total: 30,
		},
		{
			Outlet: "Outlet-8",
			Rows: []CutRow{
				{PlanId: "102", Plan: "Plan B", Price: 25.5, Currency: "MXN", Sales: 2, Total: 51},
				{PlanId: "201", Plan: "Plan C", Sales: 1},
			},
			Total: 51,
		},
	}
	diff := cmp.Diff(expected, corte.Cuts)
	require.Empty(t, diff)

	var out bytes.Buffer
	err = corte.WriteXlsx(&out)
	require.NoError(t, err)
	require.Equal(t, "corte-2026-09.xlsx", corte.Filename())

	book, err := excelize.OpenReader(&out)
	require.NoError(t, err)
	defer book.Close()
	require.Equal(t, []string{"Outlet-7", "Outlet-8"}, book.GetSheetList())

	rows, err := book.GetRows("Outlet-8", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"id", "plan", "precio", "moneda", "ventas totales", "total"},
		{"102", "Plan B", "25.5", "MXN", "2", "51"},
		{"201", "Plan C", "0", "", "1", "0"},
		{"", "", "", "", "", "51"},
	}, rows)

	for _, cell := range []string{"C2", "E2", "F2", "F4"} {
		kind, err := book.GetCellType("Outlet-8", cell)
		require.NoError(t, err)
		require.NotEqual(t, excelize.CellTypeSharedString, kind, cell)
		require.NotEqual(t, excelize.CellTypeInlineString, kind, cell)
	}
	formatted, err := book.GetCellValue("Outlet-8", "F2")
	require.NoError(t, err)
	require.Equal(t, "51.00", formatted)
}

func TestSheetName(t *testing.T) {
	long := strings.Repeat("a", 40)
	used := map[string]bool{}
	testCases := []struct {
		outlet   string
		expected string
	}{
		{outlet: "Outlet-7", expected: "Outlet-7"},
		{outlet: "outlet-7", expected: "outlet-7 (2)"},
		{outlet: "Centro/Norte [2]", expected: "Centro Norte (2)"},
		{outlet: "  ", expected: "Punto de venta"},
		{outlet: long, expected: long[:31]},
		{outlet: long, expected: long[:27] + " (2)"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, sheetName(tc.outlet, used), tc.outlet)
	}
}

func TestEmptyCorteWorkbook(t *testing.T) {
	book, err := Corte{}.Workbook()
	require.NoError(t, err)
	defer book.Close()
	require.Equal(t, []string{"Corte"}, book.GetSheetList())
}

func TestSuggestOutlets(t *testing.T) {
	f := newFixture(t)
	suggestions, err := f.service.SuggestOutlets(context.Background(), "outlet 7")
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)
	require.Equal(t, "Outlet-7", suggestions[0].Value)
}

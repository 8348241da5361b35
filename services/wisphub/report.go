package wisphub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"wisppos-backend/lib/cookies"
	"wisppos-backend/lib/htmlutil"
	"wisppos-backend/lib/timezone"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type ReportQuery struct {
	Outlet string
	// From is inclusive and compared by date only.
	From time.Time
	// To is exclusive, the zero value leaves the window open.
	To time.Time
	// PosOnly keeps only the vouchers sold through Outlet itself.
	PosOnly bool
	// Account the jar belongs to, when set the cookies received while
	// listing are persisted for it.
	Account string
}

// GetPlanGeneratedAccessCodes reports every voucher of the plans sold at
// outlet that was created on or after the date of from.
func (c *Client) GetPlanGeneratedAccessCodes(ctx context.Context, outlet string, from time.Time, jar cookies.Jar) (Report, error) {
	return c.Report(ctx, ReportQuery{Outlet: outlet, From: from}, jar)
}

// Report lists the vouchers of every plan sold at the queried outlet
// concurrently and keeps the ones inside the window. any failed listing
// fails the whole report.
func (c *Client) Report(ctx context.Context, query ReportQuery, jar cookies.Jar) (Report, error) {
	ctx, span := tracer.Start(ctx, "Report", trace.WithAttributes(
		attribute.String("outlet", query.Outlet),
		attribute.Bool("pos_only", query.PosOnly),
	))
	defer span.End()

	plans, err := c.GetPlans(ctx, query.Outlet)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve plans")
		return Report{}, err
	}

	results := make([]PlanReport, len(plans))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, plan := range plans {
		i, plan := i, plan
		group.Go(func() error {
			records, err := c.listAccessCodes(groupCtx, query.Account, plan, jar)
			if err != nil {
				return err
			}
			filtered, err := filterAccessCodes(records, query, c.opts.Location)
			if err != nil {
				return fmt.Errorf("plan %s: %w", plan.Id, err)
			}
			results[i] = PlanReport{
				Plan:         plan,
				RecordsTotal: len(filtered),
				AccessCodes:  filtered,
			}
			return nil
		})
	}
	err = group.Wait()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list access codes")
		return Report{}, err
	}

	report := Report{
		Outlet: query.Outlet,
		From:   timezone.StartOfDay(query.From.In(c.opts.Location)),
		Plans:  results,
	}
	if !query.To.IsZero() {
		to := query.To
		report.To = &to
	}
	for _, r := range results {
		report.Total += r.RecordsTotal
	}
	span.SetAttributes(attribute.Int("total", report.Total))
	return report, nil
}

// listingRecord is one row of the DataTables json behind the voucher
// listing, cells may contain markup.
type listingRecord struct {
	Id          flexibleId   `json:"id"`
	Code        string       `json:"ficha"`
	PointOfSale string       `json:"punto_venta"`
	CreatedAt   string       `json:"fecha_creacion"`
	SoldAt      string       `json:"fecha_venta"`
	ExpiresAt   string       `json:"fecha_expiracion"`
	Active      flexibleBool `json:"activa"`
	State       string       `json:"estado"`
}

type listing struct {
	RecordsTotal int             `json:"recordsTotal"`
	Data         []listingRecord `json:"data"`
}

func (c *Client) listAccessCodes(ctx context.Context, account string, plan Plan, jar cookies.Jar) ([]listingRecord, error) {
	ctx, span := tracer.Start(ctx, "listAccessCodes", trace.WithAttributes(
		attribute.String("plan", plan.Id),
	))
	defer span.End()

	res, _, err := c.send(ctx, exchange{account: account, jar: jar, method: http.MethodGet, path: c.endpoints.listing(plan.Id)})
	if err != nil {
		return nil, err
	}
	err = expectStatus(res, http.StatusOK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing failed")
		return nil, err
	}

	var body listing
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		return nil, &htmlutil.ParseError{What: fmt.Sprintf("listing of plan %s", plan.Id), Err: err}
	}
	if body.RecordsTotal != len(body.Data) {
		slog.DebugContext(ctx, "listing is paginated differently than expected", "plan", plan.Id, "records_total", body.RecordsTotal, "rows", len(body.Data))
	}
	return body.Data, nil
}

var stateClassRegex = regexp.MustCompile(`estado-([\w-]+)`)

// accessCodeState reads the state token out of the css class of the status
// badge, falling back to its text.
func accessCodeState(cell string) string {
	groups := stateClassRegex.FindStringSubmatch(cell)
	if len(groups) >= 2 {
		return strings.ToLower(groups[1])
	}
	return strings.ToLower(htmlutil.FragmentText(cell))
}

func toAccessCode(record listingRecord, loc *time.Location) (AccessCode, bool, error) {
	created, ok, err := timezone.ParsePortalDate(htmlutil.FragmentText(record.CreatedAt), loc)
	if err != nil || !ok {
		return AccessCode{}, ok, err
	}
	code := AccessCode{
		Id:          string(record.Id),
		Code:        htmlutil.FragmentText(record.Code),
		PointOfSale: htmlutil.FragmentText(record.PointOfSale),
		CreatedAt:   created,
		Active:      bool(record.Active),
		State:       accessCodeState(record.State),
	}

	sold, ok, err := timezone.ParsePortalDate(htmlutil.FragmentText(record.SoldAt), loc)
	if err != nil {
		return AccessCode{}, false, err
	}
	if ok {
		code.SoldAt = &sold
	}
	expires, ok, err := timezone.ParsePortalDate(htmlutil.FragmentText(record.ExpiresAt), loc)
	if err != nil {
		return AccessCode{}, false, err
	}
	if ok {
		code.ExpiresAt = &expires
	}
	return code, true, nil
}

func filterAccessCodes(records []listingRecord, query ReportQuery, loc *time.Location) ([]AccessCode, error) {
	from := timezone.StartOfDay(query.From.In(loc))

	filtered := []AccessCode{}
	for _, record := range records {
		code, ok, err := toAccessCode(record, loc)
		if err != nil {
			return nil, &htmlutil.ParseError{What: fmt.Sprintf("access code %s", string(record.Id)), Err: err}
		}
		if !ok {
			continue
		}
		if timezone.StartOfDay(code.CreatedAt).Before(from) {
			continue
		}
		if !query.To.IsZero() && !code.CreatedAt.Before(query.To) {
			continue
		}
		if query.PosOnly && !strings.EqualFold(code.PointOfSale, strings.TrimSpace(query.Outlet)) {
			continue
		}
		filtered = append(filtered, code)
	}
	return filtered, nil
}

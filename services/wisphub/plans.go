package wisphub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"wisppos-backend/lib/cookies"
	"wisppos-backend/lib/htmlutil"
	"wisppos-backend/lib/textutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	pricingTableSelector = "table#tabla-planes"
	planSelectSelector   = "select#id_plan"
	planLabelDelimiter   = " - "
	outletsJsonStart     = `var planesPuntosVenta\s*=`
	inlineJsonEnd        = `;`
)

// pricing is one row of the pricing table.
type pricing struct {
	Code     string
	LongName string
	Price    *float64
	Currency *string
	Router   string
}

// planOption is one option of the plan select of the creation form.
type planOption struct {
	Id     string
	Label  string
	Router string
	Name   string
	Prefix string
}

// RefreshPlans scrapes the creation form, the pricing table and the outlet
// associations, merges them into a new catalog and replaces the persisted
// one with it.
func (c *Client) RefreshPlans(ctx context.Context, account string, jar cookies.Jar) (Catalog, error) {
	ctx, span := tracer.Start(ctx, "RefreshPlans")
	defer span.End()

	var options []planOption
	var pricings []pricing
	var outlets map[string][]Outlet

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		options, err = c.fetchPlanOptions(groupCtx, account, jar)
		return err
	})
	group.Go(func() error {
		var err error
		pricings, err = c.fetchPricing(groupCtx, account, jar)
		return err
	})
	group.Go(func() error {
		var err error
		outlets, err = c.fetchOutlets(groupCtx, account, jar)
		return err
	})
	err := group.Wait()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to scrape plans")
		return Catalog{}, err
	}

	catalog := Catalog{
		RefreshedAt: c.now(),
		Plans:       mergePlans(ctx, options, pricings, outlets),
	}
	span.SetAttributes(attribute.Int("plans", len(catalog.Plans)))

	err = c.store.Write(ctx, CatalogKey, catalog)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist catalog")
		return Catalog{}, fmt.Errorf("write plan catalog: %w", err)
	}
	slog.InfoContext(ctx, "refreshed plan catalog", "plans", len(catalog.Plans))
	return catalog, nil
}

// GetPlans returns the plans of the last refreshed catalog that can be sold
// at outlet. it never talks to the portal.
func (c *Client) GetPlans(ctx context.Context, outlet string) ([]Plan, error) {
	catalog, err := c.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.ForOutlet(outlet), nil
}

// Catalog returns the last refreshed catalog.
func (c *Client) Catalog(ctx context.Context) (Catalog, error) {
	var catalog Catalog
	found, err := c.store.Read(ctx, CatalogKey, &catalog)
	if err != nil {
		return Catalog{}, fmt.Errorf("read plan catalog: %w", err)
	}
	if !found {
		return Catalog{}, ErrCatalogNotInitialized
	}
	return catalog, nil
}

func (c *Client) fetchPlanOptions(ctx context.Context, account string, jar cookies.Jar) ([]planOption, error) {
	ctx, span := tracer.Start(ctx, "fetchPlanOptions")
	defer span.End()

	res, _, err := c.send(ctx, exchange{account: account, jar: jar, method: http.MethodGet, path: c.endpoints.CreateForm})
	if err != nil {
		return nil, err
	}
	err = expectStatus(res, http.StatusOK)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(res, "creation form")
	if err != nil {
		return nil, err
	}

	var options []planOption
	for _, o := range htmlutil.ExtractSelectOptions(doc, planSelectSelector, planLabelDelimiter) {
		if o.Value == "" {
			continue
		}
		options = append(options, parsePlanOption(o))
	}
	if len(options) == 0 {
		return nil, &htmlutil.ParseError{What: "plan options", Err: htmlutil.ErrNotFound}
	}
	return options, nil
}

// parsePlanOption reads "<router> - <name> - <prefix>", names containing the
// delimiter themselves keep it.
func parsePlanOption(o htmlutil.SelectOption) planOption {
	option := planOption{Id: o.Value, Label: o.Label}
	parts := o.Parts
	switch {
	case len(parts) >= 3:
		option.Router = parts[0]
		option.Name = strings.Join(parts[1:len(parts)-1], planLabelDelimiter)
		option.Prefix = parts[len(parts)-1]
	case len(parts) == 2:
		option.Router = parts[0]
		option.Name = parts[1]
	case len(parts) == 1:
		option.Name = parts[0]
	}
	return option
}

func (c *Client) fetchPricing(ctx context.Context, account string, jar cookies.Jar) ([]pricing, error) {
	ctx, span := tracer.Start(ctx, "fetchPricing")
	defer span.End()

	res, _, err := c.send(ctx, exchange{account: account, jar: jar, method: http.MethodGet, path: c.endpoints.Pricing})
	if err != nil {
		return nil, err
	}
	err = expectStatus(res, http.StatusOK)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(res, "pricing table")
	if err != nil {
		return nil, err
	}
	rows, err := htmlutil.ExtractTable(doc, pricingTableSelector)
	if err != nil {
		return nil, err
	}

	pricings := make([]pricing, 0, len(rows))
	for _, row := range rows {
		p := pricing{
			Code:     row["Plan"],
			LongName: row["Nombre"],
			Router:   row["Router"],
		}
		price, err := parsePrice(row["Precio"])
		if err != nil {
			slog.WarnContext(ctx, "ignoring unparsable price", "plan", p.LongName, "price", row["Precio"], "err", err)
		} else {
			p.Price = price
		}
		if currency := strings.TrimSpace(row["Moneda"]); currency != "" {
			p.Currency = &currency
		}
		pricings = append(pricings, p)
	}
	return pricings, nil
}

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

// parsePrice reads prices such as "$ 1,250.00", an empty cell has no price.
func parsePrice(value string) (*float64, error) {
	cleaned := nonNumeric.ReplaceAllString(value, "")
	if cleaned == "" {
		return nil, nil
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil, err
	}
	return &price, nil
}

func (c *Client) fetchOutlets(ctx context.Context, account string, jar cookies.Jar) (map[string][]Outlet, error) {
	ctx, span := tracer.Start(ctx, "fetchOutlets")
	defer span.End()

	res, _, err := c.send(ctx, exchange{account: account, jar: jar, method: http.MethodGet, path: c.endpoints.Outlets})
	if err != nil {
		return nil, err
	}
	err = expectStatus(res, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var raw map[string][]struct {
		Id     flexibleId `json:"id"`
		Nombre string     `json:"nombre"`
	}
	err = htmlutil.ExtractInlineJson(res.String(), outletsJsonStart, inlineJsonEnd, &raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to extract outlet associations")
		return nil, err
	}

	outlets := make(map[string][]Outlet, len(raw))
	for planId, list := range raw {
		for _, o := range list {
			outlets[planId] = append(outlets[planId], Outlet{
				Id:   string(o.Id),
				Name: strings.TrimSpace(o.Nombre),
			})
		}
	}
	return outlets, nil
}

// mergePlans attaches to every plan option the pricing of the first pricing
// row whose long name contains the option's router, name and prefix in that
// order. options without a match keep empty pricing.
func mergePlans(ctx context.Context, options []planOption, pricings []pricing, outlets map[string][]Outlet) []Plan {
	plans := make([]Plan, 0, len(options))
	for _, o := range options {
		plan := Plan{
			Id:      o.Id,
			Router:  o.Router,
			Name:    o.Name,
			Prefix:  o.Prefix,
			Outlets: outlets[o.Id],
		}
		if plan.Outlets == nil {
			plan.Outlets = []Outlet{}
		}

		pattern := textutil.SequencePattern(o.Router, o.Name, o.Prefix)
		var matches []pricing
		for _, p := range pricings {
			if pattern.MatchString(p.LongName) {
				matches = append(matches, p)
			}
		}

		if len(matches) == 0 {
			slog.DebugContext(ctx, "plan has no pricing", "plan", o.Id, "label", o.Label)
			plans = append(plans, plan)
			continue
		}
		if len(matches) > 1 {
			logAmbiguousMatch(ctx, o, matches)
		}

		chosen := matches[0]
		plan.LongName = chosen.LongName
		plan.Price = chosen.Price
		plan.Currency = chosen.Currency
		plans = append(plans, plan)
	}
	return plans
}

func logAmbiguousMatch(ctx context.Context, o planOption, matches []pricing) {
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.LongName
	}
	scores := []any{}
	for _, s := range textutil.Suggest(o.Router+o.Name+o.Prefix, names, 0, 0) {
		scores = append(scores, slog.Float64(s.Value, s.Similarity))
	}
	slog.WarnContext(
		ctx, "plan matches more than one pricing row, using the first",
		"plan", o.Id,
		"label", o.Label,
		"chosen", matches[0].LongName,
		slog.Group("similarity", scores...),
	)
}

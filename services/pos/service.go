package pos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"wisppos-backend/lib/cookies"
	"wisppos-backend/lib/events"
	"wisppos-backend/lib/telemetry"
	"wisppos-backend/lib/textutil"
	"wisppos-backend/lib/timezone"
	"wisppos-backend/services/wisphub"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = telemetry.Tracer("wisppos.services.pos")

var (
	ErrUnauthorized = errors.New("invalid username or password")
	ErrPlanNotFound = errors.New("plan not found")
)

// Portal is the part of the wisphub client the point of sale layer uses.
type Portal interface {
	Login(ctx context.Context, account, password string) (cookies.Jar, error)
	RefreshPlans(ctx context.Context, account string, jar cookies.Jar) (wisphub.Catalog, error)
	GetPlans(ctx context.Context, outlet string) ([]wisphub.Plan, error)
	Catalog(ctx context.Context) (wisphub.Catalog, error)
	CreateAccessCode(ctx context.Context, account string, plan wisphub.Plan, outlet string, jar cookies.Jar) (wisphub.Voucher, error)
	Report(ctx context.Context, query wisphub.ReportQuery, jar cookies.Jar) (wisphub.Report, error)
}

type AdminAccount struct {
	Username string `json:"username" env:"USERNAME"`
	Password string `json:"password" env:"PASSWORD"`
}

type Options struct {
	// Admin is the portal account that can list the sales of every outlet.
	Admin    AdminAccount
	Location *time.Location
	Now      func() time.Time
	Events   events.Publisher
}

const AccessCodeCreatedKey = "access_code.created"

// AccessCodeCreated is published for every voucher sold through a point of
// sale.
type AccessCodeCreated struct {
	Id        string    `json:"id"`
	Username  string    `json:"username"`
	Outlet    string    `json:"outlet"`
	PlanId    string    `json:"plan_id"`
	Plan      string    `json:"plan"`
	Price     *float64  `json:"price"`
	Currency  *string   `json:"currency"`
	Code      string    `json:"code"`
	TaskId    string    `json:"task_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Service struct {
	portal  Portal
	users   UserStore
	history History
	tokens  TokenIssuer
	opts    Options
}

func NewService(portal Portal, users UserStore, history History, tokens TokenIssuer, opts Options) Service {
	if opts.Location == nil {
		opts.Location = timezone.Location
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	return Service{
		portal:  portal,
		users:   users,
		history: history,
		tokens:  tokens,
		opts:    opts,
	}
}

func (s Service) now() time.Time {
	return s.opts.Now().In(s.opts.Location)
}

// session resolves the user and a live portal session of its account.
func (s Service) session(ctx context.Context, username string) (User, cookies.Jar, error) {
	user, err := s.users.Get(ctx, username)
	if err != nil {
		return User{}, nil, err
	}
	jar, err := s.portal.Login(ctx, user.WispHub.Username, user.WispHub.Password)
	if err != nil {
		return User{}, nil, err
	}
	return user, jar, nil
}

// Login checks the credentials of a point of sale operator, makes sure its
// portal account can log in and issues a token carrying its plans.
func (s Service) Login(ctx context.Context, username, password string) (string, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	user, err := s.users.Get(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", err
	}
	if !user.CheckPassword(password) {
		return "", ErrUnauthorized
	}

	_, err = s.portal.Login(ctx, user.WispHub.Username, user.WispHub.Password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to login to the portal")
		return "", err
	}

	plans, err := s.portal.GetPlans(ctx, user.WispHub.PointOfSaleName)
	if errors.Is(err, wisphub.ErrCatalogNotInitialized) {
		slog.WarnContext(ctx, "issuing token without plans, the catalog was never refreshed", "username", user.Username)
		plans = []wisphub.Plan{}
	} else if err != nil {
		return "", err
	}

	return s.tokens.Issue(Claims{
		Username:                user.Username,
		PointOfSaleName:         user.WispHub.PointOfSaleName,
		PointOfSaleFriendlyName: user.PointOfSaleFriendlyName,
		AvailablePlans:          plans,
	})
}

func (s Service) Plans(ctx context.Context, username string) ([]wisphub.Plan, error) {
	user, err := s.users.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.portal.GetPlans(ctx, user.WispHub.PointOfSaleName)
}

func (s Service) RefreshPlans(ctx context.Context, username string) ([]wisphub.Plan, error) {
	user, jar, err := s.session(ctx, username)
	if err != nil {
		return nil, err
	}
	catalog, err := s.portal.RefreshPlans(ctx, user.WispHub.Username, jar)
	if err != nil {
		return nil, err
	}
	return catalog.ForOutlet(user.WispHub.PointOfSaleName), nil
}

// CreateAccessCode creates a voucher of the catalog plan with the given id
// at the user's outlet and records it in the user's history.
func (s Service) CreateAccessCode(ctx context.Context, username, planId string) (wisphub.Voucher, error) {
	ctx, span := tracer.Start(ctx, "CreateAccessCode")
	defer span.End()

	user, jar, err := s.session(ctx, username)
	if err != nil {
		return wisphub.Voucher{}, err
	}
	catalog, err := s.portal.Catalog(ctx)
	if err != nil {
		return wisphub.Voucher{}, err
	}
	plan, ok := catalog.Find(planId)
	if !ok {
		return wisphub.Voucher{}, fmt.Errorf("%w: %q", ErrPlanNotFound, planId)
	}

	voucher, err := s.portal.CreateAccessCode(ctx, user.WispHub.Username, plan, user.WispHub.PointOfSaleName, jar)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create access code")
		return wisphub.Voucher{}, err
	}

	entry, err := s.history.Append(ctx, user.Username, HistoryEntry{
		Code:    voucher.Code,
		TaskId:  voucher.TaskId,
		PlanId:  plan.Id,
		AddedOn: s.now(),
	})
	if err != nil {
		// the voucher exists on the portal either way
		slog.ErrorContext(ctx, "failed to record access code", "username", user.Username, "code", voucher.Code, "err", err)
	}

	err = s.opts.Events.Publish(ctx, AccessCodeCreatedKey, AccessCodeCreated{
		Id:        entry.Id,
		Username:  user.Username,
		Outlet:    user.WispHub.PointOfSaleName,
		PlanId:    plan.Id,
		Plan:      plan.Name,
		Price:     plan.Price,
		Currency:  plan.Currency,
		Code:      voucher.Code,
		TaskId:    voucher.TaskId,
		CreatedAt: s.now(),
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to publish access code", "code", voucher.Code, "err", err)
	}
	return voucher, nil
}

// MonthlyAccessCodes reports the sales of the user's outlet during the
// given month of the current year.
func (s Service) MonthlyAccessCodes(ctx context.Context, username string, month time.Month, posOnly bool) (wisphub.Report, error) {
	user, jar, err := s.session(ctx, username)
	if err != nil {
		return wisphub.Report{}, err
	}
	from, to := timezone.MonthRange(s.now().Year(), month, s.opts.Location)
	return s.portal.Report(ctx, wisphub.ReportQuery{
		Outlet:  user.WispHub.PointOfSaleName,
		From:    from,
		To:      to,
		PosOnly: posOnly,
		Account: user.WispHub.Username,
	}, jar)
}

func (s Service) AccessCodes(ctx context.Context, username string, start, end time.Time) ([]HistoryEntry, error) {
	user, err := s.users.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.history.Between(ctx, user.Username, start, end)
}

// AccessCodeCount is how many access codes the user created within
// [start, end].
func (s Service) AccessCodeCount(ctx context.Context, username string, start, end time.Time) (int, error) {
	user, err := s.users.Get(ctx, username)
	if err != nil {
		return 0, err
	}
	return s.history.Count(ctx, user.Username, start, end)
}

// Corte builds the monthly cut of every registered outlet through the admin
// account.
func (s Service) Corte(ctx context.Context, year int, month time.Month) (Corte, error) {
	ctx, span := tracer.Start(ctx, "Corte")
	defer span.End()

	jar, err := s.portal.Login(ctx, s.opts.Admin.Username, s.opts.Admin.Password)
	if err != nil {
		return Corte{}, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return Corte{}, err
	}

	outlets := map[string]struct{}{}
	for _, u := range users {
		outlets[u.WispHub.PointOfSaleName] = struct{}{}
	}
	names := make([]string, 0, len(outlets))
	for name := range outlets {
		names = append(names, name)
	}
	sort.Strings(names)

	from, to := timezone.MonthRange(year, month, s.opts.Location)
	cuts := make([]OutletCut, len(names))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		group.Go(func() error {
			report, err := s.portal.Report(groupCtx, wisphub.ReportQuery{
				Outlet:  name,
				From:    from,
				To:      to,
				PosOnly: true,
				Account: s.opts.Admin.Username,
			}, jar)
			if err != nil {
				return fmt.Errorf("outlet %q: %w", name, err)
			}
			cuts[i] = cutFromReport(report)
			return nil
		})
	}
	err = group.Wait()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build cut")
		return Corte{}, err
	}
	return Corte{From: from, To: to, Cuts: cuts}, nil
}

// SuggestOutlets returns the outlet names of the catalog closest to name,
// used when an outlet is misspelled.
func (s Service) SuggestOutlets(ctx context.Context, name string) ([]textutil.Suggestion, error) {
	catalog, err := s.portal.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var candidates []string
	for _, p := range catalog.Plans {
		for _, o := range p.Outlets {
			if seen[o.Name] {
				continue
			}
			seen[o.Name] = true
			candidates = append(candidates, o.Name)
		}
	}
	return textutil.Suggest(name, candidates, 0.8, 3), nil
}

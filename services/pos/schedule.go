package pos

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"wisppos-backend/services/wisphub"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/codes"
)

// ScheduleConfig holds cron specs, an empty spec disables the job.
type ScheduleConfig struct {
	RefreshPlans string `json:"refresh_plans"`
	// Corte emails the cut of the previous month.
	Corte string `json:"corte"`
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}

type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler(loc *time.Location) Scheduler {
	return Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
		),
	}
}

// Add registers job under spec, jobs run with ctx and their errors are
// logged.
func (s Scheduler) Add(ctx context.Context, name, spec string, job func(ctx context.Context) error) error {
	if spec == "" {
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		ctx, span := tracer.Start(ctx, "cron:"+name)
		defer span.End()

		err := job(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "job failed")
			slog.ErrorContext(ctx, "scheduled job failed", "job", name, "err", err)
			return
		}
		slog.InfoContext(ctx, "scheduled job done", "job", name)
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	return nil
}

func (s Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs.
func (s Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RefreshCatalog rebuilds the plan catalog through the admin account.
func (s Service) RefreshCatalog(ctx context.Context) (wisphub.Catalog, error) {
	jar, err := s.portal.Login(ctx, s.opts.Admin.Username, s.opts.Admin.Password)
	if err != nil {
		return wisphub.Catalog{}, err
	}
	return s.portal.RefreshPlans(ctx, s.opts.Admin.Username, jar)
}

func previousMonth(now time.Time) (int, time.Month) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	prev := first.AddDate(0, -1, 0)
	return prev.Year(), prev.Month()
}

// CorteMailer emails the cut of the month before the current one.
type CorteMailer struct {
	Service    Service
	Smtp       SmtpConfig
	Recipients []string
}

func (m CorteMailer) Send(ctx context.Context) error {
	if len(m.Recipients) == 0 {
		return fmt.Errorf("no corte recipients configured")
	}
	year, month := previousMonth(m.Service.now())
	corte, err := m.Service.Corte(ctx, year, month)
	if err != nil {
		return err
	}
	return EmailCorte(ctx, m.Smtp, m.Recipients, corte)
}

// Schedule registers the jobs of config on a new scheduler.
func (a App) Schedule(ctx context.Context) (Scheduler, error) {
	scheduler := NewScheduler(a.Service.opts.Location)
	err := scheduler.Add(ctx, "refresh-plans", a.Config.Schedule.RefreshPlans, func(ctx context.Context) error {
		catalog, err := a.Service.RefreshCatalog(ctx)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "refreshed plans", "count", len(catalog.Plans))
		return nil
	})
	if err != nil {
		return Scheduler{}, err
	}
	mailer := CorteMailer{
		Service:    a.Service,
		Smtp:       a.Config.Smtp,
		Recipients: a.Config.CorteRecipients,
	}
	err = scheduler.Add(ctx, "corte", a.Config.Schedule.Corte, mailer.Send)
	if err != nil {
		return Scheduler{}, err
	}
	return scheduler, nil
}

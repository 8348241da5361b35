package wisphub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"wisppos-backend/lib/cookies"
	"wisppos-backend/lib/htmlutil"
	"wisppos-backend/lib/poll"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	taskIdJsonStart      = `var taskId\s*=`
	confirmationSelector = "p"
	loginUrlSelector     = "a#url-login"
)

// labels of the confirmation page that hold the voucher code, in order of
// preference
var codeLabels = []string{"pin", "ficha", "código", "codigo"}

// CreateAccessCode mints a single voucher of plan for outlet. the portal
// generates vouchers asynchronously, so after submitting the creation form
// the task is polled until it succeeds, fails or runs out of attempts.
func (c *Client) CreateAccessCode(ctx context.Context, account string, plan Plan, outlet string, jar cookies.Jar) (Voucher, error) {
	ctx, span := tracer.Start(ctx, "CreateAccessCode", trace.WithAttributes(
		attribute.String("plan", plan.Id),
		attribute.String("outlet", outlet),
	))
	defer span.End()

	voucher, err := c.createAccessCode(ctx, account, plan, outlet, jar)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create access code")
		return Voucher{}, err
	}
	vouchersCreated.Add(ctx, 1)
	slog.InfoContext(ctx, "created access code", "account", account, "plan", plan.Id, "outlet", outlet, "task", voucher.TaskId)
	return voucher, nil
}

func (c *Client) createAccessCode(ctx context.Context, account string, plan Plan, outlet string, jar cookies.Jar) (Voucher, error) {
	outletId, ok := plan.OutletId(outlet)
	if !ok {
		return Voucher{}, &OutletNotAssociatedError{PlanId: plan.Id, Outlet: outlet}
	}

	// preparing
	res, jar, err := c.send(ctx, exchange{account: account, jar: jar, method: http.MethodGet, path: c.endpoints.CreateForm})
	if err != nil {
		return Voucher{}, err
	}
	err = expectStatus(res, http.StatusOK)
	if err != nil {
		return Voucher{}, err
	}
	doc, err := parseDocument(res, "creation form")
	if err != nil {
		return Voucher{}, err
	}
	token, ok := htmlutil.ExtractCsrfToken(doc)
	if !ok {
		return Voucher{}, ErrCsrfNotFound
	}

	// submitted
	res, jar, err = c.send(ctx, exchange{
		account: account,
		jar:     jar,
		method:  http.MethodPost,
		path:    c.endpoints.CreateForm,
		form: map[string]string{
			htmlutil.CsrfFieldName: token,
			"plan":                 plan.Id,
			"cantidad":             "1",
			"punto_venta":          outletId,
			"imprimir":             c.opts.PrintTarget,
		},
	})
	if err != nil {
		return Voucher{}, err
	}
	// the form may answer with a redirect to the task page instead of
	// rendering it directly
	if location := res.Header().Get("Location"); isRedirect(res.StatusCode()) && location != "" {
		res, jar, err = c.send(ctx, exchange{account: account, jar: jar, method: http.MethodGet, path: location})
		if err != nil {
			return Voucher{}, err
		}
	}
	taskId, err := extractTaskId(res.String())
	if err != nil {
		return Voucher{}, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("task", taskId))

	// polling
	jar, err = c.waitForTask(ctx, account, taskId, jar)
	if err != nil {
		return Voucher{}, err
	}

	return c.confirmTask(ctx, account, taskId, jar)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		return true
	}
	return false
}

func extractTaskId(body string) (string, error) {
	var taskId flexibleId
	err := htmlutil.ExtractInlineJson(body, taskIdJsonStart, inlineJsonEnd, &taskId)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTaskIdMissing, err)
	}
	if taskId == "" {
		return "", ErrTaskIdMissing
	}
	return string(taskId), nil
}

func (c *Client) waitForTask(ctx context.Context, account, taskId string, jar cookies.Jar) (cookies.Jar, error) {
	ctx, span := tracer.Start(ctx, "waitForTask")
	defer span.End()

	opts := poll.Options{
		Interval:    c.opts.PollInterval,
		MaxAttempts: c.opts.PollAttempts,
		Notify: func(attempt int, err error) {
			slog.DebugContext(ctx, "task still running", "task", taskId, "attempt", attempt)
		},
	}
	if c.opts.NewPollTimer != nil {
		opts.Timer = c.opts.NewPollTimer()
	}

	path := c.endpoints.task(c.endpoints.TaskStatus, taskId)
	attempts, err := poll.Until(ctx, opts, func(ctx context.Context, attempt int) error {
		res, next, err := c.send(ctx, exchange{account: account, jar: jar, method: http.MethodGet, path: path})
		if err != nil {
			return err
		}
		jar = next
		err = expectStatus(res, http.StatusOK)
		if err != nil {
			return err
		}

		var body struct {
			Status string `json:"status"`
			State  string `json:"state"`
		}
		err = json.Unmarshal(res.Body(), &body)
		if err != nil {
			return &htmlutil.ParseError{What: "task status", Err: err}
		}
		raw := body.Status
		if raw == "" {
			raw = body.State
		}

		switch ParseTaskStatus(raw) {
		case TaskSuccess:
			return nil
		case TaskFailure:
			return &TaskFailedError{TaskId: taskId, Status: raw}
		}
		return poll.ErrPending
	})
	pollAttempts.Record(ctx, int64(attempts))
	span.SetAttributes(attribute.Int("attempts", attempts))

	if errors.Is(err, poll.ErrExhausted) {
		err = &TaskTimeoutError{TaskId: taskId, Attempts: attempts}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task did not succeed")
		return jar, err
	}
	return jar, nil
}

func (c *Client) confirmTask(ctx context.Context, account, taskId string, jar cookies.Jar) (Voucher, error) {
	ctx, span := tracer.Start(ctx, "confirmTask")
	defer span.End()

	path := c.endpoints.task(c.endpoints.TaskConfirmation, taskId)
	res, _, err := c.send(ctx, exchange{account: account, jar: jar, method: http.MethodGet, path: path})
	if err != nil {
		return Voucher{}, err
	}
	if res.StatusCode() != http.StatusOK {
		return Voucher{}, &TaskConfirmationError{TaskId: taskId, Status: res.StatusCode()}
	}
	doc, err := parseDocument(res, "task confirmation")
	if err != nil {
		return Voucher{}, err
	}

	voucher := Voucher{
		TaskId:  taskId,
		Details: htmlutil.ExtractLabeledParagraphs(doc, confirmationSelector),
	}
	anchors := htmlutil.GetAnchors(ctx, c.baseUrl, doc.Find(loginUrlSelector))
	if len(anchors) > 0 {
		voucher.LoginUrl = anchors[0].Href
	}
	for _, label := range codeLabels {
		for key, value := range voucher.Details {
			if strings.EqualFold(key, label) && value != "" {
				voucher.Code = value
				break
			}
		}
		if voucher.Code != "" {
			break
		}
	}
	if voucher.Code == "" {
		return Voucher{}, &htmlutil.ParseError{What: "voucher code", Err: htmlutil.ErrNotFound}
	}
	return voucher, nil
}

package wisphub

import (
	"context"
	"log/slog"
	"net/http"
	"wisppos-backend/lib/cookies"
	"wisppos-backend/lib/htmlutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Login returns a jar with a live session for account. a cached jar whose
// session cookie has not expired is returned as is, otherwise the login form
// is submitted. concurrent calls for the same account share one round trip,
// which runs to completion even when the caller that started it gives up.
func (c *Client) Login(ctx context.Context, account, password string) (cookies.Jar, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	flight := c.logins.DoChan(account, func() (any, error) {
		return c.login(context.WithoutCancel(ctx), account, password)
	})

	select {
	case <-ctx.Done():
		err := ctx.Err()
		span.RecordError(err)
		span.SetStatus(codes.Error, "login abandoned")
		return nil, err
	case res := <-flight:
		span.SetAttributes(attribute.Bool("shared", res.Shared))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "failed to login")
			return nil, res.Err
		}
		return res.Val.(cookies.Jar), nil
	}
}

func (c *Client) login(ctx context.Context, account, password string) (cookies.Jar, error) {
	cached, found, err := c.jars.load(ctx, account)
	if err != nil {
		return nil, err
	}
	if found && cached.Valid(SessionCookie, c.now()) {
		slog.DebugContext(ctx, "reusing cached session", "account", account)
		return cached, nil
	}

	slog.InfoContext(ctx, "authenticating", "account", account, "had_jar", found)
	loginRoundTrips.Add(ctx, 1)

	res, pageJar, err := c.send(ctx, exchange{
		method: http.MethodGet,
		path:   c.endpoints.Login,
	})
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(res, "login page")
	if err != nil {
		return nil, err
	}
	token, ok := htmlutil.ExtractCsrfToken(doc)
	if !ok {
		slog.WarnContext(ctx, "login page has no csrf token", "status", res.StatusCode(), "body_length", len(res.Body()))
		return nil, ErrCsrfNotFound
	}

	res, submitJar, err := c.send(ctx, exchange{
		jar:    pageJar,
		method: http.MethodPost,
		path:   c.endpoints.Login,
		form: map[string]string{
			htmlutil.CsrfFieldName: token,
			"login":                account,
			"password":             password,
			"token_device":         "",
			"name_device":          "",
			"type_device":          "",
			"remember":             "1",
		},
	})
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != http.StatusFound {
		return nil, &AuthenticationError{Account: account, Status: res.StatusCode()}
	}

	return c.jars.merge(ctx, account, nil, submitJar)
}

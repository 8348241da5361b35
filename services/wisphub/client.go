package wisphub

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"wisppos-backend/lib/cookies"
	"wisppos-backend/lib/kvstore"
	"wisppos-backend/lib/restyutil"
	"wisppos-backend/lib/telemetry"
	"wisppos-backend/lib/timezone"

	"dario.cat/mergo"
	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
)

// Endpoints are the paths of every portal page the client talks to,
// relative to the base url. "{task}" and "{plan}" are substituted.
type Endpoints struct {
	Login            string `json:"login"`
	CreateForm       string `json:"create_form"`
	TaskStatus       string `json:"task_status"`
	TaskConfirmation string `json:"task_confirmation"`
	Pricing          string `json:"pricing"`
	Outlets          string `json:"outlets"`
	Listing          string `json:"listing"`
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:            "/accounts/login/",
		CreateForm:       "/crear-fichas/863/",
		TaskStatus:       "/fichas/tarea/{task}/estado/",
		TaskConfirmation: "/fichas/tarea/{task}/",
		Pricing:          "/planes/fichas/",
		Outlets:          "/puntos-venta/",
		Listing:          "/fichas/plan/{plan}/json/?start=0&length=-1",
	}
}

func (e Endpoints) task(path, taskId string) string {
	return strings.ReplaceAll(path, "{task}", url.PathEscape(taskId))
}

func (e Endpoints) listing(planId string) string {
	return strings.ReplaceAll(e.Listing, "{plan}", url.PathEscape(planId))
}

const DefaultBaseUrl = "https://cloud.co-co.mx"

type Options struct {
	BaseUrl string
	Store   kvstore.Store
	// zero fields are filled in from DefaultEndpoints
	Endpoints Endpoints
	// PrintTarget is sent as the "imprimir" field of the creation form.
	PrintTarget      string
	CloudflareBypass bool
	// Location the portal renders its dates in, defaults to Mexico City.
	Location     *time.Location
	PollInterval time.Duration
	PollAttempts int
	// NewPollTimer creates the timer a single poll loop sleeps on, nil means
	// a real timer.
	NewPollTimer     func() backoff.Timer
	Now              func() time.Time
	Timeout          time.Duration
	InstrumentOutput restyutil.InstrumentOutput
}

// Client automates the portal for any number of accounts, the only state it
// keeps in memory is the login single-flight group.
type Client struct {
	baseUrl   *url.URL
	http      *resty.Client
	store     kvstore.Store
	jars      *jarStore
	endpoints Endpoints
	opts      Options
	logins    singleflight.Group
}

func NewClient(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("wisphub client requires a store")
	}
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	err = mergo.Merge(&opts.Endpoints, DefaultEndpoints())
	if err != nil {
		return nil, err
	}
	if opts.Location == nil {
		opts.Location = timezone.Location
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(opts.BaseUrl, "/"))
	// cookies are tracked per account in the store, never by the http client
	client.SetCookieJar(nil)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetHeader("accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))
	client.SetTimeout(opts.Timeout)

	restyutil.InstrumentClient(client, telemetry.Tracer("wisppos.services.wisphub.http"), opts.InstrumentOutput)

	return &Client{
		baseUrl:   baseUrl,
		http:      client,
		store:     opts.Store,
		jars:      &jarStore{store: opts.Store},
		endpoints: opts.Endpoints,
		opts:      opts,
	}, nil
}

func (c *Client) now() time.Time {
	return c.opts.Now()
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	return c.baseUrl.ResolveReference(ref).String()
}

type exchange struct {
	// when set, the resulting jar is merged into the account's persisted jar
	account string
	jar     cookies.Jar
	method  string
	path    string
	form    map[string]string
}

// send performs a single request carrying the jar and merges whatever
// cookies come back into it, regardless of the response status.
func (c *Client) send(ctx context.Context, ex exchange) (*resty.Response, cookies.Jar, error) {
	req := c.http.R().SetContext(ctx)
	if len(ex.jar) > 0 {
		req.SetHeader("cookie", ex.jar.Header())
	}
	if ex.form != nil {
		req.SetFormData(ex.form)
		// django refuses csrf protected posts over https without a referer
		req.SetHeader("referer", c.resolve(ex.path))
	}

	res, err := req.Execute(ex.method, ex.path)
	if err != nil {
		return nil, ex.jar, &NetworkError{Method: ex.method, Url: c.resolve(ex.path), Err: err}
	}

	received := cookies.FromHeader(res.Header(), c.now())
	if ex.account == "" {
		return res, cookies.Merge(ex.jar, received), nil
	}
	jar, err := c.jars.merge(ctx, ex.account, ex.jar, received)
	if err != nil {
		return res, cookies.Merge(ex.jar, received), err
	}
	return res, jar, nil
}

func parseDocument(res *resty.Response, what string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", what, err)
	}
	return doc, nil
}

func expectStatus(res *resty.Response, status int) error {
	if res.StatusCode() == status {
		return nil
	}
	return &StatusError{
		Method: res.Request.Method,
		Url:    res.Request.URL,
		Status: res.StatusCode(),
	}
}

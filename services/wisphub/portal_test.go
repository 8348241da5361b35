package wisphub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
	"wisppos-backend/lib/cookies"
	"wisppos-backend/lib/kvstore"
	"wisppos-backend/lib/poll"
	"wisppos-backend/lib/testutil"

	_ "embed"

	"github.com/cenkalti/backoff/v4"
)

//go:embed testdata/login.html
var loginHtml []byte

//go:embed testdata/create_form.html
var createFormHtml []byte

//go:embed testdata/created.html
var createdHtml []byte

//go:embed testdata/confirmation.html
var confirmationHtml []byte

//go:embed testdata/pricing.html
var pricingHtml []byte

//go:embed testdata/outlets.html
var outletsHtml []byte

//go:embed testdata/listing_101.json
var listing101Json []byte

//go:embed testdata/listing_201.json
var listing201Json []byte

const (
	testAccount  = "pos-admin@connecting-company"
	testPassword = "secret"
	testTaskId   = "5c1e-44ab"
)

// the instant every test client believes it is
var testNow = time.Date(2026, time.October, 15, 18, 0, 0, 0, time.UTC)

// fakePortal imitates just enough of the portal for the client to run
// every flow against it.
type fakePortal struct {
	server *httptest.Server

	lock     sync.Mutex
	hits     map[string]int
	sessions int
	// session is the only session id the portal accepts
	session string

	loginPage          []byte
	// loginGate, when set, holds login page requests until it is closed.
	// loginArrived receives once per held request.
	loginGate          chan struct{}
	loginArrived       chan struct{}
	createdPage        []byte
	taskStatuses       []string
	confirmationStatus int
	listings           map[string][]byte
	listingStatus      map[string]int
	submitted          url.Values
	cookieHeaders      []string
}

func newFakePortal(t testing.TB) *fakePortal {
	p := &fakePortal{
		hits:               map[string]int{},
		loginPage:          loginHtml,
		createdPage:        createdHtml,
		taskStatuses:       []string{"SUCCESS"},
		confirmationStatus: http.StatusOK,
		listings: map[string][]byte{
			"101": listing101Json,
			"201": listing201Json,
		},
		listingStatus: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /accounts/login/", p.loginForm)
	mux.HandleFunc("POST /accounts/login/", p.loginSubmit)
	mux.HandleFunc("GET /crear-fichas/863/", p.authenticated(p.createForm))
	mux.HandleFunc("POST /crear-fichas/863/", p.authenticated(p.createSubmit))
	mux.HandleFunc("GET /fichas/tarea/{task}/estado/", p.authenticated(p.taskStatus))
	mux.HandleFunc("GET /fichas/tarea/{task}/", p.authenticated(p.taskConfirmation))
	mux.HandleFunc("GET /planes/fichas/", p.authenticated(p.page(pricingHtml)))
	mux.HandleFunc("GET /puntos-venta/", p.authenticated(p.page(outletsHtml)))
	mux.HandleFunc("GET /fichas/plan/{plan}/json/", p.authenticated(p.listing))

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePortal) hit(r *http.Request) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.hits[fmt.Sprintf("%s %s", r.Method, r.URL.Path)]++
	p.cookieHeaders = append(p.cookieHeaders, r.Header.Get("Cookie"))
}

func (p *fakePortal) Hits(method, path string) int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.hits[fmt.Sprintf("%s %s", method, path)]
}

func (p *fakePortal) TotalHits() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	total := 0
	for _, n := range p.hits {
		total += n
	}
	return total
}

func (p *fakePortal) loginForm(w http.ResponseWriter, r *http.Request) {
	p.hit(r)
	if p.loginGate != nil {
		p.loginArrived <- struct{}{}
		select {
		case <-p.loginGate:
		case <-r.Context().Done():
			return
		}
	}
	http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "page-csrf", Path: "/", MaxAge: 31449600})
	w.Write(p.loginPage)
}

func (p *fakePortal) loginSubmit(w http.ResponseWriter, r *http.Request) {
	p.hit(r)
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	csrf, err := r.Cookie("csrftoken")
	if err != nil || csrf.Value != "page-csrf" || r.PostForm.Get("csrfmiddlewaretoken") != "login-token" {
		http.Error(w, "csrf verification failed", http.StatusForbidden)
		return
	}
	if r.PostForm.Get("login") != testAccount || r.PostForm.Get("password") != testPassword || r.PostForm.Get("remember") != "1" {
		// django re-renders the form with an error
		w.Write(p.loginPage)
		return
	}

	p.lock.Lock()
	p.sessions++
	p.session = fmt.Sprintf("session-%d", p.sessions)
	session := p.session
	p.lock.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: session, Path: "/", HttpOnly: true, MaxAge: 1209600})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (p *fakePortal) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := r.Cookie("sessionid")
		p.lock.Lock()
		valid := err == nil && p.session != "" && session.Value == p.session
		p.lock.Unlock()
		if !valid {
			p.hit(r)
			http.Redirect(w, r, "/accounts/login/?next="+url.QueryEscape(r.URL.Path), http.StatusFound)
			return
		}
		next(w, r)
	}
}

func (p *fakePortal) page(contents []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.hit(r)
		w.Write(contents)
	}
}

func (p *fakePortal) createForm(w http.ResponseWriter, r *http.Request) {
	p.hit(r)
	http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "rotated-csrf", Path: "/"})
	w.Write(createFormHtml)
}

func (p *fakePortal) createSubmit(w http.ResponseWriter, r *http.Request) {
	p.hit(r)
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.lock.Lock()
	p.submitted = r.PostForm
	p.lock.Unlock()
	w.Write(p.createdPage)
}

func (p *fakePortal) taskStatus(w http.ResponseWriter, r *http.Request) {
	p.hit(r)
	if r.PathValue("task") != testTaskId {
		http.NotFound(w, r)
		return
	}

	p.lock.Lock()
	status := p.taskStatuses[0]
	if len(p.taskStatuses) > 1 {
		p.taskStatuses = p.taskStatuses[1:]
	}
	attempt := p.hits[fmt.Sprintf("%s %s", r.Method, r.URL.Path)]
	p.lock.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "poll", Value: fmt.Sprint(attempt), Path: "/"})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (p *fakePortal) taskConfirmation(w http.ResponseWriter, r *http.Request) {
	p.hit(r)
	if p.confirmationStatus != http.StatusOK {
		http.Redirect(w, r, "/fichas/", p.confirmationStatus)
		return
	}
	w.Write(confirmationHtml)
}

func (p *fakePortal) listing(w http.ResponseWriter, r *http.Request) {
	p.hit(r)
	if r.URL.Query().Get("start") != "0" || r.URL.Query().Get("length") != "-1" {
		http.Error(w, "unexpected pagination", http.StatusBadRequest)
		return
	}
	plan := r.PathValue("plan")
	if status, ok := p.listingStatus[plan]; ok {
		http.Error(w, "listing failed", status)
		return
	}
	contents, ok := p.listings[plan]
	if !ok {
		contents = []byte(`{"recordsTotal": 0, "data": []}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(contents)
}

type testClient struct {
	*Client
	store  kvstore.Store
	portal *fakePortal
	timers []*poll.ImmediateTimer
}

func newTestClient(t testing.TB, portal *fakePortal) *testClient {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:   "services/wisphub",
		Sqlite: true,
	})
	t.Cleanup(cleanup)

	tc := &testClient{
		store:  res.Store,
		portal: portal,
	}
	client, err := NewClient(Options{
		BaseUrl:     portal.server.URL,
		Store:       tc.store,
		PrintTarget: "ticket",
		Now:         func() time.Time { return testNow },
		NewPollTimer: func() backoff.Timer {
			timer := &poll.ImmediateTimer{}
			tc.timers = append(tc.timers, timer)
			return timer
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	tc.Client = client
	return tc
}

// withSession seeds the portal and the store with a live session and
// returns the seeded jar.
func (tc *testClient) withSession(t testing.TB) cookies.Jar {
	tc.portal.lock.Lock()
	tc.portal.session = "seeded"
	tc.portal.lock.Unlock()

	jar := cookies.Jar{
		"csrftoken": {Value: "page-csrf"},
		SessionCookie: {Value: "seeded", Attributes: map[string]string{
			"expires": testNow.Add(time.Hour).Format(http.TimeFormat),
		}},
	}
	err := tc.store.Write(context.Background(), jarKey(testAccount), jar)
	if err != nil {
		t.Fatal(err)
	}
	return jar
}

func (tc *testClient) persistedJar(t testing.TB) cookies.Jar {
	var jar cookies.Jar
	found, err := tc.store.Read(context.Background(), jarKey(testAccount), &jar)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("no jar persisted")
	}
	return jar
}

package pos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"wisppos-backend/lib/htmlutil"
	"wisppos-backend/services/wisphub"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

type claimsKey struct{}

func claimsFrom(ctx context.Context) Claims {
	claims, _ := ctx.Value(claimsKey{}).(Claims)
	return claims
}

type Handler struct {
	service Service
	tokens  TokenIssuer
}

func NewHandler(service Service, tokens TokenIssuer) Handler {
	return Handler{service: service, tokens: tokens}
}

// Router returns the http api of the point of sale layer.
func (h Handler) Router(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(requestId)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/login", h.login)
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/corte", h.corte)
		r.Get("/plans", h.plans)
		r.Post("/create-access-code", h.createAccessCode)
		r.Get("/refresh-plans", h.refreshPlans)
		r.Get("/monthly-access-codes", h.monthlyAccessCodes)
		r.Get("/access-codes", h.accessCodes)
		r.Get("/access-codes/count", h.accessCodeCount)
	})
	return r
}

// requestId tags every request with a uuid that ends up in the logs of the
// request and in the response headers.
func requestId(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(chimw.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(chimw.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), chimw.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || raw == "" {
			writeError(w, r, http.StatusUnauthorized, ErrInvalidToken)
			return
		}
		claims, err := h.tokens.Parse(raw)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJson(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		slog.Warn("failed to write response", "err", err)
	}
}

// statusOf maps errors onto http statuses, everything the portal did wrong
// is a bad gateway.
func statusOf(err error) int {
	var authErr *wisphub.AuthenticationError
	var parseErr *htmlutil.ParseError
	var netErr *wisphub.NetworkError
	var statusErr *wisphub.StatusError
	var timeoutErr *wisphub.TaskTimeoutError
	var failedErr *wisphub.TaskFailedError
	var confirmErr *wisphub.TaskConfirmationError
	var outletErr *wisphub.OutletNotAssociatedError

	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrUserNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPlanNotFound), errors.As(err, &outletErr):
		return http.StatusNotFound
	case errors.Is(err, wisphub.ErrCatalogNotInitialized):
		return http.StatusConflict
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &authErr), errors.As(err, &parseErr), errors.As(err, &netErr),
		errors.As(err, &statusErr), errors.As(err, &failedErr), errors.As(err, &confirmErr),
		errors.Is(err, wisphub.ErrCsrfNotFound), errors.Is(err, wisphub.ErrTaskIdMissing):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	slog.WarnContext(
		r.Context(), "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"request_id", chimw.GetReqID(r.Context()),
		"err", err,
	)
	writeJson(w, status, map[string]string{"error": err.Error()})
}

func (h Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusOf(err), err)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	token, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, map[string]string{"token": token})
}

func (h Handler) plans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.Plans(r.Context(), claimsFrom(r.Context()).Username)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, plans)
}

// the client posts back one of the plans it was given, only its id is
// trusted
type createAccessCodeRequest struct {
	Id string `json:"id"`
}

func (h Handler) createAccessCode(w http.ResponseWriter, r *http.Request) {
	var req createAccessCodeRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil || req.Id == "" {
		if err == nil {
			err = errors.New("missing plan id")
		}
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	voucher, err := h.service.CreateAccessCode(r.Context(), claimsFrom(r.Context()).Username, req.Id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, voucher)
}

func (h Handler) refreshPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.RefreshPlans(r.Context(), claimsFrom(r.Context()).Username)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, plans)
}

func queryMonth(r *http.Request, fallback time.Month) (time.Month, error) {
	raw := r.URL.Query().Get("month")
	if raw == "" {
		return fallback, nil
	}
	month, err := strconv.Atoi(raw)
	if err != nil || month < 1 || month > 12 {
		return 0, errors.New("month must be a number between 1 and 12")
	}
	return time.Month(month), nil
}

func (h Handler) monthlyAccessCodes(w http.ResponseWriter, r *http.Request) {
	month, err := queryMonth(r, h.service.now().Month())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	posOnly := true
	if raw := r.URL.Query().Get("pos_only"); raw != "" {
		posOnly = raw == "true"
	}

	report, err := h.service.MonthlyAccessCodes(r.Context(), claimsFrom(r.Context()).Username, month, posOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, report)
}

func queryTime(r *http.Request, key string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(key + " must be an RFC3339 timestamp")
	}
	return t, nil
}

// window reads the start and end query parameters, they default to the
// start of the current month and now.
func (h Handler) window(r *http.Request) (start, end time.Time, err error) {
	now := h.service.now()
	start, err = queryTime(r, "start", time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()))
	if err != nil {
		return
	}
	end, err = queryTime(r, "end", now)
	return
}

func (h Handler) accessCodes(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.window(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	entries, err := h.service.AccessCodes(r.Context(), claimsFrom(r.Context()).Username, start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, map[string]any{
		"count":        len(entries),
		"access_codes": entries,
	})
}

func (h Handler) accessCodeCount(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.window(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	count, err := h.service.AccessCodeCount(r.Context(), claimsFrom(r.Context()).Username, start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJson(w, http.StatusOK, map[string]int{"count": count})
}

func (h Handler) corte(w http.ResponseWriter, r *http.Request) {
	now := h.service.now()
	month, err := queryMonth(r, now.Month())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	year := now.Year()
	if raw := r.URL.Query().Get("year"); raw != "" {
		year, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, errors.New("year must be a number"))
			return
		}
	}

	corte, err := h.service.Corte(r.Context(), year, month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var workbook bytes.Buffer
	err = corte.WriteXlsx(&workbook)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", XlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+corte.Filename()+`"`)
	_, err = workbook.WriteTo(w)
	if err != nil {
		slog.WarnContext(r.Context(), "failed to write corte", "err", err)
	}
}

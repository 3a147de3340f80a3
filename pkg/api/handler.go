package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	mwhttp "github.com/mihaimyh/secondchance/middleware/http"
	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/billing"
	"github.com/mihaimyh/secondchance/pkg/posts"
)

const (
	maxBodyBytes       = 1 << 20
	healthCheckTimeout = 2 * time.Second
)

// Handler serves the REST API
type Handler struct {
	config    Config
	validator *validator.Validate
	logger    zerolog.Logger
	router    chi.Router
}

// NewHandler creates a new REST handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Catalog == nil {
		config.Catalog = billing.DefaultCatalog()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	h := &Handler{
		config:    config,
		validator: v,
		logger:    zerolog.Nop(),
	}
	if config.Logger != nil {
		h.logger = *config.Logger
	}
	h.router = h.routes()
	return h, nil
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.logger))
	r.Use(middleware.Recoverer)

	authn := mwhttp.Authenticate(mwhttp.AuthConfig{Authenticator: h.config.Accounts})

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
		})

		r.Route("/posts", func(r chi.Router) {
			r.Get("/", h.ListPosts)

			r.Group(func(r chi.Router) {
				r.Use(authn)
				r.Post("/", h.CreatePost)
				r.Post("/{postID}/respond", h.Respond)
				r.Get("/{postID}/responses", h.ListResponses)
			})
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/plans", h.Plans)

			r.Group(func(r chi.Router) {
				r.Use(authn)
				r.Post("/create-checkout", h.CreateCheckout)
				r.Get("/status", h.Status)
			})
		})

		// Webhooks authenticate by signature and read the raw body
		r.Method(http.MethodPost, "/webhooks/"+h.config.Billing.Name(), h.config.Billing.WebhookHandler())
	})

	return r
}

// Register creates an account and returns its first session
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.config.Accounts.Register(r.Context(), account.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

// Login verifies credentials and returns a session
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.config.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// ListPosts returns active posts matching the query filters
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := ListPostsQuery{
		Location: strings.TrimSpace(q.Get("location")),
		Date:     strings.TrimSpace(q.Get("date")),
		Keywords: strings.TrimSpace(q.Get("keywords")),
	}

	var err error
	if query.Page, err = queryInt(q.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "page must be a number")
		return
	}
	if query.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	if err := h.validator.Struct(query); err != nil {
		writeError(w, http.StatusBadRequest, formatValidationError(err))
		return
	}

	list, err := h.config.Posts.List(r.Context(), posts.Filter{
		Location: query.Location,
		Date:     query.Date,
		Keywords: query.Keywords,
		Page:     query.Page,
		Limit:    query.Limit,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	out := make([]PostResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPostResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreatePost publishes a post authored by the caller
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CreatePostRequest
	if !h.decode(w, r, &req) {
		return
	}

	post, err := h.config.Posts.CreatePost(r.Context(), principal.UserID, posts.CreatePostRequest{
		Location:         req.Location,
		EncounterDate:    req.EncounterDate,
		EncounterTime:    req.EncounterTime,
		YourDescription:  req.YourDescription,
		TheirDescription: req.TheirDescription,
		Story:            req.Story,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostResponse(post))
}

// Respond leaves a message from the caller on a post
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req RespondRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.config.Posts.Respond(r.Context(), principal.UserID, chi.URLParam(r, "postID"), req.Message)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponseView(resp))
}

// ListResponses returns a post's responses to its author or a premium caller
func (h *Handler) ListResponses(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	list, err := h.config.Posts.ListResponses(r.Context(), principal.UserID, chi.URLParam(r, "postID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	out := make([]PostResponseView, 0, len(list))
	for _, resp := range list {
		out = append(out, toResponseView(resp))
	}
	writeJSON(w, http.StatusOK, out)
}

// Plans returns the plan catalog
func (h *Handler) Plans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PlansResponse{
		Product:     h.config.Catalog.ProductName,
		Description: h.config.Catalog.ProductDescription,
		Plans:       h.config.Catalog.Plans(),
	})
}

// CreateCheckout starts a hosted checkout for the caller. It never changes
// the caller's entitlement.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.config.Billing.CreateCheckout(r.Context(), billing.CheckoutRequest{
		UserID: principal.UserID,
		Email:  principal.Email,
		PlanID: req.PlanID,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Status returns the caller's subscription status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	ent, err := h.config.Ledger.GetEntitlement(r.Context(), principal.UserID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		IsPremium:      ent.IsPremium,
		SubscriptionID: ent.SubscriptionID,
		PaymentIssue:   ent.HasPaymentIssue(),
	})
}

// Health pings every configured dependency
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.config.HealthChecks))
	status := http.StatusOK
	for name, p := range h.config.HealthChecks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Str("component", name).Msg("health check failed")
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]interface{}{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (*account.Principal, bool) {
	p, ok := mwhttp.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	return p, true
}

// decode reads a JSON body into dst and validates it
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, formatValidationError(err))
		return false
	}
	return true
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func toSessionResponse(s *account.Session) SessionResponse {
	return SessionResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User:      toUserResponse(s.User),
	}
}

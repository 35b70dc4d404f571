package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orderflow/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

type groupName string

const (
	groupCart     groupName = "cart"
	groupCheckout groupName = "checkout"
	groupOrders   groupName = "orders"
	groupAdmin    groupName = "admin"
	groupWebhooks groupName = "webhooks"
	groupInternal groupName = "internal"
)

// routeGroup is one mounted subtree. Unregistered groups answer 501 so clients can tell a
// disabled feature apart from a typo.
type routeGroup struct {
	name     groupName
	path     string
	underAPI bool
}

// Customer and back office routes live under the API prefix; provider callbacks and scheduler
// endpoints sit at the root.
var routeGroups = []routeGroup{
	{name: groupCart, path: "/cart", underAPI: true},
	{name: groupCheckout, path: "/checkout", underAPI: true},
	{name: groupOrders, path: "/orders", underAPI: true},
	{name: groupAdmin, path: "/admin/orders", underAPI: true},
	{name: groupWebhooks, path: "/webhooks"},
	{name: groupInternal, path: "/internal"},
}

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

type routerConfig struct {
	basePath    string
	middlewares []middlewareFunc
	health      *HealthHandlers
	registrars  map[groupName]RouteRegistrar
	groupMW     map[groupName][]middlewareFunc
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter constructs the chi router with health probes and every route group mounted.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath:    defaultAPIPrefix,
		middlewares: []middlewareFunc{middleware.RequestID, middleware.RealIP, middleware.Timeout(defaultTimeout)},
		registrars:  map[groupName]RouteRegistrar{},
		groupMW:     map[groupName][]middlewareFunc{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	useAll(r, cfg.middlewares)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})
	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	var versioned []routeGroup
	for _, g := range routeGroups {
		if g.underAPI {
			versioned = append(versioned, g)
			continue
		}
		cfg.mount(r, g)
	}
	r.Route(cfg.basePath, func(api chi.Router) {
		for _, g := range versioned {
			cfg.mount(api, g)
		}
	})
	return r
}

func (cfg *routerConfig) mount(parent chi.Router, g routeGroup) {
	parent.Route(g.path, func(group chi.Router) {
		useAll(group, cfg.groupMW[g.name])
		if registrar := cfg.registrars[g.name]; registrar != nil {
			registrar(group)
			return
		}
		registerNotImplemented(group, string(g.name))
	})
}

func useAll(r chi.Router, mws []middlewareFunc) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func withRoutes(name groupName, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.registrars[name] = reg }
}

func withGroupMiddlewares(name groupName, mw []middlewareFunc) Option {
	return func(cfg *routerConfig) { cfg.groupMW[name] = append(cfg.groupMW[name], mw...) }
}

// WithMiddlewares appends global middleware after the request id, real ip and timeout defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithCartRoutes mounts the cart registrar at /api/v1/cart.
func WithCartRoutes(reg RouteRegistrar) Option {
	return withRoutes(groupCart, reg)
}

// WithCheckoutRoutes mounts the checkout registrar at /api/v1/checkout.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return withRoutes(groupCheckout, reg)
}

// WithOrderRoutes mounts the customer order registrar at /api/v1/orders.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return withRoutes(groupOrders, reg)
}

// WithAdminRoutes mounts the back office registrar at /api/v1/admin/orders.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return withRoutes(groupAdmin, reg)
}

// WithWebhookRoutes mounts provider callbacks at /webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return withRoutes(groupWebhooks, reg)
}

// WithInternalRoutes mounts scheduler endpoints at /internal.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return withRoutes(groupInternal, reg)
}

// WithCheckoutMiddlewares wraps the /checkout group, typically with the idempotency guard.
func WithCheckoutMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupCheckout, mw)
}

func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupWebhooks, mw)
}

// WithInternalMiddlewares wraps the scheduler endpoints, typically with OIDC verification.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupInternal, mw)
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}

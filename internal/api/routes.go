package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/A1anMc/GrantSGE/internal/api/handlers"
	"github.com/A1anMc/GrantSGE/internal/apierr"
	"github.com/A1anMc/GrantSGE/internal/auth"
	"github.com/A1anMc/GrantSGE/internal/cache"
	"github.com/A1anMc/GrantSGE/internal/config"
	"github.com/A1anMc/GrantSGE/internal/middleware"
	"github.com/A1anMc/GrantSGE/internal/ratelimit"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the persistence surface of the API. *db.Queries satisfies it.
type Store interface {
	handlers.GrantStore
	handlers.OrganisationStore
}

// Deps wires the router. Nil limiters disable the matching limit; a nil
// Scraper leaves the scrape endpoint unregistered.
type Deps struct {
	Config      *config.Config
	Store       Store
	Lookups     *cache.Tiered
	Responses   cache.Cache
	Eligibility handlers.EligibilityService
	Accounts    handlers.AccountService
	Auth        *auth.Middleware
	Scraper     handlers.ScrapeRunner
	Health      map[string]handlers.Pinger

	ClientLimiter   *ratelimit.Limiter
	RegisterLimiter *ratelimit.Limiter
	LoginLimiter    *ratelimit.Limiter
}

// NewRouter builds the HTTP handler for the API.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	if cfg == nil {
		cfg = config.Load()
	}

	r := mux.NewRouter()
	r.Use(middleware.Logging)
	if d.ClientLimiter != nil {
		r.Use(middleware.FixedWindow(d.ClientLimiter, middleware.ClientKey))
	}
	r.Use(middleware.ValidateRequestBody, middleware.Compress, middleware.ETag)

	// Health and metrics
	r.HandleFunc("/health", handlers.Health(d.Health)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Grants
	grants := handlers.NewGrantHandler(d.Store, d.Responses, lookupCache(d.Lookups), cfg.CacheMemoryTTL)
	api.HandleFunc("/grants", grants.List).Methods("GET")
	api.HandleFunc("/grants/search", grants.Search).Methods("GET")
	api.HandleFunc("/grants/{id:[0-9]+}", grants.Get).Methods("GET")
	api.Handle("/grants", d.Auth.RequireAuth(http.HandlerFunc(grants.Create))).Methods("POST")
	api.Handle("/grants/{id:[0-9]+}", d.Auth.RequireAuth(http.HandlerFunc(grants.Update))).Methods("PUT")

	// Eligibility and drafts
	elig := handlers.NewEligibilityHandler(d.Eligibility)
	api.Handle("/grants/{id:[0-9]+}/analyze-eligibility", d.Auth.RequireAuth(http.HandlerFunc(elig.Analyze))).Methods("POST")
	api.Handle("/grants/{id:[0-9]+}/generate-draft", d.Auth.RequireAuth(http.HandlerFunc(elig.Draft))).Methods("POST")

	// Organisations
	orgs := handlers.NewOrganisationHandler(d.Store)
	orgRoutes := api.PathPrefix("/organisations").Subrouter()
	orgRoutes.Use(d.Auth.RequireAuth)
	orgRoutes.HandleFunc("", orgs.List).Methods("GET")
	orgRoutes.HandleFunc("", orgs.Create).Methods("POST")
	orgRoutes.HandleFunc("/{id:[0-9]+}", orgs.Get).Methods("GET")
	orgRoutes.HandleFunc("/{id:[0-9]+}", orgs.Update).Methods("PUT")
	orgRoutes.HandleFunc("/{id:[0-9]+}/grants", orgs.ListTracked).Methods("GET")
	orgRoutes.HandleFunc("/{id:[0-9]+}/grants/{grantID:[0-9]+}", orgs.TrackGrant).Methods("POST")

	// Auth
	accounts := handlers.NewAuthHandler(d.Accounts)
	api.Handle("/auth/register", limited(d.RegisterLimiter, http.HandlerFunc(accounts.Register))).Methods("POST")
	api.Handle("/auth/login", limited(d.LoginLimiter, http.HandlerFunc(accounts.Login))).Methods("POST")
	api.Handle("/auth/logout", d.Auth.RequireAuth(http.HandlerFunc(accounts.Logout))).Methods("POST")
	api.Handle("/auth/me", d.Auth.RequireAuth(http.HandlerFunc(accounts.Me))).Methods("GET")
	api.Handle("/auth/change-password", d.Auth.RequireAuth(http.HandlerFunc(accounts.ChangePassword))).Methods("POST")
	api.Handle("/auth/users", d.Auth.RequireAuth(auth.RequireRole("admin")(http.HandlerFunc(accounts.ListUsers)))).Methods("GET")

	// Admin
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(adminOnly(cfg.AdminAPIToken))
	if d.Lookups != nil {
		cacheAdmin := handlers.NewCacheAdminHandler(d.Lookups, d.Responses)
		admin.HandleFunc("/cache/stats", cacheAdmin.GetCacheStats).Methods("GET")
		admin.HandleFunc("/cache/invalidate", cacheAdmin.InvalidateCache).Methods("POST")
		admin.HandleFunc("/cache/version", cacheAdmin.UpdateVersion).Methods("POST")
		admin.HandleFunc("/cache/clear", cacheAdmin.ClearCache).Methods("POST")
	}
	if d.Scraper != nil {
		admin.HandleFunc("/scrape", handlers.NewScrapeHandler(d.Scraper).Run).Methods("POST")
	}
	admin.PathPrefix("/debug/pprof/").Handler(handlers.Profiling("/api/admin")).Methods("GET", "POST")

	var h http.Handler = r
	if cfg.RateLimitGlobal > 0 {
		h = middleware.Throttle(cfg.RateLimitGlobal, cfg.RateLimitGlobalBurst)(h)
	}
	h = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins...))(h)
	h = middleware.SecurityHeaders(h)
	h = middleware.RecoverWithSentry(h)
	h = middleware.RequestID(h)
	return h
}

// lookupCache avoids handing a typed nil to the handler.
func lookupCache(t *cache.Tiered) handlers.LookupCache {
	if t == nil {
		return nil
	}
	return t
}

// limited applies a per-IP fixed window to one route.
func limited(l *ratelimit.Limiter, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return middleware.FixedWindow(l, middleware.IPKey)(next)
}

// adminOnly requires "Authorization: Bearer <ADMIN_API_TOKEN>".
func adminOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Admin token not configured"))
				return
			}
			got, ok := auth.BearerToken(r)
			if !ok {
				apierr.WriteErrorWithContext(w, r, apierr.AuthMissing(""))
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				apierr.WriteErrorWithContext(w, r, apierr.AuthInvalid(""))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calmmap/internal/auth"
	"calmmap/internal/domain/pushtokens"
	"calmmap/internal/moderation"
	"calmmap/internal/ratelimiter"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type application struct {
	config        config
	logger        *zap.SugaredLogger
	moderation    *moderation.Service
	pushTokens    pushtokens.Store
	authenticator auth.Authenticator
	rateLimiter   *ratelimiter.FixedWindowRateLimiter
}

type config struct {
	addr            string
	env             string
	db              dbConfig
	auth            authConfig
	geocoder        geocoderConfig
	redis           redisConfig
	amqpURL         string
	expoAccessToken string
	sweepSchedule   string
	tokenPruneAge   time.Duration
	rateLimiter     ratelimiterConfig
}

type authConfig struct {
	basic basicConfig
	token tokenConfig
}

type tokenConfig struct {
	secret string
	iss    string
}

type basicConfig struct {
	user string
	pass string
}

type dbConfig struct {
	addr        string
	maxConns    int32
	maxIdleTime string
}

type geocoderConfig struct {
	baseURL  string
	timeout  time.Duration
	cacheTTL time.Duration
}

type redisConfig struct {
	addr     string
	password string
	db       int
}

type ratelimiterConfig struct {
	requestsPerTimeFrame int
	timeFrame            time.Duration
	enabled              bool
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.With(app.BasicAuthMiddleware()).Get("/health", app.healthCheckHandler)
		r.With(app.BasicAuthMiddleware()).Get("/debug/vars", expvar.Handler().ServeHTTP)

		// Public reads
		r.Get("/venues/{venueID}", app.getVenueHandler)
		r.Get("/venues/{venueID}/reviews", app.listVenueReviewsHandler)

		// Reports may come from signed-in users or anonymously by IP.
		r.With(app.OptionalAuthTokenMiddleware, app.RateLimiterMiddleware).Post("/reviews/{reviewID}/reports", app.createReportHandler)

		r.Group(func(r chi.Router) {
			r.Use(app.AuthTokenMiddleware)

			r.With(app.RateLimiterMiddleware).Post("/submissions", app.submitHandler)
			r.With(app.RateLimiterMiddleware).Post("/venues/{venueID}/reviews", app.createReviewHandler)

			r.Post("/users/push-tokens", app.savePushTokenHandler)
			r.Delete("/users/push-tokens", app.removePushTokenHandler)

			r.Route("/admin", func(r chi.Router) {
				r.Use(app.RequireAdmin)

				r.Route("/submissions", func(r chi.Router) {
					r.Get("/", app.listSubmissionsHandler)
					r.Get("/{submissionID}", app.getSubmissionHandler)
					r.Patch("/{submissionID}", app.editSubmissionHandler)
					r.Post("/{submissionID}/approve", app.approveSubmissionHandler)
					r.Post("/{submissionID}/reject", app.rejectSubmissionHandler)
				})

				r.Get("/duplicates", app.findDuplicatesHandler)
				r.Post("/push-tokens/prune", app.pruneStaleTokensHandler)

				r.Route("/venues/{venueID}", func(r chi.Router) {
					r.Put("/archive", app.archiveVenueHandler)
					r.Delete("/archive", app.unarchiveVenueHandler)
					r.Post("/stats/recompute", app.recomputeStatsHandler)
				})

				r.Route("/reviews/{reviewID}", func(r chi.Router) {
					r.Post("/visibility", app.toggleReviewVisibilityHandler)
					r.Delete("/", app.deleteReviewHandler)
				})

				r.Route("/reports", func(r chi.Router) {
					r.Get("/", app.listReportsHandler)
					r.Post("/{reportID}/resolve", app.resolveReportHandler)
					r.Post("/{reportID}/dismiss", app.dismissReportHandler)
					r.Post("/{reportID}/delete-review", app.deleteAndResolveReportHandler)
				})

				r.Route("/users/{userID}/admin", func(r chi.Router) {
					r.Put("/", app.promoteAdminHandler)
					r.Delete("/", app.demoteAdminHandler)
				})
			})
		})
	})
	return r
}

func (app *application) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	data := map[string]string{
		"status":  "ok",
		"env":     app.config.env,
		"version": version,
	}
	if err := app.jsonResponse(w, http.StatusOK, data); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) run(mux http.Handler) error {
	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", app.config.addr, "env", app.config.env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Infow("server has stopped", "addr", app.config.addr, "env", app.config.env)

	return nil
}

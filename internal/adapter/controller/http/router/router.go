package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/kr1s57/ipreputation/internal/adapter/controller/http/handlers"
	"github.com/kr1s57/ipreputation/internal/adapter/controller/http/middleware"
	"github.com/kr1s57/ipreputation/internal/config"
)

// KeyStore is the key service as seen by the API
type KeyStore interface {
	handlers.KeyService
	handlers.KeySnapshotter
}

// Deps holds everything the API routes need.
// Archive and WebSocket are optional.
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Keys      KeyStore
	Runner    handlers.ScanRunner
	Limiter   handlers.UsageReader
	Reports   handlers.ReportGenerator
	Archive   handlers.ArchiveReader
	WebSocket http.HandlerFunc
	Health    map[string]handlers.Pinger
}

// New builds the API router
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger, "/health"))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.App.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.HealthCheck(d.Config, d.Health))

	if d.WebSocket != nil {
		r.Get("/ws", d.WebSocket)
	}

	keysHandler := handlers.NewKeysHandler(d.Keys)
	scansHandler := handlers.NewScansHandler(d.Runner, d.Keys, d.Config.Scan.DefaultMode)
	usageHandler := handlers.NewAPIUsageHandler(d.Limiter, d.Keys)
	reportsHandler := handlers.NewReportsHandler(d.Reports)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(d.Config.App.RequestsPerMinute, time.Minute))
		r.Use(chimw.Compress(5, "application/json", "application/xml"))

		r.Route("/keys", func(r chi.Router) {
			r.Get("/", keysHandler.ListAll)
			r.Get("/{provider}", keysHandler.List)
			r.Post("/{provider}", keysHandler.Add)
			r.Delete("/{provider}/{id}", keysHandler.Remove)
		})

		r.Route("/scans", func(r chi.Router) {
			r.Post("/", scansHandler.Submit)
			r.Post("/upload", scansHandler.Upload)
			r.Get("/", scansHandler.List)
			r.Get("/{id}", scansHandler.Get)
			r.Delete("/", scansHandler.Clear)
		})

		r.Get("/usage", usageHandler.GetAllProviders)
		r.Get("/reports/scans.{format}", reportsHandler.GenerateReport)

		if d.Archive != nil {
			archiveHandler := handlers.NewArchiveHandler(d.Archive)
			r.Route("/archive", func(r chi.Router) {
				r.Get("/ip/{ip}", archiveHandler.ListByIP)
				r.Get("/stats", archiveHandler.Stats)
			})
		}
	})

	return r
}

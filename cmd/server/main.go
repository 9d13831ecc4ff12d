package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dpup/survey.ersn.net/server/internal/api"
	"github.com/dpup/survey.ersn.net/server/internal/cache"
	"github.com/dpup/survey.ersn.net/server/internal/clients/properties"
	"github.com/dpup/survey.ersn.net/server/internal/config"
	"github.com/dpup/survey.ersn.net/server/internal/services"
)

// cacheCleanupInterval is how often stale property list entries are dropped
const cacheCleanupInterval = time.Minute

func main() {
	// Survey settings come from an optional YAML file plus SURVEY__ env vars.
	// Server settings (port, etc.) are still loaded by prefab from prefab.yaml.
	appConfig, err := config.Load(os.Getenv("SURVEY_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Background workers log outside any request, so they need their own logger
	ctx = logging.EnsureLogger(ctx)

	cacheInstance := cache.NewCache()

	gateway, closeGateway, err := newGateway(ctx, appConfig, cacheInstance)
	if err != nil {
		log.Fatalf("Failed to initialize property gateway: %v", err)
	}

	metrics := services.NewMetrics(prometheus.DefaultRegisterer)
	opts, err := services.SessionOptionsFromConfig(appConfig, metrics)
	if err != nil {
		log.Fatalf("Invalid survey configuration: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	session := services.NewSurveySession(gateway, opts)
	if err := session.StartEventLoop(gctx); err != nil {
		log.Fatalf("Failed to start survey session: %v", err)
	}

	periodicRefresh := services.NewPeriodicRefreshService(session, appConfig.Survey.RefreshInterval)
	if err := periodicRefresh.StartPeriodicRefresh(gctx); err != nil {
		log.Printf("Failed to start periodic refresh: %v", err)
	}
	if !periodicRefresh.IsRunning() {
		log.Printf("Periodic refresh disabled, saved properties load on start and on request")
	}
	cacheInstance.StartPeriodicCleanup(gctx, cacheCleanupInterval)

	log.Printf("Footprint Survey API Server starting")
	log.Printf("Session %s, gateway mode: %s", session.ID(), appConfig.Gateway.Mode)

	// Create Prefab server with GRPC reflection enabled
	server := prefab.New(
		prefab.WithGRPCReflection(),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
		prefab.WithHTTPHandlerFunc(appConfig.Server.MetricsPath, promhttp.Handler().ServeHTTP),
	)

	// Survey routes live on the gateway mux alongside any gRPC gateway handlers
	_, mux, _, _ := server.GatewayArgs()
	handler := api.NewHandler(session)
	if boundaries, ok := gateway.(api.BoundarySource); ok {
		handler = handler.WithBoundaries(boundaries)
	}
	if err := handler.Register(mux); err != nil {
		log.Fatalf("Failed to register survey routes: %v", err)
	}

	// The server handles its own shutdown signals; when it returns the
	// background workers are stopped too.
	g.Go(func() error {
		defer stop()
		if err := server.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Infow(ctx, "Shutting down survey session", "session_id", session.ID())
		periodicRefresh.Stop()
		session.Stop()
		return closeGateway()
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}

// newGateway builds the property backend for the configured mode. The
// returned func releases its resources.
func newGateway(ctx context.Context, cfg *config.Config, c *cache.Cache) (properties.Gateway, func() error, error) {
	switch cfg.Gateway.Mode {
	case config.GatewayRemote:
		client := properties.NewClient(properties.ClientOptions{
			BaseURL:                cfg.Gateway.BaseURL,
			SessionCookie:          cfg.Gateway.SessionCookie,
			Timeout:                cfg.Gateway.Timeout,
			MaxConsecutiveFailures: cfg.Gateway.MaxConsecutiveFailures,
			BreakerTimeout:         cfg.Gateway.BreakerTimeout,
		})
		log.Printf("Using property API at %s (list cache TTL %s)", cfg.Gateway.BaseURL, cfg.Gateway.ListCacheTTL)
		if cfg.Gateway.ListCacheTTL <= 0 {
			return client, func() error { return nil }, nil
		}
		return properties.NewCachedGateway(client, c, cfg.Gateway.ListCacheTTL), func() error { return nil }, nil

	case config.GatewayLocal:
		store, err := properties.OpenLocalStore(ctx, cfg.Gateway.LocalPath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Using local property database at %s", cfg.Gateway.LocalPath)
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown gateway mode %q", cfg.Gateway.Mode)
	}
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>survey.ersn.net</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">survey.ersn.net</span>

Building footprint survey server: draw property outlines on a map, measure
their area and perimeter, and save them with owner details.

<span class="header">Session API:</span>
  <a href="/api/v1/survey">GET  /api/v1/survey</a>                       - Current session state
  POST /api/v1/survey/start                 - Enter drawing mode
  POST /api/v1/survey/points                - Add a vertex {"lat", "lng"}
  POST /api/v1/survey/undo                  - Remove the last vertex
  POST /api/v1/survey/finish                - Close the sketch
  POST /api/v1/survey/clear                 - Discard sketch and unsaved polygons
  POST /api/v1/survey/refresh               - Reload saved properties
  POST /api/v1/survey/polygons/{id}/save    - Save a polygon with owner details

<span class="header">Views and exports:</span>
  <a href="/api/v1/survey/shapes">GET  /api/v1/survey/shapes</a>                - Map shapes as GeoJSON
  <a href="/api/v1/survey/notices">GET  /api/v1/survey/notices</a>               - Recent notices
  <a href="/api/v1/survey/export.kml">GET  /api/v1/survey/export.kml</a>            - KML export
  <a href="/api/v1/survey/export.wkt">GET  /api/v1/survey/export.wkt</a>            - WKT export
  <a href="/api/v1/properties">GET  /api/v1/properties?q=</a>               - Search saved properties
  GET  /api/v1/properties/{id}/boundary     - Stored EWKT boundary (local mode)
  POST /api/v1/measure                      - Measure a ring {"points": [[lat, lng], ...]}

<span class="header">Example Usage:</span>
  curl <a href="/api/v1/survey">https://survey.ersn.net/api/v1/survey</a>
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}

// Command ember-example wires together ember's server, config, logging,
// middleware, metrics, and websocket packages into a runnable demo,
// following bolt/examples/hello's pattern of a single main() registering
// a handful of representative routes and calling Run.
package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/watt-toolkit/ember/pkg/ember/config"
	"github.com/watt-toolkit/ember/pkg/ember/logging"
	"github.com/watt-toolkit/ember/pkg/ember/metrics"
	"github.com/watt-toolkit/ember/pkg/ember/middleware"
	"github.com/watt-toolkit/ember/pkg/ember/middleware/jwt"
	"github.com/watt-toolkit/ember/pkg/ember/server"
	"github.com/watt-toolkit/ember/pkg/ember/websocket"
)

// User is the demo domain type JSON-bound from and marshaled back to
// clients via Req.BindJSON / Res.JSON.
type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, closeLog, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer closeLog()

	s := server.NewWithConfig(cfg.Server)
	s.SetLogger(logger)

	collector := metrics.NewCollector(s, s.WorkerPool())
	prometheus.MustRegister(collector)
	metricsServer := startMetricsServer(logger, ":9090")
	defer metricsServer.Close()

	s.Use(
		middleware.Recovery(),
		middleware.Logger(),
		middleware.Metrics(metrics.RecordRequest),
		middleware.CORS(),
		middleware.RateLimit(),
	)

	s.RegisterGET("/", func(req *server.Req, res *server.Res) {
		res.JSON(200, map[string]string{
			"message": "Hello, ember!",
		})
	})

	s.RegisterGET("/health", func(req *server.Req, res *server.Res) {
		res.JSON(200, map[string]string{"status": "healthy"})
	})

	s.RegisterGET("/users/:id", func(req *server.Req, res *server.Res) {
		if req.Param("id") == "" {
			res.JSON(400, map[string]string{"error": "missing id"})
			return
		}
		res.JSON(200, User{ID: 123, Name: "Alice", Email: "alice@example.com"})
	})

	s.RegisterPOST("/users", func(req *server.Req, res *server.Res) {
		var in User
		if err := req.BindJSON(&in); err != nil || in.Name == "" || in.Email == "" {
			res.JSON(400, map[string]string{"error": "invalid user payload"})
			return
		}
		in.ID = 456
		res.JSON(201, in)
	})

	jwtSecret := []byte("ember-example-secret")
	protected := jwt.New(jwtSecret)
	s.RegisterGET("/whoami", func(req *server.Req, res *server.Res) {
		claims := req.ContextValue("jwt_claims")
		res.JSON(200, map[string]any{"claims": claims})
	}, protected)

	upgrader := &websocket.Upgrader{
		Subprotocols: []string{"chat"},
	}
	s.RegisterGET("/ws/echo", func(req *server.Req, res *server.Res) {
		conn, err := upgrader.Upgrade(req, res)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, payload); err != nil {
				return
			}
		}
	})

	logger.Info("starting ember example", "addr", cfg.Addr, "metrics_addr", ":9090")
	if err := s.Run(cfg.Addr); err != nil {
		logger.Error("server exited", "error", err)
	}
}

// startMetricsServer runs promhttp.Handler on its own stdlib net/http
// server, matching shockwave's own documented usage (a side port for
// /metrics rather than routing scrapes through ember's own router).
func startMetricsServer(logger *slog.Logger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", "error", err)
		}
	}()
	return srv
}

package cli

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/mchmarny/credscore/pkg/scoring"
)

const (
	serverShutdownWaitSeconds = 5
	serverTimeoutSeconds      = 300
	serverMaxHeaderBytes      = 20
)

var (
	//go:embed assets/* templates/*
	embedFS embed.FS

	portFlag = &cli.IntFlag{
		Name:    "port",
		Usage:   "Port on which the server will listen (default: server.port from config)",
		Sources: cli.EnvVars(envPrefix + "PORT"),
	}

	noBrowserFlag = &cli.BoolFlag{
		Name:    "no-browser",
		Aliases: []string{"nb"},
		Usage:   "Do not open browser automatically",
	}

	serverCmd = &cli.Command{
		Name:    "server",
		Aliases: []string{"serve"},
		Usage:   "Start local HTTP server with the scoring form and API",
		Action:  cmdStartServer,
		Flags: []cli.Flag{
			portFlag,
			noBrowserFlag,
			modelFlag,
			modelFeaturesFlag,
		},
	}
)

func cmdStartServer(_ context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)
	port := cmd.Int(portFlag.Name)
	if port == 0 {
		port = cfg.Config.Server.Port
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	s, err := newScorer(cfg.Config, cmd.String(modelFlag.Name), cmd.String(modelFeaturesFlag.Name))
	if err != nil {
		return fmt.Errorf("loading scorer: %w", err)
	}

	mux := makeRouter(cfg.DB, s)
	srv := &http.Server{
		Addr:           address,
		Handler:        mux,
		ReadTimeout:    serverTimeoutSeconds * time.Second,
		WriteTimeout:   serverTimeoutSeconds * time.Second,
		MaxHeaderBytes: 1 << serverMaxHeaderBytes,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("error starting server", "error", err)
		}
	}()

	url := fmt.Sprintf("http://%s", address)
	slog.Info("server started", "address", url, "model", s.Model().Name)

	if !cmd.Bool(noBrowserFlag.Name) {
		openBrowser(url)
	}

	<-done

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownWaitSeconds*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("error shutting down server", "error", err)
	}
	return nil
}

func makeRouter(db *sql.DB, s *scoring.Scorer) *http.ServeMux {
	tmpl := template.Must(template.New("").Funcs(templateFuncs).ParseFS(embedFS, "templates/*.html"))

	mux := http.NewServeMux()

	// Static files
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(embedFS)))

	// Views
	mux.HandleFunc("GET /{$}", homeViewHandler(tmpl, s))
	mux.HandleFunc("POST /score", scoreViewHandler(tmpl, db, s))

	// API
	mux.HandleFunc("POST /api/score", scoreAPIHandler(db, s))
	mux.HandleFunc("GET /api/model/importance", importanceAPIHandler(s))
	mux.HandleFunc("GET /api/scores", scoresAPIHandler(db))
	mux.HandleFunc("GET /api/scores/{id}", scoreAPIGetHandler(db))
	mux.HandleFunc("GET /healthz", healthHandler)

	return mux
}

func openBrowser(url string) {
	var cmd string
	args := make([]string, 0, 1)

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
	case "linux":
		cmd = "xdg-open"
	default: // windows
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler"}
	}

	args = append(args, url)
	if err := exec.Command(cmd, args...).Start(); err != nil {
		slog.Error("failed to open browser", "error", err)
	}
}

package monitor

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/ringroad/internal/httputil"
	"github.com/banshee-data/ringroad/internal/report"
	"github.com/banshee-data/ringroad/internal/sweep"
	"github.com/banshee-data/ringroad/internal/units"
)

//go:embed status.html
var statusHTML embed.FS

var statusTemplate = template.Must(template.ParseFS(statusHTML, "status.html"))

// SweepSource is the part of the sweep runner the web server needs.
type SweepSource interface {
	GetSweepState() sweep.SweepState
	Stop()
}

// AdminRoutes mounts extra debugging routes, such as the result store's.
type AdminRoutes interface {
	AttachAdminRoutes(mux *http.ServeMux) error
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address   string
	Renderer  *Renderer
	Sweep     SweepSource
	Admin     AdminRoutes
	SpeedUnit string
}

// WebServer exposes the live scene, the sweep state and result charts.
type WebServer struct {
	address   string
	renderer  *Renderer
	sweep     SweepSource
	speedUnit string
	started   time.Time
	server    *http.Server
	listener  net.Listener
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	unit := config.SpeedUnit
	if unit == "" {
		unit = units.MPS
	}
	if err := units.Validate(unit); err != nil {
		return nil, err
	}

	ws := &WebServer{
		address:   config.Address,
		renderer:  config.Renderer,
		sweep:     config.Sweep,
		speedUnit: unit,
		started:   time.Now(),
	}

	mux := ws.setupRoutes()
	if config.Admin != nil {
		if err := config.Admin.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("attach admin routes: %w", err)
		}
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the server's route table.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Listen binds the configured address. Call it before Start to learn about
// an unusable address before any work begins.
func (ws *WebServer) Listen() error {
	if ws.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", ws.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.address, err)
	}
	ws.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (ws *WebServer) Addr() string {
	if ws.listener != nil {
		return ws.listener.Addr().String()
	}
	return ws.address
}

// Start serves until ctx is cancelled, then shuts down gracefully. It binds
// the address first unless Listen already did.
func (ws *WebServer) Start(ctx context.Context) error {
	if err := ws.Listen(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.Addr())
		if err := ws.server.Serve(ws.listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// Close shuts down the web server and releases a listener Start never
// used.
func (ws *WebServer) Close() error {
	err := ws.server.Close()
	if ws.listener != nil {
		if cerr := ws.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/scene", ws.handleScene)
	mux.HandleFunc("/api/sweep", ws.handleSweepStatus)
	mux.HandleFunc("/api/sweep/stop", ws.handleSweepStop)
	mux.HandleFunc("/charts/results", ws.handleResultsChart)
	mux.HandleFunc("/charts/road", ws.handleRoadChart)

	return mux
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "ringroad", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus renders the landing page with the sweep progress.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := struct {
		Address string
		Uptime  string
		Sweep   *sweep.SweepState
		Scene   *Scene
	}{
		Address: ws.address,
		Uptime:  time.Since(ws.started).Round(time.Second).String(),
	}
	if ws.sweep != nil {
		state := ws.sweep.GetSweepState()
		data.Sweep = &state
	}
	if ws.renderer != nil {
		if scene, ok := ws.renderer.Latest(); ok {
			data.Scene = &scene
		}
	}

	var buf bytes.Buffer
	if err := statusTemplate.Execute(&buf, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleScene returns the latest frame with on-screen positions.
func (ws *WebServer) handleScene(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if ws.renderer == nil {
		httputil.NotConfigured(w, "renderer")
		return
	}
	scene, ok := ws.renderer.Latest()
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, "no frame yet")
		return
	}
	httputil.WriteJSONOK(w, scene)
}

// handleSweepStatus returns the current sweep state
func (ws *WebServer) handleSweepStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if ws.sweep == nil {
		httputil.NotConfigured(w, "sweep runner")
		return
	}
	httputil.WriteJSONOK(w, ws.sweep.GetSweepState())
}

// handleSweepStop cancels a running sweep
func (ws *WebServer) handleSweepStop(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if ws.sweep == nil {
		httputil.NotConfigured(w, "sweep runner")
		return
	}
	ws.sweep.Stop()
	httputil.WriteJSONOK(w, map[string]string{"status": "stopped"})
}

// handleResultsChart renders the speed and flow charts of the sweep so far.
func (ws *WebServer) handleResultsChart(w http.ResponseWriter, r *http.Request) {
	if ws.sweep == nil {
		httputil.NotConfigured(w, "sweep runner")
		return
	}
	state := ws.sweep.GetSweepState()
	speed, flow := report.Charts(state, ws.speedUnit)

	page := components.NewPage()
	page.PageTitle = "Ring road sweep"
	page.AddCharts(speed, flow)
	ws.renderPage(w, page)
}

// handleRoadChart plots velocity against position for the latest frame.
func (ws *WebServer) handleRoadChart(w http.ResponseWriter, r *http.Request) {
	if ws.renderer == nil {
		httputil.NotConfigured(w, "renderer")
		return
	}
	scene, ok := ws.renderer.Latest()
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, "no frame yet")
		return
	}

	data := make([]opts.ScatterData, len(scene.Vehicles))
	for i, v := range scene.Vehicles {
		data[i] = opts.ScatterData{
			Name:  fmt.Sprintf("vehicle %d", v.ID),
			Value: []interface{}{v.Position, units.ConvertSpeed(v.Velocity, ws.speedUnit)},
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Ring road", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Scenario %d: %d vehicles", scene.Scenario, scene.VehicleCount),
			Subtitle: fmt.Sprintf("t=%.1fs, seam %.2f, usable %.2f", scene.Time, scene.Road.Seam, scene.Road.Usable),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "position", NameLocation: "middle", NameGap: 25, Min: scene.Road.Seam, Max: scene.Road.Usable}),
		charts.WithYAxisOpts(opts.YAxis{Name: "speed (" + units.SpeedLabel(ws.speedUnit) + ")", NameLocation: "middle", NameGap: 40, Min: 0}),
	)
	scatter.AddSeries("vehicles", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))

	page := components.NewPage()
	page.AddCharts(scatter)
	ws.renderPage(w, page)
}

func (ws *WebServer) renderPage(w http.ResponseWriter, page *components.Page) {
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

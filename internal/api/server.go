// Package api handles HTTP and WebSocket API endpoints
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thereceipt/btprint/internal/command"
	"github.com/thereceipt/btprint/internal/jobs"
	"github.com/thereceipt/btprint/internal/printer"
	"github.com/thereceipt/btprint/internal/registry"
	"github.com/thereceipt/btprint/pkg/receiptformat"
)

// Server is the API server
type Server struct {
	router   *gin.Engine
	service  *printer.Service
	runner   *jobs.Runner
	registry *registry.Registry
	executor *command.Executor
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer creates a new API server. runner and reg may be nil.
func NewServer(service *printer.Service, runner *jobs.Runner, reg *registry.Registry, hub *Hub) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), corsMiddleware())

	if hub == nil {
		hub = NewHub()
	}

	server := &Server{
		router:   router,
		service:  service,
		runner:   runner,
		registry: reg,
		executor: command.NewExecutor(service, runner, reg),
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	printers := s.router.Group("/printers")
	printers.GET("/paired", s.handlePaired)
	printers.POST("/scan", s.handleScan)
	printers.POST("/scan/cancel", s.handleCancelScan)
	printers.POST("/connect", s.handleConnect)
	printers.POST("/disconnect", s.handleDisconnect)
	printers.GET("/connected", s.handleConnected)
	printers.POST("/:address/name", s.handleSetPrinterName)
	printers.GET("/registry", s.handleRegistry)

	s.router.POST("/print", s.handlePrint)
	s.router.POST("/preview", s.handlePreview)

	s.router.GET("/jobs", s.handleGetJobs)
	s.router.GET("/jobs/:id", s.handleGetJob)
	s.router.POST("/jobs/:id/retry", s.handleRetryJob)
	s.router.POST("/jobs/clear", s.handleClearJobs)

	// Command endpoint
	s.router.POST("/command", s.handleCommand)

	// WebSocket
	s.router.GET("/ws", s.handleWebSocket)

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"available": s.service.Available(),
		})
	})
}

// statusFor maps a driver failure to an HTTP status
func statusFor(kind printer.ErrorKind) int {
	switch kind {
	case printer.KindEnvironmentUnavailable:
		return http.StatusServiceUnavailable
	case printer.KindDiscoveryFailed:
		return http.StatusNotFound
	case printer.KindConnectionFailed, printer.KindStaleLink, printer.KindWriteFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error, extra gin.H) {
	kind := printer.KindOf(err)
	body := gin.H{
		"success": false,
		"error":   err.Error(),
		"kind":    kind.String(),
		"retry":   kind.Retryable(),
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(statusFor(kind), body)
}

func unavailable(c *gin.Context) {
	writeError(c, &printer.Error{
		Kind: printer.KindEnvironmentUnavailable,
		Err:  printer.ErrUnavailable,
	}, nil)
}

type deviceView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Label   string `json:"label"`
}

func (s *Server) describe(devices []printer.Device) []deviceView {
	views := make([]deviceView, len(devices))
	for i, d := range devices {
		label := d.Name
		if s.registry != nil {
			label = s.registry.Label(d.Address, d.Name)
		}
		views[i] = deviceView{ID: d.ID, Name: d.Name, Address: d.Address, Label: label}
	}
	return views
}

// handlePaired returns printers paired with this machine
func (s *Server) handlePaired(c *gin.Context) {
	if !s.service.Available() {
		unavailable(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"printers": s.describe(s.service.GetPairedPrinters(c.Request.Context())),
	})
}

// handleScan runs a discovery and returns what was found
func (s *Server) handleScan(c *gin.Context) {
	var req struct {
		DurationMs int `json:"duration_ms"`
	}
	// empty body means default duration
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.DurationMs < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_ms must not be negative"})
		return
	}

	if !s.service.Available() {
		unavailable(c)
		return
	}

	devices := s.service.ScanForPrinters(c.Request.Context(), time.Duration(req.DurationMs)*time.Millisecond)
	c.JSON(http.StatusOK, gin.H{"printers": s.describe(devices)})
}

func (s *Server) handleCancelScan(c *gin.Context) {
	s.service.CancelScan()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleConnect connects the printer given in the body
func (s *Server) handleConnect(c *gin.Context) {
	var req struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ID == "" && req.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id or address is required"})
		return
	}

	dev := printer.Device{ID: req.ID, Name: req.Name, Address: req.Address}
	if dev.ID == "" {
		dev.ID = dev.Address
	}
	if dev.Address == "" {
		dev.Address = dev.ID
	}

	if err := s.service.ConnectToPrinterErr(c.Request.Context(), dev); err != nil {
		writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"printer": dev,
	})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.service.Disconnect()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleConnected returns the connected printer, or null
func (s *Server) handleConnected(c *gin.Context) {
	manager := s.service.Manager()
	c.JSON(http.StatusOK, gin.H{
		"printer": s.service.GetConnectedDevice(),
		"state":   manager.State().String(),
		"ready":   manager.IsPrinterReady(),
	})
}

// handleSetPrinterName sets a custom name for a printer
func (s *Server) handleSetPrinterName(c *gin.Context) {
	address := c.Param("address")

	var req struct {
		Name string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	if s.registry == nil || !s.registry.SetPrinterName(address, req.Name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleRegistry returns every remembered printer
func (s *Server) handleRegistry(c *gin.Context) {
	entries := make([]*registry.PrinterEntry, 0)
	if s.registry != nil {
		for _, e := range s.registry.GetAll() {
			entries = append(entries, e)
		}
	}
	c.JSON(http.StatusOK, gin.H{"printers": entries})
}

type receiptRequest struct {
	Receipt     *receiptformat.Receipt `json:"receipt"`
	ReceiptPath string                 `json:"receipt_path"`
	ReceiptURL  string                 `json:"receipt_url"`
}

// load returns the receipt carried by the request, validated
func (r receiptRequest) load(ctx context.Context) (*receiptformat.Receipt, error) {
	switch {
	case r.ReceiptURL != "":
		return command.LoadReceipt(ctx, r.ReceiptURL)
	case r.ReceiptPath != "":
		return command.LoadReceipt(ctx, r.ReceiptPath)
	case r.Receipt != nil:
		if err := receiptformat.Validate(r.Receipt); err != nil {
			return nil, fmt.Errorf("invalid receipt: %w", err)
		}
		return r.Receipt, nil
	default:
		return nil, errors.New("receipt, receipt_path, or receipt_url is required")
	}
}

func bindReceipt(c *gin.Context) (*receiptformat.Receipt, bool) {
	var req receiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	receipt, err := req.load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return receipt, true
}

// handlePrint prints a receipt, connecting a printer first if needed
func (s *Server) handlePrint(c *gin.Context) {
	receipt, ok := bindReceipt(c)
	if !ok {
		return
	}

	if s.runner == nil {
		if err := s.service.PrintReceiptErr(c.Request.Context(), receipt); err != nil {
			writeError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	job, err := s.runner.Print(c.Request.Context(), receipt)
	if err != nil {
		extra := gin.H{}
		if job != nil {
			extra["job_id"] = job.ID
		}
		writeError(c, err, extra)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"job_id":  job.ID,
	})
}

// handlePreview returns the plain-text rendering of a receipt
func (s *Server) handlePreview(c *gin.Context) {
	receipt, ok := bindReceipt(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"text": s.service.Preview(receipt)})
}

func (s *Server) requireJobs(c *gin.Context) bool {
	if s.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job history is not available"})
		return false
	}
	return true
}

// handleGetJobs returns all print jobs
func (s *Server) handleGetJobs(c *gin.Context) {
	if !s.requireJobs(c) {
		return
	}

	list, err := s.runner.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

// handleGetJob returns a specific print job
func (s *Server) handleGetJob(c *gin.Context) {
	if !s.requireJobs(c) {
		return
	}

	job, err := s.runner.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// handleRetryJob prints a stored job's receipt again
func (s *Server) handleRetryJob(c *gin.Context) {
	if !s.requireJobs(c) {
		return
	}

	job, err := s.runner.Retry(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, jobs.ErrJobBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		writeError(c, err, gin.H{"job_id": c.Param("id")})
	default:
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"job":     job,
		})
	}
}

func (s *Server) handleClearJobs(c *gin.Context) {
	if !s.requireJobs(c) {
		return
	}

	removed, err := s.runner.ClearCompleted()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}

// handleCommand handles command execution requests
func (s *Server) handleCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	result := s.executor.Execute(c.Request.Context(), req.Command)

	if result.Success {
		response := gin.H{
			"success": true,
		}
		if result.Message != "" {
			response["message"] = result.Message
		}
		for k, v := range result.Data {
			response[k] = v
		}
		c.JSON(http.StatusOK, response)
	} else {
		response := gin.H{
			"success": false,
			"error":   result.Error,
		}
		for k, v := range result.Data {
			response[k] = v
		}
		c.JSON(http.StatusBadRequest, response)
	}
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the API on addr until ctx is done
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("api request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/thereceipt/btprint/internal/jobs"
	"github.com/thereceipt/btprint/internal/printer"
	"github.com/thereceipt/btprint/pkg/receiptformat"
)

// handlePrint handles print commands
// Usage: print <receipt-path|url>
func (e *Executor) handlePrint(ctx context.Context, args []string) *Result {
	if len(args) < 1 {
		return failure("usage: print <receipt-path|url>")
	}

	receipt, err := LoadReceipt(ctx, args[0])
	if err != nil {
		return failure("failed to load receipt: %v", err)
	}

	if e.runner == nil {
		if err := e.service.PrintReceiptErr(ctx, receipt); err != nil {
			return printFailure(err, "")
		}
		return &Result{Success: true, Message: "Receipt printed"}
	}

	job, err := e.runner.Print(ctx, receipt)
	if err != nil {
		id := ""
		if job != nil {
			id = job.ID
		}
		return printFailure(err, id)
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Receipt printed (job %s)", job.ID),
		Data:    map[string]any{"job_id": job.ID},
	}
}

func printFailure(err error, jobID string) *Result {
	kind := printer.KindOf(err)
	res := failure("print failed: %v", err)
	res.Data = map[string]any{
		"kind":  kind.String(),
		"retry": kind.Retryable(),
	}
	if jobID != "" {
		res.Data["job_id"] = jobID
	}
	return res
}

// handlePreview renders a receipt as plain text without printing
// Usage: preview <receipt-path|url>
func (e *Executor) handlePreview(ctx context.Context, args []string) *Result {
	if len(args) < 1 {
		return failure("usage: preview <receipt-path|url>")
	}

	receipt, err := LoadReceipt(ctx, args[0])
	if err != nil {
		return failure("failed to load receipt: %v", err)
	}

	return &Result{
		Success: true,
		Message: e.service.Preview(receipt),
	}
}

// handleScan handles scan commands
// Usage: scan [seconds]
func (e *Executor) handleScan(ctx context.Context, args []string) *Result {
	if !e.service.Available() {
		return failure("%v", printer.ErrUnavailable)
	}

	var duration time.Duration
	if len(args) >= 1 {
		seconds, err := strconv.Atoi(args[0])
		if err != nil || seconds <= 0 {
			return failure("invalid duration: %s", args[0])
		}
		duration = time.Duration(seconds) * time.Second
	}

	devices := e.service.ScanForPrinters(ctx, duration)

	e.mu.Lock()
	e.lastScan = devices
	e.mu.Unlock()

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Found %d printer(s)", len(devices)),
		Data:    map[string]any{"printers": e.describe(devices)},
	}
}

// handlePaired lists printers the OS already knows
// Usage: paired
func (e *Executor) handlePaired(ctx context.Context) *Result {
	devices := e.service.GetPairedPrinters(ctx)
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Found %d paired printer(s)", len(devices)),
		Data:    map[string]any{"printers": e.describe(devices)},
	}
}

// handleConnect connects to a printer from the last scan or the paired list
// Usage: connect <address|id|name>
func (e *Executor) handleConnect(ctx context.Context, args []string) *Result {
	if len(args) < 1 {
		return failure("usage: connect <address|id|name>")
	}

	dev := e.resolve(ctx, args[0])
	if err := e.service.ConnectToPrinterErr(ctx, dev); err != nil {
		res := failure("failed to connect to %s: %v", dev, err)
		res.Data = map[string]any{"kind": printer.KindOf(err).String()}
		return res
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Connected to %s", dev),
		Data:    map[string]any{"printer": dev},
	}
}

func (e *Executor) resolve(ctx context.Context, target string) printer.Device {
	e.mu.Lock()
	candidates := append([]printer.Device(nil), e.lastScan...)
	e.mu.Unlock()
	candidates = append(candidates, e.service.GetPairedPrinters(ctx)...)

	for _, dev := range candidates {
		if dev.ID == target || dev.Key() == strings.ToUpper(target) || dev.Name == target {
			return dev
		}
	}
	return printer.Device{ID: target, Name: target, Address: target}
}

// handleDisconnect drops the current printer
// Usage: disconnect
func (e *Executor) handleDisconnect() *Result {
	e.service.Disconnect()
	return &Result{
		Success: true,
		Message: "Disconnected",
	}
}

// handleStatus reports the connection state
// Usage: status
func (e *Executor) handleStatus() *Result {
	manager := e.service.Manager()
	data := map[string]any{
		"available": e.service.Available(),
		"state":     manager.State().String(),
		"ready":     manager.IsPrinterReady(),
		"scanning":  e.service.Scanning(),
	}

	msg := "No printer connected"
	if dev := e.service.GetConnectedDevice(); dev != nil {
		data["printer"] = dev
		if t := manager.Transport(); t != nil {
			data["transport"] = string(t.Kind())
		}
		msg = fmt.Sprintf("Connected to %s", dev)
	}
	if !e.service.Available() {
		msg = printer.ErrUnavailable.Error()
	}

	return &Result{
		Success: true,
		Message: msg,
		Data:    data,
	}
}

// handleRename sets a custom name for a remembered printer
// Usage: rename <address> <name>
func (e *Executor) handleRename(args []string) *Result {
	if len(args) < 2 {
		return failure("usage: rename <address> <name>")
	}
	if e.registry == nil {
		return failure("printer registry is not available")
	}

	if !e.registry.SetPrinterName(args[0], args[1]) {
		return failure("printer not found: %s", args[0])
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Renamed printer %s to %s", args[0], args[1]),
	}
}

// handleJob handles job commands
// Usage: job list | status <id> | retry <id> | clear
func (e *Executor) handleJob(ctx context.Context, args []string) *Result {
	if len(args) == 0 {
		return failure("usage: job <list|status|retry|clear>")
	}
	if e.runner == nil {
		return failure("job history is not available")
	}

	subcommand := args[0]

	switch subcommand {
	case "list":
		list, err := e.runner.List()
		if err != nil {
			return failure("failed to list jobs: %v", err)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Found %d job(s)", len(list)),
			Data:    map[string]any{"jobs": list},
		}

	case "status":
		if len(args) < 2 {
			return failure("usage: job status <id>")
		}
		job, err := e.runner.Get(args[1])
		if err != nil {
			return failure("job not found: %s", args[1])
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Job %s is %s", job.ID, job.Status),
			Data:    map[string]any{"job": job},
		}

	case "retry":
		if len(args) < 2 {
			return failure("usage: job retry <id>")
		}
		job, err := e.runner.Retry(ctx, args[1])
		if errors.Is(err, jobs.ErrNotFound) {
			return failure("job not found: %s", args[1])
		}
		if err != nil {
			return printFailure(err, args[1])
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Receipt printed (job %s)", job.ID),
			Data:    map[string]any{"job_id": job.ID},
		}

	case "clear":
		removed, err := e.runner.ClearCompleted()
		if err != nil {
			return failure("failed to clear jobs: %v", err)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Cleared %d completed job(s)", removed),
		}

	default:
		return failure("unknown job subcommand: %s. Use: list, status, retry, clear", subcommand)
	}
}

// handleHelp handles help command
func (e *Executor) handleHelp() *Result {
	helpText := `Available Commands:

  print <receipt-path|url>
    Print a receipt, connecting to a printer if needed

  preview <receipt-path|url>
    Show the receipt as plain text

  scan [seconds]
    Scan for nearby printers

  paired
    List printers already paired with this machine

  connect <address|id|name>
    Connect to a printer

  disconnect
    Disconnect the current printer

  status
    Show the connection state

  rename <address> <name>
    Set a custom name for a remembered printer

  job list
    List all print jobs

  job status <id>
    Get status of a specific job

  job retry <id>
    Print a job's receipt again

  job clear
    Clear completed jobs

  help
    Show this help message

Examples:
  scan 10
  connect 66:22:AA:BB:CC:01
  print ./receipt.json
  rename 66:22:AA:BB:CC:01 "Kasir Depan"
`

	return &Result{
		Success: true,
		Message: helpText,
	}
}

func (e *Executor) describe(devices []printer.Device) []map[string]any {
	list := make([]map[string]any, len(devices))
	for i, d := range devices {
		label := d.Name
		if e.registry != nil {
			label = e.registry.Label(d.Address, d.Name)
		}
		list[i] = map[string]any{
			"id":      d.ID,
			"name":    d.Name,
			"address": d.Address,
			"label":   label,
		}
	}
	return list
}

// LoadReceipt loads a receipt from a file path or URL
func LoadReceipt(ctx context.Context, pathOrURL string) (*receiptformat.Receipt, error) {
	var data []byte

	// Check if it's a URL (starts with http:// or https://)
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pathOrURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("invalid receipt URL: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch receipt from URL: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed to fetch receipt: HTTP %d", resp.StatusCode)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read receipt from URL: %w", err)
		}
	} else {
		var err error
		data, err = os.ReadFile(pathOrURL)
		if err != nil {
			return nil, fmt.Errorf("failed to read receipt file: %w", err)
		}
	}

	return receiptformat.Parse(data)
}

// Package command provides the text command system shared by the HTTP
// command endpoint and the CLI
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/thereceipt/btprint/internal/jobs"
	"github.com/thereceipt/btprint/internal/printer"
	"github.com/thereceipt/btprint/internal/registry"
	"github.com/thereceipt/btprint/internal/syncutil"
)

// Executor executes commands
type Executor struct {
	service  *printer.Service
	runner   *jobs.Runner
	registry *registry.Registry
	lastScan []printer.Device
	mu       syncutil.Mutex
}

// NewExecutor creates a new command executor. runner and reg may be nil, in
// which case job and rename commands report that they are unavailable.
func NewExecutor(service *printer.Service, runner *jobs.Runner, reg *registry.Registry) *Executor {
	return &Executor{
		service:  service,
		runner:   runner,
		registry: reg,
	}
}

// Result represents the result of executing a command
type Result struct {
	Data    map[string]any `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Success bool           `json:"success"`
}

func failure(format string, args ...any) *Result {
	return &Result{
		Success: false,
		Error:   fmt.Sprintf(format, args...),
	}
}

// Execute executes a command string and returns a result
func (e *Executor) Execute(ctx context.Context, cmdStr string) *Result {
	// Parse command
	parts := parseCommand(cmdStr)
	if len(parts) == 0 {
		return failure("empty command")
	}

	command := parts[0]
	args := parts[1:]

	// Route to appropriate handler
	switch command {
	case "print":
		return e.handlePrint(ctx, args)
	case "preview":
		return e.handlePreview(ctx, args)
	case "scan":
		return e.handleScan(ctx, args)
	case "paired":
		return e.handlePaired(ctx)
	case "connect":
		return e.handleConnect(ctx, args)
	case "disconnect":
		return e.handleDisconnect()
	case "status":
		return e.handleStatus()
	case "rename":
		return e.handleRename(args)
	case "job":
		return e.handleJob(ctx, args)
	case "help":
		return e.handleHelp()
	default:
		return failure("unknown command: %s. Type 'help' for available commands", command)
	}
}

// parseCommand parses a command string into parts, handling quoted strings
func parseCommand(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return []string{}
	}

	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := byte(0)

	for i := 0; i < len(cmdStr); i++ {
		char := cmdStr[i]

		switch {
		case char == '"' || char == '\'':
			if !inQuotes {
				inQuotes = true
				quoteChar = char
			} else if char == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else {
				current.WriteByte(char)
			}
		case char == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(char)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}

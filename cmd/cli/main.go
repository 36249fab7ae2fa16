package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultServerURL = "http://localhost:12212"
)

func main() {
	var serverURL string
	flag.StringVar(&serverURL, "server", defaultServerURL, "Server URL")
	flag.StringVar(&serverURL, "s", defaultServerURL, "Server URL (short)")
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	command := buildCommand(flag.Args())
	result := executeCommand(serverURL, command)

	if result.Success {
		printSuccess(os.Stdout, result)
		os.Exit(0)
	} else {
		printError(result)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `btprint CLI

Usage:
  btprint-cli [flags] <command>

Flags:
  -s, -server <url>    Server URL (default: %s)

Commands:
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

  job list | job status <id> | job retry <id> | job clear
    Inspect and retry print jobs

  help
    Show help message

Examples:
  btprint-cli scan 10
  btprint-cli connect 66:22:AA:BB:CC:01
  btprint-cli print ./receipt.json
  btprint-cli rename 66:22:AA:BB:CC:01 "Kasir Depan"
  btprint-cli -s http://192.168.1.20:12212 status

`, defaultServerURL)
}

// buildCommand joins args into a command line the server can parse. Local
// receipt paths are made absolute because the server resolves them.
func buildCommand(args []string) string {
	parts := make([]string, len(args))
	copy(parts, args)

	if len(parts) >= 2 && (parts[0] == "print" || parts[0] == "preview") {
		target := parts[1]
		if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
			if abs, err := filepath.Abs(target); err == nil {
				parts[1] = abs
			}
		}
	}

	for i, p := range parts {
		if strings.ContainsAny(p, " \t") && !strings.Contains(p, `"`) {
			parts[i] = `"` + p + `"`
		}
	}
	return strings.Join(parts, " ")
}

type CommandResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"-"`
	Error   string         `json:"error,omitempty"`
}

func executeCommand(serverURL, command string) *CommandResult {
	url := strings.TrimSuffix(serverURL, "/") + "/command"

	reqBody := map[string]string{
		"command": command,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to marshal request: %v", err),
		}
	}

	// scans and prints can take a while
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(url, "application/json", strings.NewReader(string(jsonData)))
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to connect to server: %v", err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to read response: %v", err),
		}
	}

	return parseResult(body)
}

// parseResult decodes a /command response. Data fields are flattened into
// the top level by the server.
func parseResult(body []byte) *CommandResult {
	var result CommandResult
	if err := json.Unmarshal(body, &result); err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to parse response: %v", err),
		}
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err == nil {
		delete(raw, "success")
		delete(raw, "message")
		delete(raw, "error")
		result.Data = raw
	}
	return &result
}

func printSuccess(w io.Writer, result *CommandResult) {
	if result.Message != "" {
		fmt.Fprintln(w, result.Message)
	}

	if result.Data == nil {
		return
	}

	// Pretty print data
	if printers, ok := result.Data["printers"].([]any); ok && len(printers) > 0 {
		fmt.Fprintln(w, "\nPrinters:")
		for _, p := range printers {
			if printer, ok := p.(map[string]any); ok {
				fmt.Fprintf(w, "  %v  %v\n", printer["address"], printer["label"])
			}
		}
	}

	if jobs, ok := result.Data["jobs"].([]any); ok && len(jobs) > 0 {
		fmt.Fprintln(w, "\nJobs:")
		for _, j := range jobs {
			if job, ok := j.(map[string]any); ok {
				line := fmt.Sprintf("  %v: %v (attempts: %v)", job["id"], job["status"], job["attempts"])
				if e, ok := job["error"].(string); ok && e != "" {
					line += " - " + e
				}
				fmt.Fprintln(w, line)
			}
		}
	}

	if jobID, ok := result.Data["job_id"].(string); ok {
		fmt.Fprintf(w, "Job ID: %s\n", jobID)
	}

	if state, ok := result.Data["state"].(string); ok {
		fmt.Fprintf(w, "State: %s\n", state)
	}
}

func printError(result *CommandResult) {
	if result.Error != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", result.Error)
	} else if result.Message != "" {
		fmt.Fprintf(os.Stderr, "%s\n", result.Message)
	}

	if retry, ok := result.Data["retry"].(bool); ok && retry {
		if jobID, ok := result.Data["job_id"].(string); ok {
			fmt.Fprintf(os.Stderr, "Retry with: job retry %s\n", jobID)
		}
	}
}

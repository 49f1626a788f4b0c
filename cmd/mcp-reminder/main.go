// Command mcp-reminder provides an MCP server for reminder management only,
// without the call engine.
//
// It shares the reminder store with callminder; a running callminder picks up
// changes on its next detector tick.
//
// Usage:
//
//	./mcp-reminder          # Start MCP server (stdio)
//	./mcp-reminder --help   # Show help
//
// Environment:
//
//	CALLMINDER_STORE__PATH  Path to SQLite database (default: ~/.callminder/reminders.db)
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/notexe/callminder/internal/config"
	"github.com/notexe/callminder/internal/reminder"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--help", "-h":
			printHelp()
			return
		}
	}

	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Store.Path == "" {
		fmt.Fprintln(os.Stderr, "store.path is required")
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create store directory: %v\n", err)
		os.Exit(1)
	}

	store, err := reminder.NewStore(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	s := reminder.NewServer(store, nil)

	if err := server.ServeStdio(s.MCPServer()); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`MCP Reminder Server - Reminder management via MCP protocol

USAGE:
    mcp-reminder                 Start MCP server (communicates via stdio)
    mcp-reminder --config PATH   Use an alternate configuration file
    mcp-reminder --help          Show this help

ENVIRONMENT:
    CALLMINDER_STORE__PATH  Path to SQLite database file
                            Default: ~/.callminder/reminders.db

TOOLS:
    add_reminder       Add a reminder (title, date, time, description, priority, category)
    list_reminders     List reminders (optional status filter: pending, completed)
    get_due_reminders  Get pending reminders that are due or overdue
    toggle_complete    Toggle a reminder between pending and completed
    delete_reminder    Delete a reminder permanently
    update_reminder    Update reminder fields

For call handling use callminder --mode mcp, which serves these tools
alongside the call overlay tools.`)
}

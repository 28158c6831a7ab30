// faucetd MCP Server - Exposes faucetd session control as MCP tools for LLMs
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/faucetd/internal/mcpserver"
)

// Version is set by ldflags
var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL: envOrDefault("FAUCETD_API_URL", "http://localhost:8001"),
	}
	if raw := os.Getenv("FAUCETD_API_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid FAUCETD_API_TIMEOUT %q: %v\n", raw, err)
			os.Exit(1)
		}
		cfg.Timeout = d
	}

	// stdout carries the MCP protocol; diagnostics go to stderr.
	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

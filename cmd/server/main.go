/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bilan engine server, and exposes the operator
  commands that act on the same database.

COMMANDS:
  serve          Run the HTTP API (default when no command is given)
  close-period   Close (send) a period and pin its activities
  import         Load a referential JSON file
  bilan          Print the bilan financier for a window as JSON

FLAGS (all commands):
  --addr        HTTP listen address (default from BILAN_ADDR, ":8080")
  --db          SQLite database path (default from BILAN_DB, "bilan.db")
                Use ":memory:" for in-memory database
  --log-level   debug, info, warn, error

CONFIGURATION:
  Environment first, then the YAML file named by BILAN_CONFIG, then flags.
  See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the deadline watcher
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

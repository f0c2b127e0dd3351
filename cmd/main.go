package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/noetl/core/internal/app"
)

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	runServer := envTrue("RUN_SERVER", true)
	runWorker := envTrue("RUN_WORKER", false)

	// Start background components (runtime sweeper, Temporal worker, worker pool loops).
	a.Start(runServer, runWorker)

	if runServer {
		addr := ":" + strconv.Itoa(a.Cfg.Port)
		fmt.Printf("Server listening on %s\n", addr)
		if err := a.Run(addr); err != nil {
			a.Log.Warn("server failed", "error", err.Error())
		}
		return
	}

	// Worker-only process: keep alive while background loops run.
	select {}
}

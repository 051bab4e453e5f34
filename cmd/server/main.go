package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/latchkey/auth-service/internal/app/bootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	ctx := context.Background()
	runtime, err := bootstrap.NewRuntime(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}

	if err := runtime.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "runtime exited with error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pilab-dev/datelink/cmd/datelinkctl/cmd"
	"github.com/pilab-dev/datelink/tracing"
)

func main() {
	// Spans go to stderr only on request so they do not mix with command output.
	var spans io.Writer = io.Discard
	if os.Getenv("DATELINKCTL_TRACE") != "" {
		spans = os.Stderr
	}

	tp, err := tracing.InitTracerProvider("datelinkctl", spans)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize TracerProvider:", err)
		os.Exit(1)
	}

	code := cmd.Execute()

	if err := tp.Shutdown(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error shutting down TracerProvider:", err)
	}

	os.Exit(code)
}

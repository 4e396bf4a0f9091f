// Command workflowctl validates, renders and runs workflow definitions
// locally.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/amp-labs/workflow-core/shutdown"
	"github.com/amp-labs/workflow-core/telemetry"
)

func main() {
	ctx, cancel := shutdown.SetupHandler(context.Background())

	shutdown.BeforeShutdown(func() {
		_ = telemetry.Shutdown(context.Background())
	})

	err := newRootCmd().ExecuteContext(ctx)

	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

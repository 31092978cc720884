package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aryankumar/bmcpass/internal/cli"
	"github.com/aryankumar/bmcpass/internal/util"
)

func main() {
	// Setup signal handling for graceful shutdown
	ctx, stop := util.SetupSignalHandler(nil)

	err := cli.Execute(ctx)
	stop()

	if err != nil {
		slog.Error("command failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", util.FriendlyError(err))
		os.Exit(1)
	}
}

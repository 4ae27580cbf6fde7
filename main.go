package main

import (
	"fmt"
	"os"

	"github.com/scanrelay/scanrelay/cmd"
	"github.com/scanrelay/scanrelay/internal/app"
	"github.com/scanrelay/scanrelay/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = ""
	buildDate = ""
)

func main() {
	ctx := app.NewContext(buildinfo.NewContext(version, buildDate, ""))

	if err := cmd.RootCommand(ctx).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

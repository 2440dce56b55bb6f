package main

import (
	"context"
	"os"

	"github.com/prinzana/sellyticsOffline-sub004/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
}

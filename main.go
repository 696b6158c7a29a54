package main

import (
	"context"

	"github.com/spf13/viper"

	"github.com/tphakala/xtmix/cmd"
	"github.com/tphakala/xtmix/internal/logging"
)

func main() {
	logging.Init()

	rootCmd := cmd.RootCommand(viper.New())
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logging.Fatal("xtmix failed", "error", err)
	}
}

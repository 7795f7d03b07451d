package main

import (
	"os"

	"github.com/small-frappuccino/aperture/pkg/app"
	"github.com/small-frappuccino/aperture/pkg/config"
	"github.com/small-frappuccino/aperture/pkg/log"
)

// main is the entry point of the Discord bot.
func main() {
	if err := app.Run("aperture", config.EnvToken); err != nil {
		log.ErrorLoggerRaw().Error("Fatal", "err", err)
		os.Exit(1)
	}
}

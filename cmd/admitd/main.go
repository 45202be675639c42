// Command admitd runs the rate limit admission service and its admin tasks.
package main

import (
	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
)

// CLI is the admitd command line. Everything else comes from the environment.
type CLI struct {
	Serve  ServeCmd  `cmd:"" help:"Serve forward-auth checks, metrics and admin endpoints."`
	Reset  ResetCmd  `cmd:"" help:"Delete all rate limit state for an identifier."`
	Status StatusCmd `cmd:"" help:"Show the current window state of an identifier."`
	Events EventsCmd `cmd:"" help:"Print recent blocked and degraded events."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("admitd"),
		kong.Description("Distributed rate limit admission control."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		log.Fatal().Err(err).Str("command", ctx.Command()).Msg("command failed")
	}
}

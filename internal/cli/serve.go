package cli

import (
	"github.com/spf13/cobra"

	"github.com/r2browser/r2browser/internal/cache"
	"github.com/r2browser/r2browser/internal/events"
	"github.com/r2browser/r2browser/internal/logging"
	"github.com/r2browser/r2browser/internal/server"
	"github.com/r2browser/r2browser/internal/transfer"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback HTTP broker",
		Long: `Run the broker that front-ends connect to.

The broker binds 127.0.0.1 on PORT (0 = OS-assigned) and prints
LISTENING PORT=<n> on stdout once ready. Configuration comes from the
environment: PORT, CORS_ALLOWED_ORIGINS, LOG_LEVEL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := server.LoadConfig()
			logging.SetGlobalLevelFromString(cfg.LogLevel)

			// JSON logs on stderr; stdout stays clean for the handshake.
			log := logging.NewLogger("server")

			client, creds, err := loadClient(rootContext)
			if err != nil {
				return err
			}

			bus := events.NewEventBus(0)
			defer bus.Close()

			engine := transfer.NewEngine(client, bus, transfer.Config{})
			srv := server.New(cfg, client, cache.New(), engine, creds.AccountID, log)
			return srv.Run(rootContext)
		},
	}
}

/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reeltask/authserver/config"
	"github.com/reeltask/authserver/internal/db"
	"github.com/reeltask/authserver/internal/mq"
	"github.com/reeltask/authserver/internal/provision"
	"github.com/reeltask/authserver/internal/store"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Starts the provisioning compensation worker",
	Long: `Starts the worker that consumes queued profile-provisioning jobs
and retries them against the user service until they succeed or exhaust
their retry budget. Usage:

	authserver worker
`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger()
		cfg := config.LoadConfig()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		dbConn, err := db.Open(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open database")
		}
		defer dbConn.Close()

		queueBackend, err := mq.FromConfig(ctx, cfg.Queue)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to queue")
		}
		defer queueBackend.Close()

		var transport provision.Transport = provision.NewHTTPTransport(cfg.UserService.URL)
		if cfg.UserService.UseGRPC {
			grpcTransport, err := provision.NewGRPCTransport(cfg.UserService.URL)
			if err != nil {
				logger.Fatal().Err(err).Msg("failed to build user service transport")
			}
			transport = provision.NewFallbackTransport(grpcTransport, transport, logger)
		}
		provisioner := provision.NewProvisioner(
			transport,
			provision.NewBreaker(logger),
			logger,
			provision.WithCallTimeout(cfg.UserService.Timeout),
		)

		worker := provision.NewWorker(
			queueBackend,
			cfg.Queue.Channel,
			provisioner,
			store.NewProvisioningFailureRepository(dbConn),
			logger,
		)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("worker error")
		}
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

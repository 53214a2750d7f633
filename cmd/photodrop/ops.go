package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/PhotoDrop/internal/auth"
	"github.com/dharsanguruparan/PhotoDrop/internal/config"
	"github.com/dharsanguruparan/PhotoDrop/internal/database"
	"github.com/dharsanguruparan/PhotoDrop/internal/queue"
)

func newTokenCmd() *cobra.Command {
	var user string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("JWT_SECRET must be set")
			}
			if user == "" {
				return errors.New("--user is required")
			}
			token, err := auth.NewAuthenticator([]byte(cfg.Auth.JWTSecret), cfg.Auth.CookieName).Issue(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User id placed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func newReprocessCmd() *cobra.Command {
	var skipMetadata, skipThumbnails, skipDisplay bool
	cmd := &cobra.Command{
		Use:   "reprocess PHOTO_ID...",
		Short: "Queue derivative jobs for existing photos",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Queue.Backend != "asynq" {
				return errors.New("reprocess needs QUEUE_BACKEND=asynq; inline queues live inside the server")
			}
			opt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
			client := asynq.NewClient(opt)
			defer client.Close()
			inspector := asynq.NewInspector(opt)
			defer inspector.Close()
			enq := queue.NewAsynqEnqueuer(client, inspector, cfg.Queue.MaxRetry)

			for _, id := range args {
				err := enq.EnqueueDerivatives(cmd.Context(), queue.DerivativePayload{
					PhotoID:        id,
					SkipMetadata:   skipMetadata,
					SkipThumbnails: skipThumbnails,
					SkipDisplay:    skipDisplay,
				})
				if err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipMetadata, "skip-metadata", false, "Do not re-extract metadata")
	cmd.Flags().BoolVar(&skipThumbnails, "skip-thumbnails", false, "Do not regenerate thumbnails")
	cmd.Flags().BoolVar(&skipDisplay, "skip-display", false, "Do not regenerate the display image")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the photos schema if it is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL must be set")
			}
			pool, err := database.Connect(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.EnsureSchema(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}
}

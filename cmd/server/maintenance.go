package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"screentime/internal/identity"
)

func newCleanupCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Archive and delete activities older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID, err := identity.GenerateDeviceID()
			if err != nil {
				return fmt.Errorf("failed to generate device id: %w", err)
			}
			a, err := newApp(cmd.Context(), opts.cfg, identity.Identity{DeviceID: deviceID}, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.activity.CleanupOldActivities(cmd.Context())
			if err != nil {
				return err
			}
			opts.logger.Info("activity cleanup finished",
				zap.Int64("deleted", deleted),
				zap.Duration("retention", opts.cfg.ActivityRetention))
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d activities\n", deleted)
			return nil
		},
	}
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		userID   string
		deviceID string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a device token for a parent",
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := identity.NewIssuer(opts.cfg.TokenSecret, ttl)
			if err != nil {
				return err
			}
			if deviceID == "" {
				if deviceID, err = identity.GenerateDeviceID(); err != nil {
					return fmt.Errorf("failed to generate device id: %w", err)
				}
			}

			token, err := issuer.Issue(identity.Identity{UserID: userID, DeviceID: deviceID})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "device: %s\ntoken:  %s\n", deviceID, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "parent user id (required)")
	cmd.Flags().StringVar(&deviceID, "device", "", "device id (generated when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime; zero never expires")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

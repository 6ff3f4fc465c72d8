package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tributary-ai/crm-reply-router/internal/config"
	"github.com/tributary-ai/crm-reply-router/internal/security"
)

func tokenCmd() *cobra.Command {
	var (
		subject     string
		permissions []string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a dashboard JWT signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			auth := security.NewAuthenticator(cfg.Auth, logrus.New())
			token, err := auth.GenerateJWT(subject, permissions)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringSliceVar(&permissions, "permission", []string{"dashboard:read"}, "granted permissions")
	return cmd
}

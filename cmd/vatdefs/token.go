package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/auth"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/config"
)

var errAdminDisabled = errors.New("admin.signing_secret must be set to issue tokens")

func newTokenCommand() *cobra.Command {
	var subject string
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token for POST /sync/refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if !appConfig.Admin.Enabled() {
				return errAdminDisabled
			}
			issuer, err := auth.NewTokenIssuer(adminTokenConfig(appConfig.Admin))
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(cmd.Context(), subject, auth.RoleRefresh)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", token, expiresAt.Format(time.RFC3339))
			return err
		},
	}
	tokenCmd.Flags().StringVar(&subject, "subject", "operator", "Subject recorded in the token")
	return tokenCmd
}

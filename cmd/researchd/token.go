package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	srv "github.com/mohammad-safakhou/researchd/internal/server"
)

func tokenCMD(load configLoader) *cobra.Command {
	var subject string
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with server.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return errors.New("jwt secret not configured (server.jwt_secret)")
			}
			signed, err := srv.SignJWT(subject, []byte(cfg.Server.JWTSecret), ttl)
			if err != nil {
				return err
			}
			cmd.Println(signed)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "sub", "cli", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return token
}

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/tsa-ledger/internal/auth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	tokenSecret  string
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a writer token for ledger appends",
	Long: `Token signs a writer token with the server's auth.writer_secret. The
secret is read from --secret, writer_secret in the config file, or
TSA_WRITER_SECRET.

  export TSA_TOKEN=$(tsa token --subject storefront)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("writer_secret")
		}
		signed, err := mintToken(secret, tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "HMAC secret (must match the server's auth.writer_secret)")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "tsa-cli", "token subject, recorded in server logs")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

func mintToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("no writer secret: pass --secret or set TSA_WRITER_SECRET")
	}
	issuer, err := auth.NewTokenIssuer([]byte(secret), auth.DefaultIssuer, ttl)
	if err != nil {
		return "", err
	}
	return issuer.Issue(subject)
}

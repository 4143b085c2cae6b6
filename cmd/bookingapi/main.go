package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/courtbook/internal/bookingapi"
)

const (
	flagListenAddr      = "listen-addr"
	flagBookingAddr     = "booking-addr"
	flagBookingInsecure = "booking-insecure"
	flagRequestTimeout  = "request-timeout"
	flagAllowedOrigins  = "allowed-origins"
	flagJWTSigningKey   = "jwt-signing-key"
	flagJWTIssuer       = "jwt-issuer"
	flagJWTCookieName   = "jwt-cookie-name"
	flagDefaultClubID   = "default-club-id"
	envPrefix           = "BOOKINGAPI"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bookingapi: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := bookingapi.Config{}
	cmd := &cobra.Command{
		Use:           "bookingapi",
		Short:         "HTTP API for padel class bookings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("zap init: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			return bookingapi.Run(ctx, cfg, logger)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagBookingAddr, "", "bookingd gRPC address")
	cmd.Flags().Bool(flagBookingInsecure, false, "connect to bookingd without TLS")
	cmd.Flags().Duration(flagRequestTimeout, 0, "per-call timeout towards bookingd (e.g. 3s)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "JWT cookie name")
	cmd.Flags().String(flagDefaultClubID, "", "club used when /api/slots has no club_id")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *bookingapi.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagListenAddr, flagBookingAddr, flagBookingInsecure, flagRequestTimeout, flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName, flagDefaultClubID} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}
	if !v.IsSet(flagJWTSigningKey) {
		return fmt.Errorf("%s is required", flagJWTSigningKey)
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.BookingAddress = strings.TrimSpace(v.GetString(flagBookingAddr))
	cfg.BookingInsecure = v.GetBool(flagBookingInsecure)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.AllowedOrigins = bookingapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.DefaultClubID = strings.TrimSpace(v.GetString(flagDefaultClubID))

	return cfg.Validate()
}

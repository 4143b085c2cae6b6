package main

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagMetricsAddr       = "metrics-addr"
	flagRedisURL          = "redis-url"
	flagAMQPURL           = "amqp-url"
	flagExchange          = "exchange"
	flagSettlement        = "settlement"
	flagRefundCutoff      = "refund-cutoff"
	flagLateRefundPercent = "late-refund-percent"
	flagLockTimeout       = "lock-timeout"
	flagSettleInterval    = "settle-interval"
	envPrefix             = "BOOKINGD"

	defaultDatabaseURL    = "sqlite:///tmp/courtbook.db"
	defaultGRPCListenAddr = ":7000"
	defaultMetricsAddr    = ":9100"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	MetricsAddr    string
	RedisURL       string
	AMQPURL        string
	Exchange       string
	Settlement     booking.SettlementMode
	RefundPolicy   booking.RefundPolicy
	LockTimeout    time.Duration
	SettleInterval time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bookingd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "bookingd",
		Short:         "Padel class booking engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, defaultDatabaseURL, "postgres:// or sqlite:// connection string")
	flags.String(flagListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	flags.String(flagMetricsAddr, defaultMetricsAddr, "HTTP address serving /metrics and /healthz (empty disables)")
	flags.String(flagRedisURL, "", "Redis URL for the cross-instance slot lock (empty uses an in-process lock)")
	flags.String(flagAMQPURL, "", "RabbitMQ URL for booking events (empty disables publishing)")
	flags.String(flagExchange, "", "RabbitMQ topic exchange for booking events")
	flags.String(flagSettlement, string(booking.SettlementHold), "hold (capture at class start) or spend (charge immediately)")
	flags.Duration(flagRefundCutoff, booking.DefaultRefundPolicy().CutoffBefore, "cancellations at least this long before the class are refunded in full")
	flags.Int64(flagLateRefundPercent, booking.DefaultRefundPolicy().LateRefundPercent, "refund percentage for cancellations after the cutoff")
	flags.Duration(flagLockTimeout, 0, "maximum wait for a slot lock (0 uses the engine default)")
	flags.Duration(flagSettleInterval, time.Minute, "how often serve settles started classes (0 disables)")

	cmd.AddCommand(
		newServeCommand(cfg),
		newMigrateCommand(cfg),
		newGenerateSlotsCommand(cfg),
		newSettleCommand(cfg),
		newPurgeProposalsCommand(cfg),
		newGrantCommand(cfg),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagDatabaseURL, flagListenAddr, flagMetricsAddr, flagRedisURL, flagAMQPURL, flagExchange, flagSettlement, flagRefundCutoff, flagLateRefundPercent, flagLockTimeout, flagSettleInterval} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}
	if err := v.BindEnv(flagDatabaseURL, "DATABASE_URL", envPrefix+"_DATABASE_URL"); err != nil {
		return err
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultGRPCListenAddr
	}
	cfg.MetricsAddr = strings.TrimSpace(v.GetString(flagMetricsAddr))
	cfg.RedisURL = strings.TrimSpace(v.GetString(flagRedisURL))
	cfg.AMQPURL = strings.TrimSpace(v.GetString(flagAMQPURL))
	cfg.Exchange = strings.TrimSpace(v.GetString(flagExchange))
	cfg.LockTimeout = v.GetDuration(flagLockTimeout)
	cfg.SettleInterval = v.GetDuration(flagSettleInterval)

	settlement, err := booking.ParseSettlementMode(v.GetString(flagSettlement))
	if err != nil {
		return err
	}
	cfg.Settlement = settlement
	cfg.RefundPolicy = booking.RefundPolicy{
		CutoffBefore:      v.GetDuration(flagRefundCutoff),
		LateRefundPercent: v.GetInt64(flagLateRefundPercent),
	}
	if err := cfg.RefundPolicy.Validate(); err != nil {
		return err
	}
	if cfg.LockTimeout < 0 || cfg.SettleInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

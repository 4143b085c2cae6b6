package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

// withApplication runs one job against a freshly wired application.
func withApplication(cmd *cobra.Command, cfg *runtimeConfig, job func(ctx context.Context, app *application) error) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	ctx := cmd.Context()
	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return job(ctx, app)
}

func newMigrateCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			db, cleanup, driver, err := openDatabase(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = cleanup() }()
			return migrateSchema(cmd.Context(), db, driver, logger)
		},
	}
}

func newGenerateSlotsCommand(cfg *runtimeConfig) *cobra.Command {
	var (
		clubID       string
		instructorID string
		date         string
		dayOffset    int
		days         int
		level        string
		category     string
	)
	cmd := &cobra.Command{
		Use:   "generate-slots",
		Short: "Create class proposals for a club",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, cfg, func(ctx context.Context, app *application) error {
				var (
					result booking.GenerateResult
					err    error
				)
				if instructorID == "" {
					result, err = app.generator.GenerateRange(ctx, clubID, dayOffset, days)
				} else {
					result, err = app.generator.Generate(ctx, booking.GenerateRequest{
						ClubID:       clubID,
						InstructorID: instructorID,
						Date:         date,
						DayOffset:    dayOffset,
						Level:        level,
						Category:     category,
					})
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "date=%s created=%d skipped=%d\n", result.Date, result.Created, result.Skipped)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clubID, "club-id", "", "club to generate for (required)")
	cmd.Flags().StringVar(&instructorID, "instructor-id", "", "single instructor; empty generates for every active instructor")
	cmd.Flags().StringVar(&date, "date", "", "local date YYYY-MM-DD (single instructor only)")
	cmd.Flags().IntVar(&dayOffset, "day-offset", 1, "days after today when --date is empty")
	cmd.Flags().IntVar(&days, "days", 1, "consecutive days (all instructors only)")
	cmd.Flags().StringVar(&level, "level", "", "class level label")
	cmd.Flags().StringVar(&category, "category", "", "class category label")
	_ = cmd.MarkFlagRequired("club-id")
	return cmd
}

func newSettleCommand(cfg *runtimeConfig) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Capture the holds of classes that already started",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, cfg, func(ctx context.Context, app *application) error {
				result, err := app.engine.Settle(ctx, epochMillis(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "settled=%d failed=%d\n", result.Settled, result.Failed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum bookings per run (0 uses the engine default)")
	return cmd
}

func newPurgeProposalsCommand(cfg *runtimeConfig) *cobra.Command {
	var (
		clubID    string
		olderThan time.Duration
	)
	cmd := &cobra.Command{
		Use:   "purge-proposals",
		Short: "Delete unbooked proposals that already started",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, cfg, func(ctx context.Context, app *application) error {
				deleted, err := app.generator.PurgeStaleProposals(ctx, clubID, epochMillis()-olderThan.Milliseconds())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted=%d\n", deleted)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clubID, "club-id", "", "club to purge (required)")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only purge proposals that started at least this long ago")
	_ = cmd.MarkFlagRequired("club-id")
	return cmd
}

func newGrantCommand(cfg *runtimeConfig) *cobra.Command {
	var (
		userID         string
		unitName       string
		amountCents    int64
		idempotencyKey string
		expiresIn      time.Duration
		metadata       string
	)
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Credit a user's wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := ledger.NewUserID(userID)
			if err != nil {
				return err
			}
			unit, err := ledger.ParseUnit(unitName)
			if err != nil {
				return err
			}
			amount, err := ledger.NewPositiveAmountCents(amountCents)
			if err != nil {
				return err
			}
			key, err := ledger.NewIdempotencyKey(idempotencyKey)
			if err != nil {
				return err
			}
			metadataJSON, err := ledger.NewMetadataJSON(metadata)
			if err != nil {
				return err
			}
			return withApplication(cmd, cfg, func(ctx context.Context, app *application) error {
				var expiresUnixMilli int64
				if expiresIn > 0 {
					expiresUnixMilli = epochMillis() + expiresIn.Milliseconds()
				}
				if err := app.ledger.Grant(ctx, user, unit, amount, key, expiresUnixMilli, metadataJSON); err != nil {
					return err
				}
				balance, err := app.ledger.Balance(ctx, user, unit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user=%s unit=%s total=%d available=%d\n", user, unit, balance.TotalCents, balance.AvailableCents)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "wallet owner (required)")
	cmd.Flags().StringVar(&unitName, "unit", string(ledger.UnitCredits), "credits or points")
	cmd.Flags().Int64Var(&amountCents, "amount-cents", 0, "amount in minor units (required)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "unique key for this grant (required)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "grant lifetime (0 never expires)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "JSON metadata stored on the entry")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("amount-cents")
	_ = cmd.MarkFlagRequired("idempotency-key")
	return cmd
}

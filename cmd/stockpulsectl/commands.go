package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"stockpulse.io/stockpulse/internal/config"
	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/service"
)

func processCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one time-boxed queue processor pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := e.pipeline.Processor().Run(cmd.Context())
			if perr := e.print(res); perr != nil {
				return perr
			}
			return err
		},
	}
}

func queueCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the intake queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and age",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := e.infra.Storage.Stores().Queue.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return e.print(st)
		},
	})
	return cmd
}

func deadLetterCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dl"},
		Short:   "Administer the dead letter store",
	}

	var kind, state string
	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead letter entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := e.ops.DeadLetters().List(cmd.Context(), domain.DeadLetterFilter{
				Kind:   apperrors.Kind(kind),
				State:  domain.DeadLetterState(state),
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			return e.print(entries)
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "Filter by error kind")
	list.Flags().StringVar(&state, "state", "", "Filter by state (pending, reprocessing, resolved, discarded)")
	list.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum entries")
	list.Flags().IntVar(&offset, "offset", 0, "Entries to skip")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count entries by kind and state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := e.ops.DeadLetters().Stats(cmd.Context())
			if err != nil {
				return err
			}
			return e.print(st)
		},
	}

	cmd.AddCommand(list, stats,
		idsCmd("reprocess", "Re-enqueue pending entries", func(cmd *cobra.Command, ids []string) (service.ActionResult, error) {
			return e.deadLetters().Reprocess(cmd.Context(), ids)
		}, e),
		idsCmd("discard", "Give up on entries", func(cmd *cobra.Command, ids []string) (service.ActionResult, error) {
			return e.deadLetters().Discard(cmd.Context(), ids)
		}, e),
		idsCmd("resolve", "Mark entries fixed out of band", func(cmd *cobra.Command, ids []string) (service.ActionResult, error) {
			return e.deadLetters().MarkResolved(cmd.Context(), ids)
		}, e),
	)

	var retryLimit int
	retry := &cobra.Command{
		Use:   "retry",
		Short: "Re-enqueue auto-retryable entries now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := e.ops.DeadLetters().AutoRetry(cmd.Context(), retryLimit)
			if err != nil {
				return err
			}
			return e.print(res)
		},
	}
	retry.Flags().IntVarP(&retryLimit, "limit", "n", 500, "Maximum entries")
	cmd.AddCommand(retry)
	return cmd
}

func (e *env) deadLetters() *service.DeadLetterService { return e.ops.DeadLetters() }

func idsCmd(use, short string, action func(*cobra.Command, []string) (service.ActionResult, error), e *env) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := action(cmd, args)
			if err != nil {
				return err
			}
			return e.print(res)
		},
	}
}

func retentionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "retention",
		Short: "Run the retention sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := e.ops.Maintenance().RetentionSweep(cmd.Context())
			if perr := e.print(res); perr != nil {
				return perr
			}
			return err
		},
	}
}

func partitionsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "Manage event log partitions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List partitions with row counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			parts, err := e.ops.Maintenance().ListPartitions(cmd.Context())
			if err != nil {
				return err
			}
			return e.print(parts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "precreate",
		Short: "Create partitions for today and the configured days ahead",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dates, err := e.ops.Maintenance().PrecreatePartitions(cmd.Context())
			if err != nil {
				return err
			}
			days := make([]string, 0, len(dates))
			for _, d := range dates {
				days = append(days, d.Format(domain.DateLayout))
			}
			return e.print(days)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "drop DAYS",
		Short: "Drop partitions older than DAYS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("days: %w", err)
			}
			dropped, err := e.ops.Maintenance().DropPartitions(cmd.Context(), days)
			if err != nil {
				return err
			}
			return e.print(dropped)
		},
	})
	return cmd
}

func rollingCmd(e *env) *cobra.Command {
	var recordType string
	var window int
	cmd := &cobra.Command{
		Use:   "rolling PRODUCT_ID WAREHOUSE_ID",
		Short: "Show rolling statistics of a product at a warehouse",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("product id: %w", err)
			}
			warehouseID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("warehouse id: %w", err)
			}
			st, err := e.ops.Maintenance().RollingStats(cmd.Context(), productID, warehouseID, domain.RecordType(recordType), window)
			if err != nil {
				return err
			}
			return e.print(st)
		},
	}
	cmd.Flags().StringVarP(&recordType, "record-type", "t", string(domain.RecordSale), "sale, transfer or combined")
	cmd.Flags().IntVarP(&window, "window", "w", 30, "Window in days (30, 60, 90)")
	return cmd
}

func recalcCmd(e *env) *cobra.Command {
	var pageSize int
	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Recompute rolling statistics of every pair with daily data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := e.ops.Maintenance().FullRecalc(cmd.Context(), pageSize)
			if perr := e.print(res); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 500, "Pairs per transaction")
	return cmd
}

func migrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the pipeline schema and River migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if e.infra.DB == nil {
				return fmt.Errorf("migrate requires storage.driver=%s", config.DriverPostgres)
			}
			return e.infra.DB.AutoMigrate(cmd.Context())
		},
	}
}

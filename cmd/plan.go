/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"slotmap/metrics"
	"slotmap/plan"
)

var (
	planFile string
	output   string
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "replays a mapping session",
	Long: `Replays the steps of a plan file through a mapping session and prints the
resulting transfers, failed slot annotations and lookup errors.

Prior QC results come from the plan's qc section when it has one, otherwise
from the service at qc.url.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if output != "json" && output != "table" {
			return fmt.Errorf("unknown output format %q", output)
		}
		p, err := plan.LoadFile(planFile)
		if err != nil {
			return err
		}
		lookup, err := cfg.Lookup(logger)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		obs, err := metrics.New(reg)
		if err != nil {
			return err
		}
		if cfg.MetricsAddr != "" {
			stop, err := serveMetrics(cfg.MetricsAddr, reg)
			if err != nil {
				return err
			}
			defer stop()
		}

		r := &plan.Runner{
			Lookup:   lookup,
			Observer: obs,
			Logger:   logger,
			Options:  cfg.EngineOptions(logger),
		}
		report, err := r.Run(cmd.Context(), p)
		if err != nil {
			return err
		}
		if output == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		return writeTable(cmd.OutOrStdout(), report)
	},
}

func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func writeTable(out io.Writer, report *plan.Report) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "SESSION\t%s\nDIRECTION\t%s\nSTATE\t%s\n\n", report.SessionID, report.Direction, report.State)

	fmt.Fprintln(w, "STEP\tEVENT\tRESULT\tREASON")
	for _, s := range report.Steps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Step, s.Event, s.Result, s.Reason)
	}

	fmt.Fprintln(w, "\nDESTINATION\tSLOT\tSOURCE\tSLOT\tCOLOR")
	for _, t := range report.Transfers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.DestinationBarcode, t.DestinationAddress,
			t.SourceBarcode, t.SourceAddress, report.Colors[t.SourceBarcode])
	}

	if len(report.FailedSlots) > 0 {
		fmt.Fprintln(w, "\nFAILED\tSLOT\tCOMMENT")
		for _, barcode := range sortedKeys(report.FailedSlots) {
			for _, fs := range report.FailedSlots[barcode] {
				fmt.Fprintf(w, "%s\t%s\t%s\n", barcode, fs.Address, fs.Comment)
			}
		}
	}
	if len(report.Errors) > 0 {
		fmt.Fprintln(w, "\nLOOKUP FAILED\tERROR")
		for _, barcode := range sortedKeys(report.Errors) {
			fmt.Fprintf(w, "%s\t%s\n", barcode, report.Errors[barcode])
		}
	}
	return w.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func init() {
	planCmd.Flags().StringVarP(&planFile, "file", "f", "", "plan file (YAML)")
	planCmd.Flags().StringVarP(&output, "output", "o", "table", "output format (json or table)")
	planCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while replaying")
	planCmd.Flags().Bool("failed-slots-check", false, "look up prior QC results for added labware")
	planCmd.Flags().String("qc-url", "", "QC service GraphQL endpoint")
	_ = planCmd.MarkFlagRequired("file")

	_ = v.BindPFlag("metrics.addr", planCmd.Flags().Lookup("metrics-addr"))
	_ = v.BindPFlag("failed_slots_check", planCmd.Flags().Lookup("failed-slots-check"))
	_ = v.BindPFlag("qc.url", planCmd.Flags().Lookup("qc-url"))
	rootCmd.AddCommand(planCmd)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	apireports "annualreports/pkg/api/reports"
	"annualreports/pkg/core/export"
	"annualreports/pkg/core/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

var runCmd = &cobra.Command{
	Use:   "run <ir-url>",
	Short: "Run the full pipeline for one company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		irURL := args[0]
		companyID, _ := cmd.Flags().GetString("company")
		if companyID == "" {
			derived, err := pipeline.DeriveCompanyID(irURL)
			if err != nil {
				return err
			}
			companyID = derived
		}

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.orch.RunForCompany(cmd.Context(), companyID, irURL)
		if report != nil {
			printJSON(cmd.OutOrStdout(), report)
		}
		return err
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <file.yaml>",
	Short: "Run the pipeline for every company listed in a YAML file",
	Long: `Runs companies in parallel. The file is a YAML list:

  - company: acme
    ir_url: https://www.acme.com/investors
  - ir_url: https://investors.globex.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := readJobs(args[0])
		if err != nil {
			return err
		}
		parallel, _ := cmd.Flags().GetInt("parallel")
		if parallel <= 0 {
			parallel = cfg.API.MaxParallelRun
		}

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		failed := 0
		out := cmd.OutOrStdout()
		for _, r := range a.orch.RunBatch(cmd.Context(), jobs, parallel) {
			switch {
			case r.Err != nil:
				failed++
				fmt.Fprintf(out, "FAIL  %-20s %v\n", r.Job.Company, r.Err)
			default:
				fmt.Fprintf(out, "OK    %-20s %d years -> %s\n", r.Job.Company, r.Report.Succeeded(), r.Report.ExportPath)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d companies failed", failed, len(jobs))
		}
		return nil
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate <company>",
	Short: "Rebuild the consolidated record and export from stored extractions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newReadOnlyApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.orch.Consolidate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		path, err := a.orch.Export(rec)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d years (%v) -> %s\n", rec.Company, len(rec.Metadata.YearsCovered), rec.Metadata.YearsCovered, path)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <company>",
	Short: "Write the company table as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newReadOnlyApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.consolidated.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return withOutput(cmd, func(w io.Writer) error {
			return export.WriteCompany(w, rec, a.vocabulary)
		})
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <company> <company>...",
	Short: "Write a comparative CSV across companies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newReadOnlyApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		return withOutput(cmd, func(w io.Writer) error {
			return export.WriteComparative(cmd.Context(), w, args, a.consolidated, a.vocabulary)
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.API.Addr
		}
		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		handler := apireports.NewHandler(a.orch, a.orch.Tracker, a.consolidated, a.vocabulary, logger.Named("api"))
		srv := &http.Server{
			Addr:              addr,
			Handler:           apireports.NewRouter(handler),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("api listening", zap.String("addr", addr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-cmd.Context().Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	runCmd.Flags().String("company", "", "company id (default: derived from the url host)")
	batchCmd.Flags().Int("parallel", 0, "companies run at once (default: api.max_parallel_runs)")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	compareCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	serveCmd.Flags().String("addr", "", "listen address (default: api.addr)")
}

func readJobs(path string) ([]pipeline.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	var jobs []pipeline.Job
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("batch file %s lists no companies", path)
	}
	for i, j := range jobs {
		if j.IRURL == "" {
			return nil, fmt.Errorf("batch entry %d has no ir_url", i+1)
		}
	}
	return jobs, nil
}

// withOutput runs write against the --output file, or stdout when none is given.
// A failed write removes the partial file.
func withOutput(cmd *cobra.Command, write func(io.Writer) error) error {
	path, _ := cmd.Flags().GetString("output")
	if path == "" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func printJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

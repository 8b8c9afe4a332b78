package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/riverscapes/qris/internal/api"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/export"
	"github.com/riverscapes/qris/internal/fsutil"
	"github.com/riverscapes/qris/internal/report"
	"github.com/riverscapes/qris/internal/timeutil"
)

func exportCommand(a *app) *cobra.Command {
	var eventID int64

	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Export one event as a riverscapes project",
		Long: `Write a copy of the project database holding only the chosen event, its
basemap rasters and a project.rs.xml manifest into dir.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openProject()
			if err != nil {
				return err
			}
			defer d.Close()

			res, err := export.Export(cmd.Context(), d, export.Options{
				Dir:        args[0],
				EventID:    eventID,
				ProjectDir: a.projectDir(),
				FS:         fsutil.OSFileSystem{},
				Clock:      timeutil.RealClock{},
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "exported event %d to %s\n", eventID, res.Dir)
			fmt.Fprintf(out, "  database: %s\n", res.DatabasePath)
			fmt.Fprintf(out, "  manifest: %s\n", res.ManifestPath)
			fmt.Fprintf(out, "  layers:   %d, basemaps: %d\n", len(res.Layers), len(res.Basemaps))
			return nil
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "Event ID")
	cmd.MarkFlagRequired("event")
	return cmd
}

func reportCommand(a *app) *cobra.Command {
	var (
		analysisID, metricID, eventID int64
		outPath, format               string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Chart one metric across the sample frame features of an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "write report"
			if format == "" {
				format = strings.TrimPrefix(strings.ToLower(filepath.Ext(outPath)), ".")
			}
			var write func(io.Writer, *report.Series) error
			switch format {
			case "png":
				write = report.WriteBarChartPNG
			case "html":
				write = report.WriteHTMLChart
			default:
				return errors.Newf(errors.KindValidation, op, "unsupported format %q: use png or html", format)
			}

			ctx := cmd.Context()
			d, pc, err := a.loadContext(ctx, analysisID)
			if err != nil {
				return err
			}
			defer d.Close()
			m, ok := pc.Project.Metrics[metricID]
			if !ok {
				return errors.Newf(errors.KindNotFound, op, "metric %d not found", metricID)
			}
			e, ok := pc.Project.Events[eventID]
			if !ok {
				return errors.Newf(errors.KindNotFound, op, "event %d not found", eventID)
			}

			series, err := report.Build(ctx, d, pc.Analysis, m, e)
			if err != nil {
				return err
			}
			f, err := os.Create(outPath)
			if err != nil {
				return errors.New(errors.KindIO, op, err)
			}
			if err := write(f, series); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return errors.New(errors.KindIO, op, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s chart of %q (%d features) to %s\n", format, m.Name, len(series.Bars), outPath)
			return nil
		},
	}
	cmd.Flags().Int64Var(&analysisID, "analysis", 0, "Analysis ID")
	cmd.Flags().Int64Var(&metricID, "metric", 0, "Metric ID")
	cmd.Flags().Int64Var(&eventID, "event", 0, "Event ID")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file")
	cmd.Flags().StringVar(&format, "format", "", "png or html (default: from the output file extension)")
	for _, name := range []string{"analysis", "metric", "event", "out"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func serveCommand(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only JSON API, metrics and debug console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if listen == "" {
				listen = a.settings.Server.Listen
			}
			d, err := a.openProject()
			if err != nil {
				return err
			}
			defer d.Close()

			h, err := api.NewServer(d).Handler()
			if err != nil {
				return err
			}
			server := &http.Server{
				Addr:              listen,
				Handler:           h,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logf("listening on %s", listen)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return errors.New(errors.KindNetwork, "serve", err)
				}
				return nil
			case <-ctx.Done():
			}

			logf("shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logf("HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					logf("HTTP server force close error: %v", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default: server.listen)")
	return cmd
}

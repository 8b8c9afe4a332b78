package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/riverscapes/qris/internal/config"
	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/monitoring"
	"github.com/riverscapes/qris/internal/version"
)

// app is shared by every subcommand. settings is filled in by the root
// pre-run hook.
type app struct {
	configPath  string
	projectPath string
	verbose     bool

	settings *config.Settings
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "qris",
		Short:        "Riverscape metric engine",
		Long:         "Calculate, check and export riverscape metrics stored in a project database.",
		Version:      version.Get().String(),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML or JSON config file")
	root.PersistentFlags().StringVarP(&a.projectPath, "project", "p", "", "Project database file (overrides project.path)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug output")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.setup()
	}

	root.AddCommand(
		initCommand(a),
		migrateCommand(a),
		feasibilityCommand(a),
		analysisCommand(a),
		exportCommand(a),
		gagesCommand(a),
		watershedCommand(a),
		reportCommand(a),
		serveCommand(a),
		versionCommand(),
	)
	return root
}

func (a *app) setup() error {
	s, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.projectPath != "" {
		s.Project.Path = a.projectPath
	}
	if a.verbose {
		s.Logging.Verbose = true
	}
	monitoring.SetVerbose(s.Logging.Verbose)
	a.settings = s
	return nil
}

// dbPath returns the configured project database path.
func (a *app) dbPath() (string, error) {
	if a.settings.Project.Path == "" {
		return "", errors.Newf(errors.KindValidation, "open project", "no project database: pass --project or set project.path")
	}
	return a.settings.Project.Path, nil
}

// projectDir is the directory relative raster paths resolve against.
func (a *app) projectDir() string {
	return filepath.Dir(a.settings.Project.Path)
}

// openProject opens an existing project database and applies pending
// migrations.
func (a *app) openProject() (*db.DB, error) {
	path, err := a.dbPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.New(errors.KindNotFound, "open project", err)
	}
	return db.NewDB(path)
}

func printTable(w io.Writer, headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		// no config is needed to print the version
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}

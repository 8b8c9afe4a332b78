package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/metricdef"
)

func initCommand(a *app) *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project database",
		Long:  "Create a new project database, apply the schema and seed the bundled protocol catalog.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "init project"
			path, err := a.dbPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil {
				return errors.Newf(errors.KindValidation, op, "%s already exists", path)
			}
			catalog, err := metricdef.Bundled()
			if err != nil {
				return err
			}

			d, err := db.NewDB(path)
			if err != nil {
				return err
			}
			defer d.Close()

			p := &db.Project{Name: name}
			if description != "" {
				p.Description = &description
			}
			if err := d.CreateProject(cmd.Context(), p); err != nil {
				return err
			}
			seeded, err := d.SeedCatalog(cmd.Context(), catalog)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created project %q at %s: %d protocols, %d layers, %d metrics\n",
				p.Name, path, seeded.Protocols, seeded.Layers, seeded.Metrics)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Project name")
	cmd.Flags().StringVar(&description, "description", "", "Project description")
	cmd.MarkFlagRequired("name")
	return cmd
}

func migrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the project database schema",
	}

	// open does not migrate; these commands manage the version themselves
	open := func() (*db.DB, error) {
		path, err := a.dbPath()
		if err != nil {
			return nil, err
		}
		return db.OpenDB(path)
	}
	report := func(cmd *cobra.Command, d *db.DB) error {
		v, dirty, err := d.MigrateVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %v)\n", v, dirty)
		if dirty {
			fmt.Fprintln(cmd.OutOrStdout(), "a migration failed mid-way; inspect the database then run: qris migrate force <version>")
		}
		return nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.MigrateUp(); err != nil {
				return err
			}
			return report(cmd, d)
		},
	}
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.MigrateDown(); err != nil {
				return err
			}
			return report(cmd, d)
		},
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()
			return report(cmd, d)
		},
	}
	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Mark the schema as being at a version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Newf(errors.KindValidation, "force migration", "invalid version %q", args[0])
			}
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.MigrateForce(v); err != nil {
				return err
			}
			return report(cmd, d)
		},
	}

	cmd.AddCommand(up, down, status, force)
	return cmd
}

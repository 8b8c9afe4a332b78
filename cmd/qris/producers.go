package main

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/statecode"
	"github.com/riverscapes/qris/internal/streamstats"
	"github.com/riverscapes/qris/internal/usgs"
)

const dateLayout = "2006-01-02"

func gagesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gages",
		Short: "Discover USGS stream gages and import daily discharge",
	}
	cmd.AddCommand(gagesDiscoverCommand(a), gagesDischargeCommand(a))
	return cmd
}

func parseBBox(vals []float64) (orb.Bound, error) {
	const op = "parse bbox"
	if len(vals) != 4 {
		return orb.Bound{}, errors.Newf(errors.KindValidation, op, "bbox needs min_lon,min_lat,max_lon,max_lat, got %d values", len(vals))
	}
	b := orb.Bound{Min: orb.Point{vals[0], vals[1]}, Max: orb.Point{vals[2], vals[3]}}
	if b.Min.Lon() >= b.Max.Lon() || b.Min.Lat() >= b.Max.Lat() {
		return orb.Bound{}, errors.Newf(errors.KindValidation, op, "bbox minimum must be below maximum")
	}
	if b.Min.Lon() < -180 || b.Max.Lon() > 180 || b.Min.Lat() < -90 || b.Max.Lat() > 90 {
		return orb.Bound{}, errors.Newf(errors.KindValidation, op, "bbox is outside lon/lat range")
	}
	return b, nil
}

func gagesDiscoverCommand(a *app) *cobra.Command {
	var bbox []float64

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Store the stream gages inside a bounding box",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := parseBBox(bbox)
			if err != nil {
				return err
			}
			d, err := a.openProject()
			if err != nil {
				return err
			}
			defer d.Close()

			c := usgs.NewClient(a.settings.USGSConfig(), nil)
			res, err := usgs.DiscoverGages(cmd.Context(), d, c, b)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "found %d gages: %d new, %d already stored\n", res.Found, res.Inserted, res.Skipped)
			return nil
		},
	}
	cmd.Flags().Float64SliceVar(&bbox, "bbox", nil, "min_lon,min_lat,max_lon,max_lat")
	cmd.MarkFlagRequired("bbox")
	return cmd
}

func gagesDischargeCommand(a *app) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "discharge <site-code>",
		Short: "Import daily discharge for a stored gage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "import discharge"
			from, err := time.Parse(dateLayout, start)
			if err != nil {
				return errors.New(errors.KindInvalidDate, op, err)
			}
			to := time.Now().UTC()
			if end != "" {
				if to, err = time.Parse(dateLayout, end); err != nil {
					return errors.New(errors.KindInvalidDate, op, err)
				}
			}
			if to.Before(from) {
				return errors.Newf(errors.KindInvalidDate, op, "end %s is before start %s", to.Format(dateLayout), start)
			}

			d, err := a.openProject()
			if err != nil {
				return err
			}
			defer d.Close()

			c := usgs.NewClient(a.settings.USGSConfig(), nil)
			n, err := usgs.ImportDischarge(cmd.Context(), d, c, args[0], from, to)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d daily values for site %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Last day (YYYY-MM-DD, default today)")
	cmd.MarkFlagRequired("start")
	return cmd
}

func watershedCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watershed",
		Short: "Delineate watersheds with StreamStats",
	}
	cmd.AddCommand(watershedDelineateCommand(a))
	return cmd
}

func watershedDelineateCommand(a *app) *cobra.Command {
	var (
		name     string
		region   string
		lon, lat float64
	)

	cmd := &cobra.Command{
		Use:   "delineate",
		Short: "Delineate the catchment above a pour point and store it",
		Long: `Delineate the catchment draining to a pour point. The StreamStats region is
the state containing the point, looked up in state_boundaries.path, unless
--region is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "delineate watershed"
			p := orb.Point{lon, lat}
			if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
				return errors.Newf(errors.KindValidation, op, "point %g,%g is outside lon/lat range", lon, lat)
			}
			if region == "" {
				path := a.settings.StateBoundaries.Path
				if path == "" {
					return errors.Newf(errors.KindValidation, op, "pass --region or set state_boundaries.path")
				}
				ix, err := statecode.Load(path)
				if err != nil {
					return err
				}
				if region, err = ix.Lookup(lon, lat); err != nil {
					return err
				}
				logf("pour point %g,%g is in %s", lon, lat, region)
			}

			d, err := a.openProject()
			if err != nil {
				return err
			}
			defer d.Close()

			c := streamstats.NewClient(a.settings.StreamStatsConfig(), nil)
			ws, err := c.Delineate(cmd.Context(), region, p)
			if err != nil {
				return err
			}
			pp, catchmentID, err := streamstats.Store(cmd.Context(), d, name, p, ws)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored pour point %d %q with catchment %d (%d basin characteristics)\n",
				pp.FID, pp.Name, catchmentID, len(ws.Parameters))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Pour point name")
	cmd.Flags().StringVar(&region, "region", "", "StreamStats region code, e.g. UT")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Pour point longitude")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Pour point latitude")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("lon")
	cmd.MarkFlagRequired("lat")
	return cmd
}

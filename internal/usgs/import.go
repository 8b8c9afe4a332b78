package usgs

import (
	"context"
	"time"

	"github.com/paulmach/orb"

	"github.com/riverscapes/qris/internal/db"
)

// DiscoverResult counts what a discovery pass stored.
type DiscoverResult struct {
	Found    int `json:"found"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// DiscoverGages fetches the gages inside b and stores the new ones. Gages
// whose site code is already stored are skipped.
func DiscoverGages(ctx context.Context, d *db.DB, c *Client, b orb.Bound) (DiscoverResult, error) {
	gages, err := c.Sites(ctx, b)
	if err != nil {
		return DiscoverResult{}, err
	}
	res := DiscoverResult{Found: len(gages)}
	err = d.WithWriteLock(ctx, func() error {
		for i := range gages {
			if err := ctx.Err(); err != nil {
				return err
			}
			inserted, err := d.InsertStreamGage(ctx, &gages[i])
			if err != nil {
				return err
			}
			if inserted {
				res.Inserted++
			} else {
				res.Skipped++
			}
		}
		return nil
	})
	logf("discovered %d gages: %d new, %d already stored", res.Found, res.Inserted, res.Skipped)
	return res, err
}

// ImportDischarge fetches and stores the daily values of a stored gage.
func ImportDischarge(ctx context.Context, d *db.DB, c *Client, siteCode string, start, end time.Time) (int, error) {
	gage, err := d.GetStreamGage(ctx, siteCode)
	if err != nil {
		return 0, err
	}
	ds, err := c.Discharges(ctx, siteCode, start, end)
	if err != nil {
		return 0, err
	}
	var n int
	err = d.WithWriteLock(ctx, func() error {
		n, err = d.InsertDischarges(ctx, gage.FID, ds)
		return err
	})
	if err != nil {
		return 0, err
	}
	logf("stored %d daily values for site %s", n, siteCode)
	return n, nil
}

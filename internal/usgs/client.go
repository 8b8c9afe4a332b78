// Package usgs fetches stream gage sites and daily discharge from the USGS
// water services and stores them in the project database.
package usgs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/paulmach/orb"
	"golang.org/x/time/rate"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/httputil"
	"github.com/riverscapes/qris/internal/monitoring"
)

var logf = monitoring.Component("usgs")

const service = "usgs"

// Parameter codes of the daily values service.
const (
	paramDischarge  = "00060"
	paramGageHeight = "00065"
	statMean        = "00003"
)

// Config holds endpoint and pacing settings.
type Config struct {
	SiteURL           string
	DischargeURL      string
	RequestsPerSecond float64
	Timeout           time.Duration
	CacheTTL          time.Duration
}

// DefaultConfig returns the public USGS endpoints.
func DefaultConfig() Config {
	return Config{
		SiteURL:           "https://waterservices.usgs.gov/nwis/site/",
		DischargeURL:      "https://waterservices.usgs.gov/nwis/dv/",
		RequestsPerSecond: 2,
		Timeout:           30 * time.Second,
		CacheTTL:          time.Hour,
	}
}

// Client talks to the site and daily values services.
type Client struct {
	cfg     Config
	http    httputil.HTTPClient
	limiter *rate.Limiter
	cache   *cache.Cache
}

// NewClient returns a Client. A nil hc uses a standard client with the
// configured timeout.
func NewClient(cfg Config, hc httputil.HTTPClient) *Client {
	def := DefaultConfig()
	if cfg.SiteURL == "" {
		cfg.SiteURL = def.SiteURL
	}
	if cfg.DischargeURL == "" {
		cfg.DischargeURL = def.DischargeURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if hc == nil {
		hc = httputil.NewClient(cfg.Timeout)
	}
	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		cache:   cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

func (c *Client) get(ctx context.Context, base string, q url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.New(errors.KindCancelled, "usgs rate limit", err)
	}
	req, err := http.NewRequest(http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.New(errors.KindValidation, "usgs request", err)
	}
	return httputil.Fetch(ctx, c.http, service, req)
}

// Sites returns the stream gages inside a lon/lat bound. Results are cached
// per bound.
func (c *Client) Sites(ctx context.Context, b orb.Bound) ([]db.StreamGage, error) {
	bbox := fmt.Sprintf("%.7f,%.7f,%.7f,%.7f", b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat())
	if v, ok := c.cache.Get("sites:" + bbox); ok {
		return v.([]db.StreamGage), nil
	}

	q := url.Values{}
	q.Set("format", "rdb")
	q.Set("bBox", bbox)
	q.Set("siteType", "ST")
	q.Set("siteStatus", "all")
	body, err := c.get(ctx, c.cfg.SiteURL, q)
	if httputil.StatusOf(err) == http.StatusNotFound {
		// the site service answers 404 when the box holds no sites
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	gages, err := parseSites(body)
	if err != nil {
		return nil, errors.New(errors.KindIO, "parse usgs sites", err)
	}
	c.cache.Set("sites:"+bbox, gages, cache.DefaultExpiration)
	return gages, nil
}

var siteColumns = []string{
	"site_no", "station_nm", "agency_cd", "huc_cd", "dec_lat_va", "dec_long_va", "dec_coord_datum_cd",
}

func parseSites(body []byte) ([]db.StreamGage, error) {
	recs, err := ParseRDB(body)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(recs, siteColumns...); err != nil {
		return nil, err
	}
	out := make([]db.StreamGage, 0, len(recs))
	for _, r := range recs {
		lat, errLat := strconv.ParseFloat(r["dec_lat_va"], 64)
		lon, errLon := strconv.ParseFloat(r["dec_long_va"], 64)
		if errLat != nil || errLon != nil {
			logf("site %s has no decimal coordinates, skipped", r["site_no"])
			continue
		}
		g := db.StreamGage{
			SiteCode:  r["site_no"],
			SiteName:  r["station_nm"],
			Agency:    r["agency_cd"],
			HUC:       r["huc_cd"],
			SiteDatum: r["dec_coord_datum_cd"],
			Latitude:  lat,
			Longitude: lon,
		}
		for k, v := range r {
			if !isSiteColumn(k) && v != "" {
				if g.Metadata == nil {
					g.Metadata = map[string]any{}
				}
				g.Metadata[k] = v
			}
		}
		out = append(out, g)
	}
	return out, nil
}

func isSiteColumn(col string) bool {
	for _, c := range siteColumns {
		if c == col {
			return true
		}
	}
	return false
}

// Discharges returns the daily mean discharge and gage height of one site
// for the inclusive date range.
func (c *Client) Discharges(ctx context.Context, siteCode string, start, end time.Time) ([]db.Discharge, error) {
	if siteCode == "" {
		return nil, errors.Newf(errors.KindValidation, "usgs discharge", "site code is required")
	}
	if end.Before(start) {
		return nil, errors.Newf(errors.KindValidation, "usgs discharge", "end date %s is before start date %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	q := url.Values{}
	q.Set("format", "rdb")
	q.Set("sites", siteCode)
	q.Set("startDT", start.Format(time.DateOnly))
	q.Set("endDT", end.Format(time.DateOnly))
	q.Set("parameterCd", paramDischarge+","+paramGageHeight)
	q.Set("statCd", statMean)
	body, err := c.get(ctx, c.cfg.DischargeURL, q)
	if err != nil {
		return nil, err
	}
	ds, err := parseDischarges(body)
	if err != nil {
		return nil, errors.New(errors.KindIO, "parse usgs discharge", err)
	}
	return ds, nil
}

// valueColumns finds the value and qualifier columns of a parameter, which
// carry a time-series number prefix such as "149352_00060_00003".
func valueColumns(rec Record, param string) (value, code string) {
	suffix := "_" + param + "_" + statMean
	var cols []string
	for k := range rec {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	for _, k := range cols {
		switch {
		case value == "" && strings.HasSuffix(k, suffix):
			value = k
		case code == "" && strings.HasSuffix(k, suffix+"_cd"):
			code = k
		}
	}
	return value, code
}

func parseDischarges(body []byte) ([]db.Discharge, error) {
	recs, err := ParseRDB(body)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(recs, "site_no", "datetime"); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	qCol, qCode := valueColumns(recs[0], paramDischarge)
	hCol, hCode := valueColumns(recs[0], paramGageHeight)

	out := make([]db.Discharge, 0, len(recs))
	for _, r := range recs {
		date := r["datetime"]
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return nil, fmt.Errorf("bad date %q for site %s", date, r["site_no"])
		}
		out = append(out, db.Discharge{
			MeasurementDate: date,
			Discharge:       number(r, qCol),
			DischargeCode:   text(r, qCode),
			GageHeight:      number(r, hCol),
			GageHeightCode:  text(r, hCode),
		})
	}
	return out, nil
}

// number parses a value cell; qualifiers such as "Ice" or "Eqp" read as nil.
func number(r Record, col string) *float64 {
	if col == "" {
		return nil
	}
	v, err := strconv.ParseFloat(r[col], 64)
	if err != nil {
		return nil
	}
	return &v
}

func text(r Record, col string) *string {
	if col == "" || r[col] == "" {
		return nil
	}
	s := r[col]
	return &s
}

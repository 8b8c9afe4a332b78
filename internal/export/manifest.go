package export

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/version"
)

const schemaLocation = "https://xml.riverscapes.net/Projects/XSD/V2/RiverscapesProject.xsd"

type manifest struct {
	XMLName        xml.Name    `xml:"Project"`
	XSI            string      `xml:"xmlns:xsi,attr"`
	SchemaLocation string      `xml:"xsi:noNamespaceSchemaLocation,attr"`
	Name           string      `xml:"Name"`
	ProjectType    string      `xml:"ProjectType"`
	Summary        string      `xml:"Summary,omitempty"`
	MetaData       []meta      `xml:"MetaData>Meta"`
	Realization    realization `xml:"Realizations>Realization"`
}

type meta struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type realization struct {
	ID             string      `xml:"id,attr"`
	DateCreated    string      `xml:"dateCreated,attr"`
	ProductVersion string      `xml:"productVersion,attr"`
	Name           string      `xml:"Name"`
	Inputs         []rasterRef `xml:"Inputs>Raster"`
	Output         geopackage  `xml:"Outputs>Geopackage"`
}

type rasterRef struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"Name"`
	Path string `xml:"Path"`
}

type geopackage struct {
	ID     string   `xml:"id,attr"`
	Name   string   `xml:"Name"`
	Path   string   `xml:"Path"`
	Layers []vector `xml:"Layers>Vector"`
}

type vector struct {
	LayerName string `xml:"lyrName,attr"`
	Name      string `xml:"Name"`
}

func newManifest(p *db.Project, e *db.Event, created time.Time) *manifest {
	m := &manifest{
		XSI:            "http://www.w3.org/2001/XMLSchema-instance",
		SchemaLocation: schemaLocation,
		Name:           p.Name,
		ProjectType:    "QRiS",
		MetaData: []meta{
			{Name: "Event", Value: e.Name},
			{Name: "Event Start", Value: e.Start.String()},
			{Name: "Event End", Value: e.End.String()},
		},
		Realization: realization{
			ID:             fmt.Sprintf("event_%d", e.ID),
			DateCreated:    created.UTC().Format(time.RFC3339),
			ProductVersion: version.Version,
			Name:           e.Name,
			Output: geopackage{
				ID:   "qris_db",
				Name: "QRiS Project",
				Path: DatabaseName,
			},
		},
	}
	if p.Description != nil {
		m.Summary = *p.Description
	}
	return m
}

func (m *manifest) addLayer(l db.Layer) {
	if l.FeatureClass == "" {
		return
	}
	m.Realization.Output.Layers = append(m.Realization.Output.Layers, vector{
		LayerName: l.FeatureClass,
		Name:      l.Name,
	})
}

func (m *manifest) addBasemap(r *db.Raster, rel string) {
	m.Realization.Inputs = append(m.Realization.Inputs, rasterRef{
		ID:   fmt.Sprintf("basemap_%d", r.ID),
		Name: r.Name,
		Path: rel,
	})
}

func (m *manifest) encode() ([]byte, error) {
	out, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

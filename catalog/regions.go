package catalog

import (
	"encoding/json"
	"os"

	"github.com/c360/polestream/errors"
)

// Regions are evaluated in this order; the first rectangle containing a
// point wins where bounds overlap.
var defaultRegions = []Region{
	{Name: "Piemonte", MinLat: 44.1, MaxLat: 46.5, MinLon: 6.6, MaxLon: 9.2},
	{Name: "Valle d'Aosta", MinLat: 45.6, MaxLat: 46.5, MinLon: 6.8, MaxLon: 7.9},
	{Name: "Lombardia", MinLat: 44.8, MaxLat: 46.6, MinLon: 8.5, MaxLon: 11.5},
	{Name: "Trentino-Alto Adige", MinLat: 45.7, MaxLat: 47.1, MinLon: 10.4, MaxLon: 12.5},
	{Name: "Veneto", MinLat: 44.8, MaxLat: 46.6, MinLon: 10.7, MaxLon: 13.1},
	{Name: "Friuli-Venezia Giulia", MinLat: 45.5, MaxLat: 46.7, MinLon: 12.3, MaxLon: 13.9},
	{Name: "Liguria", MinLat: 43.8, MaxLat: 44.7, MinLon: 7.5, MaxLon: 10.1},
	{Name: "Emilia-Romagna", MinLat: 43.7, MaxLat: 45.1, MinLon: 9.2, MaxLon: 12.8},
	{Name: "Toscana", MinLat: 42.2, MaxLat: 44.5, MinLon: 9.6, MaxLon: 11.8},
	{Name: "Umbria", MinLat: 42.6, MaxLat: 43.6, MinLon: 11.9, MaxLon: 12.9},
	{Name: "Marche", MinLat: 42.7, MaxLat: 44.0, MinLon: 12.2, MaxLon: 13.9},
	{Name: "Lazio", MinLat: 41.2, MaxLat: 42.9, MinLon: 11.4, MaxLon: 14.0},
	{Name: "Abruzzo", MinLat: 41.6, MaxLat: 42.9, MinLon: 13.0, MaxLon: 14.8},
	{Name: "Molise", MinLat: 41.4, MaxLat: 42.0, MinLon: 14.3, MaxLon: 15.1},
	{Name: "Campania", MinLat: 40.0, MaxLat: 41.5, MinLon: 13.7, MaxLon: 15.8},
	{Name: "Puglia", MinLat: 39.8, MaxLat: 42.1, MinLon: 14.8, MaxLon: 18.5},
	{Name: "Basilicata", MinLat: 39.9, MaxLat: 41.3, MinLon: 15.3, MaxLon: 16.9},
	{Name: "Calabria", MinLat: 37.9, MaxLat: 40.2, MinLon: 15.6, MaxLon: 17.2},
	{Name: "Sicilia", MinLat: 36.6, MaxLat: 38.3, MinLon: 12.3, MaxLon: 15.7},
	{Name: "Sardegna", MinLat: 38.9, MaxLat: 41.3, MinLon: 8.1, MaxLon: 9.9},
}

// DefaultSnapshot is the catalog a fresh deployment starts from
func DefaultSnapshot() *Snapshot {
	regions := make([]Region, len(defaultRegions))
	copy(regions, defaultRegions)
	s := &Snapshot{
		Owner: "polestream",
		Topics: map[string][]string{
			RoleComputeDecay:       {"poleData"},
			RoleThresholdPublish:   {"alert"},
			RoleThresholdSubscribe: {"poleData"},
			RoleDashboard:          {"alert"},
			RoleCommand:            {"poleCmd"},
			RoleGateway:            {"poleData"},
			RoleWriter:             {"poleData"},
		},
		CentralBroker: BrokerConfig{Address: "127.0.0.1", Port: 4222},
		LocalBroker:   BrokerConfig{Address: "127.0.0.1", Port: 4223},
		WriterURL:     "http://127.0.0.1:8081",
		Backends:      map[string]string{},
		Threshold:     20,
		Regions:       regions,
	}
	s.normalize()
	return s
}

// ResolveRegion returns the name of the first region containing the point,
// or UnknownRegion.
func ResolveRegion(regions []Region, lat, lon float64) string {
	for _, r := range regions {
		if r.Contains(lat, lon) {
			return r.Name
		}
	}
	return UnknownRegion
}

// ReadSeed reads a snapshot document used to initialize an empty catalog.
// Sections missing from the file are taken from DefaultSnapshot.
func ReadSeed(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "catalog", "ReadSeed", "read seed file")
	}
	seed := DefaultSnapshot()
	if err := json.Unmarshal(data, seed); err != nil {
		return nil, errors.WithKind(err, errors.KindInvalidArgument, "catalog", "ReadSeed", "decode seed file")
	}
	seed.normalize()
	return seed, nil
}

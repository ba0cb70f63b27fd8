package domain

import "strings"

// Station is the weather station a market resolves against.
type Station struct {
	Key       string
	ID        string
	Name      string
	Latitude  float64
	Longitude float64
	Timezone  string
	Cluster   string
}

// Geographic correlation clusters.
const (
	ClusterUSNortheast   = "US_NORTHEAST"
	ClusterUSSoutheast   = "US_SOUTHEAST"
	ClusterUSWestCoast   = "US_WEST_COAST"
	ClusterWesternEurope = "WESTERN_EUROPE"
)

// clusterCities lists every location known to belong to a cluster,
// including cities without a station entry.
var clusterCities = map[string][]string{
	ClusterUSNortheast:   {"NYC_LAGUARDIA", "BOSTON_LOGAN", "PHILADELPHIA_INTL", "WASHINGTON_DULLES"},
	ClusterUSSoutheast:   {"MIAMI_INTL", "ATLANTA_HARTSFIELD", "HOUSTON_HOBBY", "NEW_ORLEANS_ARMSTRONG"},
	ClusterUSWestCoast:   {"LOS_ANGELES_INTL", "SAN_FRANCISCO_INTL", "SEATTLE_TACOMA", "PHOENIX_SKY"},
	ClusterWesternEurope: {"LONDON_CITY", "PARIS_CDG", "AMSTERDAM_SCHIPHOL", "FRANKFURT_MAIN"},
}

var stations = map[string]Station{
	"NYC_LAGUARDIA":    {Key: "NYC_LAGUARDIA", ID: "KLGA", Name: "LaGuardia Airport", Latitude: 40.7769, Longitude: -73.8740, Timezone: "America/New_York", Cluster: ClusterUSNortheast},
	"BOSTON_LOGAN":     {Key: "BOSTON_LOGAN", ID: "KBOS", Name: "Boston Logan International", Latitude: 42.3656, Longitude: -71.0096, Timezone: "America/New_York", Cluster: ClusterUSNortheast},
	"MIAMI_INTL":       {Key: "MIAMI_INTL", ID: "KMIA", Name: "Miami International Airport", Latitude: 25.7959, Longitude: -80.2870, Timezone: "America/New_York", Cluster: ClusterUSSoutheast},
	"LONDON_CITY":      {Key: "LONDON_CITY", ID: "EGLC", Name: "London City Airport", Latitude: 51.5053, Longitude: 0.0553, Timezone: "Europe/London", Cluster: ClusterWesternEurope},
	"LOS_ANGELES_INTL": {Key: "LOS_ANGELES_INTL", ID: "KLAX", Name: "Los Angeles International Airport", Latitude: 33.9425, Longitude: -118.4081, Timezone: "America/Los_Angeles", Cluster: ClusterUSWestCoast},
}

var cityAliases = map[string]string{
	"NYC":           "NYC_LAGUARDIA",
	"NEW YORK":      "NYC_LAGUARDIA",
	"NEW YORK CITY": "NYC_LAGUARDIA",
	"MANHATTAN":     "NYC_LAGUARDIA",
	"LONDON":        "LONDON_CITY",
	"MIAMI":         "MIAMI_INTL",
	"LOS ANGELES":   "LOS_ANGELES_INTL",
	"LA":            "LOS_ANGELES_INTL",
	"BOSTON":        "BOSTON_LOGAN",
}

// LookupStation returns the station registered under key.
func LookupStation(key string) (Station, bool) {
	s, ok := stations[key]
	return s, ok
}

// StandardizeCity maps a free-form city name to a station key.
func StandardizeCity(raw string) (string, bool) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	if name == "" {
		return "", false
	}
	if key, ok := cityAliases[name]; ok {
		return key, true
	}
	key := strings.ReplaceAll(name, " ", "_")
	if _, ok := stations[key]; ok {
		return key, true
	}
	return "", false
}

// ClusterFor returns the correlation cluster of a location, or "".
func ClusterFor(location string) string {
	if s, ok := stations[location]; ok {
		return s.Cluster
	}
	for cluster, cities := range clusterCities {
		for _, c := range cities {
			if c == location {
				return cluster
			}
		}
	}
	return ""
}

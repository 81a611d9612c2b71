package types

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Record is one normalized observation. Imperial fields are always derived
// from their metric counterpart by ApplyDerivedUnits.
type Record struct {
	ID int64 `json:"id"`

	LocationName string  `json:"locationName"`
	Region       string  `json:"region"`
	Country      string  `json:"country"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`

	// LocalTime is the provider's "YYYY-MM-DD HH:MM" wall clock at the location.
	LocalTime  string    `json:"localTime"`
	ObservedAt time.Time `json:"observedAt"`

	TemperatureC    float64 `json:"temperatureC"`
	TemperatureF    float64 `json:"temperatureF"`
	FeelsLikeC      float64 `json:"feelsLikeC"`
	FeelsLikeF      float64 `json:"feelsLikeF"`
	Humidity        int     `json:"humidity"`
	PressureMb      float64 `json:"pressureMb"`
	PressureIn      float64 `json:"pressureIn"`
	WindKph         float64 `json:"windKph"`
	WindMph         float64 `json:"windMph"`
	WindDegree      int     `json:"windDegree"`
	WindDirection   string  `json:"windDirection"`
	VisibilityKm    float64 `json:"visibilityKm"`
	VisibilityMiles float64 `json:"visibilityMiles"`
	UVIndex         float64 `json:"uvIndex"`
	ConditionText   string  `json:"conditionText"`
	ConditionIcon   string  `json:"conditionIcon"`
	ConditionCode   int     `json:"conditionCode"`

	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ApplyDerivedUnits recomputes every imperial field from the metric one.
func (r *Record) ApplyDerivedUnits() {
	r.TemperatureF = CelsiusToFahrenheit(r.TemperatureC)
	r.FeelsLikeF = CelsiusToFahrenheit(r.FeelsLikeC)
	r.WindMph = KphToMph(r.WindKph)
	r.PressureIn = MbToInHg(r.PressureMb)
	r.VisibilityMiles = KmToMiles(r.VisibilityKm)
}

// TimeBucket is the start of the wall-clock hour containing ObservedAt, in the
// observation's own offset, returned as a UTC instant. Half-hour offsets
// (India, Newfoundland) therefore bucket on local hours, not UTC hours.
func (r Record) TimeBucket() time.Time {
	return HourBucket(r.ObservedAt)
}

func HourBucket(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).UTC()
}

func (r Record) Key() Key {
	return Key{Name: r.LocationName, Country: r.Country}
}

// Key is the natural identity of a location.
type Key struct {
	Name    string `json:"name"`
	Country string `json:"country"`
}

// Equal compares folded forms, the way the store does.
func (k Key) Equal(other Key) bool {
	return Fold(k.Name) == Fold(other.Name) && Fold(k.Country) == Fold(other.Country)
}

// Fold is the trimmed, Unicode case-folded form of s stored in the
// location_key and country_key columns.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Location summarizes every record stored for one Key.
type Location struct {
	Name        string    `json:"name"`
	Region      string    `json:"region"`
	Country     string    `json:"country"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	RecordCount int       `json:"recordCount"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
}

type UpsertResult struct {
	ID       int64 `json:"id"`
	Inserted bool  `json:"inserted"`
}

type Stats struct {
	TotalRecords   int        `json:"totalRecords"`
	TotalLocations int        `json:"totalLocations"`
	Earliest       *time.Time `json:"earliest,omitempty"`
	Latest         *time.Time `json:"latest,omitempty"`
}

// Summary aggregates the most recent history of one location.
type Summary struct {
	Location        string  `json:"location"`
	Country         string  `json:"country"`
	RecordsFound    int     `json:"recordsFound"`
	Latest          *Record `json:"latest,omitempty"`
	AvgTemperatureC float64 `json:"avgTemperatureC"`
	MinTemperatureC float64 `json:"minTemperatureC"`
	MaxTemperatureC float64 `json:"maxTemperatureC"`
	AvgHumidity     float64 `json:"avgHumidity"`
}

// Summarize expects history newest first, as the store returns it.
func Summarize(location string, history []Record) Summary {
	s := Summary{Location: location, RecordsFound: len(history)}
	if len(history) == 0 {
		return s
	}
	latest := history[0]
	s.Latest = &latest
	s.Location = latest.LocationName
	s.Country = latest.Country
	s.MinTemperatureC = latest.TemperatureC
	s.MaxTemperatureC = latest.TemperatureC

	var sumTemp, sumHumidity float64
	for _, r := range history {
		sumTemp += r.TemperatureC
		sumHumidity += float64(r.Humidity)
		s.MinTemperatureC = min(s.MinTemperatureC, r.TemperatureC)
		s.MaxTemperatureC = max(s.MaxTemperatureC, r.TemperatureC)
	}
	n := float64(len(history))
	s.AvgTemperatureC = sumTemp / n
	s.AvgHumidity = sumHumidity / n
	return s
}

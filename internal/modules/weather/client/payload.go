package client

import (
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"weatherpipe/internal/modules/weather/types"
)

const localTimeLayout = "2006-01-02 15:04"

// Pointer fields let the validator tell a missing field from a zero value.
type currentResponse struct {
	Location *locationPayload `json:"location" validate:"required"`
	Current  *currentPayload  `json:"current" validate:"required"`
}

type locationPayload struct {
	Name           *string  `json:"name" validate:"required"`
	Region         *string  `json:"region" validate:"required"`
	Country        *string  `json:"country" validate:"required"`
	Lat            *float64 `json:"lat" validate:"required"`
	Lon            *float64 `json:"lon" validate:"required"`
	TzID           string   `json:"tz_id"`
	LocalTimeEpoch *int64   `json:"localtime_epoch"`
	LocalTime      *string  `json:"localtime" validate:"required"`
}

type currentPayload struct {
	TempC      *float64          `json:"temp_c" validate:"required"`
	FeelsLikeC *float64          `json:"feelslike_c" validate:"required"`
	Humidity   *int              `json:"humidity" validate:"required"`
	PressureMb *float64          `json:"pressure_mb" validate:"required"`
	WindKph    *float64          `json:"wind_kph" validate:"required"`
	WindDegree *int              `json:"wind_degree" validate:"required"`
	WindDir    *string           `json:"wind_dir" validate:"required"`
	VisKm      *float64          `json:"vis_km" validate:"required"`
	UV         *float64          `json:"uv" validate:"required"`
	Condition  *conditionPayload `json:"condition" validate:"required"`
}

type conditionPayload struct {
	Text *string `json:"text" validate:"required"`
	Icon *string `json:"icon" validate:"required"`
	Code *int    `json:"code" validate:"required"`
}

type apiErrorResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// firstMissingField turns "currentResponse.current.condition.text" into "current.condition.text".
func firstMissingField(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		ns := verrs[0].Namespace()
		if _, rest, found := strings.Cut(ns, "."); found {
			return rest
		}
		return ns
	}
	return ""
}

// toRecord assumes p passed validation.
func (p *currentResponse) toRecord() (types.Record, string, error) {
	observedAt, err := observationTime(*p.Location.LocalTime, p.Location.LocalTimeEpoch)
	if err != nil {
		return types.Record{}, "location.localtime", err
	}

	c := p.Current
	rec := types.Record{
		LocationName:  strings.TrimSpace(*p.Location.Name),
		Region:        strings.TrimSpace(*p.Location.Region),
		Country:       strings.TrimSpace(*p.Location.Country),
		Latitude:      *p.Location.Lat,
		Longitude:     *p.Location.Lon,
		LocalTime:     *p.Location.LocalTime,
		ObservedAt:    observedAt,
		TemperatureC:  *c.TempC,
		FeelsLikeC:    *c.FeelsLikeC,
		Humidity:      *c.Humidity,
		PressureMb:    *c.PressureMb,
		WindKph:       *c.WindKph,
		WindDegree:    *c.WindDegree,
		WindDirection: *c.WindDir,
		VisibilityKm:  *c.VisKm,
		UVIndex:       *c.UV,
		ConditionText: *c.Condition.Text,
		ConditionIcon: *c.Condition.Icon,
		ConditionCode: *c.Condition.Code,
	}
	rec.ApplyDerivedUnits()
	return rec, "", nil
}

// observationTime recovers the location's UTC offset from the gap between the
// reported wall clock and the epoch, rounded to the nearest quarter hour.
// Without an epoch the wall clock is taken as UTC.
func observationTime(localTime string, epoch *int64) (time.Time, error) {
	wall, err := time.Parse(localTimeLayout, strings.TrimSpace(localTime))
	if err != nil {
		return time.Time{}, err
	}
	if epoch == nil {
		return wall, nil
	}
	diff := float64(wall.Unix() - *epoch)
	offset := int(math.Round(diff/900) * 900)
	return time.Unix(*epoch, 0).In(time.FixedZone(zoneName(offset), offset)), nil
}

func zoneName(offset int) string {
	if offset == 0 {
		return "UTC"
	}
	return time.Unix(0, 0).In(time.FixedZone("", offset)).Format("-07:00")
}

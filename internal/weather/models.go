package weather

import (
	"context"
	"time"
)

// City is one geo lookup hit.
type City struct {
	Name      string  `json:"name"`
	ID        string  `json:"city_id"`
	Lat       float64 `json:"latitude"`
	Lon       float64 `json:"longitude"`
	Adm2      string  `json:"superior_adm"`
	Adm1      string  `json:"self_adm"`
	Country   string  `json:"country"`
	TZ        string  `json:"timezone"`
	UTCOffset string  `json:"utc_offset"`
	IsDST     bool    `json:"is_daylight_saving"`
	Type      string  `json:"city_type"`
	Rank      int     `json:"rank"`
	FxLink    string  `json:"fix_link"`
}

// Now is the current observation for a location.
type Now struct {
	ObsTime   time.Time `json:"observation_time"`
	Temp      int       `json:"temperature"`
	FeelsLike int       `json:"feels_temperature"`
	Icon      int       `json:"icon"`
	Text      string    `json:"weather_description"`
	Wind360   int       `json:"wind_degress"`
	WindDir   string    `json:"wind_direction"`
	WindScale string    `json:"wind_scale"`
	WindSpeed int       `json:"wind_speed"`
	Humidity  int       `json:"humidity"`
	Precip    float64   `json:"precipitation"`
	Pressure  int       `json:"pressure"`
	Vis       int       `json:"visual_distance"`
	Cloud     *int      `json:"cloud_amount"`
	Dew       *int      `json:"dew_temperature"`
}

// Hourly is one entry of an hourly forecast series.
type Hourly struct {
	FxTime    time.Time `json:"time"`
	Temp      int       `json:"temperature"`
	Icon      int       `json:"icon"`
	Text      string    `json:"weather_description"`
	Wind360   int       `json:"wind_degress"`
	WindDir   string    `json:"wind_direction"`
	WindScale string    `json:"wind_scale"`
	WindSpeed int       `json:"wind_speed"`
	Humidity  int       `json:"humidity"`
	Precip    float64   `json:"precipitation"`
	Pop       *int      `json:"precipitation_probability"`
	Pressure  int       `json:"pressure"`
	Cloud     *int      `json:"cloud_amount"`
	Dew       *int      `json:"dew_temperature"`
}

// Provider is the upstream weather source. Implementations perform network
// I/O and report provider failures as *QueryError.
type Provider interface {
	Lookup(ctx context.Context, query string) (City, error)
	Now(ctx context.Context, location string) (Now, error)
	Hourly(ctx context.Context, location string) ([]Hourly, error)
}

package qweather

import (
	"fmt"
	"strconv"
	"time"

	"github.com/iona-s/hefeng-weather/internal/weather"
)

// The API sends every number and boolean as a string.

type rawCity struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	Lat       string `json:"lat"`
	Lon       string `json:"lon"`
	Adm2      string `json:"adm2"`
	Adm1      string `json:"adm1"`
	Country   string `json:"country"`
	TZ        string `json:"tz"`
	UTCOffset string `json:"utcOffset"`
	IsDST     string `json:"isDst"`
	Type      string `json:"type"`
	Rank      string `json:"rank"`
	FxLink    string `json:"fxLink"`
}

type rawNow struct {
	ObsTime   string `json:"obsTime"`
	Temp      string `json:"temp"`
	FeelsLike string `json:"feelsLike"`
	Icon      string `json:"icon"`
	Text      string `json:"text"`
	Wind360   string `json:"wind360"`
	WindDir   string `json:"windDir"`
	WindScale string `json:"windScale"`
	WindSpeed string `json:"windSpeed"`
	Humidity  string `json:"humidity"`
	Precip    string `json:"precip"`
	Pressure  string `json:"pressure"`
	Vis       string `json:"vis"`
	Cloud     string `json:"cloud"`
	Dew       string `json:"dew"`
}

type rawHourly struct {
	FxTime    string `json:"fxTime"`
	Temp      string `json:"temp"`
	Icon      string `json:"icon"`
	Text      string `json:"text"`
	Wind360   string `json:"wind360"`
	WindDir   string `json:"windDir"`
	WindScale string `json:"windScale"`
	WindSpeed string `json:"windSpeed"`
	Humidity  string `json:"humidity"`
	Pop       string `json:"pop"`
	Precip    string `json:"precip"`
	Pressure  string `json:"pressure"`
	Cloud     string `json:"cloud"`
	Dew       string `json:"dew"`
}

// conv collects the first conversion error so mapping code stays flat.
type conv struct{ err error }

func (c *conv) int(field, s string) int {
	if c.err != nil {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		c.err = fmt.Errorf("%s: %w", field, err)
	}
	return v
}

func (c *conv) optInt(field, s string) *int {
	if s == "" {
		return nil
	}
	v := c.int(field, s)
	return &v
}

func (c *conv) float(field, s string) float64 {
	if c.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		c.err = fmt.Errorf("%s: %w", field, err)
	}
	return v
}

func (c *conv) bool(field, s string) bool {
	if c.err != nil || s == "" {
		return false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		c.err = fmt.Errorf("%s: %w", field, err)
	}
	return v
}

// Times look like 2024-06-01T12:00+08:00.
func (c *conv) time(field, s string) time.Time {
	if c.err != nil {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02T15:04-07:00", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	c.err = fmt.Errorf("%s: unrecognized time %q", field, s)
	return time.Time{}
}

func (r rawCity) city() (weather.City, error) {
	var c conv
	out := weather.City{
		Name:      r.Name,
		ID:        r.ID,
		Lat:       c.float("lat", r.Lat),
		Lon:       c.float("lon", r.Lon),
		Adm2:      r.Adm2,
		Adm1:      r.Adm1,
		Country:   r.Country,
		TZ:        r.TZ,
		UTCOffset: r.UTCOffset,
		IsDST:     c.bool("isDst", r.IsDST),
		Type:      r.Type,
		FxLink:    r.FxLink,
	}
	if r.Rank != "" {
		out.Rank = c.int("rank", r.Rank)
	}
	return out, c.err
}

func (r rawNow) now() (weather.Now, error) {
	var c conv
	out := weather.Now{
		ObsTime:   c.time("obsTime", r.ObsTime),
		Temp:      c.int("temp", r.Temp),
		FeelsLike: c.int("feelsLike", r.FeelsLike),
		Icon:      c.int("icon", r.Icon),
		Text:      r.Text,
		Wind360:   c.int("wind360", r.Wind360),
		WindDir:   r.WindDir,
		WindScale: r.WindScale,
		WindSpeed: c.int("windSpeed", r.WindSpeed),
		Humidity:  c.int("humidity", r.Humidity),
		Precip:    c.float("precip", r.Precip),
		Pressure:  c.int("pressure", r.Pressure),
		Vis:       c.int("vis", r.Vis),
		Cloud:     c.optInt("cloud", r.Cloud),
		Dew:       c.optInt("dew", r.Dew),
	}
	if c.err != nil {
		return weather.Now{}, fmt.Errorf("qweather: now: %w", c.err)
	}
	return out, nil
}

func (r rawHourly) hourly() (weather.Hourly, error) {
	var c conv
	out := weather.Hourly{
		FxTime:    c.time("fxTime", r.FxTime),
		Temp:      c.int("temp", r.Temp),
		Icon:      c.int("icon", r.Icon),
		Text:      r.Text,
		Wind360:   c.int("wind360", r.Wind360),
		WindDir:   r.WindDir,
		WindScale: r.WindScale,
		WindSpeed: c.int("windSpeed", r.WindSpeed),
		Humidity:  c.int("humidity", r.Humidity),
		Precip:    c.float("precip", r.Precip),
		Pop:       c.optInt("pop", r.Pop),
		Pressure:  c.int("pressure", r.Pressure),
		Cloud:     c.optInt("cloud", r.Cloud),
		Dew:       c.optInt("dew", r.Dew),
	}
	return out, c.err
}

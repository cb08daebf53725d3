package weather

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Place is a resolved command argument.
type Place struct {
	City City
	// Location is what the weather endpoints are queried with: the city id,
	// or "lon,lat" for coordinates.
	Location string
	// Name is the display name.
	Name string
}

// Resolve turns command arguments into a Place. One argument is a city name
// or id; two are longitude and latitude. Anything else is
// ErrInvalidArgument.
func Resolve(ctx context.Context, p Provider, args []string) (Place, error) {
	switch len(args) {
	case 1:
		city, err := p.Lookup(ctx, args[0])
		if err != nil {
			return Place{}, err
		}
		return Place{City: city, Location: city.ID, Name: city.Name}, nil
	case 2:
		loc, err := ParseCoordinates(args[0], args[1])
		if err != nil {
			return Place{}, err
		}
		city, err := p.Lookup(ctx, loc)
		if err != nil {
			return Place{}, err
		}
		return Place{City: city, Location: loc, Name: fmt.Sprintf("%s (%s)", city.Name, loc)}, nil
	default:
		return Place{}, ErrInvalidArgument
	}
}

// ParseCoordinates validates a longitude/latitude pair and renders it as
// "lon,lat".
func ParseCoordinates(lonS, latS string) (string, error) {
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err != nil {
		return "", fmt.Errorf("%w: longitude %q", ErrInvalidArgument, lonS)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return "", fmt.Errorf("%w: latitude %q", ErrInvalidArgument, latS)
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return "", fmt.Errorf("%w: coordinates out of range", ErrInvalidArgument)
	}
	return strconv.FormatFloat(lon, 'f', -1, 64) + "," + strconv.FormatFloat(lat, 'f', -1, 64), nil
}

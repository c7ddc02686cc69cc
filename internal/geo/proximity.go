// Package geo validates claimed GPS fixes against registered treasure
// coordinates. All functions are pure.
package geo

import (
	"errors"
	"fmt"
	"math"
	"time"

	"geohunt/internal/model"
)

// Proximity errors. TooFar is terminal for the fix: the hunter has to move.
// StaleFix and LowAccuracy are retryable by re-acquiring a location.
var (
	ErrTooFar      = errors.New("fix too far from treasure")
	ErrStaleFix    = errors.New("location fix too old")
	ErrLowAccuracy = errors.New("location fix accuracy too low")
)

// earthRadiusMeters is the standard mean Earth radius.
const earthRadiusMeters = 6371000.0

// Policy bounds how good a location fix has to be for a claim to count.
type Policy struct {
	MaxDistanceMeters float64
	MaxFixAge         time.Duration
	MaxAccuracyMeters float64
	// MaxClockSkew tolerates device clocks slightly ahead of the server;
	// a fix captured further in the future than this is treated as stale.
	MaxClockSkew time.Duration
}

// DefaultPolicy returns the production proximity budget.
func DefaultPolicy() Policy {
	return Policy{
		MaxDistanceMeters: 100,
		MaxFixAge:         120 * time.Second,
		MaxAccuracyMeters: 50,
		MaxClockSkew:      30 * time.Second,
	}
}

// Distance computes the great-circle (haversine) distance in meters between
// two coordinates. No rounding is applied.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180

	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lng2 - lng1) * degToRad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Verify checks a location fix against a treasure's coordinates under the
// policy. A distance exactly at the threshold is accepted.
func Verify(fix *model.LocationFix, treasureLat, treasureLng float64, now time.Time, p Policy) error {
	if fix.AccuracyMeters > p.MaxAccuracyMeters {
		return fmt.Errorf("%w: %.1fm (max %.1fm)", ErrLowAccuracy, fix.AccuracyMeters, p.MaxAccuracyMeters)
	}

	age := now.Sub(fix.CapturedAt)
	if age > p.MaxFixAge {
		return fmt.Errorf("%w: captured %s ago (max %s)", ErrStaleFix, age.Truncate(time.Second), p.MaxFixAge)
	}
	if age < -p.MaxClockSkew {
		return fmt.Errorf("%w: captured %s in the future", ErrStaleFix, (-age).Truncate(time.Second))
	}

	dist := Distance(fix.Latitude, fix.Longitude, treasureLat, treasureLng)
	if dist > p.MaxDistanceMeters {
		return fmt.Errorf("%w: %.1fm away (max %.1fm)", ErrTooFar, dist, p.MaxDistanceMeters)
	}

	return nil
}

package dosestore

import (
	"context"
	"time"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/insulin"
	"github.com/roach88/dosestore/internal/queryir"
)

// primeCache memoizes the date of the most recent stored prime event.
// The zero value is "unknown"; known with a nil date means no prime exists.
type primeCache struct {
	known bool
	date  *time.Time
}

// continuity is the outcome of a continuity check, applied to the store
// only once the surrounding unit of work has committed.
type continuity struct {
	continuous bool
	valid      bool
	prime      primeCache
}

// checkContinuity decides whether reservoir readings can be trusted as a
// delivery source at now.
//
// Without an insulin action duration the result is false and no prime
// lookup happens: the store is unconfigured rather than discontinuous.
// Otherwise the readings since now - D - maximumReservoirGap must be
// continuous over [now - D, now], and no prime may be dated at or after
// the oldest of those readings.
func (s *DoseStore) checkContinuity(ctx context.Context, r RecordReader, now time.Time, prime primeCache) (continuity, error) {
	c := continuity{prime: prime}
	if s.insulinActionDuration <= 0 {
		return c, nil
	}

	start := now.Add(-s.insulinActionDuration)
	values, err := r.ReservoirValues(ctx, queryir.Select{
		Filter:     queryir.AtOrAfter("date", start.Add(-maximumReservoirGap)),
		OrderBy:    "date",
		Descending: true,
	})
	if err != nil {
		return c, err
	}

	c.continuous = insulin.IsContinuous(values, start, now, maximumReservoirGap)
	c.valid = c.continuous
	if !c.continuous || len(values) == 0 {
		return c, nil
	}

	if !c.prime.known {
		c.prime, err = lookupLastPrime(ctx, r)
		if err != nil {
			return c, err
		}
	}

	oldest := values[len(values)-1].Date
	if c.prime.date != nil && !c.prime.date.Before(oldest) {
		c.valid = false
	}

	return c, nil
}

func lookupLastPrime(ctx context.Context, r RecordReader) (primeCache, error) {
	primes, err := r.PumpEvents(ctx, queryir.Select{
		Filter:     queryir.Equals{Field: "type", Value: string(dose.PumpEventPrime)},
		OrderBy:    "date",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return primeCache{}, err
	}
	if len(primes) == 0 {
		return primeCache{known: true}, nil
	}
	date := primes[0].Date
	return primeCache{known: true, date: &date}, nil
}

func (s *DoseStore) applyContinuity(c continuity) {
	if c.valid != s.areReservoirValuesValid {
		s.logger.Info("reservoir validity changed", "valid", c.valid, "continuous", c.continuous)
	}
	s.areReservoirValuesContinuous = c.continuous
	s.areReservoirValuesValid = c.valid
	s.lastPrime = c.prime
}

package dosestore

import (
	"context"
	"time"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/insulin"
)

// SetInsulinActionDuration changes the action duration and re-checks
// reservoir continuity over the new window.
func (s *DoseStore) SetInsulinActionDuration(ctx context.Context, d time.Duration) error {
	_, err := submit(ctx, s, "set insulin action duration", func(ctx context.Context) (struct{}, error) {
		if _, err := insulin.NewExponentialModel(d); err != nil {
			return struct{}{}, &Error{Code: ErrCodeConfiguration, Message: "invalid insulin action duration", Err: err}
		}
		s.insulinActionDuration = d
		s.logger.Info("insulin action duration set", "duration", d)
		return struct{}{}, s.revalidate(ctx)
	})
	return err
}

// SetBasalProfile replaces the basal schedule. Normalized reservoir doses
// depend on it, so their cache is dropped.
func (s *DoseStore) SetBasalProfile(ctx context.Context, profile *dose.DailySchedule) error {
	_, err := submit(ctx, s, "set basal profile", func(context.Context) (struct{}, error) {
		if profile != nil {
			if err := profile.Validate(); err != nil {
				return struct{}{}, &Error{Code: ErrCodeConfiguration, Message: "invalid basal profile", Err: err}
			}
		}
		s.basalProfile = profile.Clone()
		s.normalizedCache = nil
		s.logger.Info("basal profile set", "items", scheduleLen(profile))
		return struct{}{}, nil
	})
	return err
}

// SetInsulinSensitivitySchedule replaces the sensitivity schedule.
func (s *DoseStore) SetInsulinSensitivitySchedule(ctx context.Context, schedule *dose.DailySchedule) error {
	_, err := submit(ctx, s, "set insulin sensitivity", func(context.Context) (struct{}, error) {
		if schedule != nil {
			if err := schedule.Validate(); err != nil {
				return struct{}{}, &Error{Code: ErrCodeConfiguration, Message: "invalid insulin sensitivity schedule", Err: err}
			}
		}
		s.insulinSensitivity = schedule.Clone()
		s.logger.Info("insulin sensitivity schedule set", "items", scheduleLen(schedule))
		return struct{}{}, nil
	})
	return err
}

// revalidate re-checks continuity outside any write. Skipped until the
// store is ready; initialization checks it anyway.
func (s *DoseStore) revalidate(ctx context.Context) error {
	if s.State().Kind != Ready {
		return nil
	}
	c, err := s.checkContinuity(ctx, s.records, s.clock.Now(), s.lastPrime)
	if err != nil {
		return fetchError("validate reservoir continuity", err)
	}
	s.applyContinuity(c)
	return nil
}

func scheduleLen(s *dose.DailySchedule) int {
	if s == nil {
		return 0
	}
	return len(s.Items)
}

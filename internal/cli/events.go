package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/dosestore"
	"github.com/roach88/dosestore/internal/harness"
)

// EventList is the output of events list, newest first.
type EventList []dose.PumpEventRecord

func (l EventList) String() string {
	if len(l) == 0 {
		return "No pump events"
	}
	var b strings.Builder
	for i, e := range l {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := " "
		if e.Uploaded {
			mark = "↑"
		}
		fmt.Fprintf(&b, "%s %s  %-10s", mark, e.Date.Format(time.RFC3339), e.Type)
		if e.Dose != nil {
			fmt.Fprintf(&b, "  %.3f %s", e.Dose.Value, e.Dose.Unit)
			if d := e.Dose.Duration(); d > 0 {
				fmt.Fprintf(&b, " for %s", d)
			}
		}
		fmt.Fprintf(&b, "  %s", e.ID)
	}
	return b.String()
}

// EventAddResult is the output of events add.
type EventAddResult struct {
	Date       time.Time `json:"date"`
	Type       string    `json:"type"`
	QueryAfter time.Time `json:"query_after"`
}

func (r EventAddResult) String() string {
	return fmt.Sprintf("Added %s event at %s (query after %s)",
		r.Type, r.Date.Format(time.RFC3339), r.QueryAfter.Format(time.RFC3339))
}

// NewEventsCommand creates the events command group.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Record and inspect pump events",
	}

	cmd.AddCommand(newEventsAddCommand(rootOpts))
	cmd.AddCommand(newEventsListCommand(rootOpts))

	return cmd
}

func newEventsAddCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		input    harness.EventSpec
		at       string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a finalized pump event",
		Long: `Record one finalized pump event.

Events are stored once per (date, raw payload); adding the same event
again is a no-op. The raw payload defaults to "<type>@<unix millis>".

Bolus events take --units; basal and tempBasal take --rate in U/hour.
Both take --duration.`,
		Example: `  dosestore events add --type bolus --units 2.5
  dosestore events add --type tempBasal --rate 0.8 --duration 30m --at -10m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			if !dose.ValidPumpEventTypes[dose.PumpEventType(input.Type)] {
				return f.Usage(fmt.Sprintf("invalid event type %q", input.Type))
			}
			if input.Units < 0 || input.Rate < 0 || duration < 0 {
				return f.Usage("units, rate and duration must not be negative")
			}
			now := time.Now()
			date, err := parseTime(at, now, now)
			if err != nil {
				return f.Usage(err.Error())
			}
			input.Duration = harness.Duration(duration)
			event := input.Event(date)

			s, err := openSession(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return f.Fail("open dose store", err)
			}
			defer s.Close()

			if err := s.ds.AddPumpEvents(cmd.Context(), []dosestore.PumpEvent{event}); err != nil {
				return f.Fail("add pump events", err)
			}
			if err := s.waitUpload(cmd.Context()); err != nil {
				f.VerboseLog("upload: %v", err)
			}

			after, err := s.ds.PumpEventQueryAfterDate(cmd.Context())
			if err != nil {
				return f.Fail("pump event query-after date", err)
			}
			return f.Success(EventAddResult{Date: event.Date, Type: input.Type, QueryAfter: after})
		},
	}

	cmd.Flags().StringVarP(&input.Type, "type", "t", "", "event type (bolus, basal, tempBasal, prime, suspend, resume, rewind, alarm, other)")
	cmd.Flags().Float64Var(&input.Units, "units", 0, "bolus units")
	cmd.Flags().Float64Var(&input.Rate, "rate", 0, "basal rate in U/hour")
	cmd.Flags().DurationVar(&duration, "duration", 0, "delivery duration")
	cmd.Flags().StringVar(&input.Raw, "raw", "", "raw pump payload")
	cmd.Flags().StringVar(&at, "at", "", "event time (now, -15m, or RFC 3339; default now)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newEventsListCommand(rootOpts *RootOptions) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List stored pump events, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			now := time.Now()
			from, err := parseTime(since, now, now.Add(-defaultLookback))
			if err != nil {
				return f.Usage(err.Error())
			}

			s, err := openSession(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return f.Fail("open dose store", err)
			}
			defer s.Close()

			events, err := s.ds.GetPumpEventValues(cmd.Context(), from)
			if err != nil {
				return f.Fail("get pump events", err)
			}
			return f.Success(EventList(events))
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "earliest event (default -24h)")
	return cmd
}

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/dosestore"
)

// defaultHistory is the default start of dose, iob and effect queries.
const defaultHistory = 6 * time.Hour

// DoseList is the output of the doses command.
type DoseList []dose.DoseEntry

func (l DoseList) String() string {
	if len(l) == 0 {
		return "No doses"
	}
	lines := make([]string, len(l))
	for i, d := range l {
		lines[i] = d.String()
		if d.Description != "" {
			lines[i] += " (" + d.Description + ")"
		}
	}
	return strings.Join(lines, "\n")
}

// InsulinValues is the output of iob --start.
type InsulinValues []dose.InsulinValue

func (l InsulinValues) String() string {
	if len(l) == 0 {
		return "No insulin on board values"
	}
	lines := make([]string, len(l))
	for i, v := range l {
		lines[i] = fmt.Sprintf("%s  %7.3f U", v.Date.Format(time.RFC3339), v.Value)
	}
	return strings.Join(lines, "\n")
}

// IOBResult is the output of iob without a range.
type IOBResult dose.InsulinValue

func (r IOBResult) String() string {
	return fmt.Sprintf("%.3f U on board at %s", r.Value, r.Date.Format(time.RFC3339))
}

// GlucoseEffects is the output of the effects command.
type GlucoseEffects []dose.GlucoseEffect

func (l GlucoseEffects) String() string {
	if len(l) == 0 {
		return "No glucose effects"
	}
	lines := make([]string, len(l))
	for i, e := range l {
		lines[i] = fmt.Sprintf("%s  %8.1f mg/dL", e.Date.Format(time.RFC3339), e.Quantity)
	}
	return strings.Join(lines, "\n")
}

// TotalResult is the output of the total command.
type TotalResult dosestore.TotalDelivery

func (r TotalResult) String() string {
	return fmt.Sprintf("%.3f U delivered since %s", r.Units, r.StartDate.Format(time.RFC3339))
}

// NewDosesCommand creates the doses command.
func NewDosesCommand(rootOpts *RootOptions) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "doses",
		Short: "Show the normalized dose timeline",
		Long: `Show net insulin doses relative to the basal profile.

Doses come from reservoir readings when they are continuous and no pump
events were added within the recency threshold, otherwise from stored
pump events. Requires a basal profile.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			now := time.Now()
			from, to, err := timeRange(start, end, now, now.Add(-defaultHistory), now)
			if err != nil {
				return f.Usage(err.Error())
			}

			s, err := openSession(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return f.Fail("open dose store", err)
			}
			defer s.Close()

			doses, err := s.ds.GetNormalizedDoseEntries(cmd.Context(), from, to)
			if err != nil {
				return f.Fail("get normalized doses", err)
			}
			return f.Success(DoseList(doses))
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "window start (default -6h)")
	cmd.Flags().StringVar(&end, "end", "", "window end (default now)")
	return cmd
}

// NewIOBCommand creates the iob command.
func NewIOBCommand(rootOpts *RootOptions) *cobra.Command {
	var at, start, end, basalEnd string

	cmd := &cobra.Command{
		Use:   "iob",
		Short: "Show insulin on board",
		Long: `Show insulin on board at --at (default now), or the timeline from
--start to --end when --start is given. --basal-end stops basal
deliveries at that time.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			now := time.Now()
			if start == "" {
				date, err := parseTime(at, now, now)
				if err != nil {
					return f.Usage(err.Error())
				}

				s, err := openSession(cmd.Context(), rootOpts, cmd)
				if err != nil {
					return f.Fail("open dose store", err)
				}
				defer s.Close()

				iob, err := s.ds.InsulinOnBoard(cmd.Context(), date)
				if err != nil {
					return f.Fail("insulin on board", err)
				}
				return f.Success(IOBResult(iob))
			}

			from, to, err := timeRange(start, end, now, time.Time{}, time.Time{})
			if err != nil {
				return f.Usage(err.Error())
			}
			trim, err := parseTime(basalEnd, now, time.Time{})
			if err != nil {
				return f.Usage(err.Error())
			}

			s, err := openSession(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return f.Fail("open dose store", err)
			}
			defer s.Close()

			values, err := s.ds.GetInsulinOnBoardValues(cmd.Context(), from, to, trim)
			if err != nil {
				return f.Fail("get insulin on board values", err)
			}
			return f.Success(InsulinValues(values))
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "evaluation time (default now)")
	cmd.Flags().StringVar(&start, "start", "", "timeline start")
	cmd.Flags().StringVar(&end, "end", "", "timeline end (default now plus the insulin action duration)")
	cmd.Flags().StringVar(&basalEnd, "basal-end", "", "end basal deliveries at this time")
	cmd.MarkFlagsMutuallyExclusive("at", "start")
	return cmd
}

// NewEffectsCommand creates the effects command.
func NewEffectsCommand(rootOpts *RootOptions) *cobra.Command {
	var start, end, basalEnd string

	cmd := &cobra.Command{
		Use:   "effects",
		Short: "Show the projected glucose effect of insulin",
		Long: `Show the glucose effect of insulin delivered from --start on, projected
to --end. Requires the insulin action duration, the basal profile and
the insulin sensitivity schedule.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			now := time.Now()
			from, to, err := timeRange(start, end, now, now.Add(-defaultHistory), time.Time{})
			if err != nil {
				return f.Usage(err.Error())
			}
			trim, err := parseTime(basalEnd, now, time.Time{})
			if err != nil {
				return f.Usage(err.Error())
			}

			s, err := openSession(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return f.Fail("open dose store", err)
			}
			defer s.Close()

			effects, err := s.ds.GetGlucoseEffects(cmd.Context(), from, to, trim)
			if err != nil {
				return f.Fail("get glucose effects", err)
			}
			return f.Success(GlucoseEffects(effects))
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "window start (default -6h)")
	cmd.Flags().StringVar(&end, "end", "", "window end (default now plus the insulin action duration)")
	cmd.Flags().StringVar(&basalEnd, "basal-end", "", "end basal deliveries at this time")
	return cmd
}

// NewTotalCommand creates the total command.
func NewTotalCommand(rootOpts *RootOptions) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:           "total",
		Short:         "Show units delivered according to reservoir readings",
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

			total, err := s.ds.GetTotalUnitsDelivered(cmd.Context(), from)
			if err != nil {
				return f.Fail("get total units delivered", err)
			}
			return f.Success(TotalResult(total))
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start of the total (default -24h)")
	return cmd
}

package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dosestore/internal/dose"
)

// defaultLookback is the default since for list and total commands.
const defaultLookback = 24 * time.Hour

// ReservoirAddResult is the output of reservoir add.
type ReservoirAddResult struct {
	Value      dose.ReservoirValue  `json:"value"`
	Previous   *dose.ReservoirValue `json:"previous,omitempty"`
	VolumeDrop float64              `json:"volume_drop"`
	Valid      bool                 `json:"valid"`
}

func (r ReservoirAddResult) String() string {
	return fmt.Sprintf("Added %.3f U at %s (drop %.3f U, valid=%t)",
		r.Value.UnitVolume, r.Value.Date.Format(time.RFC3339), r.VolumeDrop, r.Valid)
}

// ReservoirList is the output of reservoir list, newest first.
type ReservoirList []dose.ReservoirValue

func (l ReservoirList) String() string {
	if len(l) == 0 {
		return "No reservoir values"
	}
	var b strings.Builder
	for i, v := range l {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%6d  %s  %8.3f U", v.ID, v.Date.Format(time.RFC3339), v.UnitVolume)
	}
	return b.String()
}

// Message is a one-line command result.
type Message struct {
	Message string `json:"message"`
}

func (m Message) String() string { return m.Message }

// NewReservoirCommand creates the reservoir command group.
func NewReservoirCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reservoir",
		Short: "Record and inspect reservoir readings",
	}

	cmd.AddCommand(newReservoirAddCommand(rootOpts))
	cmd.AddCommand(newReservoirListCommand(rootOpts))
	cmd.AddCommand(newReservoirDeleteCommand(rootOpts))

	return cmd
}

func newReservoirAddCommand(rootOpts *RootOptions) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "add <units>",
		Short: "Record a reservoir reading",
		Long: `Record the units remaining in the pump reservoir.

With a basal profile configured the delivery implied by the previous
reading is added to the dose caches.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			units, err := strconv.ParseFloat(args[0], 64)
			if err != nil || units < 0 {
				return f.Usage(fmt.Sprintf("invalid reservoir volume %q", args[0]))
			}
			now := time.Now()
			date, err := parseTime(at, now, now)
			if err != nil {
				return f.Usage(err.Error())
			}

			s, err := openSession(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return f.Fail("open dose store", err)
			}
			defer s.Close()

			update, err := s.ds.AddReservoirValue(cmd.Context(), units, date)
			if err != nil {
				return f.Fail("add reservoir value", err)
			}
			if err := s.waitUpload(cmd.Context()); err != nil {
				f.VerboseLog("upload: %v", err)
			}

			return f.Success(ReservoirAddResult{
				Value:      update.Value,
				Previous:   update.Previous,
				VolumeDrop: update.VolumeDrop,
				Valid:      update.AreValuesValid,
			})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "reading time (now, -15m, or RFC 3339; default now)")
	return cmd
}

func newReservoirListCommand(rootOpts *RootOptions) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List reservoir readings, newest first",
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

			values, err := s.ds.GetReservoirValues(cmd.Context(), from)
			if err != nil {
				return f.Fail("get reservoir values", err)
			}
			return f.Success(ReservoirList(values))
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "earliest reading (default -24h)")
	return cmd
}

func newReservoirDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		id    int64
		at    string
		units float64
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a reservoir reading",
		Long: `Delete a reservoir reading by --id, or by its --at date and --units
volume. Derived dose caches are cleared and continuity is re-checked.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			value := dose.ReservoirValue{ID: id}
			if id == 0 {
				if at == "" || !cmd.Flags().Changed("units") {
					return f.Usage("either --id or both --at and --units are required")
				}
				date, err := parseTime(at, time.Now(), time.Time{})
				if err != nil {
					return f.Usage(err.Error())
				}
				value.Date = date
				value.UnitVolume = units
			}

			s, err := openSession(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return f.Fail("open dose store", err)
			}
			defer s.Close()

			if err := s.ds.DeleteReservoirValue(cmd.Context(), value); err != nil {
				return f.Fail("delete reservoir value", err)
			}
			if err := s.waitUpload(cmd.Context()); err != nil {
				f.VerboseLog("upload: %v", err)
			}
			return f.Success(Message{Message: "Reservoir value deleted"})
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "record id from reservoir list")
	cmd.Flags().StringVar(&at, "at", "", "reading time (RFC 3339)")
	cmd.Flags().Float64Var(&units, "units", 0, "reading volume")
	return cmd
}

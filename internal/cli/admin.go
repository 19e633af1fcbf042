package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/dosestore/internal/dosestore"
)

// Report is the output of the report command. Text output is indented
// JSON, since support tooling reads both forms.
type Report dosestore.DiagnosticReport

func (r Report) String() string {
	data, err := json.MarshalIndent(dosestore.DiagnosticReport(r), "", "  ")
	if err != nil {
		return fmt.Sprintf("report: %v", err)
	}
	return string(data)
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all reservoir values and pump events",
		Long: `Delete every stored reservoir value and pump event and clear the
derived dose caches. Requires --yes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			if !yes {
				return f.Usage("reset deletes all pump data; pass --yes to confirm")
			}

			s, err := openSession(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return f.Fail("open dose store", err)
			}
			defer s.Close()

			if err := s.ds.ResetPumpData(cmd.Context()); err != nil {
				return f.Fail("reset pump data", err)
			}
			return f.Success(Message{Message: "Pump data reset"})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting all pump data")
	return cmd
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a diagnostic report",
		Long: `Print readiness, configuration, cache state and the stored records of
the retention window.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)

			s, err := openSession(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return f.Fail("open dose store", err)
			}
			defer s.Close()

			report, err := s.ds.GenerateDiagnosticReport(cmd.Context())
			if err != nil {
				return f.Fail("generate diagnostic report", err)
			}
			return f.Success(Report(report))
		},
	}

	return cmd
}

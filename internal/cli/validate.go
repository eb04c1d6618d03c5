package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/certcrawl/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Sources int      `json:"sources,omitempty"`
	Enabled int      `json:"enabled,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file without contacting any source or ledger.

Checks the file against the configuration schema, applies defaults and
environment overrides, and builds the fingerprint strategy for every source.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("cannot read %s", path), err)
	}
	formatter.VerboseLog("Validating %s (%d bytes)", path, len(data))

	cfg, err := config.Parse(data, os.LookupEnv)
	if err != nil {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			return outputValidationErrors(formatter, ve.Problems)
		}
		return outputValidationErrors(formatter, []string{err.Error()})
	}

	result := ValidationResult{
		Valid:   true,
		Sources: len(cfg.Sources),
		Enabled: len(cfg.EnabledSources()),
	}
	return formatter.Result(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Configuration valid: %d source(s), %d enabled\n", result.Sources, result.Enabled)
	})
}

// outputValidationErrors outputs every problem and returns exit code 1.
func outputValidationErrors(formatter *OutputFormatter, problems []string) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(problems)))

	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeConfig, failure.Message, ValidationResult{Valid: false, Errors: problems})
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, p := range problems {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", ErrCodeConfig, p)
	}
	return failure
}

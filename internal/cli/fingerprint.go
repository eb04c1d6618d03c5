package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/certcrawl/internal/config"
	"github.com/roach88/certcrawl/internal/fingerprint"
	"github.com/roach88/certcrawl/internal/record"
)

// FingerprintOptions holds flags for the fingerprint command.
type FingerprintOptions struct {
	*RootOptions
	Config string
	Source string
}

// FingerprintResult is the JSON payload of the fingerprint command.
type FingerprintResult struct {
	Source    string `json:"source"`
	Metadata  string `json:"metadata"`
	Digest    string `json:"digest"`
	Timestamp string `json:"timestamp"`
	Canonical string `json:"canonical,omitempty"`
}

// NewFingerprintCommand creates the fingerprint command.
func NewFingerprintCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FingerprintOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fingerprint <record.json>",
		Short: "Compute the ledger metadata for a record offline",
		Long: `Compute the metadata string a source would submit for a record.

The record is read from a file, or from stdin when the path is "-". With
--verbose the canonical serialization that was hashed is printed as well.

Example:
  certcrawl fingerprint --config certcrawl.yaml --source isunone record.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFingerprint(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to the YAML configuration file (required)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "source tag whose strategy to apply (required)")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runFingerprint(opts *FingerprintOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	tag, strategy, fp, err := resolveSource(cfg, opts.Source)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	}

	rec, err := readRecord(cmd, path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRecord, "failed to read record", err)
	}

	got, err := fp.Fingerprint(tag, rec)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeRecord, "cannot fingerprint record", err)
	}

	result := FingerprintResult{
		Source:    got.Source,
		Metadata:  got.String(),
		Digest:    got.Digest,
		Timestamp: got.Timestamp.Format(time.RFC3339Nano),
	}
	if opts.Verbose {
		canon, err := strategy.Canonical.Marshal(map[string]any(rec))
		if err == nil {
			result.Canonical = string(canon)
		}
	}

	return formatter.Result(result, func(w io.Writer) {
		fmt.Fprintln(w, result.Metadata)
		if result.Canonical != "" {
			fmt.Fprintln(formatter.GetErrWriter(), result.Canonical)
		}
	})
}

// resolveSource finds tag in cfg (case-insensitively) and returns the
// configured tag, its strategy and the formatter.
func resolveSource(cfg *config.Config, tag string) (string, fingerprint.Strategy, *fingerprint.Formatter, error) {
	src, ok := cfg.Source(tag)
	if !ok {
		return "", fingerprint.Strategy{}, nil, fmt.Errorf("unknown source %q", tag)
	}
	fp, err := cfg.Formatter()
	if err != nil {
		return "", fingerprint.Strategy{}, nil, err
	}
	st, _ := fp.Strategy(src.Tag)
	return src.Tag, st, fp, nil
}

func readRecord(cmd *cobra.Command, path string) (record.Record, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return record.DecodeOne(data)
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/startupai/narrative/sdk/go/narrative"
)

type options struct {
	baseURL string
	token   string
}

// errNotVerified marks a clean run whose token did not verify.
var errNotVerified = errors.New("not verified")

func newRootCmd(stdout io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "nctl",
		Short:         "Command line client for the narrative service",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", envOr("NARRATIVE_BASE_URL", "http://localhost:8090"), "narrative service base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("NARRATIVE_TOKEN"), "bearer token for authenticated commands")
	root.SetOut(stdout)

	root.AddCommand(&cobra.Command{
		Use:   "verify <token>",
		Short: "Resolve an export verification token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := opts.client().Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), v); err != nil {
				return err
			}
			if v.Status != "verified" {
				return errNotVerified
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "versions <narrative_id>",
		Short: "List stored versions of a narrative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vs, err := opts.client().ListVersions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"versions": vs})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "diff <narrative_id> <a> <b>",
		Short: "Diff two versions; 0 is the current document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("version a: %w", err)
			}
			b, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("version b: %w", err)
			}
			changes, err := opts.client().DiffVersions(cmd.Context(), args[0], a, b)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"changes": changes})
		},
	})

	var exportReq narrative.ExportRequest
	exportCmd := &cobra.Command{
		Use:   "export <narrative_id>",
		Short: "Export a narrative and print its verification token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Export(cmd.Context(), args[0], exportReq, narrative.NewIdempotencyKey())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	exportCmd.Flags().StringVar(&exportReq.Format, "format", "pdf", "pdf or json")
	exportCmd.Flags().BoolVar(&exportReq.IncludeQRCode, "qr", true, "embed a QR code pointing at the verification URL")
	exportCmd.Flags().BoolVar(&exportReq.IncludeEvidence, "evidence", false, "attach the evidence package")
	root.AddCommand(exportCmd)

	return root
}

func (o *options) client() *narrative.Client {
	return narrative.NewClient(o.baseURL, narrative.WithToken(o.token))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		if !errors.Is(err, errNotVerified) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

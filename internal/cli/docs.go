package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/b0r1v0j3/workers-united/internal/verify"
	"github.com/b0r1v0j3/workers-united/pkg/ollama"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newCheckDocsCmd(opts *rootOptions) *cobra.Command {
	var name, model string
	cmd := &cobra.Command{
		Use:   "check-docs kind=path [kind=path...]",
		Short: "Ask the verification model about local document files",
		Long: `Send document images to the configured Ollama model and print the verdict.
Nothing is written to the database. Kinds are passport, photo and diploma.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs := make([]verify.Document, 0, len(args))
			for _, a := range args {
				kind, path, ok := strings.Cut(a, "=")
				if !ok || kind == "" || path == "" {
					return errors.Newf("expected kind=path, got %q", a)
				}
				b, err := os.ReadFile(path)
				if err != nil {
					return errors.Wrapf(err, "read %s", kind)
				}
				docs = append(docs, verify.Document{Kind: kind, Image: b})
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if model == "" {
				model = cfg.Verify.Model
			}

			logger := opts.logger(cmd.ErrOrStderr())
			ollama.SetLogger(logger)
			client, err := ollama.NewDefaultClient(cfg.Verify.Ollama)
			if err != nil {
				return err
			}
			defer client.Close()

			v := verify.New(client, model, logger)
			verdict, err := v.Verify(cmd.Context(), &models.Candidate{FullName: name}, docs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, verdict)
			}
			outcome := "rejected"
			if verdict.Approved && verdict.Confidence >= cfg.Verify.MinConfidence {
				outcome = "verified"
			}
			fmt.Fprintf(out, "model:      %s\napproved:   %t\nconfidence: %.2f\noutcome:    %s\n", verdict.Model, verdict.Approved, verdict.Confidence, outcome)
			for _, issue := range verdict.Issues {
				fmt.Fprintf(out, "issue: %s\n", issue)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Candidate full name as printed on the documents")
	cmd.Flags().StringVar(&model, "model", "", "Model to use (default from config)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

package main

import (
	"errors"
	"fmt"
	"io"
	"isubo/internal/config"
	"isubo/internal/deploy"
	"isubo/internal/health"
	"strings"

	"github.com/spf13/cobra"
)

type options struct {
	confPath        string
	logLevel        string
	logFormat       string
	metricsFile     string
	disableTOC      bool
	disableBack2Top bool
	all             bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "isubo",
		Short: "Sync markdown posts to GitHub issues",
		Long: `isubo renders markdown posts, creates or updates one GitHub issue per post,
and commits the touched posts and their local assets back to the blog repository.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(stderr, opts.logLevel, opts.logFormat)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.confPath, "conf", config.DefaultFilename, "path to the config file")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")
	pf.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	pf.BoolVar(&opts.disableTOC, "disable-toc", false, "do not insert a table of contents")
	pf.BoolVar(&opts.disableBack2Top, "disable-back2top", false, "do not insert back-to-top links")

	root.AddCommand(
		newDeployCmd(opts, deploy.VerbCreate, "Create a new issue for each post, ignoring any issue_number"),
		newDeployCmd(opts, deploy.VerbUpdate, "Update the issue linked by each post's issue_number"),
		newDeployCmd(opts, deploy.VerbPublish, "Update linked issues and create the missing ones"),
		newCopyCmd(opts),
		newDoctorCmd(opts),
	)
	return root
}

func newDeployCmd(opts *options, verb deploy.Verb, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(verb) + " [post...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			paths, err := findPosts(a.cfg.AbsoluteSourceDir, args, opts.all)
			if err != nil {
				return err
			}
			d, err := a.deployer(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			progress := progressFor(a.hint)
			switch verb {
			case deploy.VerbCreate:
				results, report, err := d.Create(ctx, paths, progress)
				if err != nil {
					return err
				}
				printIssues(out, results)
				return summarize(report)
			case deploy.VerbUpdate:
				results, report, err := d.Update(ctx, paths, progress)
				if err != nil {
					return err
				}
				printIssues(out, results)
				return summarize(report)
			default:
				results, report, err := d.Publish(ctx, paths, progress)
				if err != nil {
					return err
				}
				printPublished(out, results)
				return summarize(report)
			}
		},
	}
	cmd.Flags().BoolVar(&opts.all, "all", false, "deploy every post under source_dir")
	return cmd
}

func newCopyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <post>",
		Short: "Render a post and copy its issue body to the clipboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			paths, err := findPosts(a.cfg.AbsoluteSourceDir, args, false)
			if err != nil {
				return err
			}
			// Rendering only, so no git repository is required.
			detail, err := a.baseDeployer().WriteToClipboard(ctx, paths)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\n", detail.Path, len(detail.Body))
			return nil
		},
	}
}

func newDoctorCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the config, git repository and GitHub access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			resp := a.checker().Run(ctx)
			printChecks(cmd.OutOrStdout(), resp)
			if resp.Status == health.StatusUnhealthy {
				var failed []string
				for _, c := range resp.Checks {
					if c.Status == health.StatusUnhealthy {
						failed = append(failed, c.Name)
					}
				}
				return fmt.Errorf("preflight failed: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

// summarize turns partial failures into a non-nil error so the exit code
// reflects them. Successful results have already been printed.
func summarize(report *deploy.Report) error {
	if report == nil {
		return nil
	}
	var errs []error
	if failed := report.Attempted - report.Succeeded; failed > 0 {
		errs = append(errs, fmt.Errorf("%d of %d posts failed", failed, report.Attempted))
	}
	if report.AssetErr != nil {
		errs = append(errs, fmt.Errorf("assets not pushed: %w", report.AssetErr))
	}
	return errors.Join(errs...)
}

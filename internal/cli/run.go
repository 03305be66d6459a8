package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alvesdmateus/deploy-engine/internal/builder"
	"github.com/alvesdmateus/deploy-engine/internal/command"
	"github.com/alvesdmateus/deploy-engine/internal/credentials"
	"github.com/alvesdmateus/deploy-engine/internal/pipeline"
	"github.com/alvesdmateus/deploy-engine/internal/provision"
	"github.com/alvesdmateus/deploy-engine/internal/registry"
	"github.com/alvesdmateus/deploy-engine/pkg/config"
)

type runFlags struct {
	app            string
	version        string
	provider       string
	action         string
	region         string
	registry       string
	identity       string
	credentialRef  string
	contextDir     string
	workspaceDir   string
	confirmDestroy bool
	strictWarnings bool
}

func newRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one deployment run synchronously",
		Example: `  deployctl run --app demo --version 1.4.2 --context ./src --workspace ./terraform
  deployctl run --app demo --version 1.4.2 --action destroy --confirm-destroy \
      --context ./src --workspace ./terraform`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.app, "app", "", "Application name (becomes the image repository)")
	cmd.Flags().StringVar(&flags.version, "version", "", "Version to build and tag")
	cmd.Flags().StringVar(&flags.provider, "provider", "aws", "Cloud provider: aws, gcp, or azure")
	cmd.Flags().StringVar(&flags.action, "action", "apply", "Run action: apply or destroy")
	cmd.Flags().StringVar(&flags.region, "region", "", "Cloud region (defaults to registry.region)")
	cmd.Flags().StringVar(&flags.registry, "registry", "", "Registry kind: ecr or dockerhub (defaults to registry.kind)")
	cmd.Flags().StringVar(&flags.identity, "identity", "", "Registry identity: AWS profile or Docker Hub namespace")
	cmd.Flags().StringVar(&flags.credentialRef, "credential-ref", "", "Credential reference resolved at publish time")
	cmd.Flags().StringVar(&flags.contextDir, "context", "", "Image build context directory")
	cmd.Flags().StringVar(&flags.workspaceDir, "workspace", "", "Provisioning workspace directory")
	cmd.Flags().BoolVar(&flags.confirmDestroy, "confirm-destroy", false, "Required confirmation for destroy runs")
	cmd.Flags().BoolVar(&flags.strictWarnings, "strict-warnings", false, "Exit non-zero when the run succeeds with warnings")

	return cmd
}

func runPipeline(cmd *cobra.Command, flags *runFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger()

	req := buildRequest(flags, cfg)

	repo, cleanup, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	credsProvider, err := credentials.NewFactory(logger).Create(
		ctx,
		credentials.Kind(cfg.Credentials.Source),
		cfg.Credentials.Region,
		cfg.Credentials.EnvPrefix,
	)
	if err != nil {
		return fmt.Errorf("failed to create credential provider: %w", err)
	}

	runner := command.NewExecRunner(logger, cfg.Pipeline.MaxOutputBytes)
	provisionEngine := provision.NewEngine(runner, provision.Config{
		Binary:         cfg.Provisioner.Binary,
		InitTimeout:    cfg.Provisioner.InitTimeout,
		PlanTimeout:    cfg.Provisioner.PlanTimeout,
		ApplyTimeout:   cfg.Provisioner.ApplyTimeout,
		DestroyTimeout: cfg.Provisioner.DestroyTimeout,
	}, logger)
	if err := provisionEngine.Verify(ctx); err != nil {
		return err
	}

	imageBuilder, err := builder.NewDockerBuilder(logger)
	if err != nil {
		return err
	}
	publishers, err := registry.NewDockerFactory(logger)
	if err != nil {
		return err
	}

	pipe := pipeline.NewPipeline(
		imageBuilder,
		publishers,
		provisionEngine,
		credsProvider,
		pipeline.NewStateRecorder(repo),
		logger,
	)

	report, runErr := pipe.Run(ctx, req)
	printReport(cmd.OutOrStdout(), report)

	switch report.Outcome {
	case pipeline.OutcomeFailed:
		return runErr
	case pipeline.OutcomeSucceededWithWarnings:
		if flags.strictWarnings {
			return fmt.Errorf("run succeeded with %d warning(s)", len(report.Warnings))
		}
	}
	return nil
}

// buildRequest maps flags onto a run request, falling back to the configured
// registry settings where flags are unset.
func buildRequest(flags *runFlags, cfg *config.Config) *pipeline.Request {
	registryKind := flags.registry
	if registryKind == "" {
		registryKind = cfg.Registry.Kind
	}
	region := flags.region
	if region == "" {
		region = cfg.Registry.Region
	}
	identity := flags.identity
	if identity == "" {
		identity = cfg.Registry.Identity
	}

	return &pipeline.Request{
		AppName:        flags.app,
		Version:        flags.version,
		Provider:       flags.provider,
		Action:         pipeline.Action(flags.action),
		Region:         region,
		Registry:       registry.Kind(registryKind),
		Identity:       identity,
		CredentialRef:  flags.credentialRef,
		ConfirmDestroy: flags.confirmDestroy,
		ContextDir:     flags.contextDir,
		WorkspaceDir:   flags.workspaceDir,
	}
}

// printReport writes the run summary: outcome, stage audit trail, published
// image, and warnings.
func printReport(out io.Writer, report *pipeline.Report) {
	fmt.Fprintf(out, "Run %s: %s (%.1fs)\n", report.RunID, report.Outcome, report.Duration.Seconds())

	if len(report.Stages) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tSTATUS\tDURATION\tDETAIL")
		for _, stage := range report.Stages {
			fmt.Fprintf(w, "%s\t%s\t%.1fs\t%s\n", stage.Stage, stage.Status, stage.Duration().Seconds(), stage.Detail)
		}
		w.Flush()
	}

	if report.Image != nil {
		fmt.Fprintf(out, "Image: %s\n", report.Image.URI)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", warning)
	}
}

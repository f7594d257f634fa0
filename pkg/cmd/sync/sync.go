package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"netsync/internal/collector/snapshot"
	"netsync/internal/config"
	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
	"netsync/internal/infrastructure/repositories"
	"netsync/internal/infrastructure/repositories/mem"
	"netsync/internal/sync/clients"
	"netsync/internal/sync/interfaces"
	"netsync/internal/sync/manager"
	"netsync/internal/sync/monitoring"
	"netsync/internal/sync/report"
)

// ErrRunFailed is returned when at least one device or record failed
var ErrRunFailed = errors.New("reconciliation finished with errors")

type syncOptions struct {
	configPath string

	kinds           []string
	dryRun          bool
	cleanup         []string
	cleanupScopeTag string
	site            string
	tenant          string
	snapshots       []string
	memory          bool
	allowUnresolved bool

	logFormat           string
	verbosity           int
	output              string
	defaultManufacturer string
}

// NewCommand creates the netsync root command with its sync subcommand
func NewCommand(out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "netsync",
		Short:         "Reconcile an inventory of record with observed device state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.AddCommand(NewCommandSync(out, errOut))
	return root
}

// NewCommandSync creates the sync command
func NewCommandSync(out, errOut io.Writer) *cobra.Command {
	o := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Diff device snapshots against the inventory and apply the changes",
		Long: `sync loads collector snapshots, compares them with the inventory of record
and writes creates and updates in dependency order. With --dry-run nothing is
written. Deletion of stale records is opt-in per kind with --cleanup; device
cleanup also requires --cleanup-scope-tag.

The command exits non-zero when any device failed any kind.`,
		Example: `  netsync sync --snapshots ./snapshots --dry-run
  netsync sync --config netsync.yaml --snapshots ./snapshots --kinds devices,interfaces
  netsync sync --snapshots ./snapshots --cleanup cables,interfaces --site dc1`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return o.run(c, out, errOut)
		},
	}

	o.addFlags(cmd.Flags())
	_ = cmd.MarkFlagRequired("snapshots")

	return cmd
}

func (o *syncOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "path to the YAML configuration file")
	fs.StringSliceVar(&o.kinds, "kinds", nil, "entity kinds to reconcile (default all): devices,interfaces,ip-addresses,vlans,cables,inventory-items")
	fs.BoolVar(&o.dryRun, "dry-run", false, "compute and report the diff without writing")
	fs.StringSliceVar(&o.cleanup, "cleanup", nil, "kinds whose stale remote records may be deleted")
	fs.StringVar(&o.cleanupScopeTag, "cleanup-scope-tag", "", "tag bounding device cleanup; devices created by the run get it")
	fs.StringVar(&o.site, "site", "", "only reconcile devices of this site")
	fs.StringVar(&o.tenant, "tenant", "", "only reconcile devices of this tenant")
	fs.StringSliceVar(&o.snapshots, "snapshots", nil, "snapshot files or directories")
	fs.BoolVar(&o.memory, "memory", false, "reconcile against an empty in-memory inventory")
	fs.BoolVar(&o.allowUnresolved, "allow-unresolved-neighbors", false, "skip neighbors that resolve to no known device instead of failing them")
	fs.StringVar(&o.logFormat, "log-format", "", "log sink: klog or std (overrides config)")
	fs.IntVarP(&o.verbosity, "verbosity", "v", 0, "log verbosity (overrides config)")
	fs.StringVarP(&o.output, "output", "o", report.FormatText, "report format: text, yaml or json")
	fs.StringVar(&o.defaultManufacturer, "default-manufacturer", "", "manufacturer for modules with an unknown part id")
}

func (o *syncOptions) run(cmd *cobra.Command, out, errOut io.Writer) error {
	cfg, err := config.NewConfig(o.configPath)
	if err != nil {
		return err
	}
	fs := cmd.Flags()
	if fs.Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	if fs.Changed("verbosity") {
		cfg.Log.Verbosity = o.verbosity
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log.Format, cfg.Log.Verbosity, errOut)
	if err != nil {
		return err
	}
	defer klog.Flush()
	logger = logger.WithName(cfg.App.Name)

	opts, err := o.runOptions(cfg, fs.Changed("allow-unresolved-neighbors"))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	snaps, err := snapshot.NewLoader(snapshot.Options{DefaultManufacturer: o.defaultManufacturer}, logger).Load(o.snapshots...)
	if err != nil {
		return err
	}
	logger.Info("Loaded snapshots", "devices", len(snaps))

	inventory, err := o.inventory(cfg, logger)
	if err != nil {
		return err
	}

	var managerOpts []manager.Option
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		managerOpts = append(managerOpts, manager.WithMetrics(monitoring.NewMetrics(reg)))

		server := monitoring.NewMetricsServer(reg, cfg.Metrics, logger)
		server.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				logger.Error(err, "Failed to stop metrics server")
			}
		}()
	}

	if !o.dryRun {
		changeLog, err := repositories.NewFactory(cfg.Audit, logger).CreateChangeLog(ctx)
		if err != nil {
			return err
		}
		if changeLog != nil {
			defer func() {
				if err := changeLog.Close(); err != nil {
					logger.Error(err, "Failed to close audit log")
				}
			}()
			managerOpts = append(managerOpts, manager.WithChangeLog(changeLog))
		}
	}

	orch := manager.NewOrchestrator(inventory, cfg.Sync.ManagerConfig(), logger, managerOpts...)

	var rep *report.Report
	if o.dryRun {
		rep, err = orch.RunDryRun(ctx, snaps, opts)
	} else {
		rep, err = orch.RunApply(ctx, snaps, opts)
	}
	if rep == nil {
		return err
	}

	if werr := rep.Write(out, o.output); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}
	if rep.HasErrors() {
		return fmt.Errorf("%w: %d failed device(s), %d error(s)", ErrRunFailed, len(rep.FailedDevices()), len(rep.Errors()))
	}
	return nil
}

// runOptions layers the command flags over the configured options
func (o *syncOptions) runOptions(cfg *config.Config, allowUnresolvedSet bool) (interfaces.Options, error) {
	opts, err := cfg.Sync.Options()
	if err != nil {
		return opts, err
	}

	if opts.Kinds, err = models.ParseEntityKinds(o.kinds); err != nil {
		return opts, err
	}
	cleanup, err := models.ParseEntityKinds(o.cleanup)
	if err != nil {
		return opts, err
	}
	if len(cleanup) > 0 {
		opts.CleanupStale = make(map[models.EntityKind]bool, len(cleanup))
		for _, kind := range cleanup {
			opts.CleanupStale[kind] = true
		}
	}
	opts.CleanupScopeTag = o.cleanupScopeTag
	opts.Scope = ports.Filter{Site: o.site, Tenant: o.tenant}
	if allowUnresolvedSet {
		opts.AllowUnresolvedNeighbors = o.allowUnresolved
	}

	switch o.output {
	case report.FormatText, report.FormatYAML, report.FormatJSON:
	default:
		return opts, fmt.Errorf("unknown output format %q", o.output)
	}
	return opts, opts.Validate()
}

func (o *syncOptions) inventory(cfg *config.Config, logger logr.Logger) (ports.RemoteInventory, error) {
	if o.memory {
		logger.Info("Using in-memory inventory")
		return mem.NewInventory(), nil
	}
	if err := cfg.Remote.Validate(); err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	client, err := clients.NewInventoryClient(cfg.Remote, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

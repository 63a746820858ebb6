// autopilot keeps the ADCP acquisition process logging while the ship is
// under way. It reads the ship position, decides per region and speed
// whether the instruments should ping, and drives the acquisition process
// through its command channel, restarting it when it dies or hangs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/banshee-data/autopilot/internal/autopilot"
	"github.com/banshee-data/autopilot/internal/config"
	"github.com/banshee-data/autopilot/internal/feed"
	"github.com/banshee-data/autopilot/internal/fsutil"
	"github.com/banshee-data/autopilot/internal/journal"
	"github.com/banshee-data/autopilot/internal/monitoring"
	"github.com/banshee-data/autopilot/internal/pilot"
	"github.com/banshee-data/autopilot/internal/status"
	"github.com/banshee-data/autopilot/internal/supervisor"
	"github.com/banshee-data/autopilot/internal/timeutil"
	"github.com/banshee-data/autopilot/internal/version"
)

const restartDelay = 5 * time.Second

type options struct {
	configPath  string
	flagDir     string
	listen      string
	debug       bool
	logFile     string
	checkConfig bool
	query       bool
	stop        bool
	version     bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "autopilot: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	flags := pflag.NewFlagSet("autopilot", pflag.ContinueOnError)
	flags.StringVarP(&o.configPath, "config", "c", config.DefaultConfigPath, "autopilot configuration file (JSONC)")
	flags.StringVar(&o.flagDir, "flag-dir", "", "directory for the run and stop flags (overrides flag_dir)")
	flags.StringVar(&o.listen, "listen", "127.0.0.1:8088", "admin HTTP listen address; empty disables the server")
	flags.BoolVar(&o.debug, "debug", false, "enable debug logging")
	flags.StringVar(&o.logFile, "log-file", "", "append log output to this file (overrides log_file)")
	flags.BoolVar(&o.checkConfig, "check-config", false, "print the parsed configuration and exit")
	flags.BoolVar(&o.query, "query", false, "report whether an autopilot is running and exit")
	flags.BoolVar(&o.stop, "stop", false, "stop the running autopilot and exit")
	flags.BoolVar(&o.version, "version", false, "print the version and exit")
	if err := flags.Parse(args); err != nil {
		return o, err
	}
	if flags.NArg() > 0 {
		return o, fmt.Errorf("unexpected argument: %s", flags.Arg(0))
	}
	return o, nil
}

func run(args []string, stdout io.Writer) error {
	o, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if o.version {
		fmt.Fprintln(stdout, version.String("autopilot"))
		return nil
	}

	cfg, err := config.LoadAutopilotConfig(o.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		// No config: this ship is not in autopilot mode.
		fmt.Fprintf(os.Stderr, "autopilot: %s not found, nothing to do\n", o.configPath)
		return nil
	}
	if err != nil {
		return err
	}
	if o.flagDir != "" {
		cfg.FlagDir = o.flagDir
	}
	if o.logFile != "" {
		cfg.LogFile = o.logFile
	}

	if o.checkConfig {
		return printConfig(stdout, cfg)
	}

	ctl := newController(fsutil.OSFileSystem{}, cfg.RunFlagPath(), cfg.StopFlagPath(), cfg.GetLivenessFile())
	if o.query {
		return ctl.query(stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if o.stop {
		return ctl.stop(ctx)
	}

	logs, err := monitoring.Setup(cfg.LogFile, o.debug)
	if err != nil {
		return err
	}
	defer logs.Close()
	monitoring.Infof("%s starting with %s", version.String("autopilot"), o.configPath)

	// Only one autopilot may drive the acquisition process.
	if err := ctl.stop(ctx); err != nil {
		return fmt.Errorf("failed to replace running autopilot: %w", err)
	}

	return serve(ctx, cfg, o.listen)
}

func serve(ctx context.Context, cfg *config.AutopilotConfig, listen string) error {
	model, err := cfg.Model()
	if err != nil {
		return err
	}
	clock := timeutil.RealClock{}

	var jr *journal.Journal
	if cfg.Journal != "" {
		jr, err = journal.Open(cfg.Journal, clock)
		if err != nil {
			return err
		}
		defer jr.Close()
	}

	supOpts := []supervisor.Option{supervisor.WithClock(clock)}
	if jr != nil {
		supOpts = append(supOpts, supervisor.WithTransitionHook(func(from, to supervisor.State) {
			jr.RecordEvent(journal.EventSupervisorState, from.String()+" -> "+to.String())
		}))
	}
	launcher := supervisor.ExecLauncher{
		Path:  cfg.DAS.Path,
		Args:  cfg.DAS.Args,
		Dir:   cfg.DAS.Dir,
		Pipes: cfg.Command.Transport == "" || cfg.Command.Transport == config.TransportStdio,
	}

	gpsnav, err := feed.FromConfig(cfg.GPSNav, "gpsnav")
	if err != nil {
		return err
	}
	heartbeat, err := feed.FromConfig(cfg.Heartbeat, "heartbeat")
	if err != nil {
		return err
	}

	statusServer := status.NewServer()
	publishers := status.Multi{statusServer}
	if cfg.Status != nil {
		mp, err := status.DialMQTTPublisher(ctx, cfg.Status.Broker, cfg.Status.Topic)
		if err != nil {
			// Status is informational; run without it.
			monitoring.Warnf("status broker %s unavailable: %v", cfg.Status.Broker, err)
		} else {
			defer mp.Close()
			publishers = append(publishers, mp)
		}
	}

	session := &autopilot.Session{
		Pilot: pilot.Config{
			Model:         model,
			Instruments:   cfg.Instruments,
			SessionPrefix: cfg.CruisePrefix,
			MedianWindow:  cfg.GetMedianWindow(),
		},
		Timing: autopilot.Timing{
			CheckInterval: cfg.GetCheckInterval(),
			Restart:       cfg.GetRestart(),
			CmdTimeout:    cfg.GetCmdTimeout(),
			PollTimeout:   cfg.GetPollTimeout(),
		},
		Supervisor: supervisor.New(launcher, cfg.GetTermGrace(), supOpts...),
		Transport:  autopilot.NewTransportFactory(cfg.Command),
		GPSNav:     gpsnav,
		Heartbeat:  heartbeat,
		Flags: autopilot.Flags{
			FS:       fsutil.OSFileSystem{},
			Run:      cfg.RunFlagPath(),
			Stop:     cfg.StopFlagPath(),
			Liveness: cfg.GetLivenessFile(),
		},
		Clock:  clock,
		Status: publishers,
	}
	if jr != nil {
		session.Journal = jr
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if listen != "" {
		mux := http.NewServeMux()
		statusServer.AttachRoutes(mux)
		if jr != nil {
			if err := jr.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		if ss, ok := gpsnav.(*feed.SerialSource); ok {
			ss.AttachAdminRoutes(mux)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveAdmin(runCtx, listen, mux)
		}()
	}

	runner := &autopilot.Runner{Session: session, RestartDelay: restartDelay}
	err = runner.Run(runCtx)
	cancel()
	wg.Wait()
	return err
}

// serveAdmin runs the admin HTTP server until ctx is done.
func serveAdmin(ctx context.Context, listen string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		monitoring.Infof("admin server listening on %s", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Errorf("admin server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Warnf("admin server shutdown: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Warnf("admin server close: %v", err)
		}
	}
}

type regionSummary struct {
	Name        string            `json:"name"`
	InPort      bool              `json:"in_port"`
	MinSpeedMPS float64           `json:"min_speed_mps"`
	Vertices    int               `json:"vertices"`
	Profile     map[string]string `json:"cmdfiles,omitempty"`
}

// printConfig writes the configuration with defaults applied and the
// regions as the pilot will see them.
func printConfig(w io.Writer, cfg *config.AutopilotConfig) error {
	model, err := cfg.Model()
	if err != nil {
		return err
	}
	regions := make([]regionSummary, 0, len(model.Regions()))
	for _, r := range model.Regions() {
		regions = append(regions, regionSummary{
			Name:        r.Name,
			InPort:      r.InPort,
			MinSpeedMPS: r.MinSpeed,
			Vertices:    len(r.Polygon),
			Profile:     r.Profile,
		})
	}
	out := struct {
		Config        *config.AutopilotConfig `json:"config"`
		MedianWindow  int                     `json:"effective_median_window"`
		CheckInterval string                  `json:"effective_check_interval"`
		Restart       string                  `json:"effective_restart"`
		CmdTimeout    string                  `json:"effective_cmd_timeout"`
		PollTimeout   string                  `json:"effective_poll_timeout"`
		TermGrace     string                  `json:"effective_term_grace"`
		RunFlag       string                  `json:"run_flag"`
		StopFlag      string                  `json:"stop_flag"`
		Liveness      string                  `json:"liveness_file"`
		Regions       []regionSummary         `json:"regions"`
	}{
		Config:        cfg,
		MedianWindow:  cfg.GetMedianWindow(),
		CheckInterval: cfg.GetCheckInterval().String(),
		Restart:       cfg.GetRestart().String(),
		CmdTimeout:    cfg.GetCmdTimeout().String(),
		PollTimeout:   cfg.GetPollTimeout().String(),
		TermGrace:     cfg.GetTermGrace().String(),
		RunFlag:       cfg.RunFlagPath(),
		StopFlag:      cfg.StopFlagPath(),
		Liveness:      cfg.GetLivenessFile(),
		Regions:       regions,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

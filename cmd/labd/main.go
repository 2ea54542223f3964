// Command labd hosts a laboratory instrument setup: it reads a
// configuration file, loads and wires the declared modules, activates
// them hardware first, and serves until interrupted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openlabkit/labcore"
	"github.com/openlabkit/labcore/gui/webstatus"
	"github.com/openlabkit/labcore/hardware/awg"
	"github.com/openlabkit/labcore/hardware/edwards"
	"github.com/openlabkit/labcore/hardware/hbridge"
	"github.com/openlabkit/labcore/logic/pumpmonitor"
)

const shutdownGrace = 10 * time.Second

// stringList collects repeatable flag values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// registerTypes fills the module type manifest. Every loadable driver
// and logic module is declared here; config files refer to these
// identifiers in their `module:` keys.
func registerTypes(types *labcore.TypeRegistry) {
	types.MustRegister("hardware.awg", awg.New)
	types.MustRegister("hardware.edwards", edwards.New)
	types.MustRegister("hardware.hbridge", hbridge.New)
	types.MustRegister("logic.pumpmonitor", pumpmonitor.New)
	types.MustRegister("gui.webstatus", webstatus.New)
}

func main() {
	var (
		configPath  = flag.String("config", "", "configuration file to load")
		configName  = flag.String("config-name", "", "named configuration set to apply after loading")
		baseDir     = flag.String("base-dir", "", "override the base data directory")
		storageDir  = flag.String("storage-dir", "", "alias for -base-dir")
		disableAll  = flag.Bool("disable-all", false, "ignore every hardware device in the configuration")
		noManager   = flag.Bool("no-manager", false, "parse the configuration and print the module tree without starting anything")
		watchConfig = flag.Bool("watch", false, "reload the configuration file when it changes")
		verbose     = flag.Bool("v", false, "debug logging")
		modules     stringList
		disabled    stringList
	)
	flag.Var(&modules, "module", "module instance to start instead of the full startup set (repeatable)")
	flag.Var(&disabled, "disable", "hardware device to ignore (repeatable)")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, settings{
		configPath:  *configPath,
		configName:  *configName,
		baseDir:     firstNonEmpty(*baseDir, *storageDir),
		disableAll:  *disableAll,
		noManager:   *noManager,
		watchConfig: *watchConfig,
		modules:     modules,
		disabled:    disabled,
	}); err != nil {
		logger.Error("labd failed", "error", err)
		os.Exit(1)
	}
}

type settings struct {
	configPath  string
	configName  string
	baseDir     string
	disableAll  bool
	noManager   bool
	watchConfig bool
	modules     []string
	disabled    []string
}

func run(logger *slog.Logger, s settings) error {
	types := labcore.NewTypeRegistry()
	registerTypes(types)

	var opts []labcore.ManagerOption
	if len(s.disabled) > 0 {
		opts = append(opts, labcore.WithDisabledDevices(s.disabled...))
	}
	if s.disableAll {
		opts = append(opts, labcore.WithAllDevicesDisabled())
	}
	mgr := labcore.NewManager(types, logger, opts...)

	if s.configPath == "" {
		return fmt.Errorf("no configuration file given, use -config")
	}
	if err := mgr.ReadConfig(s.configPath); err != nil {
		return err
	}
	if s.configName != "" {
		if err := mgr.LoadDefinedConfig(s.configName); err != nil {
			return err
		}
	}
	if s.baseDir != "" {
		mgr.SetBaseDir(s.baseDir)
	}

	if s.noManager {
		return printTree(mgr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(s.modules) > 0 {
		if err := startModules(ctx, mgr, s.modules); err != nil {
			return err
		}
	} else {
		mgr.StartAllConfiguredModules(ctx)
	}

	if s.watchConfig {
		watcher, err := labcore.WatchConfig(mgr)
		if err != nil {
			return err
		}
		defer func() {
			wctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := watcher.Stop(wctx); err != nil {
				logger.Warn("Config watcher stop failed", "error", err)
			}
		}()
	}

	logger.Info("labd running, interrupt to quit")
	<-ctx.Done()
	stop()

	qctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	mgr.Quit(qctx)
	return nil
}

// startModules loads, wires and activates only the named instances.
func startModules(ctx context.Context, mgr *labcore.Manager, names []string) error {
	for _, name := range names {
		cat, ok := findCategory(mgr, name)
		if !ok {
			return fmt.Errorf("module %s is not defined in the configuration", name)
		}
		if err := mgr.LoadConfigureModule(cat, name); err != nil {
			return err
		}
		if err := mgr.ConnectModule(cat, name); err != nil {
			return err
		}
		if err := mgr.ActivateModule(ctx, cat, name); err != nil {
			return err
		}
	}
	return nil
}

func findCategory(mgr *labcore.Manager, name string) (labcore.Category, bool) {
	for _, cat := range labcore.Categories {
		if _, ok := mgr.DefinedModule(cat, name); ok {
			return cat, true
		}
	}
	return "", false
}

func printTree(mgr *labcore.Manager) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(mgr.Snapshot())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

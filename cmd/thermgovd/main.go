package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("thermgovd v%s\n", version)
	fmt.Println("Trip-point thermal governor daemon for hwmon fans and CPU frequency floors")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  thermgovd -config /etc/thermgovd.yml [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Samples a control temperature sensor on a fixed interval, maps the")
	fmt.Println("  reading to a configured trip point, and drives a PWM fan and a CPU")
	fmt.Println("  frequency floor accordingly. The original actuator state is captured")
	fmt.Println("  at startup and restored on every exit path, including termination")
	fmt.Println("  signals.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to the YAML configuration file (required)")
	fmt.Println()
	fmt.Println("  -interval float")
	fmt.Printf("        Override the control cycle interval in seconds (default %.1f, min %.1f)\n", defaultIntervalSec, minIntervalSec)
	fmt.Println()
	fmt.Println("  -sensor string")
	fmt.Println("        Override the control temperature sensor path")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXIT CODES:")
	fmt.Printf("  %d  clean shutdown\n", exitOK)
	fmt.Printf("  %d  configuration invalid\n", exitConfig)
	fmt.Printf("  %d  hardware or capability unavailable\n", exitHardware)
	fmt.Printf("  %d  insufficient privilege\n", exitPrivilege)
	fmt.Printf("  %d  sensor/actuator I/O failure while running\n", exitRuntime)
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires root: the fan control registers and the frequency-control")
	fmt.Println("    tooling are privileged surfaces.")
	fmt.Println("  - The fan driver's manual-control capability must be enabled")
	fmt.Println("    (e.g. thinkpad_acpi fan_control=1) or the mode register is read-only.")
	fmt.Println("  - Run exactly one instance per host; two governors fighting over the")
	fmt.Println("    same registers is undefined behavior.")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath  = flag.String("config", "", "Path to the YAML configuration file")
		intervalSec = flag.Float64("interval", 0, "Override control cycle interval in seconds")
		sensorPath  = flag.String("sensor", "", "Override control temperature sensor path")
		logLevelStr = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Load config file, then apply flag overrides on top.
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "error: -config is required")
		os.Exit(exitConfig)
	}
	cfg, err := LoadConfigFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitConfig)
	}

	overrides := FlagOverrides{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "interval":
			overrides.IntervalSec = intervalSec
		case "sensor":
			overrides.ControlSensor = sensorPath
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitConfig)
	}
	logger := setupLogger(logLevel)

	// Privilege check before touching any control surface.
	if os.Geteuid() != 0 {
		logger.Error("thermgovd must run as root", "euid", os.Geteuid())
		os.Exit(exitPrivilege)
	}

	// Probe the frequency steps first: trip-point validation needs maxPState.
	freq := newFreqControl(cfg.PState.ProbeCommand, cfg.PState.SetCommand, cfg.PState.QueryCommand)
	table, err := freq.Probe()
	if err != nil {
		logger.Error("capability probe failed", "error", err)
		os.Exit(exitHardware)
	}
	logger.Debug("frequency table", "steps", len(table),
		"min_khz", table[0], "max_khz", table[table.MaxPState()])

	if err := cfg.Validate(table.MaxPState()); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(exitConfig)
	}

	if err := checkControlSurfaces(&cfg); err != nil {
		logger.Error("control surface unavailable", "error", err)
		os.Exit(exitHardware)
	}

	trips := cfg.TripTable(table.MaxPState())
	sensor := newSensorReader(cfg.Sensor.Control, cfg.Sensor.Aux)
	fan := newFanControl(cfg.Fan.Mode, cfg.Fan.Duty, cfg.Fan.Tach)

	g := newGovernor(trips, table, cfg.Interval(), sensor, fan, freq, logger)

	// Capture original actuator state before the first evaluation.
	if err := g.captureOriginal(); err != nil {
		logger.Error("failed to capture original actuator state", "error", err)
		os.Exit(exitHardware)
	}

	// Termination signals cancel the loop; cleanup happens exactly once
	// below, after the loop returns, with further signals masked.
	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal received, shutting down", "signal", s.String())
		cancel()
	}()

	logger.Info("starting control loop",
		"version", version,
		"interval", cfg.Interval().String(),
		"control_sensor", cfg.Sensor.Control,
		"aux_sensors", len(cfg.Sensor.Aux),
		"trip_points", len(trips),
		"pstate_steps", len(table))

	runErr := g.run(ctx)
	restoreErr := g.restore()

	switch {
	case runErr != nil:
		logger.Error("control loop failed", "error", runErr)
		os.Exit(exitRuntime)
	case restoreErr != nil:
		os.Exit(exitRuntime)
	}
}

// checkControlSurfaces verifies the startup preconditions on every sensor
// and actuator path: readable sensors, writable fan registers. A read-only
// mode register usually means the driver's fan-control capability flag is
// off, so fail fast with a taxonomy-specific exit instead of mid-loop.
func checkControlSurfaces(cfg *Config) error {
	if err := unix.Access(cfg.Sensor.Control, unix.R_OK); err != nil {
		return fmt.Errorf("control sensor %s not readable: %w", cfg.Sensor.Control, err)
	}
	for _, aux := range cfg.Sensor.Aux {
		if err := unix.Access(aux, unix.R_OK); err != nil {
			return fmt.Errorf("auxiliary sensor %s not readable: %w", aux, err)
		}
	}
	for _, path := range []string{cfg.Fan.Mode, cfg.Fan.Duty} {
		if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
			return fmt.Errorf("fan register %s not writable (is fan control enabled in the driver?): %w", path, err)
		}
	}
	if cfg.Fan.Tach != "" {
		if err := unix.Access(cfg.Fan.Tach, unix.R_OK); err != nil {
			return fmt.Errorf("fan tachometer %s not readable: %w", cfg.Fan.Tach, err)
		}
	}
	return nil
}

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	source    string // replay|serial|socketcan
	replayLog string
	serialDev string
	baud      int
	canIf     string

	httpAddr    string
	metricsAddr string

	logFormat string
	logLevel  string

	tickEvery       time.Duration
	thresholdReads  uint
	windowActive    uint
	windowInactive  uint
	timeoutMultiFrame uint

	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	source := flag.String("source", "replay", "Frame source: replay|serial|socketcan")
	replayLog := flag.String("replay-log", "", "Path to a candump -L ascii log (required when --source=replay)")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial CAN-dongle device path (when --source=serial)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --source=socketcan)")
	httpAddr := flag.String("http-addr", ":8080", "Observation HTTP listen address (/dtcs/active, /dtcs/candidates)")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	tickEvery := flag.Duration("tick-interval", time.Second, "Interval between Engine.Tick calls")
	thresholdReads := flag.Uint("threshold-reads", 0, "Promotion threshold for candidate->active (0 = engine default)")
	windowActive := flag.Uint("window-active", 0, "Max candidate age in seconds before pruning (0 = engine default)")
	windowInactive := flag.Uint("window-inactive", 0, "Inactivity in seconds after which an active DTC is removed (0 = engine default)")
	timeoutMF := flag.Uint("timeout-multiframe", 0, "Max age in seconds of a partial BAM reassembly (0 = engine default)")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log a metrics summary")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the observation HTTP endpoint")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default dtcmon-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.source = *source
	cfg.replayLog = *replayLog
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.canIf = *canIf
	cfg.httpAddr = *httpAddr
	cfg.metricsAddr = *metricsAddr
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.tickEvery = *tickEvery
	cfg.thresholdReads = *thresholdReads
	cfg.windowActive = *windowActive
	cfg.windowInactive = *windowInactive
	cfg.timeoutMultiFrame = *timeoutMF
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not open devices or listeners — only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.source {
	case "replay", "serial", "socketcan":
	default:
		return fmt.Errorf("invalid source: %s", c.source)
	}
	if c.source == "replay" && c.replayLog == "" {
		return errors.New("--replay-log is required when --source=replay")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.tickEvery <= 0 {
		return errors.New("tick-interval must be > 0")
	}
	return nil
}

// applyEnvOverrides maps DTCMON_* environment variables onto cfg unless the
// corresponding flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["source"]; !ok {
		if v, ok := get("DTCMON_SOURCE"); ok && v != "" {
			c.source = v
		}
	}
	if _, ok := set["replay-log"]; !ok {
		if v, ok := get("DTCMON_REPLAY_LOG"); ok && v != "" {
			c.replayLog = v
		}
	}
	if _, ok := set["serial"]; !ok {
		if v, ok := get("DTCMON_SERIAL"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("DTCMON_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DTCMON_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["can-if"]; !ok {
		if v, ok := get("DTCMON_IF"); ok && v != "" {
			c.canIf = v
		}
	}
	if _, ok := set["http-addr"]; !ok {
		if v, ok := get("DTCMON_HTTP_ADDR"); ok && v != "" {
			c.httpAddr = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("DTCMON_METRICS_ADDR"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("DTCMON_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("DTCMON_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("DTCMON_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("DTCMON_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}

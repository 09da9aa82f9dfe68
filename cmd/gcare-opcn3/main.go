package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcare "github.com/CaderIdris/GCARE-OPCN3"
	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/opcn3"
	"github.com/CaderIdris/GCARE-OPCN3/internal/ports"
)

const defaultConfigPath = "./data/config.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "info":
		err = infoCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("gcare-opcn3 %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "Path to agent configuration file")
	simulate := fs.Bool("simulate", false, "Use the built-in sensor simulator instead of the serial port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := gcare.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *simulate {
		flow.Config().Device.Simulate = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := gcare.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good: port=%s baud=%d interval=%s\n",
		*cfgPath, cfg.Device.Port, cfg.Device.BaudRate, cfg.Schedule.Every)
	return nil
}

// infoCommand opens the sensor, prints its identification and closes it.
func infoCommand(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "Path to agent configuration file")
	timeout := fs.Duration("timeout", 30*time.Second, "Give up after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := gcare.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	sess, err := opcn3.Dial(ctx, cfg.Device, nil, ports.NopObservability{})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := sess.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}()

	info, err := sess.ReadInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("info:     %s\nserial:   %s\nfirmware: %s\n", info.Info, info.Serial, info.Firmware)
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"opcn3_samples_written_total":  0,
		"opcn3_slots_missed_total":     0,
		"opcn3_device_faults_total":    0,
		"opcn3_persist_failures_total": 0,
		"opcn3_device_connected":       0,
	}
	pm := map[string]float64{}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %f", &value); err == nil {
					targets[key] = value
				}
			}
		}
		if field, value, ok := parseScalarLine(line); ok {
			pm[field] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] samples=%.0f missed=%.0f faults=%.0f persist_failures=%.0f connected=%.0f pm1=%.3f pm2.5=%.3f pm10=%.3f\n",
		time.Now().Format(time.RFC3339),
		targets["opcn3_samples_written_total"],
		targets["opcn3_slots_missed_total"],
		targets["opcn3_device_faults_total"],
		targets["opcn3_persist_failures_total"],
		targets["opcn3_device_connected"],
		pm["PM1 (ug/m3)"],
		pm["PM2.5 (ug/m3)"],
		pm["PM10 (ug/m3)"],
	)
	return nil
}

// parseScalarLine reads lines like `opcn3_scalar{field="PM1 (ug/m3)"} 1.5`.
func parseScalarLine(line string) (string, float64, bool) {
	const prefix = `opcn3_scalar{field="`
	if !strings.HasPrefix(line, prefix) {
		return "", 0, false
	}
	rest := line[len(prefix):]
	end := strings.Index(rest, `"}`)
	if end < 0 {
		return "", 0, false
	}
	var value float64
	if _, err := fmt.Sscanf(strings.TrimSpace(rest[end+2:]), "%g", &value); err != nil {
		return "", 0, false
	}
	return rest[:end], value, true
}

func printUsage() {
	fmt.Printf(`GCARE OPC-N3 field agent

Usage:
  gcare-opcn3 <command> [flags]

Commands:
  run        Start the measurement loop using the provided config
  validate   Load and validate a config file without touching the sensor
  info       Print the sensor's information string, serial number and firmware
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  gcare-opcn3 run -config ./data/config.yaml
  gcare-opcn3 run -config ./data/config.yaml -simulate
  gcare-opcn3 validate -config ./data/config.yaml
  gcare-opcn3 info -config ./data/config.yaml
  gcare-opcn3 stats -url http://localhost:9100/metrics -interval 5s
`)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/elkampu/wpfhikip-sub000/internal/config"
	"github.com/elkampu/wpfhikip-sub000/internal/logging"
	"github.com/elkampu/wpfhikip-sub000/internal/mdns"
	"github.com/elkampu/wpfhikip-sub000/internal/server"
)

var (
	flagLogLevel string

	flagTimeout time.Duration
	flagSegment string
	flagJSON    bool

	flagServeHost string
	flagServePort int
	flagInterval  time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one discovery scan and print the results",
	RunE:  runScan,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run continuous discovery and serve the inventory over HTTP",
	Long: `Serve runs discovery sessions on a fixed interval, keeps a TTL-based
device cache, and exposes the inventory as JSON plus a WebSocket event
stream for dashboards.`,
	RunE: runServe,
}

func init() {
	scanCmd.Flags().DurationVar(&flagTimeout, "timeout", mdns.DefaultSessionTimeout,
		"session timeout (hard ceiling; scans often finish earlier)")
	scanCmd.Flags().StringVar(&flagSegment, "segment", "",
		"only accept replies from this CIDR, e.g. 192.168.1.0/24")
	scanCmd.Flags().BoolVar(&flagJSON, "json", false, "print results as JSON")

	serveCmd.Flags().StringVar(&flagServeHost, "host", "127.0.0.1", "bind address")
	serveCmd.Flags().IntVar(&flagServePort, "port", 8480, "bind port")
	serveCmd.Flags().DurationVar(&flagInterval, "interval", time.Minute, "time between scans")
	serveCmd.Flags().DurationVar(&flagTimeout, "timeout", mdns.DefaultSessionTimeout, "per-session timeout")
	serveCmd.Flags().StringVar(&flagSegment, "segment", "",
		"only accept replies from this CIDR, e.g. 192.168.1.0/24")
}

// buildOptions turns flags into engine options, with the optional CIDR
// filter parsed up front so a typo fails fast.
func buildOptions() (mdns.Options, error) {
	opts := mdns.Options{SessionTimeout: flagTimeout}
	if flagSegment != "" {
		_, segment, err := net.ParseCIDR(flagSegment)
		if err != nil {
			return opts, fmt.Errorf("invalid --segment %q: %w", flagSegment, err)
		}
		opts.TargetSegment = segment
	}
	return opts, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(flagLogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts, err := buildOptions()
	if err != nil {
		return err
	}

	engine := mdns.NewEngine(opts, logger)
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices, err := engine.Scan(ctx)
	if err != nil {
		return err
	}

	if flagJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	}

	printDeviceTable(devices)
	rememberDevices(devices, logger)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(flagLogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts, err := buildOptions()
	if err != nil {
		return err
	}

	engine := mdns.NewEngine(opts, logger)
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(&server.Config{
		Host:           flagServeHost,
		Port:           flagServePort,
		RescanInterval: flagInterval,
	}, engine, logger)
	return srv.Run(ctx)
}

func printDeviceTable(devices []mdns.Device) {
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tTYPE\tPORT\tMANUFACTURER\tMODEL")
	for _, dev := range devices {
		port := ""
		if dev.Port != 0 {
			port = fmt.Sprintf("%d", dev.Port)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			dev.IP, dev.DisplayName(), dev.Type, port, dev.Manufacturer, dev.Model)
	}
	_ = w.Flush()
	fmt.Printf("\n%d device(s) found.\n", len(devices))
}

// rememberDevices records last-seen metadata in the user registry so
// nicknames and history survive across runs. Registry trouble only warns;
// scan output already happened.
func rememberDevices(devices []mdns.Device, logger *zap.Logger) {
	if len(devices) == 0 {
		return
	}
	registry, err := config.LoadRegistry()
	if err != nil {
		logger.Warn("device registry unavailable", zap.Error(err))
		return
	}
	for _, dev := range devices {
		registry.UpdateDeviceLastSeen(dev.ID, dev.IP)
	}
	if err := registry.Save(); err != nil {
		logger.Warn("device registry save failed", zap.Error(err))
	}
}

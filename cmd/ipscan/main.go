package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kr1s57/ipreputation/internal/adapter/external/threatintel"
	"github.com/kr1s57/ipreputation/internal/adapter/parser/iplist"
	"github.com/kr1s57/ipreputation/internal/adapter/repository/memory"
	"github.com/kr1s57/ipreputation/internal/config"
	"github.com/kr1s57/ipreputation/internal/entity"
	"github.com/kr1s57/ipreputation/internal/usecase/ratelimit"
	"github.com/kr1s57/ipreputation/internal/usecase/scanner"
)

func usage() {
	fmt.Fprintln(os.Stderr, "ipscan - multi-provider IP reputation scanner")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage: ipscan [flags] [ip ...]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, "  ipscan -keys keys.yaml 45.33.32.50 188.114.96.0")
	fmt.Fprintln(os.Stderr, "  ipscan -file blocked.log -mode full -json")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}

func main() {
	keysFile := flag.String("keys", "", "YAML file with provider API keys")
	inputFile := flag.String("file", "", "read IPs from a text file (- for stdin)")
	modeFlag := flag.String("mode", "", "scan mode: smart or full (default from SCAN_DEFAULT_MODE)")
	asJSON := flag.Bool("json", false, "print results as JSON")
	verbose := flag.Bool("v", false, "print provider results as they arrive")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall timeout")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	parsed, err := collectIPs(*inputFile, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading IPs: %v\n", err)
		os.Exit(1)
	}
	for _, bad := range parsed.Rejected {
		fmt.Fprintf(os.Stderr, "Warning: ignoring invalid address %s\n", bad)
	}
	if len(parsed.IPs) == 0 {
		usage()
		os.Exit(2)
	}

	mode := cfg.Scan.DefaultMode
	if *modeFlag != "" {
		if mode, err = entity.ParseScanMode(*modeFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	}

	keySet, err := buildKeySet(*keysFile, cfg.SeedKeys, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading keys: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	store := memory.NewStore()
	limiter := ratelimit.NewLimiter(cfg.RateLimits, store, ratelimit.WithLogger(logger))
	coordinator := scanner.NewCoordinator(
		threatintel.NewDefaultRegistry(threatintel.MockConfig{Latency: cfg.Scan.MockLatency}),
		limiter,
		scanner.CoordinatorConfig{
			Smart:  scanner.SmartScanPolicy{Primary: cfg.Scan.SmartPrimary, Threshold: cfg.Scan.SmartThreshold},
			Logger: logger,
		},
	)

	var events scanner.Publisher
	if *verbose {
		events = scanner.PublisherFunc(func(e scanner.Event) {
			if e.Type == scanner.EventProviderResult && e.Result != nil {
				fmt.Fprintf(os.Stderr, "  %-15s %-12s %s\n", e.IP, e.Result.Provider, e.Result.Status)
			}
		})
	}

	runner := scanner.NewBatchRunner(coordinator, scanner.NewHistory(ctx, store, logger), events, scanner.BatchRunnerConfig{
		DispatchRate:  cfg.Scan.DispatchRate,
		DispatchBurst: cfg.Scan.DispatchBurst,
		Logger:        logger,
	})
	defer runner.Close()

	ticket, err := runner.Run(ctx, scanner.BatchRequest{IPs: parsed.IPs, Mode: mode, Keys: keySet})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	results := ticket.Results()
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding results: %v\n", err)
			os.Exit(1)
		}
		return
	}
	printTable(os.Stdout, results)
}

// collectIPs merges IPs from the input file and the command line
func collectIPs(path string, args []string) (iplist.Result, error) {
	text := strings.Join(args, "\n")
	if path == "" {
		return iplist.Extract(text), nil
	}

	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return iplist.Result{}, err
		}
		defer f.Close()
		r = f
	}
	return iplist.ExtractReader(io.MultiReader(strings.NewReader(text+"\n"), r))
}

func printTable(w io.Writer, results []entity.AggregatedScanResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IP\tOVERALL\tVIRUSTOTAL\tABUSEIPDB\tSCAMALYTICS")
	for _, scan := range results {
		row := []string{scan.IP, string(scan.OverallSeverity)}
		for _, p := range entity.AllProviders() {
			row = append(row, cell(scan, p))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func cell(scan entity.AggregatedScanResult, p entity.Provider) string {
	r, ok := scan.Slot(p)
	switch {
	case !ok:
		return "-"
	case r.Status == entity.StatusSuccess && r.Score != nil:
		return fmt.Sprintf("%s (%d)", r.Severity, *r.Score)
	case r.Status == entity.StatusSuccess:
		return string(r.Severity)
	default:
		return string(r.Status)
	}
}

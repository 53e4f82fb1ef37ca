package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"

	"github.com/gale-rmm/reaper/internal/allowlist"
	"github.com/gale-rmm/reaper/internal/audit"
	"github.com/gale-rmm/reaper/internal/broker"
	"github.com/gale-rmm/reaper/internal/config"
	"github.com/gale-rmm/reaper/internal/logging"
	"github.com/gale-rmm/reaper/internal/reaper"
	"github.com/gale-rmm/reaper/internal/statusd"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "reaper",
	Short: "Gale disconnected-session reaper",
	Long:  `Gale Reaper - logs off disconnected broker sessions running allow-listed applications`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the reaper loop",
	Run: func(cmd *cobra.Command, args []string) {
		runReaper()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Parse and print the allowlist, then exit",
	Run: func(cmd *cobra.Command, args []string) {
		checkAllowlist()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running reaper's status server",
	Run: func(cmd *cobra.Command, args []string) {
		queryStatus()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Gale Reaper v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/gale-reaper/reaper.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runReaper() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Validate()

	logging.Init(cfg.LogFormat, cfg.LogLevel, nil)
	log := logging.L("main")

	if info, err := host.Info(); err == nil {
		log.Info("reaper starting",
			"version", version,
			"host", info.Hostname,
			"os", info.Platform,
			"uptime", time.Duration(info.Uptime)*time.Second,
		)
	} else {
		log.Info("reaper starting", "version", version)
	}

	var auditLog *audit.Logger
	if cfg.AuditEnabled {
		auditLog, err = audit.NewLogger(audit.Options{
			Dir:        config.GetDataDir(),
			MaxSizeMB:  cfg.AuditMaxSizeMB,
			MaxBackups: cfg.AuditMaxBackups,
		})
		if err != nil {
			log.Error("failed to start audit logger", logging.KeyError, err)
		} else {
			auditLog.Log(audit.EventReaperStart, "", "", map[string]any{"version": version})
		}
	}

	client := broker.NewClient(cfg.BrokerAPIURL, cfg.AuthToken,
		time.Duration(cfg.RequestTimeoutSeconds)*time.Second)

	r := reaper.New(cfg, client, client)
	r.SetAuditLogger(auditLog)

	var status *statusd.Server
	if cfg.StatusAddr != "" {
		status = statusd.New(cfg.StatusAddr, r, version)
		r.OnReap(status.Publish)
		go func() {
			if err := status.Start(); err != nil {
				log.Error("status server failed", logging.KeyError, err)
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())
		r.Stop()
		<-runErr
	case err := <-runErr:
		// The loop only returns on its own for fatal config errors.
		log.Error("reaper halted", logging.KeyError, err)
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		exitCode = 1
	}

	if status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		status.Shutdown(ctx)
		cancel()
	}
	if auditLog != nil {
		auditLog.Log(audit.EventReaperStop, "", "", nil)
		auditLog.Close()
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func checkAllowlist() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	f, err := allowlist.Load(cfg.AllowlistPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Allowlist check failed: %v\n", err)
		os.Exit(1)
	}

	brokers := f.Brokers()
	fmt.Printf("Allowlist: %s\n", cfg.AllowlistPath)
	fmt.Printf("Brokers: %d\n", len(brokers))
	for _, b := range brokers {
		entries := f.AllowList(b)
		fmt.Printf("  [%s] %d target(s)\n", b, len(entries))
		for _, e := range entries {
			fmt.Printf("    %s = %s\n", strings.TrimSpace(e.Alias), strings.TrimSpace(e.Target))
		}
	}
	if s := f.Section(allowlist.NoSection); s != nil {
		fmt.Printf("Warning: %d entries before any [broker] section are ignored\n", len(s.Keys()))
	}
}

func queryStatus() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.StatusAddr == "" {
		fmt.Fprintln(os.Stderr, "No status_addr configured; the running reaper has no status server.")
		os.Exit(1)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + cfg.StatusAddr + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status query failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status read failed: %v\n", err)
		os.Exit(1)
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
}

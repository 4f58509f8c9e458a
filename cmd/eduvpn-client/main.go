package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/Amebis/eduvpn-client/internal/app"
	"github.com/Amebis/eduvpn-client/internal/config"
	"github.com/Amebis/eduvpn-client/internal/ipc"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitConfig  = 3
)

var rootCmd = &cobra.Command{
	Use:   "eduvpn-client",
	Short: "eduVPN client core",
	Long: `Desktop client core for eduVPN-compatible VPN services.

This binary operates in two modes:
  - run:   Run the client instance (event loop, control socket)
  - other: Forward a command to the running instance and exit

The running instance owns the single live VPN session; connect,
disconnect, renew, forget and status forward to it over a local control
socket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the client instance",
	Long: `Start the client instance.

The instance:
  - Connects to the provisioning engine and drains its event stream
  - Auto-reconnects to the last used server when one is remembered
  - Listens on a control socket for forwarded commands
  - Checks for application updates in the background`,
	RunE: runRun,
}

// overrideExitCode is set by subcommands (check-config) so main() can call
// os.Exit() after cobra finishes.  This avoids calling os.Exit() inside
// RunE which would bypass deferred functions.  -1 means "use default".
var overrideExitCode = -1

var connectCmd = &cobra.Command{
	Use:   "connect <server>",
	Short: "Connect to a server",
	Long: `Ask the running instance to connect to a server.

The argument is a server identity known to the instance, or the base URL
of a server to add. The command returns once the instance has accepted
the request; the connection itself proceeds in the instance.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect the current session",
	Args:  cobra.NoArgs,
	RunE:  runDisconnect,
}

var renewCmd = &cobra.Command{
	Use:   "renew <server>",
	Short: "Renew the session with a server",
	Long: `Ask the running instance to renew the session with a server.

Renewal drops the server's cached authorization and certificate and runs
a fresh interactive authorization before reconnecting.`,
	Args: cobra.ExactArgs(1),
	RunE: runRenew,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <server>",
	Short: "Forget a server",
	Long: `Ask the running instance to forget a server.

This removes the server from the engine and deletes the stored
authorization, cached certificate and remembered settings for it.`,
	Args: cobra.ExactArgs(1),
	RunE: runForget,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running instance's status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long: `Load and validate the configuration file without starting the client.

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

func init() {
	// Global flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to configuration file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(renewCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	// If a subcommand set a specific exit code, use it.
	// This is done outside RunE so deferred functions run properly.
	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// loadConfig loads the configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		c, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.DefaultConfig()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

// runRun starts the client instance
func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	config.SetupLogging(&cfg.Log)

	a, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to initialize client: %w", err)
	}

	return a.Run(context.Background())
}

// forward sends one command to the running instance.
func forward(cmd *ipc.Command) (*ipc.Result, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := ipc.NewClient(cfg.IPC.Socket).Send(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("no running instance (start one with 'eduvpn-client run'): %w", err)
	}
	if res.Status != ipc.StatusOK {
		return nil, fmt.Errorf("command failed: %s", res.Error)
	}
	return res, nil
}

// runConnect forwards a connect request
func runConnect(cmd *cobra.Command, args []string) error {
	if _, err := forward(&ipc.Command{Name: ipc.CommandConnect, Server: args[0]}); err != nil {
		return err
	}
	fmt.Printf("Connecting to %s\n", args[0])
	return nil
}

// runDisconnect forwards a disconnect request
func runDisconnect(cmd *cobra.Command, args []string) error {
	if _, err := forward(&ipc.Command{Name: ipc.CommandDisconnect}); err != nil {
		return err
	}
	fmt.Println("Disconnected")
	return nil
}

// runRenew forwards a session renewal request
func runRenew(cmd *cobra.Command, args []string) error {
	if _, err := forward(&ipc.Command{Name: ipc.CommandRenew, Server: args[0]}); err != nil {
		return err
	}
	fmt.Printf("Renewing session with %s\n", args[0])
	return nil
}

// runForget forwards a forget request
func runForget(cmd *cobra.Command, args []string) error {
	if _, err := forward(&ipc.Command{Name: ipc.CommandForget, Server: args[0]}); err != nil {
		return err
	}
	fmt.Printf("Forgot %s\n", args[0])
	return nil
}

// runStatus forwards a status request
func runStatus(cmd *cobra.Command, args []string) error {
	res, err := forward(&ipc.Command{Name: ipc.CommandStatus})
	if err != nil {
		return err
	}

	fmt.Printf("Page:   %s\n", res.Page)
	if res.Server != "" {
		fmt.Printf("Server: %s\n", res.Server)
	} else {
		fmt.Println("Server: (no active session)")
	}
	return nil
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("eduvpn-client version %s\n", version)
	fmt.Printf("  Commit:     %s\n", commit)
	fmt.Printf("  Build date: %s\n", buildDate)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed:\n")
		fmt.Fprintf(os.Stderr, "   %v\n", err)
		overrideExitCode = ExitConfig
		return nil // exit code handled via overrideExitCode
	}

	fmt.Println("Configuration is valid")
	fmt.Println()
	fmt.Println("Configuration summary:")
	fmt.Printf("  Client ID:       %s\n", cfg.Client.ID)
	fmt.Printf("  Display name:    %s\n", cfg.Client.DisplayName)
	fmt.Printf("  State file:      %s\n", cfg.Paths.StateFile)
	fmt.Printf("  Certificate dir: %s\n", cfg.Paths.CertificateDir)
	fmt.Printf("  Engine socket:   %s\n", cfg.Engine.Socket)
	fmt.Printf("  Control socket:  %s\n", cfg.IPC.Socket)
	fmt.Printf("  OAuth listener:  %s\n", cfg.OAuth.ListenAddress)
	fmt.Printf("  Updates:         %v (%s)\n", cfg.Update.Enabled, cfg.Update.DiscoveryURL)
	fmt.Printf("  Log level:       %s\n", cfg.Log.Level)
	fmt.Printf("  Log format:      %s\n", cfg.Log.Format)

	return nil
}

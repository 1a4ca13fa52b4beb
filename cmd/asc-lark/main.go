package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/appstore"
	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/config"
	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/doctor"
	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/lark"
	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/log"
	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/metrics"
	"github.com/AlexV525/app-store-webhook-lark-forwarder/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	// A missing .env is normal; the real environment still applies.
	_ = godotenv.Load()
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT COMMANDS ---
	case "send":
		if hasHelpFlag(args) {
			printSendHelp(os.Stdout)
			return 0
		}
		return runSend(args)
	case "start", "serve":
		if hasHelpFlag(args) {
			printSystemStartHelp()
			return 0
		}
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`asc-lark - App Store Connect webhook relay for Lark

Usage:
  asc-lark <noun> <action> [flags]
  asc-lark <command> [flags]

System Commands:
  system start      Run the webhook server in foreground (aliases: start, serve)

Config Commands:
  config check      Validate configuration and credentials

Other Commands:
  send              Send a one-off card to the configured Lark webhook
  version           Show version information
  help              Show this help

Configuration:
  --config PATH, else $ASC_LARK_CONFIG, ~/.config/asc-lark/config.yaml,
  /etc/asc-lark/config.yaml or ./config.yaml. Environment variables override
  the file:
  LARK_WEBHOOK_URL, LARK_SIGNING_SECRET, APP_STORE_CONNECT_SECRET,
  KEY_ID, ISSUER_ID, APPSTORE_PRIVATE_KEY, LISTEN_ADDR, LOG_LEVEL, LOG_FORMAT
  A .env file in the working directory is loaded first.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: asc-lark system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: asc-lark config <action>")
	fmt.Fprintln(w, "Actions: check")
}

func printSystemStartHelp() {
	fmt.Println("Usage: asc-lark system start [--config PATH]")
	fmt.Println("Run the webhook server until SIGINT or SIGTERM.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: asc-lark config check [--config PATH] [--json] [--strict]")
	fmt.Println("Exit codes: 0 valid, 1 errors, 2 warnings with --strict.")
}

func printSendHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: asc-lark send --title TITLE --content MARKDOWN [--config PATH]")
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		printSystemNounHelp(os.Stderr)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file (optional)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	*configPath = resolveConfigPath(*configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("asc-lark starting", "version", version, "config", *configPath)

	for _, w := range doctor.New(cfg).Validate().Warnings {
		logger.Warn("configuration warning", "field", w.Field, "message", w.Message)
	}

	srv, err := buildServer(cfg)
	if err != nil {
		logger.Error("failed to build webhook server", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
	case err := <-errCh:
		logger.Error("webhook server stopped", "error", err)
		return 1
	}

	logger.Info("asc-lark stopped")
	return 0
}

// resolveConfigPath falls back to a discovered file when no --config was given.
// An empty result means environment-only configuration.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	discovered := config.DiscoverConfigFile()
	if discovered != "" {
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	}
	return discovered
}

// buildServer wires the relay components from a validated configuration.
func buildServer(cfg *config.Config) (*webhook.Server, error) {
	maxBody, err := config.ParseSize(cfg.Webhook.MaxBodySize)
	if err != nil {
		return nil, fmt.Errorf("webhook.max_body_size: %w", err)
	}

	client := appstore.NewClient(appstore.Config{
		Credentials: appstore.Credentials{
			KeyID:      cfg.AppStore.KeyID,
			IssuerID:   cfg.AppStore.IssuerID,
			PrivateKey: cfg.AppStore.PrivateKey,
		},
		BaseURL: cfg.AppStore.BaseURL,
		Timeout: cfg.AppStore.Timeout,
	}, log.WithComponent("appstore"))

	// A nil resolver skips enrichment instead of failing it on every request.
	var resolver webhook.MetadataResolver
	if client.Enabled() {
		resolver = client
	}

	notifier := newNotifier(cfg)

	var m *metrics.Metrics
	metricsPath := ""
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsPath = cfg.Metrics.Path
	}

	return webhook.New(webhook.Config{
		Listen:          cfg.Webhook.Listen,
		Path:            cfg.Webhook.Path,
		Secret:          cfg.Webhook.Secret,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		MaxBodySize:     maxBody,
		MetricsPath:     metricsPath,
	}, resolver, notifier, m, log.WithComponent("webhook")), nil
}

func newNotifier(cfg *config.Config) *lark.Notifier {
	return lark.NewNotifier(lark.Config{
		WebhookURL:    cfg.Lark.WebhookURL,
		SigningSecret: cfg.Lark.SigningSecret,
		Timeout:       cfg.Lark.Timeout,
	}, log.WithComponent("lark"))
}

func runSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file (optional)")
	title := fs.String("title", "", "Card title")
	content := fs.String("content", "", "Card body (lark_md)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *title == "" || *content == "" {
		printSendHelp(os.Stderr)
		return 1
	}

	cfg, err := config.LoadUnvalidated(resolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.Lark.WebhookURL == "" {
		fmt.Fprintf(os.Stderr, "Lark webhook URL is not configured (set %s)\n", config.EnvLarkWebhookURL)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithDelivery(uuid.NewString())

	card := lark.FormatCard(*title, *content, "", "")
	if err := newNotifier(cfg).Send(context.Background(), card); err != nil {
		logger.Error("send failed", "error", err)
		fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
		return 1
	}

	fmt.Println("Message sent.")
	return 0
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to YAML configuration file (optional)")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadUnvalidated(resolveConfigPath(configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("asc-lark %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

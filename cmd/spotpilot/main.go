package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"spotpilot/internal/app"
	"spotpilot/internal/config"
	"spotpilot/internal/decision"
	"spotpilot/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "spotpilot",
		Short:         "Spot-market trading decision and order lifecycle engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runEngine,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $SPOTPILOT_CONFIG or configs/config.yaml)")
	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start decision triggers, reconciliation and the HTTP API",
		RunE:  runEngine,
	})
	root.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Run a single reconciliation tick and print the report",
		RunE:  runReconcile,
	})
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Evaluate and execute one proposal file",
		RunE:  runSubmit,
	}
	submit.Flags().String("file", "", "proposal file (JSON or YAML)")
	_ = submit.MarkFlagRequired("file")
	root.AddCommand(submit)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runEngine(cmd *cobra.Command, _ []string) error {
	a, closeLog, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLog()
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("运行失败: %w", err)
	}
	logger.Infof("spotpilot stopped")
	return nil
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	a, closeLog, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLog()
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()
	if err := a.Rules.Load(ctx); err != nil {
		logger.Warnf("加载交易规则失败: %v", err)
	}
	rep, err := a.Reconciler.RunOnce(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), rep)
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString("file")
	a, closeLog, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeLog()
	defer a.Close()

	p, err := decision.LoadProposalFile(file, a.Config().Trading.DefaultSymbol, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("读取建议文件失败: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	out, err := a.Engine.Submit(ctx, p)
	if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
		return perr
	}
	return err
}

func bootstrap() (*app.App, func(), error) {
	// .env 不存在时忽略
	_ = godotenv.Load()
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置失败: %w", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	closeLog := func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetJSON(cfg.App.LogJSON)
	logger.Infof("✓ 配置加载成功（环境=%s，配置=%s）", cfg.App.Env, path)

	a, err := app.NewApp(cfg)
	if err != nil {
		closeLog()
		return nil, nil, fmt.Errorf("初始化应用失败: %w", err)
	}
	return a, closeLog, nil
}

func resolveConfigPath() string {
	if p := strings.TrimSpace(cfgPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("SPOTPILOT_CONFIG")); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

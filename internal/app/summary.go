package app

import (
	"fmt"
	"strings"
	"time"
)

type StartupSummary struct {
	Exchange         string
	Live             bool
	Symbols          []string
	DecisionInterval string
	ProposalPath     string
	ProposalDir      string
	ReconcileEvery   time.Duration
	StorePath        string
	EventLogPath     string
	HTTPAddr         string
	FeeGateClosed    bool
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	mode := "DRY RUN"
	if s.Live {
		mode = "LIVE"
	}
	fmt.Println("[交易 (TRADING)]")
	fmt.Printf("  交易所: %s (%s)\n", s.Exchange, mode)
	fmt.Printf("  交易对: %s\n", formatList(s.Symbols))
	gate := "fail-open"
	if s.FeeGateClosed {
		gate = "fail-closed"
	}
	fmt.Printf("  手续费闸门: %s\n", gate)
	fmt.Println()

	fmt.Println("[触发器 (TRIGGERS)]")
	fmt.Printf("  决策周期: %s\n", orDash(s.DecisionInterval))
	fmt.Printf("  建议文件: %s\n", orDash(s.ProposalPath))
	fmt.Printf("  建议目录: %s\n", orDash(s.ProposalDir))
	fmt.Printf("  对账间隔: %s\n", s.ReconcileEvery)
	fmt.Println()

	fmt.Println("[存储与接口 (STORAGE & API)]")
	fmt.Printf("  建议存储: %s\n", orDash(s.StorePath))
	fmt.Printf("  事件日志: %s\n", orDash(s.EventLogPath))
	fmt.Printf("  HTTP: %s\n", orDash(s.HTTPAddr))
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

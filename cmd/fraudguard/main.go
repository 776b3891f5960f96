package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fraudguard/internal/app"
	"fraudguard/internal/config"
	"fraudguard/internal/dispute"
	"fraudguard/internal/identity"
	"fraudguard/internal/logging"
	"fraudguard/internal/transaction"
	"fraudguard/pkg/models"
)

var (
	configFile string
	verbose    bool

	analyzeAll bool

	disputeStatus string
	disputeLimit  int

	commitFields map[string]string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "fraudguard",
		Short:         "交易欺诈分析与争议处理工具",
		Long:          `对交易做欺诈评分、查看争议记录、生成身份承诺`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "配置文件路径，为空时使用默认配置与环境变量")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [transaction-id...]",
		Short: "分析交易，评分服务不可用时使用降级结果",
		RunE:  runAnalyze,
	}
	analyzeCmd.Flags().BoolVar(&analyzeAll, "all", false, "分析交易源中的全部交易（最多一页上限）")

	disputesCmd := &cobra.Command{
		Use:   "disputes",
		Short: "列出争议",
		RunE:  runDisputes,
	}
	disputesCmd.Flags().StringVar(&disputeStatus, "status", "", "按状态过滤 (open, voting, resolved)")
	disputesCmd.Flags().IntVar(&disputeLimit, "limit", 50, "最多显示条数")

	commitCmd := &cobra.Command{
		Use:   "commit",
		Short: "对身份字段生成哈希承诺（不是零知识证明）",
		RunE:  runCommit,
	}
	commitCmd.Flags().StringToStringVar(&commitFields, "field", nil, "身份字段，如 --field name=Alice --field country=NZ")

	rootCmd.AddCommand(analyzeCmd, disputesCmd, commitCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

func loadApp() (*app.App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	// 命令行输出走 stdout，日志统一写 stderr
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return app.Build(cfg, logger)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer a.Close(context.Background())

	ids := args
	if analyzeAll {
		page, err := a.Transactions.List(ctx, transaction.Filter{Limit: transaction.MaxLimit})
		if err != nil {
			return fmt.Errorf("读取交易失败: %w", err)
		}
		for _, tx := range page.Items {
			ids = append(ids, tx.ID)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("请指定交易ID或使用 --all")
	}

	items, err := a.Analyzer.BulkAnalyze(ctx, ids)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-38s %-6s %-11s %-10s %-9s\n", "TRANSACTION", "SCORE", "VERDICT", "CONFIDENCE", "SOURCE")
	fmt.Fprintln(out, strings.Repeat("=", 78))
	for _, item := range items {
		if item.Error != "" {
			fmt.Fprintf(out, "%-38s 错误: %s\n", item.TransactionID, item.Error)
			continue
		}
		r := item.Result
		fmt.Fprintf(out, "%-38s %-6d %-11s %-10d %-9s\n", item.TransactionID, r.FraudScore, r.Verdict, r.Confidence, r.Source)
	}
	return nil
}

func runDisputes(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	status := models.DisputeStatus(disputeStatus)
	if status != "" && status.Rank() < 0 {
		return fmt.Errorf("无效的争议状态: %s", disputeStatus)
	}
	if a.Config.Storage.Driver != "bolt" {
		a.Logger.WithField("driver", a.Config.Storage.Driver).Warn("内存存储在进程间不保留争议，结果为空")
	}

	items, err := a.Lifecycle.ListDisputes(cmd.Context(), dispute.ListFilter{
		Status: status,
		Limit:  disputeLimit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-38s %-20s %-9s %-9s %-5s %-5s\n", "DISPUTE", "TRANSACTION", "STATUS", "RESULT", "FOR", "AGST")
	fmt.Fprintln(out, strings.Repeat("=", 92))
	for _, d := range items {
		resolution := "-"
		if d.Resolution != nil {
			resolution = string(*d.Resolution)
		}
		fmt.Fprintf(out, "%-38s %-20s %-9s %-9s %-5d %-5d\n", d.ID, d.TransactionID, d.Status, resolution, d.VotesFor, d.VotesAgainst)
	}
	fmt.Fprintf(out, "共 %d 条\n", len(items))
	return nil
}

func runCommit(cmd *cobra.Command, args []string) error {
	cm, err := identity.NewCommitter().Commit(commitFields)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(cm)
}

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/cloudreap/cloudreap/pkg/config"
	"github.com/cloudreap/cloudreap/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	policyFile string
	runCfg     = config.DefaultRunConfig()
)

var rootCmd = &cobra.Command{
	Use:   "cloudreap",
	Short: "Resource reclamation and anomaly detection for AWS",
	Long: `CloudReap - The Cloud Janitor

Discover. Evaluate. Reclaim.`,
	Version: version.Current,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ~/.cloudreap.yaml)")
	pf.StringVar(&runCfg.Region, "region", config.DefaultRegion, "AWS Region")
	pf.IntVar(&runCfg.MaxConcurrency, "concurrency", runCfg.MaxConcurrency, "Worker pool size")
	pf.StringVar(&policyFile, "policy", "", "HCL policy file overriding default thresholds")
	pf.StringVar(&runCfg.RulesFile, "rules", "", "YAML file of exemption rules")
	pf.BoolVar(&runCfg.CalibrateRates, "calibrate-rates", false, "Fetch live storage rates from the Pricing API")
	pf.StringVar(&runCfg.FlowLogGroup, "flow-log-group", "", "VPC flow log group for traffic detectors")
	pf.StringVar(&runCfg.SlackWebhook, "slack-webhook", "", "Slack Webhook URL")
	pf.StringVar(&runCfg.SlackChannel, "slack-channel", "", "Slack channel override")
	pf.StringVar(&runCfg.HistoryURL, "history", "", "History store (s3://bucket/prefix or local dir)")
	pf.StringVar(&runCfg.OutputDir, "output-dir", runCfg.OutputDir, "Report output directory")
	pf.StringVar(&runCfg.AuditLog, "audit-log", "", "Append-only JSONL audit log path")
	pf.BoolVar(&runCfg.StrictMode, "strict", false, "Exit non-zero on partial results")
	pf.BoolVarP(&runCfg.Verbose, "verbose", "v", false, "Verbose logging")
	pf.BoolVar(&runCfg.JsonLogs, "json-logs", false, "Structured JSON log output")
	pf.StringVar(&runCfg.OtelEndpoint, "otel-endpoint", "", "OTLP trace endpoint")

	viper.BindPFlags(pf)

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.SetConfigFile(filepath.Join(home, ".cloudreap.yaml"))
			viper.SetConfigType("yaml")
		}
	}
	viper.SetEnvPrefix("CLOUDREAP")
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

// loadPolicy overlays the optional HCL file on the built-in defaults.
func loadPolicy() (config.Policy, error) {
	if policyFile == "" {
		return config.DefaultPolicy(), nil
	}
	return config.LoadPolicyHCL(policyFile)
}

func renderHelp(cmd *cobra.Command) {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00FF99")).
		MarginBottom(1)

	flagStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA"))

	fmt.Println(titleStyle.Render(fmt.Sprintf("CLOUDREAP %s", version.Current)))
	fmt.Println("Resource reclamation and anomaly detection for AWS.")

	fmt.Println(titleStyle.Render("USAGE"))
	fmt.Printf("  %s\n\n", cmd.UseLine())

	fmt.Println(titleStyle.Render("COMMANDS"))
	for _, c := range cmd.Commands() {
		if c.IsAvailableCommand() {
			fmt.Printf("  %-12s %s\n", c.Name(), c.Short)
		}
	}
	fmt.Println("")

	fmt.Println(titleStyle.Render("FLAGS"))
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		output := fmt.Sprintf("  --%-16s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
			output += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Println(flagStyle.Render(output))
	})
	fmt.Println("")
}

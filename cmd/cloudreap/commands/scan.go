package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudreap/cloudreap/pkg/engine"
	"github.com/cloudreap/cloudreap/pkg/engine/anomaly"
	"github.com/cloudreap/cloudreap/pkg/engine/report"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Dry-run: evaluate and report without touching anything",
	Long: `Discover reclamation candidates, evaluate them against policy, and
report projected savings and anomalies. No resource is modified.

Example:
  cloudreap scan --region us-west-2 --flow-log-group /vpc/flow-logs`,
	Run: func(cmd *cobra.Command, args []string) {
		runCfg.Live = false
		rep, err := runEngine(cmd.Context())
		if rep.GeneratedAt.IsZero() && err != nil {
			fmt.Printf("Error running scan: %v\n", err)
			os.Exit(1)
		}
		printSummary(rep)
		if err != nil {
			fmt.Printf("\n%v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runEngine(ctx context.Context) (report.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	policy, err := loadPolicy()
	if err != nil {
		return report.Report{}, fmt.Errorf("failed to load policy: %w", err)
	}

	e, err := engine.New(ctx,
		engine.WithRunConfig(runCfg),
		engine.WithPolicy(policy),
	)
	if err != nil {
		return report.Report{}, err
	}
	return e.Run(ctx)
}

func printSummary(rep report.Report) {
	fmt.Printf("\n[ %s ] region=%s", rep.Mode, rep.Region)
	if rep.Account != "" {
		fmt.Printf(" account=%s", rep.Account)
	}
	fmt.Println("")

	fmt.Printf("  Resources analyzed:  %d\n", rep.Cost.TotalResources)
	fmt.Printf("  Monthly cost:        $%.2f\n", rep.Cost.TotalMonthlyCost)
	fmt.Printf("  Untagged cost:       $%.2f (%.1f%% of resources)\n",
		rep.Cost.UntaggedMonthlyCost, rep.Cost.UntaggedPercentage)
	fmt.Printf("  Projected savings:   $%.2f/mo across %d resources\n",
		rep.TotalSavings, len(rep.Results))

	if len(rep.Recommendations) > 0 {
		fmt.Printf("  Sizing advice:       %d instances\n", len(rep.Recommendations))
	}
	if rep.ExcludedCount > 0 {
		fmt.Printf("  Excluded:            %d", rep.ExcludedCount)
		for reason, n := range rep.Denials {
			fmt.Printf(" %s=%d", reason, n)
		}
		fmt.Println("")
	}

	for _, a := range rep.Anomalies {
		marker := "!"
		if a.Severity == anomaly.SeverityHigh {
			marker = "!!"
		}
		fmt.Printf("  [%s] %s: %s\n", marker, a.Detector, a.Message)
	}
	for _, s := range rep.SkippedDetectors {
		fmt.Printf("  [skipped] %s: %s\n", s.Detector, s.Reason)
	}
	if len(rep.RejectedTraffic) > 0 {
		fmt.Println("  Most refused traffic:")
		for _, d := range rep.RejectedTraffic {
			fmt.Printf("    %s -> port %s (%d hits)\n", d.Source, d.Port, int(d.Count))
		}
	}

	if rep.Partial {
		fmt.Println("\n[WARN] Partial results. Some scopes or detectors failed.")
		for _, f := range rep.FailedScopes {
			fmt.Printf("  %s: %s\n", f.Scope, f.Error)
		}
	}
}

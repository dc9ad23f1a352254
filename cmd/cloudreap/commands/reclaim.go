package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var reclaimYes bool

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Live run: snapshot, then delete eligible resources",
	Long: `Runs the full pipeline in live mode. Every deletion is preceded by a
tombstone record and, for volumes, a safety snapshot.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !reclaimYes {
			fmt.Println("[WARNING] DESTRUCTIVE MODE INITIATED")
			fmt.Println("This operation will permanently DELETE resources from your AWS account.")
			fmt.Printf("Target region: %s\n", runCfg.Region)
			fmt.Print("Confirm execution? [y/N]: ")

			scanner := bufio.NewScanner(os.Stdin)
			if scanner.Scan() {
				text := strings.ToLower(strings.TrimSpace(scanner.Text()))
				if text != "y" && text != "yes" {
					fmt.Println("Aborted.")
					return
				}
			}
		}

		runCfg.Live = true
		rep, err := runEngine(cmd.Context())
		if rep.GeneratedAt.IsZero() && err != nil {
			fmt.Printf("Error running reclamation: %v\n", err)
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
	rootCmd.AddCommand(reclaimCmd)
	reclaimCmd.Flags().BoolVar(&reclaimYes, "yes", false, "Skip the confirmation prompt")
}

package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/cloudreap/cloudreap/pkg/engine/reclaim"
)

// WriteJSON writes the full report to a JSON file.
func (r Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// WriteCSV writes the reclamation results to a CSV file, sorted by savings
// descending so the biggest wins lead.
func (r Report) WriteCSV(path string) error {
	items := make([]reclaim.Result, len(r.Results))
	copy(items, r.Results)
	sort.Slice(items, func(i, j int) bool {
		if items[i].Savings != items[j].Savings {
			return items[i].Savings > items[j].Savings
		}
		return items[i].Decision.Candidate.ID < items[j].Decision.Candidate.ID
	})

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"ResourceID",
		"Kind",
		"Region",
		"NameTag",
		"MonthlySavings",
		"Outcome",
		"SnapshotID",
		"Attempts",
		"Error",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, item := range items {
		c := item.Decision.Candidate
		record := []string{
			c.ID,
			string(c.Kind),
			c.Region,
			c.Tags["Name"],
			fmt.Sprintf("$%.2f", item.Savings),
			string(item.Outcome),
			item.SnapshotID,
			fmt.Sprintf("%d", item.Attempts),
			item.Error,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Error()
}

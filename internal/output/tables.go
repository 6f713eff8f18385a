package output

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/dshills/codegrep/internal/indexer"
	"github.com/dshills/codegrep/internal/storage"
	"github.com/dshills/codegrep/pkg/types"
)

func newKeyValueTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	return table
}

// RenderStats writes the statistics of one revalidation run as a table
func RenderStats(w io.Writer, stats *indexer.Statistics) {
	table := newKeyValueTable(w, []string{"Revalidation", "Value"})

	table.Append([]string{"Files scanned", fmt.Sprintf("%d", stats.FilesScanned)})
	table.Append([]string{"Up to date", fmt.Sprintf("%d", stats.FilesUpToDate)})
	table.Append([]string{"Invalidated", fmt.Sprintf("%d", stats.FilesInvalidated)})
	table.Append([]string{"Indexed", fmt.Sprintf("%d", stats.FilesIndexed)})
	table.Append([]string{"Parse failures", fmt.Sprintf("%d", stats.ParseFailures)})
	table.Append([]string{"Failed", fmt.Sprintf("%d", stats.FilesFailed)})
	table.Append([]string{"Units extracted", fmt.Sprintf("%d", stats.UnitsExtracted)})
	if stats.FilesPruned > 0 {
		table.Append([]string{"Pruned", fmt.Sprintf("%d", stats.FilesPruned)})
	}

	table.SetFooter([]string{
		fmt.Sprintf("Committed %v", stats.Committed),
		stats.Duration.Round(time.Millisecond).String(),
	})
	table.Render()
}

// RenderStatus writes the index status as a table
func RenderStatus(w io.Writer, status *storage.Status) {
	table := newKeyValueTable(w, []string{"Index", "Value"})

	table.Append([]string{"Cache", status.CacheDir})
	table.Append([]string{"Files", fmt.Sprintf("%d", status.FilesCount)})
	table.Append([]string{"Parse failures", fmt.Sprintf("%d", status.ParseFailures)})
	table.Append([]string{"Units", fmt.Sprintf("%d", status.UnitsCount)})

	kinds := make([]string, 0, len(status.UnitsByKind))
	for kind := range status.UnitsByKind {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		table.Append([]string{"  " + kind, fmt.Sprintf("%d", status.UnitsByKind[types.Kind(kind)])})
	}

	table.Append([]string{"Key shapes", fmt.Sprintf("%d", status.KeyShapesCount)})
	table.Append([]string{"Content size", formatBytes(status.ContentSizeBytes)})
	table.Append([]string{"Metadata size", formatBytes(status.MetadataSizeBytes)})
	if !status.LastIndexedAt.IsZero() {
		table.Append([]string{"Last indexed", status.LastIndexedAt.Format(time.RFC3339)})
	} else {
		table.Append([]string{"Last indexed", "never"})
	}
	table.Append([]string{"Driver", fmt.Sprintf("%s (%s)", status.Health.DriverName, status.Health.BuildMode)})
	table.Append([]string{"FTS indexes", fmt.Sprintf("%v", status.Health.FTSIndexesBuilt)})

	table.SetFooter([]string{"Generation", fmt.Sprintf("%d", status.Generation)})
	table.Render()
}

// formatBytes renders a size with a binary unit
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

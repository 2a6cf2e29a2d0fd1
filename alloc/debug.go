package alloc

import (
	"strconv"
	"strings"

	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"

	"github.com/prequeldb/prequel/btree"
)

// DebugString renders a human-readable snapshot of the allocator's state: a
// table of free extents in position order plus a sparkline of their sizes,
// handy when diagnosing fragmentation during development.
func (a *Allocator) DebugString() string {
	anchor := a.anchorH.Get()

	var sb strings.Builder
	sb.WriteString("data: total=")
	sb.WriteString(strconv.FormatUint(anchor.DataTotal, 10))
	sb.WriteString(" free=")
	sb.WriteString(strconv.FormatUint(anchor.DataFree, 10))
	sb.WriteString(" meta: total=")
	sb.WriteString(strconv.FormatUint(anchor.MetaTotal, 10))
	sb.WriteString(" free=")
	sb.WriteString(strconv.FormatUint(anchor.MetaFree, 10))
	sb.WriteString("\n\n")

	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"block", "size"})

	var sizes []float64
	c := a.byPosition.CreateCursor(btree.SeekMin)
	for c.Valid() {
		e := c.Value()
		table.Append([]string{strconv.FormatUint(uint64(e.Block), 10), strconv.FormatUint(e.Size, 10)})
		sizes = append(sizes, float64(e.Size))
		if err := c.Next(); err != nil {
			break
		}
	}
	c.Close()
	table.Render()

	if len(sizes) > 1 {
		sb.WriteString("\n")
		sb.WriteString(asciigraph.Plot(sizes, asciigraph.Height(8)))
		sb.WriteString("\n")
	}
	return sb.String()
}

package btree

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
)

// TestDataDriven scripts insert/find/erase/iterate sequences against a
// fresh tree from testdata/ops, the same scripted-command style pebble's
// own test suite uses for its data-layer tests.
//
// Commands:
//
//	insert <key> <payload> [mode=overwrite]
//	find <key>
//	erase <key>
//	iterate
func TestDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/ops", func(t *testing.T, d *datadriven.TestData) string {
		tree, _ := newTestTree(t)
		var sb strings.Builder
		for _, line := range strings.Split(d.Input, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			fields := strings.Fields(line)
			switch fields[0] {
			case "insert":
				key, _ := strconv.ParseUint(fields[1], 10, 64)
				payload, _ := strconv.ParseUint(fields[2], 10, 64)
				mode := KeepExisting
				if len(fields) > 3 && fields[3] == "mode=overwrite" {
					mode = Overwrite
				}
				inserted, err := tree.Insert(encodeRecord(key, payload), mode)
				if err != nil {
					fmt.Fprintf(&sb, "insert %d: error: %v\n", key, err)
					continue
				}
				fmt.Fprintf(&sb, "insert %d: inserted=%v\n", key, inserted)
			case "find":
				key, _ := strconv.ParseUint(fields[1], 10, 64)
				v, found, err := tree.Find(encodeKey(key))
				if err != nil {
					fmt.Fprintf(&sb, "find %d: error: %v\n", key, err)
					continue
				}
				if !found {
					fmt.Fprintf(&sb, "find %d: not found\n", key)
					continue
				}
				fmt.Fprintf(&sb, "find %d: payload=%d\n", key, binary.BigEndian.Uint64(v[8:16]))
			case "erase":
				key, _ := strconv.ParseUint(fields[1], 10, 64)
				erased, err := tree.Erase(encodeKey(key))
				if err != nil {
					fmt.Fprintf(&sb, "erase %d: error: %v\n", key, err)
					continue
				}
				fmt.Fprintf(&sb, "erase %d: erased=%v\n", key, erased)
			case "iterate":
				c := tree.CreateCursor(SeekMin)
				var keys []string
				for c.Valid() {
					v := c.Value()
					keys = append(keys, strconv.FormatUint(binary.BigEndian.Uint64(v[0:8]), 10))
					if err := c.Next(); err != nil {
						break
					}
				}
				c.Close()
				fmt.Fprintf(&sb, "iterate: %s\n", strings.Join(keys, ","))
			default:
				t.Fatalf("unknown command %q", fields[0])
			}
		}
		return sb.String()
	})
}

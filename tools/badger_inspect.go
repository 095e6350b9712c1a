// Command badger_inspect prints the records of a stopped server's Badger
// directory as a table.
//
//	go run ./tools -db ./data -prefix msg:
package main

import (
	"chat-sync/infrastructure/storage"
	"chat-sync/internal"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

var typeColors = map[string]color.Color{
	"user":   color.FgCyan,
	"conv":   color.FgGreen,
	"part":   color.FgYellow,
	"member": color.FgGray,
	"msg":    color.FgMagenta,
	"msgid":  color.FgGray,
}

func main() {
	dbPath := flag.String("db", "", "Path to badger DB")
	prefix := flag.String("prefix", "", "Prefix to scan, every record when empty")
	flag.Parse()
	if *dbPath == "" {
		log.Fatal("-db is required")
	}

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Entity ID", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	counts := map[string]int{}
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				row := internal.RowMapper(string(item.Key()), v)
				counts[row.Type]++
				kind := row.Type
				if c, ok := typeColors[kind]; ok {
					kind = c.Sprint(kind)
				}
				table.Append([]string{row.Key, kind, row.Timestamp, row.EntityID, row.Detail})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	summary := make([]string, 0, len(counts))
	for _, p := range storage.Prefixes() {
		kind := strings.TrimSuffix(p, ":")
		if n := counts[kind]; n > 0 {
			summary = append(summary, fmt.Sprintf("%s=%d", kind, n))
		}
	}
	color.Bold.Println("\n" + strings.Join(summary, " "))
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}

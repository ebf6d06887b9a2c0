package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"

	"social-chat/infrastructure/storage"
)

var typeColours = map[string]color.Color{
	"ROOM":         color.FgCyan,
	"MESSAGE":      color.FgGreen,
	"NOTIFICATION": color.FgYellow,
}

func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	// Index keys are skipped unless asked for
	prefix := flag.String("prefix", "", "Prefix to scan, empty for every record")
	withIndexes := flag.Bool("indexes", false, "Include index keys")
	noColour := flag.Bool("no-colour", false, "Disable coloured types")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Detail"})
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

	count := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !*withIndexes && isIndex(key) {
				continue
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			row := storage.InspectMapper(key, value)
			kind := row.Type
			if c, ok := typeColours[kind]; ok && !*noColour {
				kind = c.Render(kind)
			}
			table.Append([]string{key, kind, row.Detail})
			count++
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("\n%d record(s)\n", count)
}

func isIndex(key string) bool {
	for _, p := range []string{"member:", "direct:", "notif-unread:", "msgid:", "seq:"} {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil {
		// A crashed server can leave a value log that needs truncating first
		if strings.Contains(err.Error(), "Log truncate required") {
			repairOpts := badger.DefaultOptions(path).
				WithLogger(nil).WithBypassLockGuard(true)
			db, err = badger.Open(repairOpts)
			if err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}
			_ = db.Close()
			return badger.Open(opts)
		}
		return nil, err
	}
	return db, nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"
)

var migrateCheckCmd = &cobra.Command{
	Use:   "migrate-check",
	Short: "Inspect a catalogue database file without modifying it",
	Long: `migrate-check opens a bbolt catalogue file read-only and reports
each bucket's key count, a standalone sanity check meant to be run before
an upgrade that changes the catalogue's on-disk layout.`,
	RunE: runMigrateCheck,
}

func init() {
	migrateCheckCmd.Flags().String("db", "", "Path to the catalogue bbolt file (required)")
	migrateCheckCmd.MarkFlagRequired("db")
}

func runMigrateCheck(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open catalogue %s: %w", dbPath, err)
	}
	defer db.Close()

	fmt.Printf("catalogue: %s\n", dbPath)
	return db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			count := 0
			if err := b.ForEach(func(k, v []byte) error {
				count++
				return nil
			}); err != nil {
				return err
			}
			fmt.Printf("  bucket %-20s %d keys\n", name, count)
			return nil
		})
	})
}

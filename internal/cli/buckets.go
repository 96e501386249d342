package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newBucketsCmd() *cobra.Command {
	bucketsCmd := &cobra.Command{
		Use:   "buckets",
		Short: "Work with R2 buckets",
	}

	bucketsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all buckets visible to the stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := loadClient(rootContext)
			if err != nil {
				return err
			}

			buckets, err := client.ListBuckets(rootContext)
			if err != nil {
				return err
			}
			if len(buckets) == 0 {
				fmt.Println("No buckets")
				return nil
			}

			fmt.Printf("%-40s %s\n", "NAME", "CREATED")
			for _, b := range buckets {
				created := "-"
				if b.CreationDate != nil {
					created = b.CreationDate.Local().Format(time.RFC3339)
				}
				fmt.Printf("%-40s %s\n", b.Name, created)
			}
			return nil
		},
	})

	return bucketsCmd
}

package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/r2browser/r2browser/internal/cloud"
	"github.com/r2browser/r2browser/internal/constants"
	"github.com/r2browser/r2browser/internal/progress"
	"github.com/r2browser/r2browser/internal/transfer"
	"github.com/r2browser/r2browser/internal/util/cachepath"
)

func newObjectsCmd() *cobra.Command {
	objectsCmd := &cobra.Command{
		Use:   "objects",
		Short: "Work with objects in a bucket",
	}

	objectsCmd.AddCommand(newObjectsLsCmd())
	objectsCmd.AddCommand(newObjectsGetCmd())
	objectsCmd.AddCommand(newObjectsPutCmd())
	objectsCmd.AddCommand(newObjectsRmCmd())
	objectsCmd.AddCommand(newObjectsSearchCmd())
	return objectsCmd
}

func newObjectsLsCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "ls <bucket> [prefix]",
		Short: "List objects under a prefix",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket := args[0]
			prefix := ""
			if len(args) > 1 {
				prefix = args[1]
			}

			client, _, err := loadClient(rootContext)
			if err != nil {
				return err
			}

			delimiter := "/"
			if recursive {
				delimiter = ""
			}

			token := ""
			printed := 0
			for {
				page, err := client.ListObjects(rootContext, cloud.ListObjectsInput{
					Bucket:            bucket,
					Prefix:            prefix,
					Delimiter:         delimiter,
					MaxKeys:           constants.ListMaxKeys,
					ContinuationToken: token,
				})
				if err != nil {
					return err
				}

				for _, cp := range page.CommonPrefixes {
					fmt.Printf("%12s  %-20s %s\n", "DIR", "", cp)
					printed++
				}
				for _, obj := range page.Objects {
					fmt.Printf("%12d  %-20s %s\n", obj.Size, obj.LastModified.Local().Format(time.DateTime), obj.Key)
					printed++
				}

				if !page.IsTruncated {
					break
				}
				token = page.ContinuationToken
			}

			if printed == 0 {
				fmt.Println("No objects")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "List the whole subtree flat instead of one level")
	return cmd
}

func newObjectsGetCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "get <bucket> <key> [dest]",
		Short: "Download an object, or a whole prefix with -r",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, key := args[0], args[1]
			dest := filepath.Base(strings.TrimSuffix(key, "/"))
			if len(args) > 2 {
				dest = args[2]
			}

			client, _, err := loadClient(rootContext)
			if err != nil {
				return err
			}

			engine := transfer.NewEngine(client, nil, transfer.Config{})
			defer engine.Shutdown(rootContext)

			if recursive {
				return downloadPrefix(client, engine, bucket, key, dest)
			}

			snap, err := engine.EnqueueDownload(bucket, key, dest)
			if err != nil {
				return err
			}
			if err := waitWithProgress(engine, snap.ID, key); err != nil {
				return err
			}
			fmt.Printf("Downloaded %s to %s\n", key, dest)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Download every object under the key as a prefix")
	return cmd
}

// downloadPrefix mirrors a whole prefix into destDir, running the
// transfers through the engine's download slots with one bar per file.
func downloadPrefix(client cloud.ObjectStore, engine *transfer.Engine, bucket, prefix, destDir string) error {
	var keys []string
	token := ""
	for {
		page, err := client.ListObjects(rootContext, cloud.ListObjectsInput{
			Bucket:            bucket,
			Prefix:            prefix,
			Delimiter:         "",
			MaxKeys:           constants.ListMaxKeys,
			ContinuationToken: token,
		})
		if err != nil {
			return err
		}
		for _, obj := range page.Objects {
			if obj.IsFolderMarker() {
				continue
			}
			keys = append(keys, obj.Key)
		}
		if !page.IsTruncated {
			break
		}
		token = page.ContinuationToken
	}
	if len(keys) == 0 {
		fmt.Println("No objects under prefix")
		return nil
	}

	ui := progress.NewMultiUI()
	type tracked struct {
		id  string
		bar *progress.TransferBar
	}
	tasks := make([]tracked, 0, len(keys))
	for _, key := range keys {
		// Keys can carry segments a local filesystem rejects, or dot
		// segments that would climb out of destDir.
		local := cachepath.ForKey(destDir, strings.TrimPrefix(key, prefix))
		snap, err := engine.EnqueueDownload(bucket, key, local)
		if err != nil {
			return err
		}
		tasks = append(tasks, tracked{id: snap.ID, bar: ui.AddBar(filepath.Base(key), snap.Total)})
	}

	// Nil after the first cancellation so the poll loop does not spin on
	// the closed Done channel while tasks drain.
	done := rootContext.Done()

	var failed int
	for _, tr := range tasks {
		for {
			select {
			case <-done:
				for _, t := range tasks {
					engine.Cancel(t.id)
				}
				done = nil
			case <-time.After(100 * time.Millisecond):
			}

			snap, ok := engine.Task(tr.id)
			if !ok {
				break
			}
			if snap.Total > 0 {
				tr.bar.SetTotal(snap.Total)
			}
			tr.bar.Update(snap.Transferred)

			if snap.IsTerminal() {
				if snap.Status == transfer.TaskCompleted {
					tr.bar.Done()
				} else {
					tr.bar.Abort()
					failed++
				}
				break
			}
		}
	}
	ui.Wait()

	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(tasks))
	}
	fmt.Printf("Downloaded %d objects to %s\n", len(tasks), destDir)
	return nil
}

func newObjectsPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <bucket> <localPath> [key]",
		Short: "Upload a local file",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, localPath := args[0], args[1]
			key := filepath.Base(localPath)
			if len(args) > 2 {
				key = args[2]
			}

			client, _, err := loadClient(rootContext)
			if err != nil {
				return err
			}

			engine := transfer.NewEngine(client, nil, transfer.Config{})
			defer engine.Shutdown(rootContext)

			snap, err := engine.EnqueueUpload(bucket, key, localPath)
			if err != nil {
				return err
			}
			if err := waitWithProgress(engine, snap.ID, key); err != nil {
				return err
			}
			fmt.Printf("Uploaded %s to %s/%s\n", localPath, bucket, key)
			return nil
		},
	}
}

func newObjectsRmCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "rm <bucket> <key>",
		Short: "Delete an object, or a whole prefix with -r",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, key := args[0], args[1]

			client, _, err := loadClient(rootContext)
			if err != nil {
				return err
			}

			if !recursive {
				if err := client.DeleteObject(rootContext, bucket, key); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", key)
				return nil
			}

			engine := transfer.NewEngine(client, nil, transfer.Config{})
			defer engine.Shutdown(rootContext)

			snap, err := engine.EnqueueDelete(bucket, key)
			if err != nil {
				return err
			}
			if err := waitWithProgress(engine, snap.ID, key); err != nil {
				return err
			}

			final, _ := engine.Task(snap.ID)
			fmt.Printf("Deleted %d objects under %s\n", final.Transferred, key)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Delete every object under the key as a prefix")
	return cmd
}

func newObjectsSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <bucket> <query>",
		Short: "Find keys containing the query string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := loadClient(rootContext)
			if err != nil {
				return err
			}

			matches, err := client.Search(rootContext, args[0], args[1])
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Println("No matches")
				return nil
			}
			for _, obj := range matches {
				fmt.Printf("%12d  %s\n", obj.Size, obj.Key)
			}
			return nil
		},
	}
}

// waitWithProgress polls the task and drives a progress bar until it
// reaches a terminal state. Ctrl-C cancels the task cooperatively.
func waitWithProgress(engine *transfer.Engine, id, description string) error {
	var bar progress.Reporter = progress.NewBar()
	if quiet {
		bar = progress.Nop{}
	}

	// Cancel once, then poll on the timer alone until the task settles.
	done := rootContext.Done()

	started := false
	lastTotal := int64(-1)
	for {
		select {
		case <-done:
			engine.Cancel(id)
			done = nil
		case <-time.After(100 * time.Millisecond):
		}

		snap, ok := engine.Task(id)
		if !ok {
			return fmt.Errorf("task disappeared")
		}

		if !started || snap.Total != lastTotal {
			bar.Start(snap.Total, description)
			started = true
			lastTotal = snap.Total
		}
		bar.Update(snap.Transferred)

		if snap.IsTerminal() {
			switch snap.Status {
			case transfer.TaskCompleted:
				bar.Finish()
				return nil
			case transfer.TaskCancelled:
				return fmt.Errorf("cancelled")
			default:
				err := fmt.Errorf("%s", snap.Error)
				bar.Error(err)
				return err
			}
		}
	}
}

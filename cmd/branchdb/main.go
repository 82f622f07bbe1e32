package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"branchdb/internal/config"
	"branchdb/internal/db"
	"branchdb/internal/logging"
	"branchdb/internal/query"
	"branchdb/internal/table"
)

var rootCmd = &cobra.Command{
	Use:   "branchdb",
	Short: "branchdb is a version-controlled tabular data store",
	Long: `Branchdb layers Git-style version control over tabular data: every write
is an immutable content-addressed commit, and data can be branched, merged
automatically, reverted, and queried as of any historical point.`,
	SilenceUsage: true,
}

func openDB() (*db.DB, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	return db.Open(dir, cfg, logger.Logger)
}

func init() {
	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new branchdb database",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			fmt.Println("Initialized branchdb database in", d.Root)
			return nil
		},
	}

	var execCmd = &cobra.Command{
		Use:   "exec <statement>",
		Short: "Execute a SQL statement",
		Long: `Executes one statement. Write statements (CREATE TABLE, INSERT, UPDATE,
DELETE) stage a delta for the next commit; SELECT prints matching rows and
supports AS OF '<ref>' for time-travel reads.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			result, err := d.Exec(args[0])
			if err != nil {
				return err
			}
			if result != nil {
				printResult(result)
			} else {
				fmt.Println("Staged.")
			}
			return nil
		},
	}

	var commitMessage string
	var commitCmd = &cobra.Command{
		Use:   "commit",
		Short: "Commit the staged changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			c, err := d.Commit(commitMessage)
			if err != nil {
				return err
			}
			fmt.Printf("Created commit %s\n", color.YellowString(c.ShortHash()))
			return nil
		},
	}
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "commit message")
	commitCmd.MarkFlagRequired("message")

	var deleteBranch bool
	var branchCmd = &cobra.Command{
		Use:   "branch [name]",
		Short: "List, create, or delete branches",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			if len(args) == 0 {
				active, _ := d.Branches.Active()
				names, err := d.Branches.List()
				if err != nil {
					return err
				}
				for _, name := range names {
					if name == active {
						fmt.Println(color.GreenString("* " + name))
					} else {
						fmt.Println("  " + name)
					}
				}
				return nil
			}

			name := args[0]
			if deleteBranch {
				if err := d.Branches.Delete(name); err != nil {
					return err
				}
				fmt.Printf("Deleted branch %q\n", name)
				return nil
			}
			if err := d.CreateBranch(name); err != nil {
				return err
			}
			fmt.Printf("Created branch %q\n", name)
			return nil
		},
	}
	branchCmd.Flags().BoolVarP(&deleteBranch, "delete", "d", false, "delete the branch")

	var checkoutCmd = &cobra.Command{
		Use:   "checkout <branch>",
		Short: "Switch the active branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Branches.Checkout(args[0]); err != nil {
				return err
			}
			fmt.Printf("Switched to branch %q\n", args[0])
			return nil
		},
	}

	var mergeCmd = &cobra.Command{
		Use:   "merge <branch>",
		Short: "Merge a branch into the active branch",
		Long: `Merges the named branch into the active one. Conflicts are resolved
automatically per column (last-writer-wins or counter-max) and every
resolution is printed; the merge never asks for input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			result, fastForward, err := d.Merge(args[0], "")
			if errors.Is(err, db.ErrUpToDate) {
				fmt.Println("Already up to date.")
				return nil
			}
			if err != nil {
				return err
			}
			if fastForward {
				fmt.Println("Fast-forwarded.")
				return nil
			}

			fmt.Printf("Created merge commit %s\n", color.YellowString(result.Commit.ShortHash()))
			if result.Report.Empty() {
				fmt.Println("No conflicts.")
			} else {
				fmt.Print(color.CyanString(result.Report.Render()))
			}
			return nil
		},
	}

	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show the commit history of the active branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			commits, err := d.Log()
			if err != nil {
				return err
			}
			for _, c := range commits {
				fmt.Printf("%s %s\n", color.YellowString(c.ShortHash()),
					time.Unix(c.Timestamp, 0).Format(time.RFC3339))
				if c.IsMerge() {
					fmt.Printf("  merge of %.8s and %.8s\n", c.Parents[0], c.Parents[1])
				}
				fmt.Printf("  %s\n", c.Message)
			}
			return nil
		},
	}

	var diffCmd = &cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Show table changes between two refs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			result, err := d.Diff(args[0], args[1])
			if err != nil {
				return err
			}
			if result.Empty() {
				fmt.Println("No changes.")
				return nil
			}
			printDiff(result)
			return nil
		},
	}

	var revertCmd = &cobra.Command{
		Use:   "revert <ref>",
		Short: "Commit the state as of a past ref onto the active branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			c, err := d.Revert(args[0])
			if errors.Is(err, db.ErrUpToDate) {
				fmt.Println("Already at that state.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Created revert commit %s\n", color.YellowString(c.ShortHash()))
			return nil
		},
	}

	var importTable string
	var watchDir string
	var importCmd = &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Stage a CSV file as inserts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			if watchDir != "" {
				watcher, err := d.Watch(watchDir)
				if err != nil {
					return err
				}
				defer watcher.Close()

				fmt.Println("Watching", watchDir, "for CSV files. Ctrl-C to stop.")
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
				<-sig
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("specify a CSV file or --watch")
			}
			if importTable == "" {
				return fmt.Errorf("specify the target table with --table")
			}
			batch, err := d.Import(args[0], importTable)
			if err != nil {
				return err
			}
			fmt.Printf("Staged %d rows into %q (batch %s)\n", batch.Rows, batch.Table, batch.ID)
			return nil
		},
	}
	importCmd.Flags().StringVarP(&importTable, "table", "t", "", "target table name")
	importCmd.Flags().StringVarP(&watchDir, "watch", "w", "", "watch a directory and auto-commit CSV files")

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the staged changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()

			delta, err := d.Staged()
			if err != nil {
				return err
			}
			if delta.Empty() {
				fmt.Println("Nothing staged.")
				return nil
			}
			printStaged(delta)
			return nil
		},
	}

	rootCmd.AddCommand(initCmd, execCmd, commitCmd, branchCmd, checkoutCmd,
		mergeCmd, logCmd, diffCmd, revertCmd, importCmd, statusCmd)
}

func printResult(r *query.Result) {
	fmt.Println(strings.Join(r.Columns, "\t"))
	for _, row := range r.Rows {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = v.String()
		}
		fmt.Println(strings.Join(parts, "\t"))
	}
	fmt.Printf("(%d rows)\n", len(r.Rows))
}

func printDiff(r *query.DiffResult) {
	for _, line := range strings.Split(strings.TrimSuffix(r.Render(), "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			color.Green(line)
		case strings.HasPrefix(line, "-"):
			color.Red(line)
		default:
			fmt.Println(line)
		}
	}
}

func printStaged(delta *table.Delta) {
	for name, td := range delta.Tables {
		if td.Create != nil {
			color.Green("create table %s", name)
		}
		if td.Drop {
			color.Red("drop table %s", name)
		}
		sets, deletes := 0, 0
		for _, change := range td.Rows {
			if change.Delete {
				deletes++
			} else {
				sets++
			}
		}
		fmt.Printf("%s: %d staged writes, %d staged deletes\n", name, sets, deletes)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ajramos/drive-organizer/internal/config"
	"github.com/ajramos/drive-organizer/internal/render"
	"github.com/ajramos/drive-organizer/internal/services"
	"github.com/ajramos/drive-organizer/internal/version"
	"github.com/spf13/cobra"
)

// cli carries the shared state of the command tree
type cli struct {
	opts globalOptions
	open opener
}

// run opens the app for one command and always closes it
func (c *cli) run(cmd *cobra.Command, needRemote bool, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := c.open(ctx, c.opts, cmd.ErrOrStderr(), needRemote)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:           "drive-organizer",
		Short:         "Scan, reorganize and restore a Google Drive folder tree",
		Version:       version.GetInfo().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&c.opts.configPath, "config", "", "Path to configuration file (json, yaml or toml)")
	root.PersistentFlags().StringVar(&c.opts.credentials, "credentials", "", "Path to OAuth client credentials JSON")
	root.PersistentFlags().StringVar(&c.opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		c.newScanCmd(),
		c.newStatusCmd(),
		c.newTreeCmd(),
		c.newProposeCmd(),
		c.newShowCmd(),
		c.newApplyCmd(),
		c.newUndoCmd(),
		c.newProposalsCmd(),
		c.newPrefsCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

func (c *cli) newScanCmd() *cobra.Command {
	var (
		rootID     string
		maxItems   int
		pageSize   int64
		mimeFilter string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Crawl Drive and store a snapshot of the tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, true, func(ctx context.Context, a *app) error {
				opts := services.CrawlOptions{
					RootID:     a.cfg.Crawl.RootID,
					MaxItems:   a.cfg.Crawl.MaxItems,
					PageSize:   a.cfg.Crawl.PageSize,
					MimeFilter: a.cfg.Crawl.MimeFilter,
				}
				flags := cmd.Flags()
				if flags.Changed("root") {
					opts.RootID = rootID
				}
				if flags.Changed("max-items") {
					opts.MaxItems = maxItems
				}
				if flags.Changed("page-size") {
					opts.PageSize = pageSize
				}
				if flags.Changed("mime-filter") {
					opts.MimeFilter = mimeFilter
				}
				scan, result, err := a.organizer.Scan(ctx, opts)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), render.FormatScan(scan, result))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rootID, "root", "", "Folder id to start from (default from config)")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "Stop after this many items, 0 for no cap")
	cmd.Flags().Int64Var(&pageSize, "page-size", 0, "Items per listing page, at most 1000")
	cmd.Flags().StringVar(&mimeFilter, "mime-filter", "", "Only list children with this MIME type")
	return cmd
}

func (c *cli) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [scan-id]",
		Short: "Show a stored scan, its error and the folders it could not list",
		Long:  "Shows the named scan, or the newest scan when no id is given, whatever its status.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, false, func(ctx context.Context, a *app) error {
				scan, failures, err := a.organizer.ScanStatus(ctx, firstArg(args))
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), render.FormatScanStatus(scan, failures))
				return nil
			})
		},
	}
}

func (c *cli) newTreeCmd() *cobra.Command {
	var (
		at          string
		depth       int
		width       int
		foldersOnly bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "tree [scan-id]",
		Short: "Print the tree of a stored scan (latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, false, func(ctx context.Context, a *app) error {
				tree, err := a.organizer.Tree(ctx, firstArg(args))
				if err != nil {
					return err
				}
				if at != "" {
					sub := tree.Find(at)
					if sub == nil {
						return fmt.Errorf("%w: %s is not in the scan", services.ErrNotFound, at)
					}
					tree = sub
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(tree)
				}
				fmt.Fprint(out, render.FormatTree(tree, render.TreeOptions{MaxDepth: depth, Width: width, FoldersOnly: foldersOnly}))
				files, folders := render.CountNodes(tree)
				fmt.Fprintf(out, "\n%d folders, %d files\n", folders, files)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Print only the subtree under this folder id")
	cmd.Flags().IntVar(&depth, "depth", 0, "Limit printed depth, 0 for all")
	cmd.Flags().IntVar(&width, "width", 0, "Truncate lines to this display width")
	cmd.Flags().BoolVar(&foldersOnly, "folders-only", false, "Hide files")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the tree as JSON")
	return cmd
}

func (c *cli) newProposeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "propose [scan-id]",
		Short: "Ask the model for a reorganization of a stored scan",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, false, func(ctx context.Context, a *app) error {
				rec, proposal, err := a.organizer.Propose(ctx, firstArg(args))
				if err != nil {
					return err
				}
				names, _ := a.organizer.ItemNames(ctx, rec.ScanID)
				out := cmd.OutOrStdout()
				fmt.Fprint(out, render.FormatProposal(rec.ID, proposal, names))
				fmt.Fprintf(out, "\nApply with: apply %s\n", rec.ID)
				return nil
			})
		},
	}
}

func (c *cli) newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <proposal-id>",
		Short: "Print a stored proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, false, func(ctx context.Context, a *app) error {
				rec, proposal, err := a.organizer.Proposal(ctx, args[0])
				if err != nil {
					return err
				}
				names, _ := a.organizer.ItemNames(ctx, rec.ScanID)
				out := cmd.OutOrStdout()
				fmt.Fprint(out, render.FormatProposal(rec.ID, proposal, names))
				fmt.Fprintf(out, "\nStatus: %s\n", rec.Status)
				return nil
			})
		},
	}
}

func (c *cli) newApplyCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "apply <proposal-id>",
		Short: "Create the proposed folders and move the files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, true, func(ctx context.Context, a *app) error {
				_, proposal, err := a.organizer.Proposal(ctx, args[0])
				if err != nil {
					return err
				}
				if !yes {
					question := fmt.Sprintf("Create %d folders and move %d items?", len(proposal.NewFolders), len(proposal.Assignments))
					if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), question) {
						fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
						return nil
					}
				}
				res, err := a.organizer.Apply(ctx, args[0])
				if res != nil {
					fmt.Fprint(cmd.OutOrStdout(), render.FormatApply(res))
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func (c *cli) newUndoCmd() *cobra.Command {
	var byProposal, force bool
	cmd := &cobra.Command{
		Use:   "undo <undo-log-id>",
		Short: "Revert an applied proposal",
		Long: `Replays a stored change log in reverse. Each change log can be reverted once.

A log left mid-revert by an undo that never finished reports "undo already in
progress"; --force releases it first. Use it only when no other undo is running.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, true, func(ctx context.Context, a *app) error {
				if force {
					if err := a.organizer.ReleaseUndo(ctx, args[0]); err != nil {
						return err
					}
				}
				var (
					res *services.UndoResult
					err error
				)
				if byProposal {
					res, err = a.organizer.UndoProposal(ctx, args[0])
				} else {
					res, err = a.organizer.Undo(ctx, args[0])
				}
				if res != nil {
					fmt.Fprint(cmd.OutOrStdout(), render.FormatUndo(res))
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&byProposal, "proposal", false, "Treat the argument as a proposal id and revert its latest change log")
	cmd.Flags().BoolVar(&force, "force", false, "Release a change log stuck mid-revert before undoing it")
	cmd.MarkFlagsMutuallyExclusive("proposal", "force")
	return cmd
}

func (c *cli) newProposalsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "proposals",
		Aliases: []string{"ls"},
		Short:   "List stored proposals, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, false, func(ctx context.Context, a *app) error {
				list, err := a.organizer.ListProposals(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), render.FormatProposalList(list, 120))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of proposals to list")
	return cmd
}

func (c *cli) newPrefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change classification preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, false, func(ctx context.Context, a *app) error {
				p, err := a.organizer.Preferences(ctx)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), render.FormatPreferences(p))
				return nil
			})
		},
	}

	var (
		ignoreMime  []string
		ignoreLarge bool
		maxSizeMB   int
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Update preferences; unset flags keep their stored value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, false, func(ctx context.Context, a *app) error {
				p, err := a.organizer.Preferences(ctx)
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if flags.Changed("ignore-mime") {
					p.IgnoreMimeTypes = ignoreMime
				}
				if flags.Changed("ignore-large") {
					p.IgnoreLarge = ignoreLarge
				}
				if flags.Changed("max-size-mb") {
					p.MaxFileSizeMB = maxSizeMB
				}
				if err := a.organizer.UpdatePreferences(ctx, p); err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), render.FormatPreferences(p))
				return nil
			})
		},
	}
	set.Flags().StringSliceVar(&ignoreMime, "ignore-mime", nil, "MIME types to leave out of proposals")
	set.Flags().BoolVar(&ignoreLarge, "ignore-large", false, "Leave out files larger than --max-size-mb")
	set.Flags().IntVar(&maxSizeMB, "max-size-mb", 0, "Size threshold in MB for --ignore-large")
	cmd.AddCommand(set)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Long:  "Writes the defaults to path (or the default location). The extension selects json, yaml or toml.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigPath()
			if p := firstArg(args); p != "" {
				path = config.ExpandPath(p)
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.DefaultConfig().SaveConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.GetInfo().Detailed())
		},
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"birdseed/internal/backfill"
	"birdseed/internal/cmdlog"
	"birdseed/internal/collect"
	"birdseed/internal/config"
	"birdseed/internal/jobs"
	"birdseed/internal/model"
	"birdseed/internal/sets"
	"birdseed/internal/theme"
	"birdseed/internal/util"
)

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "birdseed",
		Short:         "Incrementally mirror social accounts into a local store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "./birdseed.yaml", "config path")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		initCommand(),
		profileCommand(a),
		profilesCommand(a),
		timelineCommand(a),
		timelinesCommand(a),
		edgesCommand(a, model.Followers),
		edgesCommand(a, model.Followings),
		scoresCommand(a),
		streamCommand(a),
		setsCommand(a),
		scheduleCommand(a),
	)
	return root
}

func initCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmdlog.Run("init", func() error {
				if err := config.Save(path, config.Default()); err != nil {
					return err
				}
				abs, _ := filepath.Abs(path)
				theme.PrintBanner(cmd.OutOrStdout())
				fmt.Fprintln(cmd.OutOrStdout(), "Config written to:", abs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "./birdseed.yaml", "path to write config")
	return cmd
}

// setMembers loads the IDs of a profile set from the opened store.
func (a *app) setMembers(ctx context.Context, name string) ([]string, error) {
	return sets.Members(ctx, a.st, model.ProfileSet, name)
}

// batchFlags are shared by every set-scoped command.
type batchFlags struct {
	set            string
	concurrency    int
	collectAllOnce bool
}

func (b *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&b.set, "set", "", "profile set to collect")
	cmd.Flags().IntVar(&b.concurrency, "concurrency", 0, "workers (defaults to the configured value)")
	cmd.Flags().BoolVar(&b.collectAllOnce, "collect-all-once", false, "skip profiles that were already collected")
}

func profileCommand(a *app) *cobra.Command {
	var tagSets []string
	cmd := &cobra.Command{
		Use:   "profile <id>...",
		Short: "Collect one or more profiles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, 0, func(ctx context.Context) (model.Summary, error) {
				if len(args) == 1 {
					return a.collector.Profile(ctx, args[0], tagSets)
				}
				return a.collector.Profiles(ctx, args, tagSets, false)
			})
		},
	}
	cmd.Flags().StringArrayVar(&tagSets, "set", nil, "profile set to tag collected profiles into (repeatable)")
	return cmd
}

func profilesCommand(a *app) *cobra.Command {
	var b batchFlags
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Collect every profile in a set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, b.concurrency, func(ctx context.Context) (model.Summary, error) {
				ids, err := a.setMembers(ctx, b.set)
				if err != nil {
					return model.Summary{}, err
				}
				return a.collector.Profiles(ctx, ids, nil, b.collectAllOnce)
			})
		},
	}
	b.register(cmd)
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

// timelineFlags mirror backfill.Options.
type timelineFlags struct {
	overwrite      bool
	ignoreBackfill bool
	maxDate        string
	maxDays        int
	limit          int
	tweetSets      []string
}

func (f *timelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.overwrite, "overwrite", false, "rewrite tweets that are already stored")
	cmd.Flags().BoolVar(&f.ignoreBackfill, "ignore-backfill", false, "keep scanning past known tweets")
	cmd.Flags().StringVar(&f.maxDate, "max-date", "", "stop at tweets older than this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().IntVar(&f.maxDays, "max-days", 0, "stop at tweets older than this many days")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "stop after scanning this many tweets")
	cmd.Flags().StringArrayVar(&f.tweetSets, "tweet-set", nil, "tweet set to tag written tweets into (repeatable)")
}

func (f *timelineFlags) options() (collect.TimelineOptions, error) {
	opts := collect.TimelineOptions{
		Options: backfill.Options{
			Overwrite:      f.overwrite,
			IgnoreBackfill: f.ignoreBackfill,
			MaxDays:        f.maxDays,
			Limit:          f.limit,
		},
		TweetSets: f.tweetSets,
	}
	if f.maxDate != "" {
		t, err := parseDate(f.maxDate)
		if err != nil {
			return opts, err
		}
		opts.MaxDate = t
	}
	return opts, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func timelineCommand(a *app) *cobra.Command {
	var f timelineFlags
	cmd := &cobra.Command{
		Use:   "timeline <id>",
		Short: "Collect one account's timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}
			return a.run(cmd, 0, func(ctx context.Context) (model.Summary, error) {
				return a.collector.Timeline(ctx, args[0], opts)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func timelinesCommand(a *app) *cobra.Command {
	var (
		f timelineFlags
		b batchFlags
	)
	cmd := &cobra.Command{
		Use:   "timelines",
		Short: "Collect the timelines of every profile in a set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}
			return a.run(cmd, b.concurrency, func(ctx context.Context) (model.Summary, error) {
				ids, err := a.setMembers(ctx, b.set)
				if err != nil {
					return model.Summary{}, err
				}
				return a.collector.Timelines(ctx, ids, opts, b.collectAllOnce)
			})
		},
	}
	f.register(cmd)
	b.register(cmd)
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func edgesCommand(a *app, kind model.EdgeKind) *cobra.Command {
	var (
		opts collect.EdgeOptions
		b    batchFlags
	)
	cmd := &cobra.Command{
		Use:   string(kind) + " [id]",
		Short: "Collect the " + string(kind) + " of an account or of every profile in a set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (b.set != "") {
				return fmt.Errorf("%s: pass either an id or --set", kind)
			}
			return a.run(cmd, b.concurrency, func(ctx context.Context) (model.Summary, error) {
				if len(args) == 1 {
					return a.collector.Edges(ctx, args[0], kind, opts)
				}
				ids, err := a.setMembers(ctx, b.set)
				if err != nil {
					return model.Summary{}, err
				}
				return a.collector.EdgesBatch(ctx, ids, kind, opts, b.collectAllOnce)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Hydrate, "hydrate", false, "store the profile of every edge target")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many edges; the list is kept as aborted")
	b.register(cmd)
	return cmd
}

func scoresCommand(a *app) *cobra.Command {
	var set string
	cmd := &cobra.Command{
		Use:   "scores [id]...",
		Short: "Score accounts for bot likelihood",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) > 0) == (set != "") {
				return fmt.Errorf("scores: pass either ids or --set")
			}
			return a.run(cmd, 0, func(ctx context.Context) (model.Summary, error) {
				ids := args
				if set != "" {
					var err error
					if ids, err = a.setMembers(ctx, set); err != nil {
						return model.Summary{}, err
					}
				}
				return a.collector.Scores(ctx, ids)
			})
		},
	}
	cmd.Flags().StringVar(&set, "set", "", "profile set to score")
	return cmd
}

func streamCommand(a *app) *cobra.Command {
	var (
		keywords  string
		opts      collect.StreamOptions
		tweetSets []string
	)
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Follow the keyword stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, 0, func(ctx context.Context) (model.Summary, error) {
				o := opts
				o.Keywords = util.SplitList(keywords)
				if len(o.Keywords) == 0 {
					o.Keywords = a.cfg.Stream.Keywords
				}
				if !cmd.Flags().Changed("queue-size") {
					o.QueueSize = a.cfg.Stream.QueueSize
				}
				if o.Duration == 0 {
					o.Duration = a.cfg.Stream.Duration
				}
				if o.Count == 0 {
					o.Count = a.cfg.Stream.Count
				}
				o.TweetSets = append(append([]string{}, a.cfg.Stream.TweetSets...), tweetSets...)
				return a.collector.Stream(ctx, o)
			})
		},
	}
	cmd.Flags().StringVar(&keywords, "keywords", "", "comma separated keywords to track")
	cmd.Flags().IntVar(&opts.QueueSize, "queue-size", 100, "tweets buffered per write")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "stop after this many tweets")
	cmd.Flags().StringArrayVar(&tweetSets, "tweet-set", nil, "tweet set to tag streamed tweets into (repeatable)")
	return cmd
}

func setsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "sets", Short: "Manage profile sets"}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <id>...",
		Short: "Add accounts to a profile set, creating both as needed",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, 0, func(ctx context.Context) (model.Summary, error) {
				var sum model.Summary
				set, err := sets.Ensure(ctx, a.st, model.ProfileSet, args[0])
				if err != nil {
					return sum, err
				}
				for _, id := range args[1:] {
					sum.Scanned++
					p, err := a.collector.Resolver().Profile(ctx, a.st, id, true)
					if err != nil {
						a.log.Warn().Err(err).Str("id", id).Msg("not added")
						sum.Errors++
						continue
					}
					if err := sets.Add(ctx, a.st, set, p.ID); err != nil {
						return sum, err
					}
					sum.Updated++
				}
				return sum, nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list <name>",
		Short: "Print the members of a profile set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(0); err != nil {
				return err
			}
			defer a.close()
			ids, err := a.setMembers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})
	return cmd
}

func scheduleCommand(a *app) *cobra.Command {
	var set, spec string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Collect a profile set on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.open(0); err != nil {
				return err
			}
			defer a.close()
			if set == "" {
				set = a.cfg.Schedule.Set
			}
			if spec == "" {
				spec = a.cfg.Schedule.Cron
			}
			if set == "" {
				return fmt.Errorf("schedule: no profile set configured")
			}
			s, err := jobs.NewScheduler(a.st, a.collector, set, spec)
			if err != nil {
				return err
			}
			s.QuietHours = a.cfg.Schedule.QuietHours
			return cmdlog.Run("schedule", func() error {
				err := s.Run(cmd.Context())
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&set, "set", "", "profile set to collect")
	cmd.Flags().StringVar(&spec, "cron", "", "cron spec (defaults to the configured one)")
	return cmd
}

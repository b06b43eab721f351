package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Salad109/medical-office-manager/internal/audit"
	"github.com/Salad109/medical-office-manager/internal/config"
	"github.com/Salad109/medical-office-manager/internal/db"
	"github.com/Salad109/medical-office-manager/internal/logging"
)

type options struct {
	entity  string
	id      int64
	actor   int64
	action  string
	since   string
	until   string
	limit   int
	offset  int
	history bool
	asJSON  bool
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:   "audit-report",
		Short: "Query the audit log",
		Long: `Lists audit entries newest first, filtered by the given flags.
With --history, prints every change to one entity oldest first.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.entity, "entity", "", "entity type, e.g. Appointment, Visit, User")
	f.Int64Var(&opts.id, "id", 0, "entity id")
	f.Int64Var(&opts.actor, "actor", 0, "acting user id")
	f.StringVar(&opts.action, "action", "", "CREATE, UPDATE or DELETE")
	f.StringVar(&opts.since, "since", "", "only entries at or after this RFC3339 time")
	f.StringVar(&opts.until, "until", "", "only entries before this RFC3339 time")
	f.IntVar(&opts.limit, "limit", 50, "max entries")
	f.IntVar(&opts.offset, "offset", 0, "entries to skip")
	f.BoolVar(&opts.history, "history", false, "full history of --entity/--id, oldest first")
	f.BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel, Pretty: true, Service: "audit-report"})

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2, StatementTimeout: cfg.StatementTimeout})
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := audit.NewService(audit.NewPgStore(pool))

	var entries []audit.Entry
	if opts.history {
		if opts.entity == "" || opts.id <= 0 {
			return fmt.Errorf("--history needs --entity and --id")
		}
		entries, err = svc.History(ctx, opts.entity, opts.id)
	} else {
		var f audit.Filter
		if f, err = buildFilter(opts); err != nil {
			return err
		}
		entries, err = svc.List(ctx, f)
	}
	if err != nil {
		return err
	}
	log.Debug().Int("entries", len(entries)).Msg("audit query done")

	if opts.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	return printTable(entries)
}

func buildFilter(opts options) (audit.Filter, error) {
	f := audit.Filter{
		EntityType: opts.entity,
		Limit:      opts.limit,
		Offset:     opts.offset,
	}
	if opts.id > 0 {
		f.EntityID = &opts.id
	}
	if opts.actor > 0 {
		f.ActorID = &opts.actor
	}

	switch a := audit.Action(opts.action); a {
	case "":
	case audit.ActionCreate, audit.ActionUpdate, audit.ActionDelete:
		f.Action = a
	default:
		return audit.Filter{}, fmt.Errorf("unknown --action %q", opts.action)
	}

	for _, p := range []struct {
		flag string
		raw  string
		dst  **time.Time
	}{
		{"--since", opts.since, &f.Since},
		{"--until", opts.until, &f.Until},
	} {
		if p.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, p.raw)
		if err != nil {
			return audit.Filter{}, fmt.Errorf("%s must be RFC3339: %w", p.flag, err)
		}
		*p.dst = &t
	}

	return f, nil
}

func printTable(entries []audit.Entry) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAT\tACTOR\tACTION\tENTITY\tCHANGES")
	for _, e := range entries {
		actor := "-"
		if e.ActorID != nil {
			actor = strconv.FormatInt(*e.ActorID, 10)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s#%d\t%s\n",
			e.ID, e.CreatedAt.Format(time.RFC3339), actor, e.Action, e.EntityType, e.EntityID, changes(e))
	}
	return w.Flush()
}

// changes lists the fields whose values differ between old and new.
func changes(e audit.Entry) string {
	var before, after map[string]json.RawMessage
	_ = json.Unmarshal(e.OldValues, &before)
	_ = json.Unmarshal(e.NewValues, &after)

	switch {
	case before == nil:
		return "(new)"
	case after == nil:
		return "(removed)"
	}

	keys := make([]string, 0, len(after))
	for k := range after {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		if string(before[k]) == string(after[k]) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s -> %s", k, orDash(before[k]), after[k]))
	}
	return strings.Join(parts, " ")
}

func orDash(b json.RawMessage) string {
	if len(b) == 0 {
		return "-"
	}
	return string(b)
}

// light-admin：路灯清单的运维命令行（预览编号、坐标判村、查看历史、导入初始清单、检查村里边界）
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"streetlight-api/internal/config"
	"streetlight-api/internal/ingest"
	"streetlight-api/internal/lights"
	"streetlight-api/internal/logger"
	"streetlight-api/internal/migrate"
	"streetlight-api/internal/store"
	"streetlight-api/internal/utils"
	"streetlight-api/internal/village"
)

type options struct {
	json       bool
	dsn        string
	registry   string
	boundaries string
}

func main() {
	config.LoadDotenv()
	logger.Setup()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.FromEnv()
	o := &options{}
	root := &cobra.Command{
		Use:           "light-admin",
		Short:         "Street-light inventory maintenance tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&o.json, "json", false, "output in JSON format")
	root.PersistentFlags().StringVar(&o.dsn, "dsn", "", "PostgreSQL DSN (default: built from PG_* env)")
	root.PersistentFlags().StringVar(&o.registry, "registry", cfg.VillageRegistry, "village registry YAML")
	root.PersistentFlags().StringVar(&o.boundaries, "boundaries", cfg.VillageBoundaries, "village boundary GeoJSON file or directory")

	root.AddCommand(
		nextIDCmd(o),
		resolveCmd(o),
		historyCmd(o),
		importCmd(o),
		checkVillagesCmd(o),
	)
	return root
}

func (o *options) openStore(ctx context.Context) (*store.Postgres, error) {
	dsn := o.dsn
	if dsn == "" {
		dsn = utils.BuildPostgresDSNFromEnv()
	}
	st, err := store.Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := migrate.EnsureSchema(ctx, st.DB()); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func (o *options) output(w io.Writer, v any, text func(io.Writer)) error {
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func nextIDCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "next-id <village-code>",
		Short: "Preview the next light id for a village (does not reserve it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			rows, err := st.ListLights(cmd.Context())
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(rows))
			for _, r := range rows {
				ids = append(ids, r.ID)
			}
			id, err := lights.NextID(args[0], ids)
			if err != nil {
				return err
			}
			return o.output(cmd.OutOrStdout(), map[string]string{"code": args[0], "id": id}, func(w io.Writer) {
				fmt.Fprintln(w, id)
			})
		},
	}
}

func resolveCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <lat> <lng>",
		Short: "Resolve the village containing a coordinate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := lights.ParseCoord(args[0], args[1])
			if err != nil {
				return err
			}
			r, err := village.LoadResolver(o.registry, o.boundaries, nil, 0, 0)
			if err != nil {
				return err
			}
			lat, lng := c.Float()
			m := r.Resolve(lat, lng)
			return o.output(cmd.OutOrStdout(), m, func(w io.Writer) {
				fmt.Fprintf(w, "%s\t%s\tmatched=%t\n", m.Code, m.Name, m.Matched)
			})
		},
	}
}

func historyCmd(o *options) *cobra.Command {
	limit := 20
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent history entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			items, err := st.RecentHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return o.output(cmd.OutOrStdout(), items, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tID\tACTION\tBEFORE\tAFTER\tNOTE")
				for _, h := range items {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", h.Time, h.LightID, h.Action,
						pair(h.BeforeLat, h.BeforeLng), pair(h.AfterLat, h.AfterLng), h.Note)
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", limit, "number of entries")
	return cmd
}

func pair(lat, lng string) string {
	if lat == "" && lng == "" {
		return "-"
	}
	return lat + "," + lng
}

func importCmd(o *options) *cobra.Command {
	force := false
	cmd := &cobra.Command{
		Use:   "import <url-or-file>",
		Short: "Import the initial light sheet (only into an empty table unless --force)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			st, err := o.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			var n int
			if force {
				rows, skipped, err := ingest.Load(ctx, args[0])
				if err != nil {
					return err
				}
				for _, s := range skipped {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip row %d: %s\n", s.Row, s.Reason)
				}
				if n, err = ingest.Import(ctx, st, rows); err != nil {
					return err
				}
			} else if n, err = ingest.EnsureSeeded(ctx, st, args[0]); err != nil {
				return err
			}
			return o.output(cmd.OutOrStdout(), map[string]int{"imported": n}, func(w io.Writer) {
				fmt.Fprintf(w, "imported %d lights\n", n)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "import even when the table already has rows")
	return cmd
}

type villageCheck struct {
	Regions          []village.Match `json:"regions"`
	MissingCode      []string        `json:"missingCode"`
	WithoutBoundary  []string        `json:"withoutBoundary"`
	DuplicateRegions []string        `json:"duplicateRegions"`
}

func (c villageCheck) ok() bool { return len(c.MissingCode) == 0 && len(c.DuplicateRegions) == 0 }

// checkVillages 对照登记表与边界：边界缺代码、村里缺边界、同名多区域
func checkVillages(r *village.Resolver) villageCheck {
	out := villageCheck{Regions: r.Regions(), MissingCode: []string{}, WithoutBoundary: []string{}, DuplicateRegions: []string{}}
	seen := map[string]int{}
	for _, m := range out.Regions {
		seen[m.Name]++
		if m.Code == "" {
			out.MissingCode = append(out.MissingCode, m.Name)
		}
	}
	for name, n := range seen {
		if n > 1 {
			out.DuplicateRegions = append(out.DuplicateRegions, name+" x"+strconv.Itoa(n))
		}
	}
	sort.Strings(out.DuplicateRegions)
	if reg := r.Registry(); reg != nil {
		for _, v := range reg.Villages {
			if seen[v.Name] == 0 {
				out.WithoutBoundary = append(out.WithoutBoundary, v.Code+" "+v.Name)
			}
		}
	}
	return out
}

func checkVillagesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check-villages",
		Short: "Cross-check the village registry against the boundary files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := village.LoadResolver(o.registry, o.boundaries, nil, 0, 0)
			if err != nil {
				return err
			}
			res := checkVillages(r)
			if err := o.output(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "regions: %d\n", len(res.Regions))
				if len(res.MissingCode) > 0 {
					fmt.Fprintf(w, "regions without code: %s\n", strings.Join(res.MissingCode, ", "))
				}
				if len(res.DuplicateRegions) > 0 {
					fmt.Fprintf(w, "duplicate regions: %s\n", strings.Join(res.DuplicateRegions, ", "))
				}
				if len(res.WithoutBoundary) > 0 {
					fmt.Fprintf(w, "villages without boundary: %s\n", strings.Join(res.WithoutBoundary, ", "))
				}
			}); err != nil {
				return err
			}
			if !res.ok() {
				return fmt.Errorf("village check failed")
			}
			return nil
		},
	}
}

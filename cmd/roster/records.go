package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/minus-twelve/roster"
	"github.com/minus-twelve/roster/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// recordFlags binds the editable record fields to command flags.
type recordFlags struct {
	kind   string
	rec    types.Record
	emp    types.EmployeeFields
	proj   types.ProjectFields
	status string
	cur    string
}

func (f *recordFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.kind, "kind", string(types.KindEmployee), "employee or project")
	fs.StringVar(&f.rec.Name, "name", "", "full name")
	fs.StringVar(&f.rec.Email, "email", "", "email address")
	fs.StringVar(&f.rec.Phone, "phone", "", "phone number")
	fs.StringVar(&f.status, "status", "", "status")
	fs.StringVar(&f.rec.Joined, "joined", "", "join date (YYYY-MM-DD)")
	fs.StringVar(&f.cur, "currency", "", "USD or INR")
	fs.StringVar(&f.emp.Position, "position", "", "position")
	fs.StringVar(&f.emp.Department, "department", "", "department")
	fs.Float64Var(&f.emp.Salary, "salary", 0, "salary")
	fs.Float64Var(&f.proj.Rate, "rate", 0, "hourly rate")
	fs.Float64Var(&f.proj.Margin, "margin", 0, "margin")
	fs.StringVar(&f.proj.WorkAuthorization, "work-auth", "", "work authorization")
	fs.StringVar(&f.proj.EndClient, "end-client", "", "end client")
	fs.StringVar(&f.proj.AccountManager, "account-manager", "", "account manager")
	fs.StringVar(&f.proj.Recruiter, "recruiter", "", "recruiter")
}

// build returns a new record from the flags.
func (f *recordFlags) build() types.Record {
	rec := f.rec
	rec.Kind = types.RecordKind(f.kind)
	rec.Status = types.Status(f.status)
	rec.Currency = types.Currency(strings.ToUpper(f.cur))
	if rec.Kind == types.KindProject {
		p := f.proj
		rec.Project = &p
	} else {
		e := f.emp
		rec.Employee = &e
	}
	return rec
}

// merge overlays the flags the user actually set onto rec.
func (f *recordFlags) merge(fs *pflag.FlagSet, rec types.Record) types.Record {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("name", func() { rec.Name = f.rec.Name })
	set("email", func() { rec.Email = f.rec.Email })
	set("phone", func() { rec.Phone = f.rec.Phone })
	set("status", func() { rec.Status = types.Status(f.status) })
	set("joined", func() { rec.Joined = f.rec.Joined })
	set("currency", func() { rec.Currency = types.Currency(strings.ToUpper(f.cur)) })

	if e := rec.Employee; e != nil {
		set("position", func() { e.Position = f.emp.Position })
		set("department", func() { e.Department = f.emp.Department })
		set("salary", func() { e.Salary = f.emp.Salary })
	}
	if p := rec.Project; p != nil {
		set("rate", func() { p.Rate = f.proj.Rate })
		set("margin", func() { p.Margin = f.proj.Margin })
		set("work-auth", func() { p.WorkAuthorization = f.proj.WorkAuthorization })
		set("end-client", func() { p.EndClient = f.proj.EndClient })
		set("account-manager", func() { p.AccountManager = f.proj.AccountManager })
		set("recruiter", func() { p.Recruiter = f.proj.Recruiter })
	}
	return rec
}

// records is the subset of operations both the local directory and the
// remote API provide.
type records interface {
	list(ctx context.Context, params types.ListParams) ([]types.Record, types.Pagination, error)
	get(ctx context.Context, kind types.RecordKind, id int64) (types.Record, error)
	add(ctx context.Context, rec types.Record) (types.Record, error)
	update(ctx context.Context, rec types.Record) (types.Record, error)
	remove(ctx context.Context, kind types.RecordKind, id int64) error
}

type localRecords struct{ dir *roster.Directory }

func (l localRecords) list(ctx context.Context, params types.ListParams) ([]types.Record, types.Pagination, error) {
	return l.dir.List(ctx, params)
}

func (l localRecords) get(ctx context.Context, kind types.RecordKind, id int64) (types.Record, error) {
	return l.dir.GetKind(ctx, kind, id)
}

func (l localRecords) add(ctx context.Context, rec types.Record) (types.Record, error) {
	return l.dir.Add(ctx, rec)
}

func (l localRecords) update(ctx context.Context, rec types.Record) (types.Record, error) {
	return l.dir.UpdateKind(ctx, rec.Kind, rec)
}

func (l localRecords) remove(ctx context.Context, kind types.RecordKind, id int64) error {
	return l.dir.RemoveKind(ctx, kind, id)
}

type remoteRecords struct{ a *app }

func (r remoteRecords) list(ctx context.Context, params types.ListParams) ([]types.Record, types.Pagination, error) {
	return r.a.api.ListRecords(ctx, params)
}

func (r remoteRecords) get(ctx context.Context, kind types.RecordKind, id int64) (types.Record, error) {
	return r.a.api.GetRecord(ctx, kind, id)
}

func (r remoteRecords) add(ctx context.Context, rec types.Record) (types.Record, error) {
	return r.a.api.CreateRecord(ctx, rec)
}

func (r remoteRecords) update(ctx context.Context, rec types.Record) (types.Record, error) {
	return r.a.api.UpdateRecord(ctx, rec)
}

func (r remoteRecords) remove(ctx context.Context, kind types.RecordKind, id int64) error {
	return r.a.api.DeleteRecord(ctx, kind, id)
}

func (a *app) records(ctx context.Context, remote bool) (records, error) {
	if remote {
		if _, _, err := a.manager(ctx); err != nil {
			return nil, err
		}
		return remoteRecords{a: a}, nil
	}
	dir, err := a.directory(ctx)
	if err != nil {
		return nil, err
	}
	return localRecords{dir: dir}, nil
}

func newRecordsCommand(a *app) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"employees"},
		Short:   "List and edit employee and project records",
	}
	cmd.PersistentFlags().BoolVar(&remote, "remote", false, "use the REST API instead of local storage")

	cmd.AddCommand(
		newRecordsListCommand(a, &remote, "list", "List records"),
		newRecordsListCommand(a, &remote, "search <term>", "Search records by name, email, phone, status or role"),
		newRecordsGetCommand(a, &remote),
		newRecordsAddCommand(a, &remote),
		newRecordsUpdateCommand(a, &remote),
		newRecordsRemoveCommand(a, &remote),
		newRecordsStatsCommand(a, &remote),
	)
	return cmd
}

func newRecordsListCommand(a *app, remote *bool, use, short string) *cobra.Command {
	var params types.ListParams
	var kind string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				params.Search = args[0]
			}
			params.Kind = types.RecordKind(kind)
			src, err := a.records(cmd.Context(), *remote)
			if err != nil {
				return err
			}
			items, page, err := src.list(cmd.Context(), params)
			if err != nil {
				return err
			}
			if err := printRecords(cmd.OutOrStdout(), items, a.displayCurrency()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\npage %d of %d (%d records)\n", page.Page, page.TotalPages, page.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "employee or project (default both)")
	cmd.Flags().IntVar(&params.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&params.Limit, "limit", roster.DefaultPageSize, "records per page")
	cmd.Flags().StringVar(&params.Department, "department", "", "filter by department")
	cmd.Flags().StringVar(&params.Status, "status", "", "filter by status")
	return cmd
}

func newRecordsGetCommand(a *app, remote *bool) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			src, err := a.records(cmd.Context(), *remote)
			if err != nil {
				return err
			}
			rec, err := src.get(cmd.Context(), types.RecordKind(kind), id)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), []types.Record{rec}, a.displayCurrency())
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(types.KindEmployee), "employee or project")
	return cmd
}

func newRecordsAddCommand(a *app, remote *bool) *cobra.Command {
	f := &recordFlags{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a record",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.records(cmd.Context(), *remote)
			if err != nil {
				return err
			}
			rec, err := src.add(cmd.Context(), f.build())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (id %d)\n", rec.Name, rec.ID)
			return nil
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func newRecordsUpdateCommand(a *app, remote *bool) *cobra.Command {
	f := &recordFlags{}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			src, err := a.records(cmd.Context(), *remote)
			if err != nil {
				return err
			}
			current, err := src.get(cmd.Context(), types.RecordKind(f.kind), id)
			if err != nil {
				return err
			}
			rec, err := src.update(cmd.Context(), f.merge(cmd.Flags(), current))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", rec.Name)
			return nil
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func newRecordsRemoveCommand(a *app, remote *bool) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			src, err := a.records(cmd.Context(), *remote)
			if err != nil {
				return err
			}
			if err := src.remove(cmd.Context(), types.RecordKind(kind), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(types.KindEmployee), "employee or project")
	return cmd
}

func newRecordsStatsCommand(a *app, remote *bool) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count records by status and department",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				stats types.Stats
				err   error
			)
			if *remote {
				if _, _, err = a.manager(cmd.Context()); err != nil {
					return err
				}
				stats, err = a.api.Stats(cmd.Context(), types.RecordKind(kind))
			} else {
				var dir *roster.Directory
				if dir, err = a.directory(cmd.Context()); err != nil {
					return err
				}
				stats, err = dir.Stats(cmd.Context(), types.RecordKind(kind))
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "total\t%d\n", stats.Total)
			for status, n := range stats.ByStatus {
				fmt.Fprintf(w, "status: %s\t%d\n", status, n)
			}
			for dept, n := range stats.ByDepartment {
				fmt.Fprintf(w, "department: %s\t%d\n", dept, n)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "employee or project (default both)")
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var (
		format   string
		currency string
		out      string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all local records to CSV or XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.directory(cmd.Context())
			if err != nil {
				return err
			}
			all, err := dir.GetAll(cmd.Context())
			if err != nil {
				return err
			}

			cur := types.Currency(strings.ToUpper(currency))
			if cur == "" {
				cur = a.displayCurrency()
			}
			write := roster.ExportCSV
			name := roster.ExportFilename(time.Now())
			if format == "xlsx" {
				write = roster.ExportXLSX
				name = strings.TrimSuffix(name, ".csv") + ".xlsx"
			}
			if out == "" {
				out = filepath.Join(a.cfg.Export.Dir, name)
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := write(f, all, cur); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", len(all), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "csv or xlsx")
	cmd.Flags().StringVar(&currency, "currency", "", "USD or INR (default from config)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default employees_<date>.csv in export.dir)")
	return cmd
}

func (a *app) displayCurrency() types.Currency {
	if a.cfg.Export.Currency == "" {
		return types.USD
	}
	return a.cfg.Export.Currency
}

func printRecords(out io.Writer, items []types.Record, currency types.Currency) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tNAME\tROLE\tDEPARTMENT\tEMAIL\tSTATUS\tAMOUNT")
	for _, rec := range items {
		amount := roster.Convert(rec.Amount(), rec.Currency, currency)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Kind, rec.Name, rec.Position(), rec.Department(), rec.Email, rec.Status,
			roster.FormatAmount(amount, currency))
	}
	return w.Flush()
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

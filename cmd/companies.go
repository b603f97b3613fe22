package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadtool/internal/company"
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Query canonical companies",
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List companies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		f, err := companyFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		companies, err := st.ListCompanies(ctx, f)
		if err != nil {
			return eris.Wrap(err, "companies list")
		}
		if len(companies) == 0 {
			fmt.Fprintln(os.Stderr, "No companies found.")
			return nil
		}
		formatCompanies(os.Stdout, companies)
		return nil
	},
}

var companiesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a company with its contacts and active snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid company id %q", args[0])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		detail, err := st.GetCompany(ctx, id)
		if err != nil {
			return eris.Wrap(err, "companies show")
		}
		if detail == nil {
			return eris.Errorf("company %d not found", id)
		}
		return writeJSON(os.Stdout, detail)
	},
}

var companiesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize companies by category and location",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.CompanyStats(ctx)
		if err != nil {
			return eris.Wrap(err, "companies stats")
		}
		formatCompanyStats(os.Stdout, stats)
		return nil
	},
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Query contacts",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		f, err := contactFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		contacts, err := st.ListContacts(ctx, f)
		if err != nil {
			return eris.Wrap(err, "contacts list")
		}
		if len(contacts) == 0 {
			fmt.Fprintln(os.Stderr, "No contacts found.")
			return nil
		}
		formatContacts(os.Stdout, contacts)
		return nil
	},
}

var contactsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize contacts by title and department",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.ContactStats(ctx)
		if err != nil {
			return eris.Wrap(err, "contacts stats")
		}
		formatContactStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	companiesListCmd.Flags().String("period", "", "only companies observed in this YYYY-MM")
	companiesListCmd.Flags().Bool("active", false, "only companies with an active snapshot")
	companiesListCmd.Flags().String("name", "", "name substring")
	companiesListCmd.Flags().String("category", "", "exact category")
	companiesListCmd.Flags().String("location", "", "exact location")
	companiesListCmd.Flags().Int("limit", 50, "max companies to display")
	companiesListCmd.Flags().Int("offset", 0, "rows to skip")

	contactsListCmd.Flags().Int64("company-id", 0, "owning company id")
	contactsListCmd.Flags().String("email", "", "exact email")
	contactsListCmd.Flags().String("title", "", "exact title")
	contactsListCmd.Flags().String("department", "", "exact department")
	contactsListCmd.Flags().Bool("primary", false, "only primary contacts")
	contactsListCmd.Flags().String("period", "", "only contacts observed in this YYYY-MM")
	contactsListCmd.Flags().Bool("active", false, "only contacts with an active snapshot")
	contactsListCmd.Flags().Int("limit", 50, "max contacts to display")
	contactsListCmd.Flags().Int("offset", 0, "rows to skip")

	companiesCmd.AddCommand(companiesListCmd, companiesShowCmd, companiesStatsCmd)
	contactsCmd.AddCommand(contactsListCmd, contactsStatsCmd)
	rootCmd.AddCommand(companiesCmd)
	rootCmd.AddCommand(contactsCmd)
}

func companyFilterFromFlags(cmd *cobra.Command) (company.CompanyFilter, error) {
	var f company.CompanyFilter
	periodFlag, _ := cmd.Flags().GetString("period")
	if periodFlag != "" {
		p, err := periodArg(periodFlag, time.Now())
		if err != nil {
			return f, err
		}
		f.Period = p
	}
	f.ActiveOnly, _ = cmd.Flags().GetBool("active")
	f.Name, _ = cmd.Flags().GetString("name")
	f.Category, _ = cmd.Flags().GetString("category")
	f.Location, _ = cmd.Flags().GetString("location")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	f.Offset, _ = cmd.Flags().GetInt("offset")
	return f, nil
}

func contactFilterFromFlags(cmd *cobra.Command) (company.ContactFilter, error) {
	var f company.ContactFilter
	periodFlag, _ := cmd.Flags().GetString("period")
	if periodFlag != "" {
		p, err := periodArg(periodFlag, time.Now())
		if err != nil {
			return f, err
		}
		f.Period = p
	}
	f.CompanyID, _ = cmd.Flags().GetInt64("company-id")
	f.Email, _ = cmd.Flags().GetString("email")
	f.Title, _ = cmd.Flags().GetString("title")
	f.Department, _ = cmd.Flags().GetString("department")
	if cmd.Flags().Changed("primary") {
		primary, _ := cmd.Flags().GetBool("primary")
		f.IsPrimary = &primary
	}
	f.ActiveOnly, _ = cmd.Flags().GetBool("active")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	f.Offset, _ = cmd.Flags().GetInt("offset")
	return f, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "write json")
}

// formatCompanies writes a tabular list of companies to out.
func formatCompanies(out io.Writer, companies []company.Company) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tADDRESS\tCATEGORY\tPHONE\tUPDATED")
	for _, c := range companies {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			truncate(c.Name, 40),
			truncate(c.AddressOrEmpty(), 40),
			dash(c.Category),
			dash(c.Phone),
			c.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatContacts writes a tabular list of contacts to out.
func formatContacts(out io.Writer, contacts []company.Contact) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMPANY\tNAME\tEMAIL\tTITLE\tPRIMARY")
	for _, c := range contacts {
		email := ""
		if c.Email != nil {
			email = *c.Email
		}
		primary := ""
		if c.IsPrimary {
			primary = "yes"
		}
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
			c.ID,
			c.CompanyID,
			dash(truncate(joinName(c.FirstName, c.LastName), 30)),
			dash(email),
			dash(c.Title),
			dash(primary),
		)
	}
	_ = w.Flush()
}

func formatCompanyStats(out io.Writer, s *company.CompanyStats) {
	_, _ = fmt.Fprintf(out, "Companies:        %d\n", s.Total)
	_, _ = fmt.Fprintf(out, "Active snapshots: %d\n", s.ActiveSnapshots)
	formatBuckets(out, "By category", s.ByCategory)
	formatBuckets(out, "By location", s.ByLocation)
}

func formatContactStats(out io.Writer, s *company.ContactStats) {
	_, _ = fmt.Fprintf(out, "Contacts: %d\n", s.Total)
	_, _ = fmt.Fprintf(out, "Primary:  %d\n", s.Primary)
	formatBuckets(out, "By title", s.ByTitle)
	formatBuckets(out, "By department", s.ByDepartment)
}

func formatBuckets(out io.Writer, title string, buckets []company.Bucket) {
	if len(buckets) == 0 {
		return
	}
	_, _ = fmt.Fprintf(out, "\n%s:\n", title)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, b := range buckets {
		_, _ = fmt.Fprintf(w, "  %s\t%d\n", dash(b.Key), b.Count)
	}
	_ = w.Flush()
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

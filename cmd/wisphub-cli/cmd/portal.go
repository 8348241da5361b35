package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"wisppos-backend/lib/cookies"
	"wisppos-backend/lib/timezone"
	"wisppos-backend/services/wisphub"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	account  string
	password string
)

func init() {
	for _, c := range []*cobra.Command{loginCmd, refreshPlansCmd, reportCmd} {
		c.Flags().StringVar(&account, "account", "", "portal account, defaults to the admin account")
		c.Flags().StringVar(&password, "password", "", "password of --account")
	}
	plansCmd.Flags().String("outlet", "", "only list the plans sold at this outlet")
	reportCmd.Flags().String("from", "", "first day of the report as YYYY-MM-DD, defaults to today")
	reportCmd.Flags().String("to", "", "day after the last day of the report as YYYY-MM-DD")
	reportCmd.Flags().Bool("pos-only", false, "only count vouchers sold at the outlet")

	rootCmd.AddCommand(loginCmd, refreshPlansCmd, plansCmd, reportCmd)
}

func portalAccount() (string, string) {
	if account == "" {
		return app.Config.Admin.Username, app.Config.Admin.Password
	}
	return account, password
}

func login(cmd *cobra.Command) (string, cookies.Jar, error) {
	user, pass := portalAccount()
	if user == "" {
		return "", nil, fmt.Errorf("no --account given and no admin account configured")
	}
	jar, err := app.Portal.Login(cmd.Context(), user, pass)
	return user, jar, err
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Logs into the portal and prints the cookies of the session.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, jar, err := login(cmd)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(jar))
		for name := range jar {
			names = append(names, name)
		}
		sort.Strings(names)

		t := newTable()
		t.AppendHeader(table.Row{"Cookie", "Expires"})
		for _, name := range names {
			expires := "session"
			at, ok, err := jar[name].Expires()
			if err != nil {
				expires = "unparsable"
			} else if ok {
				expires = at.In(timezone.Location).Format(time.DateTime)
			}
			t.AppendRow(table.Row{name, expires})
		}
		t.Render()
		return nil
	},
}

func renderPlans(plans []wisphub.Plan) {
	t := newTable()
	t.AppendHeader(table.Row{"Id", "Router", "Plan", "Prefix", "Price", "Outlets"})
	for _, p := range plans {
		price := "-"
		if p.HasPricing() {
			price = fmt.Sprintf("%.2f %s", *p.Price, orDash(p.Currency))
		}
		outlets := make([]string, len(p.Outlets))
		for i, o := range p.Outlets {
			outlets[i] = o.Name
		}
		t.AppendRow(table.Row{p.Id, p.Router, p.Name, p.Prefix, price, strings.Join(outlets, ", ")})
	}
	t.Render()
}

var refreshPlansCmd = &cobra.Command{
	Use:   "refresh-plans",
	Short: "Rebuilds the plan catalog from the portal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, jar, err := login(cmd)
		if err != nil {
			return err
		}
		catalog, err := app.Portal.RefreshPlans(cmd.Context(), user, jar)
		if err != nil {
			return err
		}
		renderPlans(catalog.Plans)
		return nil
	},
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Prints the stored plan catalog.",
	RunE: func(cmd *cobra.Command, args []string) error {
		outlet, _ := cmd.Flags().GetString("outlet")
		catalog, err := app.Portal.Catalog(cmd.Context())
		if err != nil {
			return err
		}
		if outlet == "" {
			fmt.Printf("refreshed at %s\n", catalog.RefreshedAt.Format(time.DateTime))
			renderPlans(catalog.Plans)
			return nil
		}
		plans := catalog.ForOutlet(outlet)
		if len(plans) == 0 {
			suggestOutlet(cmd, outlet)
		}
		renderPlans(plans)
		return nil
	},
}

func parseDay(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, value, timezone.Location)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var reportCmd = &cobra.Command{
	Use:   "report <outlet>",
	Short: "Prints the vouchers of every plan of an outlet created since --from.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromFlag, _ := cmd.Flags().GetString("from")
		toFlag, _ := cmd.Flags().GetString("to")
		posOnly, _ := cmd.Flags().GetBool("pos-only")

		from, err := parseDay(fromFlag)
		if err != nil {
			return err
		}
		if from == nil {
			today := timezone.StartOfDay(timezone.Now())
			from = &today
		}
		to, err := parseDay(toFlag)
		if err != nil {
			return err
		}

		user, jar, err := login(cmd)
		if err != nil {
			return err
		}
		query := wisphub.ReportQuery{
			Outlet:  args[0],
			From:    *from,
			PosOnly: posOnly,
			Account: user,
		}
		if to != nil {
			query.To = *to
		}
		report, err := app.Portal.Report(cmd.Context(), query, jar)
		if err != nil {
			return err
		}

		t := newTable()
		t.SetTitle(report.Outlet)
		t.AppendHeader(table.Row{"Plan", "Code", "Created", "Sold", "State"})
		for _, p := range report.Plans {
			for _, code := range p.AccessCodes {
				sold := "-"
				if code.SoldAt != nil {
					sold = code.SoldAt.Format(time.DateTime)
				}
				t.AppendRow(table.Row{p.Plan.Name, code.Code, code.CreatedAt.Format(time.DateTime), sold, code.State})
			}
		}
		t.AppendFooter(table.Row{"", "", "", "Total", report.Total})
		t.Render()
		return nil
	},
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"wisppos-backend/lib/timezone"
	"wisppos-backend/services/pos"
	"wisppos-backend/services/wisphub"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mazen160/go-random"
	"github.com/spf13/cobra"
)

func init() {
	now := timezone.Now()
	corteCmd.Flags().Int("year", now.Year(), "year of the cut")
	corteCmd.Flags().Int("month", int(now.Month()), "month of the cut, 1 to 12")
	corteCmd.Flags().Bool("email", false, "email the cut to the configured recipients")
	corteCmd.Flags().String("xlsx", "", "also write the cut as an xlsx workbook to this file")

	usersAddCmd.Flags().String("outlet", "", "point of sale name the user sells at, as the portal spells it")
	usersAddCmd.Flags().String("friendly-name", "", "display name of the point of sale")
	usersAddCmd.Flags().String("wisphub-user", "", "portal account of the point of sale")
	usersAddCmd.Flags().String("wisphub-password", "", "password of the portal account")
	usersAddCmd.Flags().String("password", "", "password of the user, generated when empty")
	usersAddCmd.MarkFlagRequired("outlet")
	usersAddCmd.MarkFlagRequired("wisphub-user")
	usersAddCmd.MarkFlagRequired("wisphub-password")

	usersCmd.AddCommand(usersAddCmd, usersListCmd)
	rootCmd.AddCommand(createCmd, corteCmd, usersCmd)
}

var createCmd = &cobra.Command{
	Use:   "create <username> <plan id>",
	Short: "Creates a voucher at the outlet of a point of sale user.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		voucher, err := app.Service.CreateAccessCode(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendRows([]table.Row{
			{"Code", voucher.Code},
			{"Task", voucher.TaskId},
			{"Login", voucher.LoginUrl},
		})
		for label, value := range voucher.Details {
			t.AppendRow(table.Row{label, value})
		}
		t.Render()
		return nil
	},
}

var corteCmd = &cobra.Command{
	Use:   "corte",
	Short: "Prints the monthly cut of every outlet with a registered user.",
	RunE: func(cmd *cobra.Command, args []string) error {
		year, _ := cmd.Flags().GetInt("year")
		month, _ := cmd.Flags().GetInt("month")
		email, _ := cmd.Flags().GetBool("email")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")
		if month < 1 || month > 12 {
			return fmt.Errorf("month must be between 1 and 12, got %d", month)
		}

		corte, err := app.Service.Corte(cmd.Context(), year, time.Month(month))
		if err != nil {
			return err
		}
		for _, cut := range corte.Cuts {
			t := pos.CutTable(cut)
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.Render()
		}

		if xlsxPath != "" {
			f, err := os.Create(xlsxPath)
			if err != nil {
				return err
			}
			defer f.Close()
			err = corte.WriteXlsx(f)
			if err != nil {
				return err
			}
		}

		if !email {
			return nil
		}
		if len(app.Config.CorteRecipients) == 0 {
			return errors.New("--email needs corte_recipients in the config")
		}
		err = pos.EmailCorte(cmd.Context(), app.Config.Smtp, app.Config.CorteRecipients, corte)
		if err != nil {
			return err
		}
		fmt.Printf("sent %s to %s\n", corte.Filename(), strings.Join(app.Config.CorteRecipients, ", "))
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manages the point of sale users.",
}

// suggestOutlet prints the closest outlet names of the catalog, it stays
// quiet when the catalog was never refreshed.
func suggestOutlet(cmd *cobra.Command, outlet string) bool {
	suggestions, err := app.Service.SuggestOutlets(cmd.Context(), outlet)
	if err != nil || len(suggestions) == 0 {
		return false
	}
	fmt.Fprintf(os.Stderr, "no outlet named %q, did you mean:\n", outlet)
	for _, s := range suggestions {
		fmt.Fprintf(os.Stderr, "  %s (%.0f%%)\n", s.Value, s.Similarity*100)
	}
	return true
}

func knownOutlet(cmd *cobra.Command, outlet string) (bool, error) {
	catalog, err := app.Portal.Catalog(cmd.Context())
	if errors.Is(err, wisphub.ErrCatalogNotInitialized) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(catalog.ForOutlet(outlet)) > 0, nil
}

var usersAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Registers or replaces a point of sale user.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outlet, _ := cmd.Flags().GetString("outlet")
		friendly, _ := cmd.Flags().GetString("friendly-name")
		wisphubUser, _ := cmd.Flags().GetString("wisphub-user")
		wisphubPassword, _ := cmd.Flags().GetString("wisphub-password")
		pass, _ := cmd.Flags().GetString("password")

		known, err := knownOutlet(cmd, outlet)
		if err != nil {
			return err
		}
		if !known {
			suggestOutlet(cmd, outlet)
			return fmt.Errorf("no plan of the catalog is sold at %q", outlet)
		}

		generated := pass == ""
		if generated {
			pass, err = random.String(12)
			if err != nil {
				return err
			}
		}
		hash, err := pos.HashPassword(pass)
		if err != nil {
			return err
		}
		if friendly == "" {
			friendly = outlet
		}

		err = app.Users.Put(cmd.Context(), pos.User{
			Username:                args[0],
			PasswordHash:            hash,
			PointOfSaleFriendlyName: friendly,
			WispHub: pos.WispHubAccount{
				Username:        wisphubUser,
				Password:        wisphubPassword,
				PointOfSaleName: outlet,
			},
		})
		if err != nil {
			return err
		}
		if generated {
			fmt.Printf("password: %s\n", pass)
		}
		return nil
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the point of sale users.",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := app.Users.List(cmd.Context())
		if err != nil {
			return err
		}
		t := newTable()
		t.AppendHeader(table.Row{"Username", "Point of sale", "Outlet", "Portal account"})
		for _, u := range users {
			t.AppendRow(table.Row{u.Username, u.PointOfSaleFriendlyName, u.WispHub.PointOfSaleName, u.WispHub.Username})
		}
		t.Render()
		return nil
	},
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitclient/packages/db"
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Inspect persisted cookie sessions",
}

var cookiesListCmd = &cobra.Command{
	Use:   "list [session]",
	Short: "List stored sessions, or the cookies of one session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCookieStore()
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			names, err := store.Sessions()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		}

		cookies, err := store.Load(args[0])
		if err != nil {
			return err
		}
		for _, c := range cookies {
			fmt.Fprintf(out, "%s\t%s\t%s=%s\n", c.Domain, c.Path, c.Name, c.Value)
		}
		return nil
	},
}

var cookiesDeleteCmd = &cobra.Command{
	Use:   "delete <session>",
	Short: "Delete every cookie stored for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCookieStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Delete(args[0])
	},
}

func init() {
	cookiesCmd.AddCommand(cookiesListCmd)
	cookiesCmd.AddCommand(cookiesDeleteCmd)
}

func openCookieStore() (*db.Store, error) {
	if cookieDBFlag == "" {
		return nil, &exitError{code: ExitUsageError, err: fmt.Errorf("--cookie-db is required")}
	}
	store, err := db.Open(cookieDBFlag)
	if err != nil {
		return nil, &exitError{code: ExitConfigError, err: err}
	}
	return store, nil
}

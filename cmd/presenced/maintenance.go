package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one idle sweep over every application and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer n.close()

		stats, err := n.reaper.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect presence sessions",
}

var sessionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List AppSession records of every application",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer n.close()

		records, err := n.appSessions.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "APP\tSESSION\tCHARACTER\tSTATE\tTIMEOUT")
		for _, as := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				as.App, as.Session, as.Character, as.State, as.Timeout.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var sessionsLogCmd = &cobra.Command{
	Use:   "log <session-id>",
	Short: "Show the activity log of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer n.close()

		app := appFlag(cmd, n)
		store, ok := n.stores[app]
		if !ok {
			return fmt.Errorf("unknown app %s", app)
		}
		limit, _ := cmd.Flags().GetInt64("limit")
		entries, err := store.Activities(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

var charactersCmd = &cobra.Command{
	Use:   "characters",
	Short: "Inspect and maintain characters",
}

var charactersOnlineCmd = &cobra.Command{
	Use:   "online",
	Short: "List characters currently marked online",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer n.close()

		m, err := n.machine(appFlag(cmd, n))
		if err != nil {
			return err
		}
		ids, err := m.CharactersOnline(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var charactersBindCmd = &cobra.Command{
	Use:   "bind <player-id> <character-id>",
	Short: "Record that a player owns a character",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer n.close()

		app := appFlag(cmd, n)
		dir, ok := n.directories[app]
		if !ok {
			return fmt.Errorf("unknown app %s", app)
		}
		if err := dir.BindCharacter(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		siblings, err := dir.Siblings(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		fmt.Printf("player %s owns %v in %s\n", args[0], siblings, app)
		return nil
	},
}

func appFlag(cmd *cobra.Command, n *node) string {
	app, _ := cmd.Flags().GetString("app")
	if app == "" {
		app = n.cfg.App
	}
	return app
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	rootCmd.AddCommand(sweepCmd, sessionsCmd, charactersCmd)
	sessionsCmd.AddCommand(sessionsLsCmd, sessionsLogCmd)
	charactersCmd.AddCommand(charactersOnlineCmd, charactersBindCmd)

	sessionsLogCmd.Flags().Int64("limit", 20, "Number of entries to show")
	for _, c := range []*cobra.Command{sessionsLogCmd, charactersOnlineCmd, charactersBindCmd} {
		c.Flags().String("app", "", "Application tag (defaults to the configured local app)")
	}
}

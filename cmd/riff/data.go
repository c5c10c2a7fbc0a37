package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var counterCmd = &cobra.Command{
	Use:   "counter [increment [n] | reset]",
	Short: "Show, increment or reset your counter",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		setupClientLogging()
		cfg, err := loadClientConfig()
		if err != nil {
			return err
		}
		cs, err := openClient(cmd.Context(), cfg, "")
		if err != nil {
			return err
		}
		if err := cs.requireSignedIn(); err != nil {
			return err
		}
		ctx := cmd.Context()

		action := ""
		if len(args) > 0 {
			action = args[0]
		}
		switch action {
		case "":
			c, err := cs.api.Counter(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Counter: %d\n", c.Value)
		case "increment":
			amount := 1
			if len(args) == 2 {
				if amount, err = strconv.Atoi(args[1]); err != nil {
					return fmt.Errorf("invalid amount %q", args[1])
				}
			}
			c, err := cs.api.IncrementCounter(ctx, amount)
			if err != nil {
				return err
			}
			cmd.Printf("Counter: %d\n", c.Value)
		case "reset":
			if _, err := cs.api.ResetCounter(ctx); err != nil {
				return err
			}
			cmd.Println("Counter: 0")
		default:
			return fmt.Errorf("unknown counter action %q", action)
		}
		return nil
	},
}

var notificationsUnread bool

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List your notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		setupClientLogging()
		cfg, err := loadClientConfig()
		if err != nil {
			return err
		}
		cs, err := openClient(cmd.Context(), cfg, "")
		if err != nil {
			return err
		}
		if err := cs.requireSignedIn(); err != nil {
			return err
		}

		ns, err := cs.api.Notifications(cmd.Context(), notificationsUnread)
		if err != nil {
			return err
		}
		if len(ns) == 0 {
			cmd.Println("No notifications.")
			return nil
		}
		for _, n := range ns {
			mark := " "
			if !n.Read {
				mark = "*"
			}
			cmd.Printf("%s %s  [%s] %s: %s\n", mark, n.CreatedAt.Local().Format(time.DateTime), n.Type, n.Title, n.Message)
		}
		return nil
	},
}

var activitiesMine bool

var activitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "List recent activities",
	RunE: func(cmd *cobra.Command, args []string) error {
		setupClientLogging()
		cfg, err := loadClientConfig()
		if err != nil {
			return err
		}
		cs, err := openClient(cmd.Context(), cfg, "")
		if err != nil {
			return err
		}

		userID := ""
		if activitiesMine {
			if err := cs.requireSignedIn(); err != nil {
				return err
			}
			userID = cs.session.CurrentUser().ID
		}
		acts, err := cs.api.Activities(cmd.Context(), userID)
		if err != nil {
			return err
		}
		for _, a := range acts {
			cmd.Printf("%s  %-24s %s\n", a.Timestamp.Local().Format(time.DateTime), a.Type, a.UserID)
		}
		return nil
	},
}

func init() {
	notificationsCmd.Flags().BoolVar(&notificationsUnread, "unread", false, "only unread notifications")
	activitiesCmd.Flags().BoolVar(&activitiesMine, "mine", false, "only your own activities")

	rootCmd.AddCommand(counterCmd, notificationsCmd, activitiesCmd)
}

package main

import (
	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out locally and at the identity provider",
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
		if !cs.session.IsAuthenticated() && cs.idp.ActiveAccount() == nil {
			cmd.Println("Not signed in.")
			return nil
		}
		// The local session is gone even when the provider call fails.
		if err := cs.flow.SignOut(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("Signed out.")
		return nil
	},
}

var whoamiRemote bool

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
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

		snap := cs.session.Snapshot()
		u := snap.CurrentUser
		cmd.Printf("User:     %s <%s>\n", u.Name, u.Email)
		cmd.Printf("ID:       %s\n", u.ID)
		cmd.Printf("Role:     %s\n", u.Role)
		if u.Phone != nil {
			cmd.Printf("Phone:    %s\n", *u.Phone)
		}
		cmd.Printf("Account:  %s\n", snap.AccountID)
		cmd.Printf("State:    %s\n", cs.flow.State())

		if whoamiRemote {
			me, err := cs.api.Me(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Backend:  %s <%s>\n", me.ID, me.Email)
		}
		return nil
	},
}

var tokenScopes []string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print an access token for the signed-in account",
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

		scopes := tokenScopes
		if len(scopes) == 0 {
			scopes = cs.flow.APIScopes()
		}
		tok, err := cs.flow.GetAccessToken(cmd.Context(), scopes)
		if err != nil {
			return err
		}
		cmd.Println(tok)
		return nil
	},
}

var profilePhone string

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or complete the signed-in user's profile",
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

		if profilePhone == "" {
			if cs.flow.NeedsProfile() {
				cmd.Println("Profile incomplete: no phone number. Set one with --phone.")
			} else {
				cmd.Println("Profile complete.")
			}
			return nil
		}

		u, err := cs.flow.CompleteProfile(cmd.Context(), profilePhone)
		if err != nil {
			return err
		}
		cmd.Printf("Phone number saved for %s.\n", u.Email)
		return nil
	},
}

func init() {
	whoamiCmd.Flags().BoolVar(&whoamiRemote, "remote", false, "also ask the backend who the token belongs to")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "scopes to request (default: the configured API scope)")
	profileCmd.Flags().StringVar(&profilePhone, "phone", "", "phone number to store on the profile")

	rootCmd.AddCommand(logoutCmd, whoamiCmd, tokenCmd, profileCmd)
}

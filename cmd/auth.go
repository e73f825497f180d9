package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/rahat/mess/internal/session"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	Short:   "Authenticate against the mess server",
	GroupID: "account",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		if email == "" || password == "" {
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Email").
						Value(&email),
					huh.NewInput().
						Title("Password").
						EchoMode(huh.EchoModePassword).
						Value(&password),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		resp, res := a.API.Login(context.Background(), email, password)
		if !res.Success {
			return fmt.Errorf("login failed: %v", res.Err())
		}

		if err := a.Session.SetSession(resp.Token, resp.RefreshToken); err != nil {
			return err
		}
		if err := a.Session.SetProfile(session.Profile{
			ID:    resp.User.ID,
			Name:  resp.User.Name,
			Email: resp.User.Email,
			Role:  resp.User.Role,
		}); err != nil {
			return err
		}

		fmt.Printf("Logged in as %s <%s>\n", resp.User.Name, resp.User.Email)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:     "register",
	Short:   "Create an account on the mess server",
	GroupID: "account",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		if name == "" || email == "" || password == "" {
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Name").
						Value(&name),
					huh.NewInput().
						Title("Email").
						Value(&email),
					huh.NewInput().
						Title("Password").
						EchoMode(huh.EchoModePassword).
						Value(&password),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		resp, res := a.API.Register(context.Background(), name, email, password)
		if !res.Success {
			return fmt.Errorf("registration failed: %v", res.Err())
		}
		if err := a.Session.SetSession(resp.Token, resp.RefreshToken); err != nil {
			return err
		}
		if err := a.Session.SetProfile(session.Profile{
			ID:    resp.User.ID,
			Name:  resp.User.Name,
			Email: resp.User.Email,
			Role:  resp.User.Role,
		}); err != nil {
			return err
		}

		fmt.Printf("Registered and logged in as %s <%s>\n", resp.User.Name, resp.User.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "Clear the local session and cached responses",
	GroupID: "account",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Session.ClearSession(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	Short:   "Show the logged-in user",
	GroupID: "account",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := requireAuth(a); err != nil {
			return err
		}
		p, err := a.Session.Profile()
		if err != nil {
			return err
		}
		if p == nil {
			// No cached profile: fetch it from the server.
			u, res := a.API.Me(context.Background())
			if !res.Success {
				return fmt.Errorf("fetch profile: %v", res.Err())
			}
			p = &session.Profile{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
			if err := a.Session.SetProfile(*p); err != nil {
				return err
			}
		}
		fmt.Printf("%s <%s>", p.Name, p.Email)
		if p.Role != "" {
			fmt.Printf(" [%s]", p.Role)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "account email")
	loginCmd.Flags().String("password", "", "account password (prompted when omitted)")
	registerCmd.Flags().String("name", "", "display name")
	registerCmd.Flags().String("email", "", "account email")
	registerCmd.Flags().String("password", "", "account password (prompted when omitted)")
	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd)
}

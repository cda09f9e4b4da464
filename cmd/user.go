package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trackd/trackd/internal/models"
	"github.com/trackd/trackd/internal/output"
)

var (
	userName  string
	userEmail string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun()
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userRmCmd = &cobra.Command{
	Use:   "rm <user-id>",
	Short: "Delete a user",
	Long:  "Delete a user. Issues assigned to them become unassigned; their comments are removed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userRmRun(args[0])
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userName, "name", "", "User name (required, unique)")
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "User email")
	_ = userAddCmd.MarkFlagRequired("name")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userRmCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would add user: %s", userName)
		return nil
	}

	user := &models.User{Name: userName, Email: userEmail}
	if err := s.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	ui.Success("Created user %s: %s", output.Cyan(shortID(user.ID)), user.Name)
	return nil
}

func userListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}

	if len(users) == 0 {
		ui.Info("No users found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Email", "Created"})
	for _, u := range users {
		_ = table.Append([]string{
			shortID(u.ID),
			u.Name,
			u.Email,
			u.CreatedAt.Format("2006-01-02"),
		})
	}
	_ = table.Render()
	return nil
}

func userRmRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete user %s: %s", shortID(user.ID), user.Name)
		return nil
	}

	if err := s.DeleteUser(ctx, user.ID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	ui.Success("Deleted user %s: %s", output.Cyan(shortID(user.ID)), user.Name)
	return nil
}

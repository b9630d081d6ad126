package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
)

func newTopicsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage consultation topics",
	}
	cmd.AddCommand(newTopicCreateCommand())
	return cmd
}

func newTopicCreateCommand() *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an active topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			t := &appointment.Topic{Name: name, Description: description, Active: true}
			if err := e.store.Directory.CreateTopic(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "topic name")
	cmd.Flags().StringVar(&description, "description", "", "topic description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newUsersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage members and consultants",
	}
	cmd.AddCommand(newUserCreateCommand())
	return cmd
}

func newUserCreateCommand() *cobra.Command {
	var name, email, phone, role string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an enabled user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRole(role)
			if err != nil {
				return err
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			u := &appointment.User{FullName: name, Email: email, Phone: phone, Role: r, Enabled: true}
			if err := e.store.Directory.CreateUser(cmd.Context(), u); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&role, "role", string(appointment.RoleMember), "MEMBER, CONSULTANT, STAFF or ADMIN")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func parseRole(s string) (appointment.Role, error) {
	r := appointment.Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case appointment.RoleMember, appointment.RoleConsultant, appointment.RoleStaff, appointment.RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

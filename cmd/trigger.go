package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"wakeline/pkg/models"
)

func newTriggerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Run one pass of a background job now",
	}
	cmd.AddCommand(newTriggerSchedulerCommand(), newTriggerRetriesCommand(), newTriggerUserCommand())
	return cmd
}

func newTriggerSchedulerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Place every call that is due right now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Scheduler.ProcessScheduledCalls(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
}

func newTriggerRetriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retries",
		Short: "Redial or close every overdue pending call",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Retries.ProcessAllRetries(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
}

func newTriggerUserCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "user <userId> <callType>",
		Short: "Call one user now, ignoring their schedule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			callType := models.CallType(args[1])
			if !callType.Valid() {
				return fmt.Errorf("unknown call type %q", args[1])
			}

			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			call, err := a.Scheduler.TriggerUser(cmd.Context(), args[0], callType)
			if err != nil {
				return err
			}
			return printJSON(cmd, call)
		},
	}
}

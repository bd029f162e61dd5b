package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"wakeline/internal/app"
	"wakeline/internal/push"
)

func newScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect the call schedule",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "preview",
		Short: "Show every active user's next call window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			preview, err := a.Scheduler.GetSchedulePreview(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, preview)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "due",
		Short: "List users whose call window is open now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Scheduler.GetUsersNeedingCallsNow(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	})

	return cmd
}

func newPendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List calls waiting for an acknowledgment",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			calls, err := a.Registry.ListPending(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, calls)
		},
	}
}

var errWakeNotReady = errors.New("wake channel is not ready")

func newCertsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Wake channel credentials",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate wake channel credentials without sending a push",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, log, err := loadConfig()
			if err != nil {
				return err
			}

			status := push.NewCertificateValidator().Validate(app.WakeCredentials(cfg))
			transport := app.NewTransport(context.WithoutCancel(cmd.Context()), cfg, log)
			if err := printJSON(cmd, map[string]any{
				"wake":     status,
				"channels": transport.Channels(),
			}); err != nil {
				return err
			}
			if !status.Ready {
				return errWakeNotReady
			}
			return nil
		},
	})

	return cmd
}

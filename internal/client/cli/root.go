package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/api"
	"github.com/dmitrijs2005/bagqueue/internal/client/config"
	"github.com/dmitrijs2005/bagqueue/internal/server/auth"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// offline marks commands that do not talk to the server.
const offline = "offline"

// Dialer builds the App a command runs against.
type Dialer func(cfg *config.Config, out io.Writer) (*App, error)

// NewRootCommand assembles the command tree. dial is called once per
// invocation after configuration has been resolved.
func NewRootCommand(dial Dialer, out io.Writer) *cobra.Command {
	var (
		app        *App
		configPath string
		addr       string
		token      string
		asJSON     bool
	)

	root := &cobra.Command{
		Use:           "bagqueue",
		Short:         "Operate the robot-log ingestion and action queues",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[offline] != "" || cmd.Name() == "help" {
				return nil
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.ServerEndpointAddr = addr
			}
			if cmd.Flags().Changed("token") {
				cfg.AccessToken = token
			}
			if cfg.AccessToken == "" && isTerminal(int(os.Stdin.Fd())) {
				if cfg.AccessToken, err = promptToken(out); err != nil {
					return err
				}
			}

			if app, err = dial(cfg, out); err != nil {
				return err
			}
			app.asJSON = asJSON || !isTerminal(int(os.Stdout.Fd()))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app == nil {
				return nil
			}
			return app.Close()
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "JSON config file")
	pf.StringVarP(&addr, "addr", "a", "", "address and port of the queue server")
	pf.StringVarP(&token, "token", "t", "", "access token")
	pf.BoolVar(&asJSON, "json", false, "print JSON even on a terminal")

	root.AddCommand(
		&cobra.Command{
			Use:   "upload <mission-uuid> <file>...",
			Short: "Upload .bag/.mcap files to a mission",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				outcomes, err := app.Upload(cmd.Context(), args[0], args[1:])
				if len(outcomes) > 0 {
					if perr := app.printOutcomes(outcomes); perr != nil {
						return perr
					}
				}
				return err
			},
		},
		&cobra.Command{
			Use:   "cancel <mission-uuid> <file-uuid>...",
			Short: "Cancel uploads or processing of files",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := app.callContext(cmd.Context())
				defer cancel()
				resp, err := app.queue.CancelUploads(ctx, &api.CancelUploadsRequest{MissionID: args[0], FileIDs: args[1:]})
				if err != nil {
					return err
				}
				return app.printOutcomes(resp.Outcomes)
			},
		},
		&cobra.Command{
			Use:   "file <file-uuid>",
			Short: "Show a file's state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := app.callContext(cmd.Context())
				defer cancel()
				f, err := app.queue.GetFile(ctx, &api.GetFileRequest{FileID: args[0]})
				if err != nil {
					return err
				}
				return app.print(f, func(w *tabwriter.Writer) {
					row(w, "UUID", "FILENAME", "STATE", "LOCATION", "SIZE", "UPDATED")
					row(w, f.ID, f.Filename, f.State, f.Location, humanBytes(uint64(f.Size)), f.UpdatedAt)
				})
			},
		},
		&cobra.Command{
			Use:   "topics <file-uuid>",
			Short: "List the topics extracted from a file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := app.callContext(cmd.Context())
				defer cancel()
				resp, err := app.queue.ListTopics(ctx, &api.ListTopicsRequest{FileID: args[0]})
				if err != nil {
					return err
				}
				return app.print(resp.Topics, func(w *tabwriter.Writer) {
					row(w, "TOPIC", "TYPE", "MESSAGES", "HZ")
					for _, t := range resp.Topics {
						row(w, t.Name, t.Type, t.MessageCount, fmt.Sprintf("%.2f", t.Frequency))
					}
				})
			},
		},
		newActionCommand(&app),
		&cobra.Command{
			Use:   "storage",
			Short: "Show storage usage per backend",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := app.callContext(cmd.Context())
				defer cancel()
				report, err := app.queue.StorageReport(ctx, &api.StorageReportRequest{})
				if err != nil {
					return err
				}
				return app.print(report, func(w *tabwriter.Writer) {
					row(w, "BACKEND", "USED", "TOTAL", "BYTES %", "INODES %")
					for _, s := range append(report.Backends, report.Total) {
						name := s.Backend
						if s.Clamped {
							name += " (clamped)"
						}
						row(w, name, humanBytes(s.UsedBytes), humanBytes(s.TotalBytes),
							fmt.Sprintf("%.1f", 100*s.ByteRatio()), fmt.Sprintf("%.1f", 100*s.InodeRatio()))
					}
				})
			},
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check that the queue service is serving",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := app.callContext(cmd.Context())
				defer cancel()
				resp, err := app.health.Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
				if err != nil {
					return err
				}
				fmt.Fprintln(out, resp.GetStatus().String())
				return nil
			},
		},
		newTokenCommand(out),
	)
	return root
}

func newActionCommand(app **App) *cobra.Command {
	show := func(a *api.Action) error {
		return (*app).print(a, func(w *tabwriter.Writer) {
			row(w, "UUID", "STATE", "STOP REQUESTED", "MESSAGE")
			row(w, a.ID, a.State, a.CancelRequested, a.Message)
		})
	}

	cmd := &cobra.Command{
		Use:   "action",
		Short: "Submit, inspect and stop actions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "submit <mission-uuid> <template-uuid>",
			Short: "Queue a template to run against a mission",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := (*app).callContext(cmd.Context())
				defer cancel()
				a, err := (*app).queue.SubmitAction(ctx, &api.SubmitActionRequest{MissionID: args[0], TemplateID: args[1]})
				if err != nil {
					return err
				}
				return show(a)
			},
		},
		&cobra.Command{
			Use:   "get <action-uuid>",
			Short: "Show an action",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := (*app).callContext(cmd.Context())
				defer cancel()
				a, err := (*app).queue.GetAction(ctx, &api.ActionRequest{ActionID: args[0]})
				if err != nil {
					return err
				}
				return show(a)
			},
		},
		&cobra.Command{
			Use:   "stop <action-uuid>",
			Short: "Stop an action",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := (*app).callContext(cmd.Context())
				defer cancel()
				a, err := (*app).queue.StopAction(ctx, &api.ActionRequest{ActionID: args[0]})
				if err != nil {
					return err
				}
				return show(a)
			},
		},
	)
	return cmd
}

func newTokenCommand(out io.Writer) *cobra.Command {
	var (
		secret string
		user   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:         "token",
		Short:       "Mint an access token for a user (development)",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{offline: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" || user == "" {
				return fmt.Errorf("--secret and --user are required")
			}
			tok, err := auth.GenerateToken(user, []byte(secret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "server signing secret")
	cmd.Flags().StringVar(&user, "user", "", "user id to embed")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func (a *App) printOutcomes(outcomes []models.TransitionOutcome) error {
	return a.print(outcomes, func(w *tabwriter.Writer) {
		row(w, "UUID", "STATE", "APPLIED", "REASON")
		for _, o := range outcomes {
			row(w, o.ID, o.State.String(), o.Applied, strings.TrimSpace(o.Reason))
		}
	})
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/domain"
	"caseline/internal/engine"
)

func certificateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "certificate",
		Aliases: []string{"cert"},
		Short:   "Certificate requests",
		Long:    "Certificate requests move pending -> approved -> released. Release allocates the certificate number and issues the certificate.",
	}
	c.AddCommand(certificateSubmitCmd())
	c.AddCommand(getCmd(domain.KindCertificate, func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.GetCertificate(ctx, actor(), id)
	}))
	c.AddCommand(decisionCmds(domain.KindCertificate,
		func(ctx context.Context, e engine.Engine, id, remarks string) (any, error) {
			return e.ApproveCertificate(ctx, actor(), id, remarks)
		},
		func(ctx context.Context, e engine.Engine, id, remarks string) (any, error) {
			return e.RejectCertificate(ctx, actor(), id, remarks)
		})...)
	c.AddCommand(certificateReleaseCmd())
	c.AddCommand(certificateStatsCmd())
	c.AddCommand(deleteCmd(domain.KindCertificate))
	return c
}

func certificateSubmitCmd() *cobra.Command {
	var in engine.CertificateSubmission
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a certificate request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.SubmitCertificate(ctx, actor(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&in.ResidentRef, "resident", "", "resident reference")
	cmd.Flags().StringVar(&in.CertificateType, "type", "", "certificate type ("+strings.Join(domain.CertificateTypes(), ", ")+")")
	cmd.Flags().StringVar(&in.Purpose, "purpose", "", "purpose")
	cmd.Flags().StringVar(&in.AdditionalRequirements, "requirements", "", "additional requirements")
	return cmd
}

func certificateReleaseCmd() *cobra.Command {
	var remarks string
	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release an approved request and issue its certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, issued, err := a.Engine.ReleaseCertificate(ctx, actor(), args[0], remarks)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"request": req, "issued": issued})
				}
				printIssued(issued)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&remarks, "remarks", "", "release remarks")
	return cmd
}

func certificateStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Certificate request counts by state and type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stats, err := a.Engine.CertificateStatistics(ctx, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Type", "Requests"})
				for _, t := range domain.CertificateTypes() {
					tw.AppendRow(table.Row{t, stats.ByType[t]})
				}
				tw.AppendFooter(table.Row{"pending/approved/released/rejected",
					fmt.Sprintf("%d/%d/%d/%d", stats.Pending, stats.Approved, stats.Released, stats.Rejected)})
				tw.Render()
				return nil
			})
		},
	}
}

func issuedCmd() *cobra.Command {
	i := &cobra.Command{
		Use:   "issued",
		Short: "Issued certificates",
	}
	i.AddCommand(&cobra.Command{
		Use:   "get <certificate-id>",
		Short: "Show an issued certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.GetIssued(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	})
	i.AddCommand(&cobra.Command{
		Use:   "for-request <request-id>",
		Short: "Show the certificate issued for a released request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.GetIssuedByRequest(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	})
	i.AddCommand(issuedInvalidateCmd())
	i.AddCommand(issuedSignCmd())
	i.AddCommand(&cobra.Command{
		Use:   "verify <certificate-number>",
		Short: "Verify a certificate number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Engine.VerifyCertificate(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				switch {
				case !v.Exists:
					fmt.Println("no such certificate")
				case !v.IsValid:
					fmt.Println("INVALIDATED")
				case v.Expired:
					fmt.Printf("EXPIRED on %s\n", v.ValidUntil.Format("2006-01-02"))
				default:
					fmt.Printf("VALID %s until %s\n", v.CertificateType, v.ValidUntil.Format("2006-01-02"))
				}
				return nil
			})
		},
	})
	return i
}

func issuedInvalidateCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "invalidate <certificate-id>",
		Short: "Invalidate an issued certificate (one-way)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.InvalidateCertificate(ctx, actor(), args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason for invalidation")
	return cmd
}

func issuedSignCmd() *cobra.Command {
	var position string
	cmd := &cobra.Command{
		Use:   "sign <certificate-id>",
		Short: "Record the signatory of an issued certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.SignCertificate(ctx, actor(), args[0], position)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&position, "position", "Punong Barangay", "signatory position")
	return cmd
}

func printIssued(c domain.IssuedCertificate) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"Number", c.CertificateNumber},
		{"Type", c.CertificateType},
		{"Resident", c.ResidentRef},
		{"Valid", c.ValidFrom.Format("2006-01-02") + " to " + c.ValidUntil.Format("2006-01-02")},
		{"Issued by", c.IssuedBy},
	})
	tw.Render()
}

func blotterCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "blotter",
		Short: "Blotter cases",
		Long:  "Blotter cases are approved before their progress moves Open -> Ongoing -> Resolved.",
	}
	b.AddCommand(blotterSubmitCmd())
	b.AddCommand(getCmd(domain.KindBlotter, func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.GetBlotter(ctx, actor(), id)
	}))
	b.AddCommand(decisionCmds(domain.KindBlotter,
		func(ctx context.Context, e engine.Engine, id, remarks string) (any, error) {
			return e.ApproveBlotter(ctx, actor(), id, remarks)
		},
		func(ctx context.Context, e engine.Engine, id, remarks string) (any, error) {
			return e.RejectBlotter(ctx, actor(), id, remarks)
		})...)
	b.AddCommand(progressCmd(domain.KindBlotter, func(ctx context.Context, e engine.Engine, id string, p domain.Progress) (any, error) {
		return e.AdvanceBlotterProgress(ctx, actor(), id, p)
	}))
	b.AddCommand(deleteCmd(domain.KindBlotter))
	return b
}

// partyFlags binds one side of a blotter case to --<role>-* flags.
func partyFlags(cmd *cobra.Command, role string, p *domain.Party) {
	cmd.Flags().StringVar(&p.ResidentRef, role+"-resident", "", role+" resident reference (marks the party as a resident)")
	cmd.Flags().StringVar(&p.FullName, role+"-name", "", role+" full name (non-resident)")
	cmd.Flags().IntVar(&p.Age, role+"-age", 0, role+" age (non-resident)")
	cmd.Flags().StringVar(&p.Address, role+"-address", "", role+" address (non-resident)")
	cmd.Flags().StringVar(&p.Contact, role+"-contact", "", role+" contact (non-resident)")
}

func blotterSubmitCmd() *cobra.Command {
	var in engine.BlotterSubmission
	var at string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "File a blotter case",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Complainant.IsResident = in.Complainant.ResidentRef != ""
			in.Respondent.IsResident = in.Respondent.ResidentRef != ""
			t, err := parseWhen(at)
			if err != nil {
				return domain.ValidationError{Field: "incident_at", Message: err.Error()}
			}
			in.IncidentAt = t
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				b, err := a.Engine.SubmitBlotter(ctx, actor(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	partyFlags(cmd, "complainant", &in.Complainant)
	partyFlags(cmd, "respondent", &in.Respondent)
	cmd.Flags().StringVar(&in.IncidentType, "type", "", "incident type")
	cmd.Flags().StringVar(&at, "at", "", "when it happened (RFC3339, default now)")
	cmd.Flags().StringVar(&in.Location, "location", "", "location")
	cmd.Flags().StringVar(&in.Narrative, "narrative", "", "narrative")
	return cmd
}

func incidentCmd() *cobra.Command {
	i := &cobra.Command{
		Use:   "incident",
		Short: "Incident reports",
		Long:  "Incident reports are approved before their progress moves Recorded -> Monitoring -> Resolved.",
	}
	i.AddCommand(incidentSubmitCmd())
	i.AddCommand(getCmd(domain.KindIncident, func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.GetIncident(ctx, actor(), id)
	}))
	i.AddCommand(decisionCmds(domain.KindIncident,
		func(ctx context.Context, e engine.Engine, id, remarks string) (any, error) {
			return e.ApproveIncident(ctx, actor(), id, remarks)
		},
		func(ctx context.Context, e engine.Engine, id, remarks string) (any, error) {
			return e.RejectIncident(ctx, actor(), id, remarks)
		})...)
	i.AddCommand(progressCmd(domain.KindIncident, func(ctx context.Context, e engine.Engine, id string, p domain.Progress) (any, error) {
		return e.AdvanceIncidentProgress(ctx, actor(), id, p)
	}))
	i.AddCommand(deleteCmd(domain.KindIncident))
	return i
}

func incidentSubmitCmd() *cobra.Command {
	var in engine.IncidentSubmission
	var at string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "File an incident report",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseWhen(at)
			if err != nil {
				return domain.ValidationError{Field: "occurred_at", Message: err.Error()}
			}
			in.OccurredAt = t
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.SubmitIncident(ctx, actor(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&in.ReportingOfficer, "officer", "", "reporting officer (default the actor)")
	cmd.Flags().StringVar(&in.Category, "category", "", "category")
	cmd.Flags().StringVar(&at, "at", "", "when it happened (RFC3339, default now)")
	cmd.Flags().StringVar(&in.Location, "location", "", "location")
	cmd.Flags().StringVar(&in.Narrative, "narrative", "", "narrative")
	return cmd
}

func parseWhen(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Now(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func getCmd(kind domain.Kind, get func(context.Context, engine.Engine, string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a " + string(kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rec, err := get(ctx, a.Engine, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
}

type decideFunc func(ctx context.Context, e engine.Engine, id, remarks string) (any, error)

func decisionCmds(kind domain.Kind, approve, reject decideFunc) []*cobra.Command {
	build := func(action, short string, fn decideFunc) *cobra.Command {
		var remarks string
		cmd := &cobra.Command{
			Use:   action + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					rec, err := fn(ctx, a.Engine, args[0], remarks)
					if err != nil {
						return err
					}
					return printJSONOrTable(rec)
				})
			},
		}
		cmd.Flags().StringVar(&remarks, "remarks", "", "remarks")
		return cmd
	}
	return []*cobra.Command{
		build("approve", "Approve a pending "+string(kind), approve),
		build("reject", "Reject a pending "+string(kind)+" (remarks required)", reject),
	}
}

func progressCmd(kind domain.Kind, advance func(context.Context, engine.Engine, string, domain.Progress) (any, error)) *cobra.Command {
	var names []string
	for _, p := range domain.ProgressSequence(kind) {
		names = append(names, string(p))
	}
	return &cobra.Command{
		Use:   "progress <id> <" + strings.Join(names, "|") + ">",
		Short: "Advance the progress of an approved " + string(kind),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rec, err := advance(ctx, a.Engine, args[0], domain.Progress(args[1]))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
}

func deleteCmd(kind domain.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a " + string(kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.SoftDelete(ctx, actor(), kind, args[0]); err != nil {
					return err
				}
				fmt.Printf("%s %s deleted\n", kind, args[0])
				return nil
			})
		},
	}
}

func queueCmd() *cobra.Command {
	q := &cobra.Command{
		Use:   "queue",
		Short: "Pending work across certificates, blotters and incidents",
	}
	var kinds []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending items, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var filter []domain.Kind
				for _, k := range kinds {
					filter = append(filter, domain.Kind(k))
				}
				pending, err := a.Engine.ListPending(ctx, actor(), filter...)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pending)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "ID", "Title", "Subtitle", "Requested By", "Requested At"})
				for _, it := range pending.Items {
					tw.AppendRow(table.Row{it.Kind, it.ID, it.Title, it.Subtitle, it.RequestedBy, it.RequestedAt.Format(time.RFC3339)})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "Total", pending.Statistics.TotalPending})
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringSliceVar(&kinds, "kind", nil, "restrict to kinds (certificate, blotter, incident)")
	q.AddCommand(list)
	q.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Pending counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stats, err := a.Engine.PendingCount(ctx, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	})
	return q
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/session"
)

var consultCmd = &cobra.Command{
	Use:   "consult",
	Short: "Run one consultation interactively in the terminal",
	Long: `Prompt for the patient's data, symptoms and answers to the follow-up
questions, then run the pipeline and print the outcome.

Each patient field gets intake.max_field_retries attempts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		proc, err := newProcess(ctx)
		if err != nil {
			return err
		}
		defer proc.Close(context.Background())

		p, err := newPipeline(ctx, proc)
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer p.Close(context.Background())

		prompter := intake.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout(),
			intake.NewValidator(proc.cfg.Intake), proc.cfg.Intake.MaxFieldRetries)
		return runConsult(ctx, p.orch, prompter, cmd.OutOrStdout())
	},
}

// consultations is the slice of the orchestrator an interactive session
// drives.
type consultations interface {
	StartSession(ctx context.Context, raw intake.RawPatient) (*session.Consultation, error)
	SubmitSymptoms(ctx context.Context, id string, symptoms []string) (*session.Consultation, error)
	GenerateQuestions(ctx context.Context, id string) (*session.Consultation, error)
	SubmitAnswers(ctx context.Context, id string, answers []string) (*session.Consultation, error)
	Run(ctx context.Context, id string) (*session.Consultation, error)
	Close(ctx context.Context, id string) error
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("51"))

	finalizedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("46"))

	referredStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

// runConsult walks one patient through the whole pipeline.
func runConsult(ctx context.Context, api consultations, prompter *intake.Prompter, out io.Writer) error {
	fmt.Fprintln(out, titleStyle.Render("Virtual consultation"))
	fmt.Fprintln(out, dimStyle.Render("This service offers guidance only and never replaces an in-person visit."))
	fmt.Fprintln(out)

	patient, err := prompter.Patient()
	if err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	c, err := api.StartSession(ctx, intake.RawFromPatient(patient))
	if err != nil {
		return err
	}
	id := c.ID
	defer func() { _ = api.Close(context.Background(), id) }()

	symptoms, err := prompter.Symptoms()
	if err != nil {
		return fmt.Errorf("symptoms: %w", err)
	}
	if _, err := api.SubmitSymptoms(ctx, id, symptoms); err != nil {
		return err
	}

	c, err = api.GenerateQuestions(ctx, id)
	if err != nil {
		return err
	}
	answers := make([]string, 0, len(c.Questions))
	if len(c.Questions) > 0 {
		fmt.Fprintln(out, dimStyle.Render("A few follow-up questions (leave blank to skip):"))
	}
	for i, q := range c.Questions {
		a, err := prompter.Ask(fmt.Sprintf("%d. %s", i+1, q))
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("answers: %w", err)
		}
		answers = append(answers, a)
	}
	if _, err := api.SubmitAnswers(ctx, id, answers); err != nil {
		return err
	}

	fmt.Fprintln(out, dimStyle.Render("Reviewing your consultation..."))
	c, err = api.Run(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderOutcome(c))
	return nil
}

// renderOutcome prints the patient-facing result. Internal failure notes
// are never shown.
func renderOutcome(c *session.Consultation) string {
	var b strings.Builder
	switch c.State {
	case session.StateFinalized:
		b.WriteString(finalizedStyle.Render("Assessment complete") + "\n\n")
		if c.Verdict != nil {
			if c.Verdict.Synthesis != "" {
				b.WriteString(c.Verdict.Synthesis + "\n\n")
			}
			if c.Verdict.FinalDiagnosisOrReferral != "" {
				b.WriteString(titleStyle.Render("Diagnosis") + "\n" + c.Verdict.FinalDiagnosisOrReferral + "\n\n")
			}
			if c.Verdict.ExtraRecommendations != "" {
				b.WriteString(titleStyle.Render("Recommendations") + "\n" + c.Verdict.ExtraRecommendations + "\n\n")
			}
			b.WriteString(dimStyle.Render(fmt.Sprintf("Confidence: %d%%", c.Verdict.Confidence)) + "\n")
		}
		if c.Document != nil {
			b.WriteString(dimStyle.Render("Clinical order: "+c.Document.Path) + "\n")
		}
	default:
		b.WriteString(referredStyle.Render("Please see a doctor in person") + "\n\n")
		b.WriteString(c.Referral + "\n")
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

// message is one email template: subject and body share the variable bag,
// plus app_url.
type message struct {
	subject *template.Template
	body    *template.Template
}

func mustMessage(name, subject, body string) message {
	return message{
		subject: template.Must(template.New(name + "_subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New(name + "_body").Option("missingkey=zero").Parse(body)),
	}
}

var templates = map[string]message{
	"bug_assigned": mustMessage("bug_assigned",
		`You were assigned bug #{{.bug_id}}`,
		`You are now the assignee of "{{.bug_title}}".
{{.app_url}}/projects/{{.project_id}}/bugs/{{.bug_id}}`),
	"project_invitation": mustMessage("project_invitation",
		`You were added to {{.project_name}}`,
		`You now have access to the project "{{.project_name}}".
{{.app_url}}/projects/{{.project_id}}`),
	"project_removed": mustMessage("project_removed",
		`You were removed from {{.project_name}}`,
		`You no longer have access to the project "{{.project_name}}".`),
}

// Config holds sender settings.
type Config struct {
	FromAddress string
	AppBaseURL  string
}

// MockSMTPNotifier renders notification emails and logs them instead of
// sending. It implements the ports.Notifier interface.
type MockSMTPNotifier struct {
	users  ports.UserDirectory
	cfg    Config
	logger *slog.Logger
}

var _ ports.Notifier = (*MockSMTPNotifier)(nil)

// NewMockSMTPNotifier creates a new mock notifier. The user directory
// supplies recipient addresses.
func NewMockSMTPNotifier(users ports.UserDirectory, cfg Config, logger *slog.Logger) *MockSMTPNotifier {
	return &MockSMTPNotifier{
		users:  users,
		cfg:    cfg,
		logger: logger.With("component", "email_notifier"),
	}
}

// Rendered is a rendered email.
type Rendered struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Render builds the email for params without sending it.
func (n *MockSMTPNotifier) Render(ctx context.Context, params ports.NotificationParams) (Rendered, error) {
	tmpl, ok := templates[params.Template]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown email template %q", params.Template)
	}

	names, err := n.users.GetDisplayNames(ctx, []int64{params.RecipientUserID})
	if err != nil {
		return Rendered{}, fmt.Errorf("resolve recipient: %w", err)
	}
	recipient, ok := names[params.RecipientUserID]
	if !ok || recipient.Email == "" {
		return Rendered{}, fmt.Errorf("recipient %d has no email address", params.RecipientUserID)
	}

	vars := make(map[string]string, len(params.Variables)+1)
	for k, v := range params.Variables {
		vars[k] = v
	}
	vars["app_url"] = n.cfg.AppBaseURL

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, vars); err != nil {
		return Rendered{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tmpl.body.Execute(&body, vars); err != nil {
		return Rendered{}, fmt.Errorf("render body: %w", err)
	}

	to := recipient.Email
	if name := recipient.DisplayName(); name != recipient.Email {
		to = fmt.Sprintf("%s <%s>", name, recipient.Email)
	}

	return Rendered{
		From:    n.cfg.FromAddress,
		To:      to,
		Subject: subject.String(),
		Body:    body.String(),
	}, nil
}

// Notify logs the rendered email. Failures are logged, never returned.
func (n *MockSMTPNotifier) Notify(ctx context.Context, params ports.NotificationParams) {
	email, err := n.Render(ctx, params)
	if err != nil {
		n.logger.Error("failed to build notification",
			"user_id", params.RecipientUserID,
			"template", params.Template,
			"error", err,
		)
		return
	}

	n.logger.Info("mock email sent",
		"from", email.From,
		"to", email.To,
		"subject", email.Subject,
		"template", params.Template,
	)
}

// Package email sends workspace invitations over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// InviteData fills the invitation template.
type InviteData struct {
	AppName       string
	WorkspaceName string
	InviterName   string
	JoinCode      string
	JoinURL       string
}

// SendWorkspaceInvite emails one invitation to each recipient.
func (s *Service) SendWorkspaceInvite(to []string, data InviteData) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if data.AppName == "" {
		data.AppName = "Huddle"
	}

	var html bytes.Buffer
	if err := inviteTemplate.Execute(&html, data); err != nil {
		return fmt.Errorf("render invite template: %w", err)
	}
	subject := fmt.Sprintf("%s invited you to %s on %s", data.InviterName, data.WorkspaceName, data.AppName)
	text := fmt.Sprintf("Join %s with code %s: %s", data.WorkspaceName, data.JoinCode, data.JoinURL)

	for _, recipient := range to {
		if err := s.sendHTML(recipient, subject, text, html.String()); err != nil {
			return fmt.Errorf("send invite to %s: %w", recipient, err)
		}
	}
	return nil
}

func (s *Service) sendHTML(to, subject, textBody, htmlBody string) error {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	boundary := "boundary-huddle"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", sanitizeHeader(subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, []string{to}, msg.Bytes())
}

func sanitizeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

var inviteTemplate = template.Must(template.New("invite").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Join {{.WorkspaceName}} on {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .code { font-family: monospace; font-size: 24px; letter-spacing: 4px; background: #f4f4f4; padding: 8px 16px; border-radius: 4px; }
        .button { display: inline-block; padding: 12px 24px; background: #481349; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <h2>{{.InviterName}} invited you to {{.WorkspaceName}}</h2>
    <p>Use this join code:</p>
    <p class="code">{{.JoinCode}}</p>
    {{if .JoinURL}}<p><a href="{{.JoinURL}}" class="button">Join workspace</a></p>{{end}}
</body>
</html>`))

package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/textproto"
	"sort"
	"strings"

	"sampark/internal/automation"
	"sampark/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// RecipientResolver finds the email address behind an action target.
// services.CustomerService implements it.
type RecipientResolver interface {
	ResolveEmail(ctx context.Context, target automation.Target) (string, error)
}

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type emailTemplate struct {
	subject string
	body    *template.Template
}

var builtinTemplates = map[string]string{
	"welcome": `<p>Hi {{.name}},</p>
<p>Thanks for reaching out{{if .company}} from {{.company}}{{end}}. Our team will be in touch shortly.</p>`,
	"urgent_ack": `<p>Hello,</p>
<p>We have flagged your request as urgent and an agent is looking at it now.</p>
{{if .content}}<blockquote>{{.content}}</blockquote>{{end}}`,
	"escalation": `<p>Conversation {{.subject_id}} was escalated by rule "{{.rule_name}}".</p>
{{if .content}}<p>Last message: {{.content}}</p>{{end}}`,
	"generic": `<p>{{.rule_name}}</p>`,
}

var builtinSubjects = map[string]string{
	"welcome":    "Welcome",
	"urgent_ack": "We are on it",
	"escalation": "Conversation escalated",
	"generic":    "Notification",
}

// TemplateNames lists the templates send_email may reference.
func TemplateNames() []string {
	names := make([]string, 0, len(builtinTemplates))
	for name := range builtinTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SMTPEmailSender delivers send_email actions over SMTP.
type SMTPEmailSender struct {
	dialer    mailDialer
	from      string
	resolver  RecipientResolver
	templates map[string]emailTemplate
	logger    *logrus.Logger
}

var _ automation.EmailSender = (*SMTPEmailSender)(nil)

// NewSMTPEmailSender 创建 SMTP 邮件发送器
func NewSMTPEmailSender(cfg config.SMTPConfig, resolver RecipientResolver, logger *logrus.Logger) (*SMTPEmailSender, error) {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	from := cfg.From
	if from == "" {
		from = d.Username
	}
	return newSMTPEmailSender(d, from, resolver, logger)
}

func newSMTPEmailSender(d mailDialer, from string, resolver RecipientResolver, logger *logrus.Logger) (*SMTPEmailSender, error) {
	if logger == nil {
		logger = logrus.New()
	}
	templates := make(map[string]emailTemplate, len(builtinTemplates))
	for name, src := range builtinTemplates {
		tpl, err := template.New(name).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse email template %s: %w", name, err)
		}
		templates[name] = emailTemplate{subject: builtinSubjects[name], body: tpl}
	}
	return &SMTPEmailSender{dialer: d, from: from, resolver: resolver, templates: templates, logger: logger}, nil
}

// SendEmail renders the template and sends it to req.To, or to the target's customer.
func (s *SMTPEmailSender) SendEmail(ctx context.Context, req automation.EmailRequest) error {
	name := req.Template
	if name == "" {
		name = "generic"
	}
	tpl, ok := s.templates[name]
	if !ok {
		return &automation.DeliveryError{Channel: "email", Err: fmt.Errorf("unknown template %q", name)}
	}

	to := strings.TrimSpace(req.To)
	if to == "" {
		if s.resolver == nil {
			return &automation.DeliveryError{Channel: "email", Err: errors.New("no recipient")}
		}
		addr, err := s.resolver.ResolveEmail(ctx, req.Target)
		if err != nil {
			return &automation.DeliveryError{Channel: "email", Err: fmt.Errorf("resolve recipient: %w", err)}
		}
		to = addr
	}

	data := req.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	var body bytes.Buffer
	if err := tpl.body.Execute(&body, data); err != nil {
		return &automation.DeliveryError{Channel: "email", Err: fmt.Errorf("render template %s: %w", name, err)}
	}
	subject := req.Subject
	if subject == "" {
		subject = tpl.subject
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body.String())

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return &automation.DeliveryError{Channel: "email", Transient: transientSMTP(err), Err: err}
	}
	s.logger.WithFields(logrus.Fields{"template": name, "to": to}).Info("email sent")
	return nil
}

// transientSMTP treats 5xx replies as permanent and everything else
// (connection failures, 4xx) as retryable.
func transientSMTP(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code < 500
	}
	return true
}

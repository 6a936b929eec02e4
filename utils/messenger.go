package utils

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"gopkg.in/gomail.v2"

	"leadpilot/engine"
	"leadpilot/models"
)

// MessengerConfig carries the provider credentials for outbound SMS
// and email. Empty credentials leave that channel unconfigured; the
// engine records a simulated success instead of sending.
type MessengerConfig struct {
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
}

// Messenger renders step templates and dispatches them via Twilio
// (SMS) or SMTP (email). It implements engine.Messenger.
type Messenger struct {
	cfg    MessengerConfig
	twilio *twilio.RestClient
	logger *logrus.Logger
}

func NewMessenger(cfg MessengerConfig, logger *logrus.Logger) *Messenger {
	m := &Messenger{cfg: cfg, logger: logger}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		m.twilio = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioAccountSID,
			Password: cfg.TwilioAuthToken,
		})
	}
	return m
}

// Send renders the step's template with the lead's fields and delivers
// it on the requested channel, returning the provider's delivery id.
func (m *Messenger) Send(channel string, lead *models.Lead, cfg models.JSONMap) (string, error) {
	body, err := m.render(stringFromConfig(cfg, "body"), lead, cfg)
	if err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}

	switch channel {
	case "sms":
		return m.sendSMS(lead, body)
	case "email":
		subject, serr := m.render(stringFromConfig(cfg, "subject"), lead, cfg)
		if serr != nil {
			return "", fmt.Errorf("rendering subject: %w", serr)
		}
		return m.sendEmail(lead, subject, body)
	}
	return "", fmt.Errorf("unknown message channel %q", channel)
}

func (m *Messenger) sendSMS(lead *models.Lead, body string) (string, error) {
	if m.twilio == nil || m.cfg.TwilioFromNumber == "" {
		return "", engine.ErrNotConfigured
	}
	if lead.Phone == "" {
		return "", fmt.Errorf("lead %d has no phone number", lead.ID)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(lead.Phone)
	params.SetFrom(m.cfg.TwilioFromNumber)
	params.SetBody(body)

	resp, err := m.twilio.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio send failed: %w", err)
	}
	if resp.Sid != nil {
		return *resp.Sid, nil
	}
	return uuid.New().String(), nil
}

func (m *Messenger) sendEmail(lead *models.Lead, subject, body string) (string, error) {
	if m.cfg.SMTPHost == "" {
		return "", engine.ErrNotConfigured
	}
	if lead.Email == "" {
		return "", fmt.Errorf("lead %d has no email address", lead.ID)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromEmail))
	msg.SetHeader("To", lead.Email)
	msg.SetHeader("Subject", subject)
	messageID := uuid.New().String()
	msg.SetHeader("Message-ID", fmt.Sprintf("<%s@leadpilot>", messageID))
	msg.SetBody("text/html", body)

	d := gomail.NewDialer(m.cfg.SMTPHost, m.cfg.SMTPPort, m.cfg.SMTPUsername, m.cfg.SMTPPassword)
	if err := d.DialAndSend(msg); err != nil {
		return "", fmt.Errorf("smtp send failed: %w", err)
	}
	return messageID, nil
}

// render executes the message body as a template over the lead's
// fields plus any extra variables configured on the step.
func (m *Messenger) render(text string, lead *models.Lead, cfg models.JSONMap) (string, error) {
	if text == "" || !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("message").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", err
	}

	vars := map[string]interface{}{
		"FirstName": lead.FirstName,
		"LastName":  lead.LastName,
		"Email":     lead.Email,
		"Phone":     lead.Phone,
		"Company":   lead.Company,
		"Status":    lead.Status,
	}
	if extra, ok := cfg["variables"].(map[string]interface{}); ok {
		for k, v := range extra {
			vars[k] = v
		}
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, vars); err != nil {
		return "", err
	}
	return out.String(), nil
}

func stringFromConfig(cfg models.JSONMap, key string) string {
	s, _ := cfg[key].(string)
	return s
}

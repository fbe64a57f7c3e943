package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/azentyk/voice-appointments/internal/config"
	"github.com/azentyk/voice-appointments/internal/notify"
	"github.com/azentyk/voice-appointments/internal/observability/metrics"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

// BuildNotifier picks the SMS and email senders. Missing Twilio credentials
// fall back to the logging stub; EMAIL_PROVIDER=auto prefers SendGrid, then SES.
func BuildNotifier(cfg *appconfig.Config, awsCfg aws.Config, m *metrics.VoiceMetrics, logger *logging.Logger) *notify.Notifier {
	var sms notify.SMSSender
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "" {
		sms = notify.NewTwilioSMS(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
		logger.Info("sms sender ready", "provider", "twilio")
	} else {
		logger.Warn("twilio credentials missing; sms notifications will only be logged")
	}

	email := buildEmailSender(cfg, awsCfg, logger)
	return notify.NewNotifier(sms, email, m, logger)
}

func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	sendGrid := func() notify.EmailSender {
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			logger.Info("email sender ready", "provider", "sendgrid")
			return s
		}
		return nil
	}
	ses := func() notify.EmailSender {
		if strings.TrimSpace(cfg.SESFromEmail) == "" {
			return nil
		}
		logger.Info("email sender ready", "provider", "ses")
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}

	switch cfg.EmailProvider {
	case "none", "disabled":
		return nil
	case "stub":
		return notify.NewStubEmailSender(logger)
	case "sendgrid":
		if s := sendGrid(); s != nil {
			return s
		}
	case "ses":
		if s := ses(); s != nil {
			return s
		}
	default:
		if s := sendGrid(); s != nil {
			return s
		}
		if s := ses(); s != nil {
			return s
		}
	}
	logger.Warn("no email provider configured; email copies disabled", "provider", cfg.EmailProvider)
	return nil
}

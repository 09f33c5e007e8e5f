package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Database
	redact(&out.Database.DSN)
	redact(&out.Database.Password)

	// Redis
	redact(&out.Redis.Password)

	// Oracle
	redact(&out.Oracle.MarketIndexAPIKey)

	// Signer sub-service
	redact(&out.Signer.Token)

	// Vault
	redact(&out.Vault.Token)
	redact(&out.Vault.FilePassphrase)

	// Object storage
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Internal API
	redact(&out.Server.ServiceToken)

	// Notifications
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so mutations to the redacted copy do not affect
	// the original.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Chains.RPCEndpoints != nil {
		out.Chains.RPCEndpoints = make(map[string]string, len(cfg.Chains.RPCEndpoints))
		for k, v := range cfg.Chains.RPCEndpoints {
			out.Chains.RPCEndpoints[k] = v
		}
	}
	if cfg.Chains.Spenders != nil {
		out.Chains.Spenders = make(map[string]string, len(cfg.Chains.Spenders))
		for k, v := range cfg.Chains.Spenders {
			out.Chains.Spenders[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

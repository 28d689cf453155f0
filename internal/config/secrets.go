package config

import (
	"net/url"
	"slices"
)

// RedactedConfig returns a copy of cfg with sensitive fields replaced by
// "***". Use it whenever the configuration is logged or served.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Chain.PrivateKey)
	redact(&out.Chain.KeyPassword)
	out.Chain.RPCURL = redactURL(cfg.Chain.RPCURL)

	redact(&out.AI.APIKey)

	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.AMQP.URL = redactURL(cfg.AMQP.URL)

	// Feed headers routinely carry API keys.
	out.Feeds = make([]FeedConfig, len(cfg.Feeds))
	for i, f := range cfg.Feeds {
		if f.Headers != nil {
			h := make(map[string]string, len(f.Headers))
			for k := range f.Headers {
				h[k] = redacted
			}
			f.Headers = h
		}
		out.Feeds[i] = f
	}

	out.Sessions = slices.Clone(cfg.Sessions)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Server.AuthorizedKeys = slices.Clone(cfg.Server.AuthorizedKeys)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL keeps scheme and host but drops credentials, path and query,
// which is where RPC and broker providers put keys.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}

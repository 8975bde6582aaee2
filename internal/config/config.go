package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Chains    ChainsConfig    `mapstructure:"chains"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Threshold ThresholdConfig `mapstructure:"threshold"`
	Dedupe    DedupeConfig    `mapstructure:"dedupe"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Poll      PollConfig      `mapstructure:"poll"`
	RPC       RPCConfig       `mapstructure:"rpc"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`

	// OutputPaths are zap sink URLs; empty means stdout only.
	OutputPaths []string `mapstructure:"output_paths"`
}

type ChainsConfig struct {
	// Allowed is the chain-key allow list. Empty means every resolvable
	// chain is accepted.
	Allowed []string `mapstructure:"allowed"`
	// RPC maps chain key -> JSON-RPC endpoint.
	RPC map[string]string `mapstructure:"rpc"`
}

type WatchConfig struct {
	// InteractionContract is the contract whose inbound transactions are
	// alertable. Required for webhook processing and polling.
	InteractionContract string `mapstructure:"interaction_contract"`
	// TokenLabels overrides the on-chain symbol for display, keyed by
	// token contract address.
	TokenLabels map[string]string `mapstructure:"token_labels"`
}

type WebhookConfig struct {
	// MoralisSecret signs provider-A bodies (body-only HMAC).
	MoralisSecret string `mapstructure:"moralis_secret"`
	// MoralisSignatureHeaders is tried in order when looking for the
	// provider-A signature.
	MoralisSignatureHeaders []string `mapstructure:"moralis_signature_headers"`
	// TenderlySecret signs provider-B bodies (body+date HMAC).
	TenderlySecret string `mapstructure:"tenderly_secret"`
}

type ThresholdConfig struct {
	// Rules maps a token address (0x-prefixed) or ticker symbol to the
	// minimum human-readable amount that triggers an alert.
	Rules map[string]string `mapstructure:"rules"`
	// Default applies when rules are configured but none matched.
	Default string `mapstructure:"default"`
}

type DedupeConfig struct {
	RedisURL         string        `mapstructure:"redis_url"`
	TTL              time.Duration `mapstructure:"ttl"`
	MaxMemoryEntries int           `mapstructure:"max_memory_entries"`
}

type AlertConfig struct {
	TelegramBotToken string        `mapstructure:"telegram_bot_token"`
	TelegramChatID   string        `mapstructure:"telegram_chat_id"`
	RateLimitPerMin  int           `mapstructure:"rate_limit_per_min"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	RetryMultiplier  float64       `mapstructure:"retry_multiplier"`
}

type PollConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Chains lists the chain keys to run interaction watchers on.
	Chains       []string      `mapstructure:"chains"`
	Interval     time.Duration `mapstructure:"interval"`
	MaxBlockSpan uint64        `mapstructure:"max_block_span"`
}

type RPCConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("log.output_paths", []string{"stdout"})
	v.SetDefault("webhook.moralis_signature_headers", []string{"x-signature", "x-moralis-signature"})
	v.SetDefault("dedupe.ttl", "168h")
	v.SetDefault("dedupe.max_memory_entries", 10000)
	v.SetDefault("alert.rate_limit_per_min", 20)
	v.SetDefault("alert.retry_max_attempts", 4)
	v.SetDefault("alert.retry_base_delay", "500ms")
	v.SetDefault("alert.retry_max_delay", "8s")
	v.SetDefault("alert.retry_multiplier", 2.0)
	v.SetDefault("poll.enabled", false)
	v.SetDefault("poll.interval", "15s")
	v.SetDefault("poll.max_block_span", 2000)
	v.SetDefault("rpc.timeout", "10s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

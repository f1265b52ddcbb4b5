// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Scheduler knobs may additionally be overridden from a YAML file named by S4U_CONFIG_FILE.
// For required credentials (e.g., Twitch chat), use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scheduler holds the per-conversation scheduling and pacing options.
type Scheduler struct {
	VIPQueuePriority          bool
	MessageTimeout            time.Duration
	RecentMessageKeepCount    int
	EnableOldMessageCleanup   bool
	EnableMessageInterruption bool
	DebounceTimeout           time.Duration
	InterestDecayFactor       float64

	CharsPerSecond           float64
	MinTypingDelay           time.Duration
	MaxTypingDelay           time.Duration
	EnableDynamicTypingDelay bool
	FixedTypingDelay         time.Duration

	GenerationTimeout  time.Duration
	FallbackReply      string
	SessionIdleTimeout time.Duration // 0 disables idle session eviction
}

type Config struct {
	Scheduler Scheduler

	// Twitch
	TwitchChannels    []string
	TwitchBotUsername string
	TwitchOAuthToken  string

	// NATS
	NATSURL                string
	NATSEventSubject       string
	NATSReplySubjectPrefix string

	// Reply generator (OpenAI-compatible)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	SystemPrompt  string

	// Database (optional; enables reply audit log)
	DBDsn string

	// Redis (optional; rolling recent-reply window per chat)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisReplyKeep int

	HTTPAddr string
}

// DefaultScheduler returns the scheduler defaults.
func DefaultScheduler() Scheduler {
	return Scheduler{
		VIPQueuePriority:          true,
		MessageTimeout:            120 * time.Second,
		RecentMessageKeepCount:    6,
		EnableOldMessageCleanup:   true,
		EnableMessageInterruption: true,
		DebounceTimeout:           5 * time.Second,
		InterestDecayFactor:       0.95,
		CharsPerSecond:            15,
		MinTypingDelay:            200 * time.Millisecond,
		MaxTypingDelay:            2 * time.Second,
		EnableDynamicTypingDelay:  true,
		FixedTypingDelay:          time.Second,
		GenerationTimeout:         60 * time.Second,
		FallbackReply:             "Sorry, I lost my train of thought. Say that again?",
	}
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateChatReady() when you require the IRC adapter. Malformed numeric values are errors.
func Load() (*Config, error) {
	cfg := &Config{Scheduler: DefaultScheduler()}

	if err := loadSchedulerEnv(&cfg.Scheduler); err != nil {
		return nil, err
	}
	if path := os.Getenv("S4U_CONFIG_FILE"); path != "" {
		if err := overlayFile(&cfg.Scheduler, path); err != nil {
			return nil, err
		}
	}

	// Twitch
	if v := os.Getenv("TWITCH_CHANNELS"); v != "" {
		for _, ch := range strings.Split(v, ",") {
			if ch = strings.TrimSpace(strings.ToLower(ch)); ch != "" {
				cfg.TwitchChannels = append(cfg.TwitchChannels, ch)
			}
		}
	} else if v := os.Getenv("TWITCH_CHANNEL"); v != "" {
		cfg.TwitchChannels = []string{strings.ToLower(v)}
	}
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")

	// NATS
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSEventSubject = envOr("NATS_EVENT_SUBJECT", "s4u.events.>")
	cfg.NATSReplySubjectPrefix = envOr("NATS_REPLY_SUBJECT_PREFIX", "s4u.replies")

	// Generator
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.OpenAIModel = envOr("OPENAI_MODEL", "gpt-4o-mini")
	cfg.SystemPrompt = envOr("SYSTEM_PROMPT", "You are a friendly live-stream co-host. Reply briefly and casually.")

	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisReplyKeep = 200
	if err := envInt("REDIS_DB", &cfg.RedisDB); err != nil {
		return nil, err
	}
	if err := envInt("REDIS_REPLY_KEEP", &cfg.RedisReplyKeep); err != nil {
		return nil, err
	}
	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")

	if err := cfg.Scheduler.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSchedulerEnv(s *Scheduler) error {
	var err error
	set := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}
	set(envBool("VIP_QUEUE_PRIORITY", &s.VIPQueuePriority))
	set(envSeconds("MESSAGE_TIMEOUT_SECONDS", &s.MessageTimeout))
	set(envInt("RECENT_MESSAGE_KEEP_COUNT", &s.RecentMessageKeepCount))
	set(envBool("ENABLE_OLD_MESSAGE_CLEANUP", &s.EnableOldMessageCleanup))
	set(envBool("ENABLE_MESSAGE_INTERRUPTION", &s.EnableMessageInterruption))
	set(envSeconds("DEBOUNCE_TIMEOUT_SECONDS", &s.DebounceTimeout))
	set(envFloat("INTEREST_DECAY_FACTOR", &s.InterestDecayFactor))
	set(envFloat("CHARS_PER_SECOND", &s.CharsPerSecond))
	set(envSeconds("MIN_TYPING_DELAY", &s.MinTypingDelay))
	set(envSeconds("MAX_TYPING_DELAY", &s.MaxTypingDelay))
	set(envBool("ENABLE_DYNAMIC_TYPING_DELAY", &s.EnableDynamicTypingDelay))
	set(envSeconds("FIXED_TYPING_DELAY", &s.FixedTypingDelay))
	set(envSeconds("GENERATION_TIMEOUT_SECONDS", &s.GenerationTimeout))
	if v := os.Getenv("FALLBACK_REPLY"); v != "" {
		s.FallbackReply = v
	}
	if v := os.Getenv("SESSION_IDLE_TIMEOUT"); v != "" {
		d, perr := time.ParseDuration(v)
		if perr != nil {
			set(fmt.Errorf("invalid SESSION_IDLE_TIMEOUT (duration): %w", perr))
		} else {
			s.SessionIdleTimeout = d
		}
	}
	return err
}

// fileScheduler mirrors Scheduler with the option names used in YAML files.
// Pointer fields distinguish "absent" from zero values.
type fileScheduler struct {
	VIPQueuePriority          *bool    `yaml:"vip_queue_priority"`
	MessageTimeoutSeconds     *float64 `yaml:"message_timeout_seconds"`
	RecentMessageKeepCount    *int     `yaml:"recent_message_keep_count"`
	EnableOldMessageCleanup   *bool    `yaml:"enable_old_message_cleanup"`
	EnableMessageInterruption *bool    `yaml:"enable_message_interruption"`
	DebounceTimeoutSeconds    *float64 `yaml:"debounce_timeout_seconds"`
	InterestDecayFactor       *float64 `yaml:"interest_decay_factor"`
	CharsPerSecond            *float64 `yaml:"chars_per_second"`
	MinTypingDelay            *float64 `yaml:"min_typing_delay"`
	MaxTypingDelay            *float64 `yaml:"max_typing_delay"`
	EnableDynamicTypingDelay  *bool    `yaml:"enable_dynamic_typing_delay"`
	FixedTypingDelay          *float64 `yaml:"fixed_typing_delay"`
	GenerationTimeoutSeconds  *float64 `yaml:"generation_timeout_seconds"`
	FallbackReply             *string  `yaml:"fallback_reply"`
	SessionIdleTimeout        *string  `yaml:"session_idle_timeout"`
}

type fileConfig struct {
	Scheduler fileScheduler `yaml:"scheduler"`
}

// overlayFile applies values present in the YAML file on top of s.
func overlayFile(s *Scheduler, path string) error {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: operator-provided config path
	if err != nil {
		return fmt.Errorf("read S4U_CONFIG_FILE: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse S4U_CONFIG_FILE %s: %w", path, err)
	}
	f := fc.Scheduler
	if f.VIPQueuePriority != nil {
		s.VIPQueuePriority = *f.VIPQueuePriority
	}
	if f.MessageTimeoutSeconds != nil {
		s.MessageTimeout = seconds(*f.MessageTimeoutSeconds)
	}
	if f.RecentMessageKeepCount != nil {
		s.RecentMessageKeepCount = *f.RecentMessageKeepCount
	}
	if f.EnableOldMessageCleanup != nil {
		s.EnableOldMessageCleanup = *f.EnableOldMessageCleanup
	}
	if f.EnableMessageInterruption != nil {
		s.EnableMessageInterruption = *f.EnableMessageInterruption
	}
	if f.DebounceTimeoutSeconds != nil {
		s.DebounceTimeout = seconds(*f.DebounceTimeoutSeconds)
	}
	if f.InterestDecayFactor != nil {
		s.InterestDecayFactor = *f.InterestDecayFactor
	}
	if f.CharsPerSecond != nil {
		s.CharsPerSecond = *f.CharsPerSecond
	}
	if f.MinTypingDelay != nil {
		s.MinTypingDelay = seconds(*f.MinTypingDelay)
	}
	if f.MaxTypingDelay != nil {
		s.MaxTypingDelay = seconds(*f.MaxTypingDelay)
	}
	if f.EnableDynamicTypingDelay != nil {
		s.EnableDynamicTypingDelay = *f.EnableDynamicTypingDelay
	}
	if f.FixedTypingDelay != nil {
		s.FixedTypingDelay = seconds(*f.FixedTypingDelay)
	}
	if f.GenerationTimeoutSeconds != nil {
		s.GenerationTimeout = seconds(*f.GenerationTimeoutSeconds)
	}
	if f.FallbackReply != nil {
		s.FallbackReply = *f.FallbackReply
	}
	if f.SessionIdleTimeout != nil {
		d, err := time.ParseDuration(*f.SessionIdleTimeout)
		if err != nil {
			return fmt.Errorf("invalid session_idle_timeout %q: %w", *f.SessionIdleTimeout, err)
		}
		s.SessionIdleTimeout = d
	}
	return nil
}

// Validate rejects option combinations the scheduler cannot run with.
func (s Scheduler) Validate() error {
	if s.RecentMessageKeepCount < 1 {
		return fmt.Errorf("recent message keep count must be >= 1, got %d", s.RecentMessageKeepCount)
	}
	if s.InterestDecayFactor <= 0 || s.InterestDecayFactor > 1 {
		return fmt.Errorf("interest decay factor must be in (0,1], got %v", s.InterestDecayFactor)
	}
	if s.EnableDynamicTypingDelay && s.CharsPerSecond <= 0 {
		return fmt.Errorf("chars per second must be > 0 when dynamic typing delay is enabled")
	}
	if s.MinTypingDelay > s.MaxTypingDelay {
		return fmt.Errorf("min typing delay %v exceeds max typing delay %v", s.MinTypingDelay, s.MaxTypingDelay)
	}
	if s.MessageTimeout < 0 || s.DebounceTimeout < 0 || s.GenerationTimeout < 0 || s.SessionIdleTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// ValidateChatReady checks required fields when the Twitch IRC adapter is enabled.
func (c *Config) ValidateChatReady() error {
	if len(c.TwitchChannels) == 0 || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL(S), TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s (bool): %w", key, err)
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s (int): %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s (float): %w", key, err)
	}
	*dst = f
	return nil
}

// envSeconds parses a float number of seconds, matching the option names.
func envSeconds(key string, dst *time.Duration) error {
	var f float64
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if err := envFloat(key, &f); err != nil {
		return err
	}
	*dst = seconds(f)
	return nil
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

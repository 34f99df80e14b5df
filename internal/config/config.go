package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	Vonage   VonageConfig
	Speech   SpeechConfig
	LLM      LLMConfig
	Dispatch DispatchConfig
	Retry    RetryConfig
	Language LanguageConfig
	Redis    RedisConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type VonageConfig struct {
	ApplicationID  string
	PrivateKeyPath string
	FromNumber     string

	// BaseURL overrides the Voice API host (tests, regional endpoints).
	BaseURL string

	// WebhookBaseURL is this process's public URL; answer and event
	// callback URLs are derived from it.
	WebhookBaseURL string
}

type SpeechConfig struct {
	APIKey   string
	BaseURL  string
	STTModel string
	TTSModel string
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type DispatchConfig struct {
	MaxBatchSize  int
	MaxConcurrent int
	BatchTimeout  time.Duration
	DialTimeout   time.Duration
}

// RetryConfig carries per-service attempt budgets. STT gets a wider
// per-attempt timeout for non-English audio; those recognizer passes run
// measurably slower.
type RetryConfig struct {
	STTMaxAttempts       int
	STTAttemptTimeout    time.Duration
	STTNonEnglishTimeout time.Duration
	TTSMaxAttempts       int
	TTSAttemptTimeout    time.Duration
	LLMMaxAttempts       int
	LLMAttemptTimeout    time.Duration
	BaseDelay            time.Duration
}

type LanguageConfig struct {
	// AutoThreshold is the detection confidence a non-active language must
	// exceed before the call switches to it.
	AutoThreshold float64
}

// RedisConfig is optional; with no host the process uses the in-memory
// concurrency limiter instead of the shared Redis cap.
type RedisConfig struct {
	Host string
	Port int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Vonage.ApplicationID = strings.TrimSpace(os.Getenv("VONAGE_APPLICATION_ID"))
	c.Vonage.PrivateKeyPath = strings.TrimSpace(os.Getenv("VONAGE_PRIVATE_KEY_PATH"))
	c.Vonage.FromNumber = strings.TrimSpace(os.Getenv("VONAGE_FROM_NUMBER"))
	c.Vonage.BaseURL = strings.TrimSpace(os.Getenv("VONAGE_API_URL"))
	c.Vonage.WebhookBaseURL = strings.TrimSpace(os.Getenv("WEBHOOK_BASE_URL"))

	c.Speech.APIKey = os.Getenv("SPEECH_API_KEY")
	c.Speech.BaseURL = strings.TrimSpace(os.Getenv("SPEECH_API_URL"))
	c.Speech.STTModel = strings.TrimSpace(os.Getenv("SPEECH_STT_MODEL"))
	c.Speech.TTSModel = strings.TrimSpace(os.Getenv("SPEECH_TTS_MODEL"))

	c.LLM.APIKey = os.Getenv("LLM_API_KEY")
	c.LLM.BaseURL = strings.TrimSpace(os.Getenv("LLM_API_URL"))
	c.LLM.Model = strings.TrimSpace(os.Getenv("LLM_MODEL"))

	c.Dispatch.MaxBatchSize = optInt("DISPATCH_MAX_BATCH", &parseErrs)
	c.Dispatch.MaxConcurrent = optInt("DISPATCH_MAX_CONCURRENT", &parseErrs)
	// Duration env vars are optional; defaults applied in Validate().
	c.Dispatch.BatchTimeout = mustDuration("DISPATCH_BATCH_TIMEOUT")
	c.Dispatch.DialTimeout = mustDuration("DIAL_TIMEOUT")

	c.Retry.STTMaxAttempts = optInt("STT_MAX_ATTEMPTS", &parseErrs)
	c.Retry.STTAttemptTimeout = mustDuration("STT_ATTEMPT_TIMEOUT")
	c.Retry.STTNonEnglishTimeout = mustDuration("STT_NON_ENGLISH_TIMEOUT")
	c.Retry.TTSMaxAttempts = optInt("TTS_MAX_ATTEMPTS", &parseErrs)
	c.Retry.TTSAttemptTimeout = mustDuration("TTS_ATTEMPT_TIMEOUT")
	c.Retry.LLMMaxAttempts = optInt("LLM_MAX_ATTEMPTS", &parseErrs)
	c.Retry.LLMAttemptTimeout = mustDuration("LLM_ATTEMPT_TIMEOUT")
	c.Retry.BaseDelay = mustDuration("RETRY_BASE_DELAY")

	{
		v := strings.TrimSpace(os.Getenv("LANGUAGE_AUTO_THRESHOLD"))
		if v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				parseErrs = append(parseErrs, fmt.Errorf("LANGUAGE_AUTO_THRESHOLD must be a number, got %q", v))
			} else {
				c.Language.AutoThreshold = f
			}
		}
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Vonage.ApplicationID == "" {
		errs = append(errs, errors.New("VONAGE_APPLICATION_ID is required"))
	}
	if c.Vonage.PrivateKeyPath == "" {
		errs = append(errs, errors.New("VONAGE_PRIVATE_KEY_PATH is required"))
	}
	if c.Vonage.FromNumber == "" {
		errs = append(errs, errors.New("VONAGE_FROM_NUMBER is required"))
	}
	if c.Vonage.WebhookBaseURL == "" {
		errs = append(errs, errors.New("WEBHOOK_BASE_URL is required"))
	} else if !strings.HasPrefix(c.Vonage.WebhookBaseURL, "http://") && !strings.HasPrefix(c.Vonage.WebhookBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("WEBHOOK_BASE_URL must be an absolute URL, got %q", c.Vonage.WebhookBaseURL))
	}

	if c.Speech.APIKey == "" {
		errs = append(errs, errors.New("SPEECH_API_KEY is required"))
	}
	if c.Speech.BaseURL == "" {
		errs = append(errs, errors.New("SPEECH_API_URL is required"))
	}

	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("LLM_API_KEY is required"))
	}

	if c.Dispatch.MaxBatchSize < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_BATCH must not be negative, got %d", c.Dispatch.MaxBatchSize))
	}
	if c.Dispatch.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_CONCURRENT must not be negative, got %d", c.Dispatch.MaxConcurrent))
	}

	if c.Language.AutoThreshold < 0 || c.Language.AutoThreshold >= 1 {
		errs = append(errs, fmt.Errorf("LANGUAGE_AUTO_THRESHOLD must be in [0, 1), got %v", c.Language.AutoThreshold))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	return joinErrors(errs)
}

// applyDefaults fills every optional knob after validation passed.
func (c *Config) applyDefaults() {
	if c.Dispatch.MaxBatchSize == 0 {
		c.Dispatch.MaxBatchSize = 50
	}
	if c.Dispatch.MaxConcurrent == 0 {
		c.Dispatch.MaxConcurrent = 10
	}
	if c.Dispatch.BatchTimeout <= 0 {
		c.Dispatch.BatchTimeout = 10 * time.Minute
	}
	if c.Dispatch.DialTimeout <= 0 {
		c.Dispatch.DialTimeout = 45 * time.Second
	}

	if c.Retry.STTMaxAttempts == 0 {
		c.Retry.STTMaxAttempts = 3
	}
	if c.Retry.STTAttemptTimeout <= 0 {
		c.Retry.STTAttemptTimeout = 10 * time.Second
	}
	if c.Retry.STTNonEnglishTimeout <= 0 {
		c.Retry.STTNonEnglishTimeout = 20 * time.Second
	}
	if c.Retry.TTSMaxAttempts == 0 {
		c.Retry.TTSMaxAttempts = 3
	}
	if c.Retry.TTSAttemptTimeout <= 0 {
		c.Retry.TTSAttemptTimeout = 10 * time.Second
	}
	if c.Retry.LLMMaxAttempts == 0 {
		c.Retry.LLMMaxAttempts = 2
	}
	if c.Retry.LLMAttemptTimeout <= 0 {
		c.Retry.LLMAttemptTimeout = 15 * time.Second
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 500 * time.Millisecond
	}

	if c.Language.AutoThreshold == 0 {
		c.Language.AutoThreshold = 0.8
	}
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// UseRedisLimiter reports whether the shared Redis concurrency cap is
// configured; otherwise the process limits concurrency in memory.
func (c Config) UseRedisLimiter() bool {
	return c.Redis.Host != ""
}

func (c Config) AnswerURL() string {
	return strings.TrimRight(c.Vonage.WebhookBaseURL, "/") + "/webhooks/telephony/answer"
}

func (c Config) EventURL() string {
	return strings.TrimRight(c.Vonage.WebhookBaseURL, "/") + "/webhooks/telephony/event"
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optInt reads an optional integer env var; unset yields zero and the
// default is applied later.
func optInt(key string, parseErrs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*parseErrs = append(*parseErrs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the voxdex service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Index    IndexConfig    `yaml:"index"`
	Schema   SchemaConfig   `yaml:"schema"`
	Search   SearchConfig   `yaml:"search"`
	Agent    AgentConfig    `yaml:"agent"`
	Turn     TurnConfig     `yaml:"turn"`
	Session  SessionConfig  `yaml:"session"`
	Threads  ThreadsConfig  `yaml:"threads"`
	Trace    TraceConfig    `yaml:"trace"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds entity index connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// OpenAIConfig holds the external AI provider settings. One provider serves
// transcription, synthesis, reasoning and embeddings.
type OpenAIConfig struct {
	APIKey              string  `yaml:"api_key"`
	BaseURL             string  `yaml:"base_url"`
	ChatModel           string  `yaml:"chat_model"`
	SummaryModel        string  `yaml:"summary_model"`
	InterpreterModel    string  `yaml:"interpreter_model"`
	EmbeddingModel      string  `yaml:"embedding_model"`
	EmbeddingDimensions int     `yaml:"embedding_dimensions"`
	STTModel            string  `yaml:"stt_model"`
	TTSModel            string  `yaml:"tts_model"`
	TTSVoice            string  `yaml:"tts_voice"`
	TTSSampleRate       int     `yaml:"tts_sample_rate"`
	Temperature         float32 `yaml:"temperature"`

	// Instruction prefixes for instructed embedding models (Qwen-style).
	// Empty for models that do not use them. Queries and stored entity
	// descriptions must use matching instructions to share a vector space.
	QueryInstruction    string `yaml:"query_instruction"`
	DocumentInstruction string `yaml:"document_instruction"`

	Budget BudgetConfig `yaml:"budget"`
}

// BudgetConfig caps embedding token spend per window. A zero limit means
// unlimited. Action decides what happens at the cap: "warn" logs and lets
// the request through, "reject" refuses new embedding calls.
type BudgetConfig struct {
	DailyTokens   int64  `yaml:"daily_tokens"`
	MonthlyTokens int64  `yaml:"monthly_tokens"`
	Action        string `yaml:"action"`
}

// IndexConfig holds entity index settings.
type IndexConfig struct {
	KeyPrefix          string  `yaml:"key_prefix"`
	HNSWM              int     `yaml:"hnsw_m"`
	HNSWEFConstruct    int     `yaml:"hnsw_ef_construction"`
	CandidateK         int     `yaml:"candidate_k"`
	MinScore           float64 `yaml:"min_score"`
	SnapshotRefreshSec int     `yaml:"snapshot_refresh_sec"`
	EmbedCacheTTLSec   int     `yaml:"embed_cache_ttl_sec"`
}

// NumericAttrConfig declares one scored numeric attribute.
type NumericAttrConfig struct {
	Name string  `yaml:"name"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Mode string  `yaml:"mode"` // ascending | descending
}

// SchemaConfig declares the entity attribute schema.
type SchemaConfig struct {
	Numerics     []NumericAttrConfig `yaml:"numerics"`
	Categoricals []string            `yaml:"categoricals"`
}

// SearchConfig holds ranking engine settings.
type SearchConfig struct {
	DefaultWeight        float64 `yaml:"default_weight"`
	DefaultLimit         int     `yaml:"default_limit"`
	MaxLimit             int     `yaml:"max_limit"`
	TimeoutMS            int     `yaml:"timeout_ms"`
	Retries              int     `yaml:"retries"`
	InterpreterTimeoutMS int     `yaml:"interpreter_timeout_ms"`
}

// AgentConfig holds conversational agent settings.
type AgentConfig struct {
	Persona             string `yaml:"persona"`
	TokenBudget         int    `yaml:"token_budget"`
	KeepRecentMessages  int    `yaml:"keep_recent_messages"`
	MaxIterations       int    `yaml:"max_iterations"`
	MaxReplyTokens      int    `yaml:"max_reply_tokens"`
	CompletionTimeoutMS int    `yaml:"completion_timeout_ms"`
	Retries             int    `yaml:"retries"`
}

// TurnConfig holds turn orchestrator settings.
type TurnConfig struct {
	FillerThresholdMS      int      `yaml:"filler_threshold_ms"`
	FillerPhrases          []string `yaml:"filler_phrases"`
	PleaseRepeat           string   `yaml:"please_repeat"`
	Apology                string   `yaml:"apology"`
	TranscriptionTimeoutMS int      `yaml:"transcription_timeout_ms"`
	SynthesisTimeoutMS     int      `yaml:"synthesis_timeout_ms"`
	ToolTimeoutMS          int      `yaml:"tool_timeout_ms"`
}

// SessionConfig holds WebSocket voice session settings.
type SessionConfig struct {
	InSampleRate       int `yaml:"in_sample_rate"`
	SilenceCommitMS    int `yaml:"silence_commit_ms"`
	MaxFrameBytes      int `yaml:"max_frame_bytes"`
	MaxSegmentBytes    int `yaml:"max_segment_bytes"`
	MaxFramesPerSec    int `yaml:"max_frames_per_sec"`
	FrameBurst         int `yaml:"frame_burst"`
	HandshakeTimeoutMS int `yaml:"handshake_timeout_ms"`
	WriteTimeoutMS     int `yaml:"write_timeout_ms"`
	PingIntervalSec    int `yaml:"ping_interval_sec"`
}

// ThreadsConfig holds conversation thread store settings.
type ThreadsConfig struct {
	InactivityTTLSec int `yaml:"inactivity_ttl_sec"`
}

// TraceConfig holds trace emission settings.
type TraceConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = "gpt-4o"
	}
	if c.OpenAI.SummaryModel == "" {
		c.OpenAI.SummaryModel = "gpt-4o-mini"
	}
	if c.OpenAI.InterpreterModel == "" {
		c.OpenAI.InterpreterModel = "gpt-4o-mini"
	}
	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if c.OpenAI.EmbeddingDimensions <= 0 {
		c.OpenAI.EmbeddingDimensions = 1536
	}
	if c.OpenAI.STTModel == "" {
		c.OpenAI.STTModel = "whisper-1"
	}
	if c.OpenAI.TTSModel == "" {
		c.OpenAI.TTSModel = "tts-1"
	}
	if c.OpenAI.TTSVoice == "" {
		c.OpenAI.TTSVoice = "alloy"
	}
	if c.OpenAI.TTSSampleRate <= 0 {
		c.OpenAI.TTSSampleRate = 24000
	}
	if c.OpenAI.Budget.Action == "" {
		c.OpenAI.Budget.Action = "warn"
	}

	if c.Index.KeyPrefix == "" {
		c.Index.KeyPrefix = "voxdex:"
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 32
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 400
	}
	if c.Index.CandidateK <= 0 {
		c.Index.CandidateK = 50
	}
	if c.Index.SnapshotRefreshSec <= 0 {
		c.Index.SnapshotRefreshSec = 60
	}
	if c.Index.EmbedCacheTTLSec <= 0 {
		c.Index.EmbedCacheTTLSec = 86400
	}

	if c.Search.DefaultWeight <= 0 {
		c.Search.DefaultWeight = 0.25
	}
	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = 5
	}
	if c.Search.MaxLimit <= 0 {
		c.Search.MaxLimit = 10
	}
	if c.Search.TimeoutMS <= 0 {
		c.Search.TimeoutMS = 2000
	}
	if c.Search.Retries <= 0 {
		c.Search.Retries = 1
	}
	if c.Search.InterpreterTimeoutMS <= 0 {
		c.Search.InterpreterTimeoutMS = 1500
	}

	if c.Agent.Persona == "" {
		c.Agent.Persona = defaultPersona
	}
	if c.Agent.TokenBudget <= 0 {
		c.Agent.TokenBudget = 3000
	}
	if c.Agent.KeepRecentMessages <= 0 {
		c.Agent.KeepRecentMessages = 8
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 6
	}
	if c.Agent.MaxReplyTokens <= 0 {
		c.Agent.MaxReplyTokens = 400
	}
	if c.Agent.CompletionTimeoutMS <= 0 {
		c.Agent.CompletionTimeoutMS = 5000
	}
	if c.Agent.Retries <= 0 {
		c.Agent.Retries = 1
	}

	if c.Turn.FillerThresholdMS <= 0 {
		c.Turn.FillerThresholdMS = 400
	}
	if len(c.Turn.FillerPhrases) == 0 {
		c.Turn.FillerPhrases = []string{
			"One moment, let me check that for you.",
			"Let me look that up.",
			"Just a second while I search.",
		}
	}
	if c.Turn.PleaseRepeat == "" {
		c.Turn.PleaseRepeat = "Sorry, I didn't catch that. Could you repeat it?"
	}
	if c.Turn.Apology == "" {
		c.Turn.Apology = "I'm sorry, something went wrong on my end. Could you try again?"
	}
	if c.Turn.TranscriptionTimeoutMS <= 0 {
		c.Turn.TranscriptionTimeoutMS = 3000
	}
	if c.Turn.SynthesisTimeoutMS <= 0 {
		c.Turn.SynthesisTimeoutMS = 5000
	}
	if c.Turn.ToolTimeoutMS <= 0 {
		c.Turn.ToolTimeoutMS = 5000
	}

	if c.Session.InSampleRate <= 0 {
		c.Session.InSampleRate = 16000
	}
	if c.Session.SilenceCommitMS <= 0 {
		c.Session.SilenceCommitMS = 800
	}
	if c.Session.MaxFrameBytes <= 0 {
		c.Session.MaxFrameBytes = 32 * 1024
	}
	if c.Session.MaxSegmentBytes <= 0 {
		// One minute of PCM16 mono at the default input rate.
		c.Session.MaxSegmentBytes = 16000 * 2 * 60
	}
	if c.Session.MaxFramesPerSec <= 0 {
		c.Session.MaxFramesPerSec = 50
	}
	if c.Session.FrameBurst <= 0 {
		c.Session.FrameBurst = 100
	}
	if c.Session.HandshakeTimeoutMS <= 0 {
		c.Session.HandshakeTimeoutMS = 5000
	}
	if c.Session.WriteTimeoutMS <= 0 {
		c.Session.WriteTimeoutMS = 5000
	}
	if c.Session.PingIntervalSec <= 0 {
		c.Session.PingIntervalSec = 20
	}

	if c.Threads.InactivityTTLSec <= 0 {
		c.Threads.InactivityTTLSec = 900
	}

	if c.Trace.SampleRate <= 0 {
		c.Trace.SampleRate = 1.0
	}
}

const defaultPersona = "You are a friendly real-estate voice assistant. " +
	"Answer briefly in spoken language, ground every claim in search results, " +
	"and ask one clarifying question when the request is ambiguous."

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if len(c.Schema.Numerics) == 0 && len(c.Schema.Categoricals) == 0 {
		return fmt.Errorf("schema requires at least one attribute")
	}
	for _, n := range c.Schema.Numerics {
		if n.Name == "" {
			return fmt.Errorf("schema.numerics: attribute name is required")
		}
		if n.Min >= n.Max {
			return fmt.Errorf("schema.numerics.%s: min %v must be less than max %v", n.Name, n.Min, n.Max)
		}
		switch n.Mode {
		case "ascending", "descending":
			// ok
		default:
			return fmt.Errorf("schema.numerics.%s: mode must be \"ascending\" or \"descending\", got %q", n.Name, n.Mode)
		}
	}
	if c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit %d exceeds search.max_limit %d",
			c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Index.MinScore < 0 || c.Index.MinScore > 1 {
		return fmt.Errorf("index.min_score must be between 0 and 1, got %v", c.Index.MinScore)
	}
	switch c.OpenAI.Budget.Action {
	case "", "warn", "reject":
		// empty means the default applies
	default:
		return fmt.Errorf("openai.budget.action must be \"warn\" or \"reject\", got %q", c.OpenAI.Budget.Action)
	}
	if c.Trace.Enabled && c.Trace.Endpoint == "" {
		return fmt.Errorf("trace.endpoint is required when trace.enabled")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

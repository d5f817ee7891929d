package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Model    ModelConfig    `json:"model"`
	Selector SelectorConfig `json:"selector"`
	Task     TaskConfig     `json:"task"`
	Ingest   IngestConfig   `json:"ingest"`
	HTTP     HTTPConfig     `json:"http"`
	Storage  StorageConfig  `json:"storage"`
}

type AgentConfig struct {
	Name string `json:"name"`
}

type ModelConfig struct {
	ConversationalModel string  `json:"conversational_model"`
	DeepModel           string  `json:"deep_model"`
	Temperature         float64 `json:"temperature"`
	TopP                float64 `json:"top_p"`
	TopK                int     `json:"top_k"`
	MaxTokens           int     `json:"max_tokens"`
	CallTimeoutSec      int     `json:"call_timeout_sec"`

	// API keys come from the environment, never the config file.
	OpenAIAPIKey string `json:"-"`
	GeminiAPIKey string `json:"-"`
}

type SelectorConfig struct {
	DeepInputThreshold int     `json:"deep_input_threshold"`
	IntentConfidence   float64 `json:"intent_confidence_threshold"`
}

type TaskConfig struct {
	DefaultUrgency int `json:"default_urgency"`
	MaxChunkSize   int `json:"max_chunk_size"`
	SummaryLimit   int `json:"summary_limit"`
}

type IngestConfig struct {
	BatchSize           int `json:"batch_size"`
	DeepBodyThreshold   int `json:"deep_body_threshold"`
	PollIntervalMinutes int `json:"poll_interval_minutes"`
}

type HTTPConfig struct {
	Port int `json:"port"`
}

type StorageConfig struct {
	DataDir string `json:"data_dir"`
	LogDir  string `json:"log_dir"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	mgr.applyEnv()
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) applyEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Model.OpenAIAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	m.cfg.Model.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		Agent: AgentConfig{
			Name: "Aide",
		},
		Model: ModelConfig{
			ConversationalModel: "gpt-4o",
			DeepModel:           "gemini-2.5-pro",
			Temperature:         0.7,
			TopP:                0.95,
			TopK:                40,
			MaxTokens:           1024,
			CallTimeoutSec:      30,
		},
		Selector: SelectorConfig{
			DeepInputThreshold: 600,
			IntentConfidence:   0.55,
		},
		Task: TaskConfig{
			DefaultUrgency: 3,
			MaxChunkSize:   5,
			SummaryLimit:   50,
		},
		Ingest: IngestConfig{
			BatchSize:           50,
			DeepBodyThreshold:   2000,
			PollIntervalMinutes: 15,
		},
		HTTP: HTTPConfig{
			Port: 8000,
		},
		Storage: StorageConfig{
			DataDir: "output/db",
			LogDir:  "output/logs",
		},
	}
}

func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if strings.TrimSpace(cfg.Agent.Name) == "" {
		cfg.Agent.Name = def.Agent.Name
	}
	if strings.TrimSpace(cfg.Model.ConversationalModel) == "" {
		cfg.Model.ConversationalModel = def.Model.ConversationalModel
	}
	if strings.TrimSpace(cfg.Model.DeepModel) == "" {
		cfg.Model.DeepModel = def.Model.DeepModel
	}
	if cfg.Model.Temperature <= 0 || cfg.Model.Temperature > 2 {
		cfg.Model.Temperature = def.Model.Temperature
	}
	if cfg.Model.TopP <= 0 || cfg.Model.TopP > 1 {
		cfg.Model.TopP = def.Model.TopP
	}
	if cfg.Model.TopK <= 0 {
		cfg.Model.TopK = def.Model.TopK
	}
	if cfg.Model.MaxTokens <= 0 {
		cfg.Model.MaxTokens = def.Model.MaxTokens
	}
	if cfg.Model.CallTimeoutSec <= 0 {
		cfg.Model.CallTimeoutSec = def.Model.CallTimeoutSec
	}
	if cfg.Selector.DeepInputThreshold <= 0 {
		cfg.Selector.DeepInputThreshold = def.Selector.DeepInputThreshold
	}
	if cfg.Selector.IntentConfidence <= 0 || cfg.Selector.IntentConfidence > 1 {
		cfg.Selector.IntentConfidence = def.Selector.IntentConfidence
	}
	if cfg.Task.DefaultUrgency < 1 || cfg.Task.DefaultUrgency > 5 {
		cfg.Task.DefaultUrgency = def.Task.DefaultUrgency
	}
	if cfg.Task.MaxChunkSize <= 0 {
		cfg.Task.MaxChunkSize = def.Task.MaxChunkSize
	}
	if cfg.Task.SummaryLimit <= 0 {
		cfg.Task.SummaryLimit = def.Task.SummaryLimit
	}
	if cfg.Ingest.BatchSize <= 0 {
		cfg.Ingest.BatchSize = def.Ingest.BatchSize
	}
	if cfg.Ingest.DeepBodyThreshold <= 0 {
		cfg.Ingest.DeepBodyThreshold = def.Ingest.DeepBodyThreshold
	}
	if cfg.Ingest.PollIntervalMinutes <= 0 {
		cfg.Ingest.PollIntervalMinutes = def.Ingest.PollIntervalMinutes
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = def.HTTP.Port
	}
	if strings.TrimSpace(cfg.Storage.DataDir) == "" {
		cfg.Storage.DataDir = def.Storage.DataDir
	}
	if strings.TrimSpace(cfg.Storage.LogDir) == "" {
		cfg.Storage.LogDir = def.Storage.LogDir
	}
}

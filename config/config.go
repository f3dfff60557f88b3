package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ragchat/internal/domain"
)

// Supported providers and vector store backends.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderHash   = "hash" // offline embeddings, no language model

	BackendPGVector = "pgvector"
	BackendBolt     = "bolt"
	BackendMilvus   = "milvus"
)

// DefaultRefusal is the sentence emitted when the context cannot answer.
const DefaultRefusal = domain.DefaultRefusal

// Config holds all configuration for ragchat.
type Config struct {
	Provider string        `yaml:"provider"` // "openai", "gemini", "hash"
	OpenAI   OpenAIConfig  `yaml:"openai"`
	Gemini   GeminiConfig  `yaml:"gemini"`
	Store    StoreConfig   `yaml:"store"`
	Ingest   IngestConfig  `yaml:"ingest"`
	Chat     ChatConfig    `yaml:"chat"`
	Logging  LoggingConfig `yaml:"logging"`
}

// OpenAIConfig holds OpenAI embedding and chat settings.
type OpenAIConfig struct {
	APIKey         string `yaml:"-"`
	BaseURL        string `yaml:"base_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	ChatModel      string `yaml:"chat_model"`
}

// GeminiConfig holds Google Gemini embedding and chat settings.
type GeminiConfig struct {
	APIKey         string `yaml:"-"`
	EmbeddingModel string `yaml:"embedding_model"`
	ChatModel      string `yaml:"chat_model"`
}

// StoreConfig holds vector store connection settings.
type StoreConfig struct {
	Backend         string `yaml:"backend"` // "pgvector", "bolt", "milvus"
	PGVectorURL     string `yaml:"-"`
	Collection      string `yaml:"collection"`
	CreateExtension bool   `yaml:"create_extension"`
	BoltPath        string `yaml:"bolt_path"`
	MilvusAddress   string `yaml:"milvus_address"`
	MilvusUsername  string `yaml:"milvus_username"`
	MilvusPassword  string `yaml:"-"`
	MilvusMetric    string `yaml:"milvus_metric"` // "COSINE", "IP", "L2"
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	Source       string `yaml:"source"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	BatchSize    int    `yaml:"batch_size"`
}

// ChatConfig holds answering settings.
type ChatConfig struct {
	TopK           int      `yaml:"top_k"`
	ExitKeywords   []string `yaml:"exit_keywords"`
	Refusal        string   `yaml:"refusal"`
	QueryCacheSize int      `yaml:"query_cache_size"` // 0 disables
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		OpenAI: OpenAIConfig{
			EmbeddingModel: "text-embedding-3-small",
			ChatModel:      "gpt-5-nano",
		},
		Gemini: GeminiConfig{
			EmbeddingModel: "models/embedding-001",
			ChatModel:      "gemini-2.5-flash-lite",
		},
		Store: StoreConfig{
			Backend:         BackendPGVector,
			CreateExtension: true,
			MilvusMetric:    "COSINE",
		},
		Ingest: IngestConfig{
			Source:       "document.pdf",
			ChunkSize:    1000,
			ChunkOverlap: 150,
			BatchSize:    100,
		},
		Chat: ChatConfig{
			TopK:           10,
			ExitKeywords:   []string{"sair", "exit", "quit"},
			Refusal:        DefaultRefusal,
			QueryCacheSize: 128,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for rag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "rag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".rag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// LoadDotEnv loads dir/.env into the process environment, overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Overload(path)
}

// ApplyEnv overlays environment variables on the configuration. lookup is
// usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	set("PROVIDER", &c.Provider)
	c.Provider = strings.ToLower(c.Provider)

	set("OPENAI_API_KEY", &c.OpenAI.APIKey)
	set("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	set("OPENAI_MODEL", &c.OpenAI.EmbeddingModel)
	set("OPENAI_CHAT_MODEL", &c.OpenAI.ChatModel)

	set("GOOGLE_API_KEY", &c.Gemini.APIKey)
	set("GEMINI_EMBEDDING_MODEL", &c.Gemini.EmbeddingModel)
	set("GEMINI_CHAT_MODEL", &c.Gemini.ChatModel)

	set("VECTOR_STORE", &c.Store.Backend)
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	set("PGVECTOR_URL", &c.Store.PGVectorURL)
	set("PGVECTOR_COLLECTION", &c.Store.Collection)
	set("BOLT_PATH", &c.Store.BoltPath)
	set("MILVUS_ADDRESS", &c.Store.MilvusAddress)
	set("MILVUS_USERNAME", &c.Store.MilvusUsername)
	set("MILVUS_PASSWORD", &c.Store.MilvusPassword)
	set("MILVUS_METRIC", &c.Store.MilvusMetric)

	set("DOCUMENT_PATH", &c.Ingest.Source)
	set("LOG_LEVEL", &c.Logging.Level)
}

// Validate checks that every key required by the selected provider and
// vector store backend is present. The first problem found is returned as
// a *domain.ConfigurationError.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return &domain.ConfigurationError{Key: "OPENAI_API_KEY"}
		}
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return &domain.ConfigurationError{Key: "GOOGLE_API_KEY"}
		}
	case ProviderHash:
	default:
		return &domain.ConfigurationError{Key: "PROVIDER", Reason: "unsupported provider " + quote(c.Provider)}
	}

	switch c.Store.Backend {
	case BackendPGVector:
		if c.Store.PGVectorURL == "" {
			return &domain.ConfigurationError{Key: "PGVECTOR_URL"}
		}
		if c.Store.Collection == "" {
			return &domain.ConfigurationError{Key: "PGVECTOR_COLLECTION"}
		}
	case BackendBolt:
	case BackendMilvus:
		if c.Store.MilvusAddress == "" {
			return &domain.ConfigurationError{Key: "MILVUS_ADDRESS"}
		}
	default:
		return &domain.ConfigurationError{Key: "VECTOR_STORE", Reason: "unsupported backend " + quote(c.Store.Backend)}
	}

	if c.Ingest.ChunkSize <= 0 {
		return &domain.ConfigurationError{Key: "ingest.chunk_size", Reason: "must be positive"}
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return &domain.ConfigurationError{Key: "ingest.chunk_overlap", Reason: "must be in [0, chunk_size)"}
	}
	if c.Chat.TopK <= 0 {
		return &domain.ConfigurationError{Key: "chat.top_k", Reason: "must be positive"}
	}

	return nil
}

// CollectionName returns the configured collection, "docs" when unset.
func (c *Config) CollectionName() string {
	if c.Store.Collection == "" {
		return "docs"
	}
	return c.Store.Collection
}

// SourcePath resolves the document path against dir.
func (c *Config) SourcePath(dir string) string {
	if filepath.IsAbs(c.Ingest.Source) {
		return c.Ingest.Source
	}
	return filepath.Join(dir, c.Ingest.Source)
}

// BoltDBPath returns the bolt vector store file, under dir/.rag by default.
func (c *Config) BoltDBPath(dir string) string {
	if c.Store.BoltPath == "" {
		return VectorDBPath(dir)
	}
	if filepath.IsAbs(c.Store.BoltPath) {
		return c.Store.BoltPath
	}
	return filepath.Join(dir, c.Store.BoltPath)
}

// VectorDBPath returns the default path to the local vector database.
func VectorDBPath(dir string) string {
	return filepath.Join(dir, ".rag", "vectors.db")
}

func quote(s string) string {
	return `"` + s + `"`
}

package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Embedding configuration (OpenAI-compatible protocol)
	EmbeddingProvider string // openai, siliconflow, ollama, or hash for local development
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string
	EmbeddingDims     int

	// Memory provider selection per domain
	ProfileImpl   string // memory or sqlite
	KnowledgeImpl string // memory

	// Search backend selection
	SearchBackend string // chromem, pgvector, or none

	// Path to an extraction rules file; empty uses the built-in rule set
	RulesPath string

	Mode    string
	Addr    string
	Port    int
	Data    string
	DSN     string
	PgDSN   string
	Version string
}

// Embedding provider default configurations, applied when a base URL is not
// explicitly set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "nomic-embed-text",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// UsesRemoteEmbeddings reports whether an embedding API is configured.
// Without one the hash embedder keeps search usable offline.
func (p *Profile) UsesRemoteEmbeddings() bool {
	return p.EmbeddingProvider != "hash" && p.EmbeddingAPIKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("MNEMOS_EMBEDDING_PROVIDER", "hash")
	p.EmbeddingModel = getEnvOrDefault("MNEMOS_EMBEDDING_MODEL", "")
	p.EmbeddingAPIKey = getEnvOrDefault("MNEMOS_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("MNEMOS_EMBEDDING_BASE_URL", "")
	p.EmbeddingDims = getEnvOrDefaultInt("MNEMOS_EMBEDDING_DIMS", 0)

	if p.EmbeddingProvider != "hash" {
		if defaults, ok := embeddingProviderDefaults[p.EmbeddingProvider]; ok {
			if p.EmbeddingBaseURL == "" {
				p.EmbeddingBaseURL = defaults.BaseURL
			}
			if p.EmbeddingModel == "" {
				p.EmbeddingModel = defaults.Model
			}
		}
	}

	if p.PgDSN == "" {
		p.PgDSN = getEnvOrDefault("MNEMOS_PG_DSN", "")
	}
	if p.RulesPath == "" {
		p.RulesPath = getEnvOrDefault("MNEMOS_RULES_PATH", "")
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.ProfileImpl {
	case "", "memory":
		p.ProfileImpl = "memory"
	case "sqlite":
	default:
		return errors.Errorf("unknown profile implementation %q", p.ProfileImpl)
	}

	switch p.KnowledgeImpl {
	case "", "memory":
		p.KnowledgeImpl = "memory"
	default:
		return errors.Errorf("unknown knowledge implementation %q", p.KnowledgeImpl)
	}

	switch p.SearchBackend {
	case "", "chromem":
		p.SearchBackend = "chromem"
	case "pgvector":
		if p.PgDSN == "" {
			return errors.New("pgvector backend requires MNEMOS_PG_DSN")
		}
	case "none":
	default:
		return errors.Errorf("unknown search backend %q", p.SearchBackend)
	}

	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.ProfileImpl == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("mnemos_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}

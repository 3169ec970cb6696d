package config

import (
	"errors"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "EDUPIPELINE_CONFIG"
	dotEnvFile    = ".env"

	defaultModelPrefix = "EMBEDDING_MODEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Artifacts   ArtifactsConfig   `yaml:"artifacts"`
	Database    DatabaseConfig    `yaml:"database"`
	Vector      VectorConfig      `yaml:"vector"`
	Tika        TikaConfig        `yaml:"tika"`
	Scraping    ScrapingConfig    `yaml:"scraping"`
	PDF         PDFConfig         `yaml:"pdf"`
	Models      ModelsConfig      `yaml:"models"`
	Parallelism ParallelismConfig `yaml:"parallelism"`
	Sources     SourcesConfig     `yaml:"sources"`
	Logging     LoggingConfig     `yaml:"logging"`
	Sanitary    SanitaryConfig    `yaml:"sanitary"`
}

// ArtifactsConfig locates batch inputs and job outputs. Root is a directory or an
// s3://bucket/prefix URL.
type ArtifactsConfig struct {
	Root         string `yaml:"root"`
	InputFolder  string `yaml:"inputFolder"`
	OutputFolder string `yaml:"outputFolder"`
	IDCSVName    string `yaml:"idCsvName"`
}

// BatchIDsPath is the artifact name of the id list a stage consumes.
func (a ArtifactsConfig) BatchIDsPath() string {
	return path.Join(a.InputFolder, a.IDCSVName)
}

// Output joins name under the output folder.
func (a ArtifactsConfig) Output(name ...string) string {
	return path.Join(append([]string{a.OutputFolder}, name...)...)
}

// DatabaseConfig describes the relational store connection.
type DatabaseConfig struct {
	Driver    string `yaml:"driver"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Name      string `yaml:"name"`
	DSN       string `yaml:"dsn"`
	Bootstrap bool   `yaml:"bootstrap"`
}

// DataSource returns DSN when set, else builds one for the driver.
func (d DatabaseConfig) DataSource() string {
	if d.DSN != "" {
		return d.DSN
	}
	if d.Driver == "sqlite" {
		if d.Name == "" {
			return "edupipeline.db"
		}
		return d.Name
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + strconv.Itoa(d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// VectorConfig selects the vector backend and its Qdrant options.
type VectorConfig struct {
	Backend     string        `yaml:"backend"`
	QdrantURL   string        `yaml:"qdrantUrl"`
	HTTPPort    int           `yaml:"httpPort"`
	GRPCPort    int           `yaml:"grpcPort"`
	PrefersGRPC bool          `yaml:"prefersGrpc"`
	APIKey      string        `yaml:"apiKey"`
	Timeout     time.Duration `yaml:"timeout"`
	Wait        bool          `yaml:"wait"`
	ChunkSize   int           `yaml:"chunkSize"`
}

// QdrantHost strips any scheme and port from QdrantURL.
func (v VectorConfig) QdrantHost() string {
	raw := v.QdrantURL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return v.QdrantURL
	}
	return u.Hostname()
}

// QdrantTLS reports an https Qdrant URL.
func (v VectorConfig) QdrantTLS() bool {
	return strings.HasPrefix(strings.ToLower(v.QdrantURL), "https://")
}

// TikaConfig points at the Tika-compatible service; empty means local conversion.
type TikaConfig struct {
	Address string `yaml:"address"`
}

// ScrapingConfig tunes outbound HTTP.
type ScrapingConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	TeamEmail   string        `yaml:"teamEmail"`
	RetryMax    int           `yaml:"retryMax"`
	RatePerHost float64       `yaml:"ratePerHost"`
	Burst       int           `yaml:"burst"`
}

// PDFConfig caps PDF downloads; zero disables a cap.
type PDFConfig struct {
	PageLimit int64         `yaml:"pageLimit"`
	FileLimit int64         `yaml:"fileLimit"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ModelsConfig locates model artifacts and the inference service.
type ModelsConfig struct {
	PathRoot     string `yaml:"pathRoot"`
	InferenceURL string `yaml:"inferenceUrl"`
	APIKey       string `yaml:"apiKey"`
	NamePrefix   string `yaml:"namePrefix"`
	// Embedding maps a lowercase language code to an embedding model name.
	Embedding map[string]string `yaml:"embedding"`
}

// EmbeddingModel returns the model configured for lang.
func (m ModelsConfig) EmbeddingModel(lang string) (string, bool) {
	name, ok := m.Embedding[strings.ToLower(lang)]
	return name, ok && name != ""
}

// ParallelismConfig bounds batch sizes and concurrent fetches.
type ParallelismConfig struct {
	Threshold int `yaml:"threshold"`
	URLMax    int `yaml:"urlMax"`
}

// SourcesConfig overrides source endpoints and declares dumps and feeds.
type SourcesConfig struct {
	OpenAlexURL string `yaml:"openalexUrl"`
	HALURL      string `yaml:"halUrl"`
	OAPENURL    string `yaml:"oapenUrl"`
	// WikiAPI is an api.php URL template where {lang} is replaced.
	WikiAPI string       `yaml:"wikiApi"`
	Dumps   []DumpConfig `yaml:"dumps"`
	Feeds   []FeedConfig `yaml:"feeds"`
}

// DumpConfig maps a tabular dump onto documents.
type DumpConfig struct {
	Corpus    string            `yaml:"corpus"`
	File      string            `yaml:"file"`
	Columns   map[string]string `yaml:"columns"`
	Details   []string          `yaml:"details"`
	Lists     []string          `yaml:"lists"`
	Lang      string            `yaml:"lang"`
	XMLColumn string            `yaml:"xmlColumn"`
}

// FeedConfig lists the Atom/RSS feeds of a corpus.
type FeedConfig struct {
	Corpus string   `yaml:"corpus"`
	URLs   []string `yaml:"urls"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SanitaryConfig schedules the URL sanitary crawler.
type SanitaryConfig struct {
	Interval time.Duration `yaml:"interval"`
	MinAge   time.Duration `yaml:"minAge"`
	Limit    int           `yaml:"limit"`
}

// Load reads YAML configuration (if present), then .env, and applies environment overrides.
func Load() Config {
	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("config: cannot read %s: %v", dotEnvFile, err)
	}
	return load(os.LookupEnv, os.Environ())
}

func load(lookup func(string) (string, bool), environ []string) Config {
	cfg := defaultConfig()

	if p, ok := lookup(configPathEnv); ok && p != "" {
		if raw, err := os.ReadFile(p); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", p, err)
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", p, err)
			cfg = defaultConfig()
		}
	}

	env := envReader{lookup: lookup}
	cfg.applyEnvOverrides(env)
	cfg.bindEmbeddingModels(environ)
	return cfg
}

func (c *Config) applyEnvOverrides(env envReader) {
	env.str("ARTIFACT_ROOT", &c.Artifacts.Root)
	env.str("ARTIFACT_INPUT_FOLDER_NAME", &c.Artifacts.InputFolder)
	env.str("ARTIFACT_OUTPUT_FOLDER_NAME", &c.Artifacts.OutputFolder)
	env.str("ARTIFACT_ID_URL_CSV_NAME", &c.Artifacts.IDCSVName)

	env.str("PG_DRIVER", &c.Database.Driver)
	env.str("PG_USER", &c.Database.User)
	env.str("PG_PASSWORD", &c.Database.Password)
	env.str("PG_HOST", &c.Database.Host)
	env.integer("PG_PORT", &c.Database.Port)
	env.str("PG_DB", &c.Database.Name)
	env.str("PG_DSN", &c.Database.DSN)
	env.boolean("PG_BOOTSTRAP", &c.Database.Bootstrap)

	env.str("VECTOR_BACKEND", &c.Vector.Backend)
	env.str("QDRANT_URL", &c.Vector.QdrantURL)
	env.integer("QDRANT_HTTP_PORT", &c.Vector.HTTPPort)
	env.integer("QDRANT_GRPC_PORT", &c.Vector.GRPCPort)
	env.boolean("QDRANT_PREFERS_GRPC", &c.Vector.PrefersGRPC)
	env.str("QDRANT_API_KEY", &c.Vector.APIKey)
	env.seconds("QDRANT_TIMEOUT", &c.Vector.Timeout)
	env.boolean("QDRANT_WAIT", &c.Vector.Wait)
	env.integer("QDRANT_CHUNK_SIZE", &c.Vector.ChunkSize)

	env.str("TIKA_ADDRESS", &c.Tika.Address)

	env.seconds("SCRAPING_TIMEOUT", &c.Scraping.Timeout)
	env.str("TEAM_EMAIL", &c.Scraping.TeamEmail)

	env.int64("PDF_SIZE_PAGE_LIMIT", &c.PDF.PageLimit)
	env.int64("PDF_SIZE_FILE_LIMIT", &c.PDF.FileLimit)

	env.str("MODELS_PATH_ROOT", &c.Models.PathRoot)
	env.str("ML_INFERENCE_URL", &c.Models.InferenceURL)
	env.str("ML_API_KEY", &c.Models.APIKey)
	env.str("EMBEDDING_MODELS_NAME_PREFIX", &c.Models.NamePrefix)

	env.integer("PARALLELISM_THRESHOLD", &c.Parallelism.Threshold)
	env.integer("PARALLELISM_URL_MAX", &c.Parallelism.URLMax)

	env.str("LOG_LEVEL", &c.Logging.Level)
	env.duration("SANITARY_INTERVAL", &c.Sanitary.Interval)
}

// bindEmbeddingModels reads every <prefix>_<LANG> variable into the language map.
func (c *Config) bindEmbeddingModels(environ []string) {
	prefix := c.Models.NamePrefix
	if prefix == "" {
		prefix = defaultModelPrefix
	}
	if c.Models.Embedding == nil {
		c.Models.Embedding = map[string]string{}
	}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		lang, ok := strings.CutPrefix(key, prefix+"_")
		if !ok || lang == "" || strings.Contains(lang, "_") {
			continue
		}
		c.Models.Embedding[strings.ToLower(lang)] = value
	}
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("config: ignoring %s=%q: %v", key, v, err)
			return
		}
		*dst = n
	}
}

func (e envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Printf("config: ignoring %s=%q: %v", key, v, err)
			return
		}
		*dst = n
	}
}

func (e envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("config: ignoring %s=%q: %v", key, v, err)
			return
		}
		*dst = b
	}
}

func (e envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("config: ignoring %s=%q: %v", key, v, err)
			return
		}
		*dst = d
	}
}

// seconds accepts either a bare number of seconds or a Go duration.
func (e envReader) seconds(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(f * float64(time.Second))
		return
	}
	e.duration(key, dst)
}

func defaultConfig() Config {
	return Config{
		Artifacts: ArtifactsConfig{
			Root:         "artifacts",
			InputFolder:  "input",
			OutputFolder: "output",
			IDCSVName:    "batch_ids.csv",
		},
		Database: DatabaseConfig{
			Driver: "pgx",
			User:   "postgres",
			Host:   "localhost",
			Port:   5432,
			Name:   "edupipeline",
		},
		Vector: VectorConfig{
			Backend:     "qdrant",
			QdrantURL:   "localhost",
			HTTPPort:    6333,
			GRPCPort:    6334,
			PrefersGRPC: true,
			Timeout:     60 * time.Second,
			Wait:        true,
			ChunkSize:   1000,
		},
		Scraping: ScrapingConfig{
			Timeout:     60 * time.Second,
			RetryMax:    10,
			RatePerHost: 5,
			Burst:       5,
		},
		PDF: PDFConfig{
			Timeout: 300 * time.Second,
		},
		Models: ModelsConfig{
			PathRoot:     "models",
			InferenceURL: "http://localhost:8500",
			NamePrefix:   defaultModelPrefix,
			Embedding:    map[string]string{},
		},
		Parallelism: ParallelismConfig{
			Threshold: 100,
			URLMax:    15,
		},
		Logging: LoggingConfig{Level: "info"},
		Sanitary: SanitaryConfig{
			Interval: 6 * time.Hour,
			MinAge:   2 * time.Hour,
			Limit:    1000,
		},
	}
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ImageryCfg struct {
	BaseURL       string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	PriorityQueue string
	MaxRetries    int
	Timeout       time.Duration
}

type AWSCfg struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Endpoint        string
}

type AzureCfg struct {
	AccountName string
	Container   string
	SASToken    string
	Endpoint    string
}

type ZarrCfg struct {
	ChunkTime  int
	ChunkSpace int
	Compressor string
}

type EventsCfg struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	QueueSize int
}

type Config struct {
	Environment  string
	InputPath    string
	Addr         string
	LogLevel     string
	LogConsole   bool
	LogSampleN   int
	PublicKeyPEM string
	ScratchDir   string
	CleanLocal   bool
	H3Res        int
	RedisAddr    string
	RunTTL       time.Duration
	BuildVersion string
	Imagery      ImageryCfg
	AWS          AWSCfg
	Azure        AzureCfg
	Zarr         ZarrCfg
	Events       EventsCfg
}

// LoadDotEnv loads the given .env files (".env" when none) into the process
// environment without overriding variables that are already set.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

func FromEnv() Config {
	res := getint("H3_RES", 7)
	if res < 0 || res > 15 {
		res = 7
	}

	return Config{
		Environment:  strings.ToLower(getenv("APP_ENVIRONMENT", "local")),
		InputPath:    getenv("INPUT_JSON_PATH", ""),
		Addr:         getenv("ADDR", ":8080"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogConsole:   getbool("LOG_CONSOLE", false),
		LogSampleN:   getint("LOG_SAMPLE_N", 0),
		PublicKeyPEM: getenv("CIPHER_CERTIFICATE_PUBLIC_KEY", ""),
		ScratchDir:   getenv("SCRATCH_DIR", os.TempDir()),
		CleanLocal:   getbool("CLEAN_LOCAL_FILE", true),
		H3Res:        res,
		RedisAddr:    getenv("REDIS_ADDR", ""),
		RunTTL:       getduration("RUN_TTL", 24*time.Hour),
		BuildVersion: getenv("BUILD_VERSION", "dev"),
		Imagery: ImageryCfg{
			BaseURL:       getenv("IMAGERY_API_URL", ""),
			TokenURL:      getenv("IDENTITY_SERVER_URL", ""),
			ClientID:      getenv("API_CLIENT_ID", ""),
			ClientSecret:  getenv("API_CLIENT_SECRET", ""),
			Username:      getenv("API_USERNAME", ""),
			Password:      getenv("API_PASSWORD", ""),
			PriorityQueue: getenv("IMAGERY_PRIORITY_QUEUE", "realtime"),
			MaxRetries:    getint("IMAGERY_MAX_RETRIES", 2),
			Timeout:       getduration("IMAGERY_TIMEOUT", 5*time.Minute),
		},
		AWS: AWSCfg{
			AccessKeyID:     getenv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getenv("AWS_SECRET_ACCESS_KEY", ""),
			Region:          getenv("AWS_REGION", "us-east-1"),
			Bucket:          getenv("AWS_BUCKET_NAME", ""),
			Endpoint:        getenv("AWS_ENDPOINT_URL", ""),
		},
		Azure: AzureCfg{
			AccountName: getenv("AZURE_ACCOUNT_NAME", ""),
			Container:   getenv("AZURE_BLOB_CONTAINER_NAME", ""),
			SASToken:    getenv("AZURE_SAS_CREDENTIAL", ""),
			Endpoint:    getenv("AZURE_BLOB_ENDPOINT", ""),
		},
		Zarr: ZarrCfg{
			ChunkTime:  getint("ZARR_CHUNK_TIME", 1),
			ChunkSpace: getint("ZARR_CHUNK_SPACE", 256),
			Compressor: getenv("ZARR_COMPRESSOR", "zstd"),
		},
		Events: EventsCfg{
			Enabled:   getbool("EVENTS_ENABLED", false),
			Brokers:   splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:     getenv("KAFKA_TOPIC", "analytics-datacube-ready"),
			QueueSize: getint("EVENTS_QUEUE_SIZE", 256),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "a:9092, b:9092" into a list
func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

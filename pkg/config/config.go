package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration of the framestream service.
type Config struct {
	App        AppConfig
	HTTP       HTTPConfig
	Kafka      KafkaConfig
	Storage    StorageConfig
	Tracing    TracingConfig
	Extraction ExtractionConfig
	Upload     UploadConfig
	Jobs       JobsConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"framestream"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogEncoding string `env:"APP_LOG_ENCODING" envDefault:"json"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	EventsTopic      string        `env:"KAFKA_EVENTS_TOPIC" envDefault:"framestream.artifacts"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

// StorageConfig selects the object store. Credentials come from each
// provider's ambient environment and are deliberately absent here.
type StorageConfig struct {
	Provider string `env:"STORAGE_PROVIDER" envDefault:"aws"`
	Bucket   string `env:"STORAGE_BUCKET"`
	Region   string `env:"STORAGE_REGION"`
	Prefix   string `env:"STORAGE_PREFIX"`
	Endpoint string `env:"STORAGE_ENDPOINT"`
	UseSSL   bool   `env:"STORAGE_USE_SSL" envDefault:"true"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=framestream"`
}

type ExtractionConfig struct {
	FFmpegPath    string `env:"EXTRACT_FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath   string `env:"EXTRACT_FFPROBE_PATH" envDefault:"ffprobe"`
	SegmentLength int    `env:"EXTRACT_SEGMENT_LENGTH" envDefault:"2"`
	WorkDir       string `env:"EXTRACT_WORK_DIR" envDefault:"/tmp/framestream"`
	// ToolTimeout bounds each ffmpeg/ffprobe invocation; 0 disables it.
	ToolTimeout time.Duration `env:"EXTRACT_TOOL_TIMEOUT" envDefault:"0s"`
	VAAPIDevice string        `env:"EXTRACT_VAAPI_DEVICE" envDefault:"/dev/dri/renderD128"`
	KeepWorkDir bool          `env:"EXTRACT_KEEP_WORK_DIR" envDefault:"false"`
}

type UploadConfig struct {
	MaxWorkers      int           `env:"UPLOAD_MAX_WORKERS" envDefault:"10"`
	RetryBaseDelay  time.Duration `env:"UPLOAD_RETRY_BASE_DELAY" envDefault:"100ms"`
	RetryMaxDelay   time.Duration `env:"UPLOAD_RETRY_MAX_DELAY" envDefault:"5s"`
	RetryJitter     float64       `env:"UPLOAD_RETRY_JITTER" envDefault:"0.2"`
	RetryMaxElapsed time.Duration `env:"UPLOAD_RETRY_MAX_ELAPSED" envDefault:"100s"`
}

type JobsConfig struct {
	MaxConcurrent int `env:"JOBS_MAX_CONCURRENT" envDefault:"2"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

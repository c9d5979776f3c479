package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Whisper   WhisperConfig
	Tools     ToolsConfig
	Worker    WorkerConfig
	Timeouts  TimeoutConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Path string
}

type StorageConfig struct {
	UploadDir       string
	ScratchDir      string
	TranscriptDir   string
	MaxFileSize     int64 // bytes
	MinFileBytes    int64 // smaller uploads are rejected without probing
	MaxBatchFiles   int
	CleanupInterval time.Duration
	StaleAge        time.Duration
}

type WhisperConfig struct {
	Binary     string
	ModelPath  string
	Language   string
	Threads    int
	Processors int
}

type ToolsConfig struct {
	FFmpeg  string
	FFprobe string
}

type WorkerConfig struct {
	Concurrency int
}

type TimeoutConfig struct {
	Probe      time.Duration
	Convert    time.Duration
	Transcribe time.Duration
	OutputLine time.Duration
}

type RateLimitConfig struct {
	UploadPerHour int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("database.path", "whisper.db")
	viper.SetDefault("storage.upload_dir", "uploads")
	viper.SetDefault("storage.scratch_dir", "scratch")
	viper.SetDefault("storage.transcript_dir", "transcripts")
	viper.SetDefault("storage.max_file_size", 500*1024*1024)
	viper.SetDefault("storage.min_file_bytes", 1024)
	viper.SetDefault("storage.max_batch_files", 50)
	viper.SetDefault("storage.cleanup_interval", "1h")
	viper.SetDefault("storage.stale_age", "24h")
	viper.SetDefault("whisper.binary", "whisper-cli")
	viper.SetDefault("whisper.model_path", "models/small.bin")
	viper.SetDefault("whisper.language", "auto")
	viper.SetDefault("whisper.threads", 8)
	viper.SetDefault("whisper.processors", 4)
	viper.SetDefault("tools.ffmpeg", "ffmpeg")
	viper.SetDefault("tools.ffprobe", "ffprobe")
	viper.SetDefault("worker.concurrency", 1)
	viper.SetDefault("timeouts.probe", "30s")
	viper.SetDefault("timeouts.convert", "10m")
	viper.SetDefault("timeouts.transcribe", "1h")
	viper.SetDefault("timeouts.output_line", "5s")
	viper.SetDefault("ratelimit.upload_per_hour", 50)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		Storage: StorageConfig{
			UploadDir:       viper.GetString("storage.upload_dir"),
			ScratchDir:      viper.GetString("storage.scratch_dir"),
			TranscriptDir:   viper.GetString("storage.transcript_dir"),
			MaxFileSize:     viper.GetInt64("storage.max_file_size"),
			MinFileBytes:    viper.GetInt64("storage.min_file_bytes"),
			MaxBatchFiles:   viper.GetInt("storage.max_batch_files"),
			CleanupInterval: viper.GetDuration("storage.cleanup_interval"),
			StaleAge:        viper.GetDuration("storage.stale_age"),
		},
		Whisper: WhisperConfig{
			Binary:     viper.GetString("whisper.binary"),
			ModelPath:  viper.GetString("whisper.model_path"),
			Language:   viper.GetString("whisper.language"),
			Threads:    viper.GetInt("whisper.threads"),
			Processors: viper.GetInt("whisper.processors"),
		},
		Tools: ToolsConfig{
			FFmpeg:  viper.GetString("tools.ffmpeg"),
			FFprobe: viper.GetString("tools.ffprobe"),
		},
		Worker: WorkerConfig{
			Concurrency: viper.GetInt("worker.concurrency"),
		},
		Timeouts: TimeoutConfig{
			Probe:      viper.GetDuration("timeouts.probe"),
			Convert:    viper.GetDuration("timeouts.convert"),
			Transcribe: viper.GetDuration("timeouts.transcribe"),
			OutputLine: viper.GetDuration("timeouts.output_line"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour: viper.GetInt("ratelimit.upload_per_hour"),
		},
	}

	return cfg, nil
}

package app

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr        string
	MongoURI        string
	MongoDatabase   string
	LogLevel        string
	LogFormat       string
	VideoStorageDir string
	SubtitleDir     string
	TempDir         string
	TorrentDataDir  string
	FFMPEGPath      string
	FFProbePath     string
	// CleanupDays is the retention window: ready content not accessed for
	// this many days is reclaimed by the sweeper.
	CleanupDays          int
	CleanupIntervalHours int
	StreamChunkBytes     int64
	OpenSubtitlesAPIKey  string
	CORSAllowedOrigins   []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		MongoURI:             getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:        getEnv("MONGO_DB", "hypertube"),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(getEnv("LOG_FORMAT", "text")),
		VideoStorageDir:      getEnv("VIDEO_STORAGE_DIR", "storage/videos"),
		SubtitleDir:          getEnv("SUBTITLE_STORAGE_DIR", "storage/subtitles"),
		TempDir:              getEnv("TEMP_DIR", "storage/temp"),
		TorrentDataDir:       getEnv("TORRENT_DATA_DIR", "storage/torrents"),
		FFMPEGPath:           getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:          getEnv("FFPROBE_PATH", "ffprobe"),
		CleanupDays:          int(getEnvInt64("CLEANUP_DAYS", 30)),
		CleanupIntervalHours: int(getEnvInt64("CLEANUP_INTERVAL_HOURS", 24)),
		StreamChunkBytes:     getEnvInt64("STREAM_CHUNK_BYTES", 1<<20),
		OpenSubtitlesAPIKey:  getEnv("OPENSUBTITLES_API_KEY", ""),
		CORSAllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

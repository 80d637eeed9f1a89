package server

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 服务配置，来自环境变量（可由 .env 提供）
type Config struct {
	Addr    string // HTTP/WebSocket 监听地址
	TCPAddr string // 行分隔 TCP 监听地址，空表示不启用

	LogFile  string
	LogLevel string

	LocationsFile string // YAML 地点数据集，空表示使用内置列表

	NATSURL     string // 空表示不发布事件
	NATSSubject string

	CORSOrigins []string

	RoundTimeout time.Duration
	RoundPause   time.Duration // 0 表示两轮之间不停顿
}

// LoadConfig 读取 .env（可选）与环境变量
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		// 日志尚未初始化，使用标准库输出
		log.Printf("[config] .env not loaded: %v", err)
	}
	return Config{
		Addr:          getEnv("ADDR", ":8080"),
		TCPAddr:       getEnv("TCP_ADDR", ""),
		LogFile:       getEnv("LOG_FILE", "app.log"),
		LogLevel:      getEnv("LOG_LEVEL", "debug"),
		LocationsFile: getEnv("LOCATIONS_FILE", ""),
		NATSURL:       getEnv("NATS_URL", ""),
		NATSSubject:   getEnv("NATS_SUBJECT", "geoarena.rooms"),
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "*")),
		RoundTimeout:  time.Duration(getEnvAsInt("ROUND_TIMEOUT_SEC", 60)) * time.Second,
		RoundPause:    time.Duration(getEnvAsInt("ROUND_PAUSE_SEC", 2)) * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("[config] %s must be an integer, using %d", key, defaultValue)
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

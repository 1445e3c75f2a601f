package app

import (
	"strings"

	"github.com/yungbote/presgrade-backend/internal/platform/envutil"
	"github.com/yungbote/presgrade-backend/internal/platform/logger"
)

type Config struct {
	Port         string
	AllowOrigins []string

	SpeechLanguage    string
	SpeechModel       string
	MaxSpeakerCount   int
	MaxContextChars   int
	MinRelevance100   int // minimum relevance as a percent, env vars stay integral
	ChunksPerCriteria int
}

func LoadConfig(log *logger.Logger) Config {
	origins := []string{}
	for _, o := range strings.Split(envutil.GetEnv("CORS_ALLOW_ORIGINS", "", log), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return Config{
		Port:              envutil.GetEnv("PORT", "8080", log),
		AllowOrigins:      origins,
		SpeechLanguage:    envutil.GetEnv("SPEECH_LANGUAGE_CODE", "en-US", log),
		SpeechModel:       envutil.GetEnv("SPEECH_MODEL", "latest_long", log),
		MaxSpeakerCount:   envutil.GetEnvAsInt("SPEECH_MAX_SPEAKERS", 2, log),
		MaxContextChars:   envutil.GetEnvAsInt("RETRIEVAL_MAX_CONTEXT_CHARS", 8000, log),
		MinRelevance100:   envutil.GetEnvAsInt("RETRIEVAL_MIN_RELEVANCE_PCT", 35, log),
		ChunksPerCriteria: envutil.GetEnvAsInt("RETRIEVAL_CHUNKS_PER_CRITERION", 3, log),
	}
}

package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Global
	viper.SetDefault("file_state_dir", "~/.wyatt")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)

	// Completion backend
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.endpoint", "https://api.openai.com")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.request_timeout", 90*time.Second)

	// Personas
	viper.SetDefault("personas.dir", "")
	viper.SetDefault("personas.default_id", "default")
	viper.SetDefault("personas.cache_capacity", 50)

	// Conversation history
	viper.SetDefault("history.page_size", 100)

	// Dormancy
	viper.SetDefault("wake.sleep_threshold", 8*time.Hour)

	// Human escalation
	viper.SetDefault("reviewer.contact", "")
	viper.SetDefault("escalation.review_window", 90*time.Second)
	viper.SetDefault("escalation.candidate_count", 3)

	// Delivery cadence
	viper.SetDefault("delivery.read_delay_min", 2*time.Second)
	viper.SetDefault("delivery.read_delay_max", 10*time.Second)
	viper.SetDefault("delivery.typing_min", 3*time.Second)
	viper.SetDefault("delivery.typing_max", 9*time.Second)
	viper.SetDefault("delivery.typing_keepalive", 4*time.Second)

	// Orchestrator
	viper.SetDefault("engine.max_concurrency", 8)
}

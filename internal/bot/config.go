package bot

import (
	"time"
)

// BotConfig represents the configuration for the bot
type BotConfig struct {
	// Long-polling timeout for Telegram updates, in seconds
	UpdateTimeout int
	// How long a sender flow may sit idle before it is discarded
	SenderFlowTimeout time.Duration
	// How long a sent test may stay waitlisted before the sender is
	// reminded that the receiver never showed up
	WaitlistReminderAge time.Duration
}

// DefaultConfig returns the default bot configuration
func DefaultConfig() *BotConfig {
	return &BotConfig{
		UpdateTimeout:       60,
		SenderFlowTimeout:   time.Minute * 30,
		WaitlistReminderAge: time.Hour * 24,
	}
}

package bot

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/psybot/internal/database"
	"github.com/example/psybot/internal/delivery"
	"github.com/example/psybot/internal/scheduler"
	"github.com/example/psybot/internal/session"
)

// MenuButton represents a button in the menu
type MenuButton struct {
	Text         string
	CallbackData string
}

// createKeyboard creates a keyboard from menu buttons
func createKeyboard(buttons [][]MenuButton) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var keyboardRow []tgbotapi.InlineKeyboardButton
		for _, button := range row {
			keyboardRow = append(keyboardRow, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.CallbackData))
		}
		keyboard = append(keyboard, keyboardRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// Bot represents the Telegram bot application
type Bot struct {
	api   *tgbotapi.BotAPI
	token string

	users *database.UserRepository
	tests *database.TestRepository

	queue    *delivery.Queue
	sessions *session.Manager

	schedulerEnabled bool
	scheduler        *scheduler.Scheduler

	adminUserIDs map[int64]bool

	// Sender flows are driven by free-text input, so they live outside the
	// session manager. flowMu guards both maps; updates are handled in
	// concurrent goroutines.
	flowMu         sync.Mutex
	senderFlows    map[int64]*senderFlow
	awaitingImport map[int64]bool

	config *BotConfig
}

// New creates a new bot instance
func New() (*Bot, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable is not set")
	}

	if database.DB == nil {
		return nil, fmt.Errorf("database connection is not established")
	}

	config := DefaultConfig()
	if hoursStr := os.Getenv("WAITLIST_REMINDER_HOURS"); hoursStr != "" {
		if h, err := strconv.Atoi(hoursStr); err == nil && h > 0 {
			config.WaitlistReminderAge = time.Duration(h) * time.Hour
		} else {
			log.Printf("Warning: Invalid WAITLIST_REMINDER_HOURS: %s", hoursStr)
		}
	}

	schedulerEnabled := os.Getenv("ENABLE_SCHEDULER") != "false"

	users := database.NewUserRepository()
	tests := database.NewTestRepository()

	bot := &Bot{
		token:            token,
		users:            users,
		tests:            tests,
		schedulerEnabled: schedulerEnabled,
		adminUserIDs:     make(map[int64]bool),
		senderFlows:      make(map[int64]*senderFlow),
		awaitingImport:   make(map[int64]bool),
		config:           config,
	}

	// The bot is the Notifier for both the delivery queue and the reminder
	// scheduler, so the queue and session manager are wired up here.
	bot.queue = delivery.NewQueue(database.NewSentTestRepository(), users, bot, tests)
	bot.sessions = session.NewManager(tests, bot.queue)

	adminIDs := os.Getenv("ADMIN_USER_IDS")
	if adminIDs != "" {
		for _, idStr := range strings.Split(adminIDs, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
			if err != nil {
				log.Printf("Warning: Invalid admin user ID: %s", idStr)
				continue
			}
			bot.adminUserIDs[id] = true
		}
	}

	return bot, nil
}

// Start initializes and starts the bot
func (b *Bot) Start() error {
	botAPI, err := tgbotapi.NewBotAPI(b.token)
	if err != nil {
		return fmt.Errorf("unable to create bot: %v", err)
	}

	b.api = botAPI
	log.Printf("Authorized on account %s", botAPI.Self.UserName)

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = b.config.UpdateTimeout

	updates := b.api.GetUpdatesChan(updateConfig)

	if b.schedulerEnabled {
		b.scheduler = scheduler.New(b, b.config.WaitlistReminderAge)
		b.scheduler.Start()
		log.Println("Waitlist reminder scheduler started")
	}

	// Updates are handled concurrently; per-user ordering of test-taking
	// events is enforced inside the session manager.
	for update := range updates {
		go b.handleUpdate(update)
	}

	return nil
}

// Stop gracefully stops the bot
func (b *Bot) Stop() {
	if b.scheduler != nil {
		b.scheduler.Stop()
	}
	if b.api != nil {
		b.api.StopReceivingUpdates()
	}
	log.Println("Bot stopped")
}

// Notify implements delivery.Notifier and scheduler.Notifier. For private
// chats the chat id equals the user id.
func (b *Bot) Notify(userID int64, text string) error {
	msg := tgbotapi.NewMessage(userID, text)
	_, err := b.api.Send(msg)
	return err
}

// isAdmin checks if a user is an admin
func (b *Bot) isAdmin(userID int64) bool {
	return b.adminUserIDs[userID]
}

func (b *Bot) setAwaitingImport(chatID int64) {
	b.flowMu.Lock()
	b.awaitingImport[chatID] = true
	b.flowMu.Unlock()
}

// takeAwaitingImport reports whether the chat was waiting for an import
// upload and clears the flag, so one upload is consumed at most once.
func (b *Bot) takeAwaitingImport(chatID int64) bool {
	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	waiting := b.awaitingImport[chatID]
	if waiting {
		delete(b.awaitingImport, chatID)
	}
	return waiting
}

func (b *Bot) clearAwaitingImport(chatID int64) {
	b.flowMu.Lock()
	delete(b.awaitingImport, chatID)
	b.flowMu.Unlock()
}

// sendOutcome renders a session outcome into a Telegram message: a prompt
// becomes text with an inline keyboard, a result is plain text.
func (b *Bot) sendOutcome(chatID int64, out session.Outcome) {
	if out.Result != nil {
		b.sendText(chatID, out.Result.Text)
		return
	}
	if out.Prompt == nil {
		return
	}

	var rows [][]MenuButton
	for _, choice := range out.Prompt.Choices {
		rows = append(rows, []MenuButton{{Text: choice.Label, CallbackData: choiceCallback(choice.ID)}})
	}
	if out.Prompt.CanGoBack {
		rows = append(rows, []MenuButton{{Text: "⬅️ Back", CallbackData: choiceCallback(session.ChoiceBack)}})
	}

	msg := tgbotapi.NewMessage(chatID, out.Prompt.Text)
	if len(rows) > 0 {
		msg.ReplyMarkup = createKeyboard(rows)
	}
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Error sending prompt to chat %d: %v", chatID, err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Error sending message to chat %d: %v", chatID, err)
	}
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/psybot/internal/catalog"
	"github.com/example/psybot/internal/delivery"
	"github.com/example/psybot/internal/excel"
	"github.com/example/psybot/internal/session"
)

// Callback data prefixes. "choice:" carries a selection id for the session
// in progress, "sent:" resumes a delivered sent test, "sendtest:" drives the
// sender flow.
const (
	choicePrefix   = "choice:"
	sentPrefix     = "sent:"
	sendTestPrefix = "sendtest:"
)

func choiceCallback(id int64) string {
	return choicePrefix + strconv.FormatInt(id, 10)
}

func sentCallback(id int64) string {
	return sentPrefix + strconv.FormatInt(id, 10)
}

// handleUpdate handles incoming updates from Telegram
func (b *Bot) handleUpdate(update tgbotapi.Update) {
	ctx := context.Background()

	if update.Message != nil {
		message := update.Message
		if message.From == nil {
			return
		}

		if message.IsCommand() {
			switch message.Command() {
			case "start":
				b.handleStartCommand(ctx, message)
			case "tests":
				b.handleTestsCommand(ctx, message)
			case "send_test":
				b.handleSendTestCommand(ctx, message)
			case "cancel":
				b.handleCancelCommand(message)
			case "help":
				b.handleHelpCommand(message)
			case "import":
				if b.isAdmin(message.From.ID) {
					b.handleImportCommand(message)
				} else {
					b.sendText(message.Chat.ID, "This command is only available for administrators.")
				}
			default:
				b.sendText(message.Chat.ID, "Unknown command. Use /help to see what I can do.")
			}
			return
		}

		if message.Document != nil && b.takeAwaitingImport(message.Chat.ID) {
			b.processImportDocument(ctx, message)
			return
		}

		if b.handleSenderInput(ctx, message) {
			return
		}

		b.sendText(message.Chat.ID, "I don't understand. Use /tests to pick a test or /help for the full list of commands.")
		return
	}

	if update.CallbackQuery != nil {
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

// handleStartCommand is the first-contact flow: the user is registered, the
// waitlist addressed to their username is reconciled, and any unfinished
// sent tests are offered before anything else. Reconcile runs before the
// list, so a test delivered just now shows up immediately.
func (b *Bot) handleStartCommand(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	username := message.From.UserName

	if err := b.users.Upsert(ctx, userID, username); err != nil {
		log.Printf("Error registering user %d: %v", userID, err)
		b.sendText(message.Chat.ID, "Something went wrong. Please try again.")
		return
	}

	if username != "" {
		if err := b.queue.ReconcileOnContact(ctx, userID, username); err != nil {
			log.Printf("Error reconciling sent tests for @%s: %v", username, err)
		}
	}

	unfinished, err := b.queue.ListUnfinishedForReceiver(ctx, userID)
	if err != nil {
		log.Printf("Error listing unfinished tests for user %d: %v", userID, err)
		unfinished = nil
	}

	greeting := "Hello! I offer psychological tests.\n\nUse /tests to pick a test, or /send_test to send one to a friend."
	if len(unfinished) == 0 {
		b.sendText(message.Chat.ID, greeting)
		return
	}

	var rows [][]MenuButton
	for _, st := range unfinished {
		rows = append(rows, []MenuButton{{
			Text:         fmt.Sprintf("%s (from another user)", st.TestName),
			CallbackData: sentCallback(st.ID),
		}})
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, greeting+"\n\nYou have tests waiting for you:")
	msg.ReplyMarkup = createKeyboard(rows)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Error sending unfinished tests to chat %d: %v", message.Chat.ID, err)
	}
}

// handleTestsCommand starts test selection, discarding any attempt in
// progress.
func (b *Bot) handleTestsCommand(ctx context.Context, message *tgbotapi.Message) {
	b.clearSenderFlow(message.From.ID)
	out, err := b.sessions.StartSelection(ctx, message.From.ID, message.From.UserName)
	if err != nil {
		log.Printf("Error starting selection for user %d: %v", message.From.ID, err)
		b.sendText(message.Chat.ID, "Something went wrong. Please try again.")
		return
	}
	b.sendOutcome(message.Chat.ID, out)
}

func (b *Bot) handleCancelCommand(message *tgbotapi.Message) {
	b.clearSenderFlow(message.From.ID)
	b.sessions.Abandon(message.From.ID)
	b.clearAwaitingImport(message.Chat.ID)
	b.sendText(message.Chat.ID, "Cancelled. Use /tests whenever you want to take a test.")
}

func (b *Bot) handleHelpCommand(message *tgbotapi.Message) {
	help := "Available commands:\n" +
		"/tests - choose a psychological test to take\n" +
		"/send_test - send a test to another user by their @username\n" +
		"/cancel - abandon whatever is in progress\n" +
		"/help - show this message"
	if b.isAdmin(message.From.ID) {
		help += "\n/import - import tests from an Excel workbook"
	}
	b.sendText(message.Chat.ID, help)
}

func (b *Bot) handleImportCommand(message *tgbotapi.Message) {
	b.setAwaitingImport(message.Chat.ID)
	b.sendText(message.Chat.ID, "Send me an .xlsx workbook with test definitions.")
}

func (b *Bot) processImportDocument(ctx context.Context, message *tgbotapi.Message) {
	url, err := b.api.GetFileDirectURL(message.Document.FileID)
	if err != nil {
		log.Printf("Error resolving file %s: %v", message.Document.FileID, err)
		b.sendText(message.Chat.ID, "Could not download the file. Please try again.")
		return
	}

	resp, err := http.Get(url)
	if err != nil {
		log.Printf("Error downloading file %s: %v", message.Document.FileID, err)
		b.sendText(message.Chat.ID, "Could not download the file. Please try again.")
		return
	}
	defer resp.Body.Close()

	result, err := excel.ImportTests(ctx, resp.Body)
	if err != nil {
		log.Printf("Error importing tests: %v", err)
		b.sendText(message.Chat.ID, fmt.Sprintf("Import failed: %v", err))
		return
	}

	text := fmt.Sprintf("Import finished: %d tests created, %d skipped.", result.TestsCreated, result.Skipped)
	if len(result.Errors) > 0 {
		text += "\n\nProblems:\n" + strings.Join(result.Errors, "\n")
	}
	b.sendText(message.Chat.ID, text)
}

// handleCallbackQuery handles callback queries from inline keyboards
func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	// Acknowledge the button press so the client stops its spinner.
	if _, err := b.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		log.Printf("Error answering callback %s: %v", callback.ID, err)
	}

	if callback.Message == nil || callback.From == nil {
		return
	}
	chatID := callback.Message.Chat.ID
	data := callback.Data

	switch {
	case strings.HasPrefix(data, choicePrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, choicePrefix), 10, 64)
		if err != nil {
			log.Printf("Malformed callback data %q from user %d", data, callback.From.ID)
			return
		}
		b.handleChoice(ctx, chatID, callback.From.ID, id)
	case strings.HasPrefix(data, sentPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, sentPrefix), 10, 64)
		if err != nil {
			log.Printf("Malformed callback data %q from user %d", data, callback.From.ID)
			return
		}
		b.handleSentTestStart(ctx, chatID, callback.From, id)
	case strings.HasPrefix(data, sendTestPrefix):
		b.handleSendTestCallback(ctx, chatID, callback.From.ID, strings.TrimPrefix(data, sendTestPrefix))
	default:
		log.Printf("Unknown callback data %q from user %d", data, callback.From.ID)
	}
}

// handleChoice forwards a selection to the session manager and translates
// its errors into user-facing messages.
func (b *Bot) handleChoice(ctx context.Context, chatID, userID, selectionID int64) {
	out, err := b.sessions.HandleChoice(ctx, userID, selectionID)
	switch {
	case err == nil:
		b.sendOutcome(chatID, out)
	case errors.Is(err, session.ErrInvalidSelection):
		// The outcome re-asks the current question unchanged.
		b.sendText(chatID, "Please pick one of the offered answers.")
		b.sendOutcome(chatID, out)
	case errors.Is(err, session.ErrNoSession):
		b.sendText(chatID, "No test in progress. Use /tests to pick one.")
	case errors.Is(err, session.ErrUnexpectedEvent):
		// A stale button from an earlier prompt; the acknowledgement above
		// is enough.
	case errors.Is(err, catalog.ErrNotFound):
		b.sendText(chatID, "That test is no longer available. Use /tests to see the current list.")
	case errors.Is(err, session.ErrUnscorableResult):
		log.Printf("Unscorable result for user %d: %v", userID, err)
		b.sendText(chatID, "This test's scoring is misconfigured, so your result cannot be interpreted. The attempt has been discarded.")
	default:
		log.Printf("Error handling choice %d for user %d: %v", selectionID, userID, err)
		b.sendText(chatID, "Something went wrong. Please try again.")
	}
}

// handleSentTestStart resumes a delivered sent test from the /start
// keyboard, after checking the row still belongs to this user and is still
// open.
func (b *Bot) handleSentTestStart(ctx context.Context, chatID int64, from *tgbotapi.User, sentTestID int64) {
	st, err := b.queue.GetSentTest(ctx, sentTestID)
	if errors.Is(err, delivery.ErrNotFound) {
		b.sendText(chatID, "That test is no longer available.")
		return
	}
	if err != nil {
		log.Printf("Error loading sent test %d: %v", sentTestID, err)
		b.sendText(chatID, "Something went wrong. Please try again.")
		return
	}

	if !st.ReceiverID.Valid || st.ReceiverID.Int64 != from.ID {
		log.Printf("User %d pressed sent test %d addressed to someone else", from.ID, sentTestID)
		return
	}
	if st.IsCompleted {
		b.sendText(chatID, "You have already completed this test.")
		return
	}

	out, err := b.sessions.StartAssigned(ctx, from.ID, from.UserName, st)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			b.sendText(chatID, "That test is no longer available.")
			return
		}
		log.Printf("Error starting sent test %d for user %d: %v", sentTestID, from.ID, err)
		b.sendText(chatID, "Something went wrong. Please try again.")
		return
	}
	b.sendOutcome(chatID, out)
}

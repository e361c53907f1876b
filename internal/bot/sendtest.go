package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/psybot/internal/delivery"
)

// Telegram usernames are 5 to 32 word characters.
var usernamePattern = regexp.MustCompile(`^@?([A-Za-z0-9_]{5,32})$`)

type senderFlowState int

const (
	flowAwaitingUsername senderFlowState = iota
	flowChoosingTest
	flowConfirming
)

// senderFlow tracks one user's progress through /send_test: who the test
// goes to, which test, and a final confirmation.
type senderFlow struct {
	state            senderFlowState
	receiverUsername string
	testID           int64
	testName         string
	updatedAt        time.Time
}

func (b *Bot) setSenderFlow(userID int64, flow *senderFlow) {
	flow.updatedAt = time.Now()
	b.flowMu.Lock()
	b.senderFlows[userID] = flow
	b.flowMu.Unlock()
}

// senderFlowFor returns the user's live flow, discarding one that sat idle
// past the configured timeout.
func (b *Bot) senderFlowFor(userID int64) *senderFlow {
	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	flow, ok := b.senderFlows[userID]
	if !ok {
		return nil
	}
	if time.Since(flow.updatedAt) > b.config.SenderFlowTimeout {
		delete(b.senderFlows, userID)
		return nil
	}
	return flow
}

func (b *Bot) clearSenderFlow(userID int64) {
	b.flowMu.Lock()
	delete(b.senderFlows, userID)
	b.flowMu.Unlock()
}

// handleSendTestCommand starts the sender flow. Any test attempt in progress
// is abandoned: one conversation at a time.
func (b *Bot) handleSendTestCommand(ctx context.Context, message *tgbotapi.Message) {
	b.sessions.Abandon(message.From.ID)
	b.setSenderFlow(message.From.ID, &senderFlow{state: flowAwaitingUsername})
	b.sendText(message.Chat.ID, "Who should receive the test? Send me their @username.")
}

// handleSenderInput consumes free-text input for a user inside the sender
// flow. It reports whether the message was claimed.
func (b *Bot) handleSenderInput(ctx context.Context, message *tgbotapi.Message) bool {
	flow := b.senderFlowFor(message.From.ID)
	if flow == nil || flow.state != flowAwaitingUsername {
		return false
	}

	m := usernamePattern.FindStringSubmatch(message.Text)
	if m == nil {
		b.sendText(message.Chat.ID, "That doesn't look like a username. Send something like @their_name, or /cancel.")
		return true
	}
	flow.receiverUsername = m[1]
	flow.state = flowChoosingTest
	b.setSenderFlow(message.From.ID, flow)

	tests, err := b.tests.ListActiveTests(ctx)
	if err != nil {
		log.Printf("Error listing tests for sender %d: %v", message.From.ID, err)
		b.sendText(message.Chat.ID, "Something went wrong. Please try again.")
		b.clearSenderFlow(message.From.ID)
		return true
	}
	if len(tests) == 0 {
		b.sendText(message.Chat.ID, "No tests are available to send at the moment.")
		b.clearSenderFlow(message.From.ID)
		return true
	}

	var rows [][]MenuButton
	for _, t := range tests {
		rows = append(rows, []MenuButton{{
			Text:         t.Name,
			CallbackData: sendTestPrefix + strconv.FormatInt(t.ID, 10),
		}})
	}
	msg := tgbotapi.NewMessage(message.Chat.ID,
		fmt.Sprintf("Which test should @%s receive?", flow.receiverUsername))
	msg.ReplyMarkup = createKeyboard(rows)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Error sending test list to chat %d: %v", message.Chat.ID, err)
	}
	return true
}

// handleSendTestCallback advances the sender flow from its inline keyboards:
// a test id while choosing, then confirm or cancel.
func (b *Bot) handleSendTestCallback(ctx context.Context, chatID, userID int64, data string) {
	flow := b.senderFlowFor(userID)
	if flow == nil {
		b.sendText(chatID, "This send has expired. Use /send_test to start over.")
		return
	}

	switch data {
	case "confirm":
		if flow.state != flowConfirming {
			return
		}
		b.clearSenderFlow(userID)
		b.finishSendTest(ctx, chatID, userID, flow)
	case "cancel":
		b.clearSenderFlow(userID)
		b.sendText(chatID, "Send cancelled.")
	default:
		if flow.state != flowChoosingTest {
			return
		}
		testID, err := strconv.ParseInt(data, 10, 64)
		if err != nil {
			log.Printf("Malformed send-test callback %q from user %d", data, userID)
			return
		}
		name, err := b.tests.GetTestName(ctx, testID)
		if err != nil {
			b.sendText(chatID, "That test is no longer available. Pick another one.")
			return
		}
		flow.testID = testID
		flow.testName = name
		flow.state = flowConfirming
		b.setSenderFlow(userID, flow)

		msg := tgbotapi.NewMessage(chatID,
			fmt.Sprintf("Send the test \"%s\" to @%s?", name, flow.receiverUsername))
		msg.ReplyMarkup = createKeyboard([][]MenuButton{{
			{Text: "Send", CallbackData: sendTestPrefix + "confirm"},
			{Text: "Cancel", CallbackData: sendTestPrefix + "cancel"},
		}})
		if _, err := b.api.Send(msg); err != nil {
			log.Printf("Error sending confirmation to chat %d: %v", chatID, err)
		}
	}
}

func (b *Bot) finishSendTest(ctx context.Context, chatID, userID int64, flow *senderFlow) {
	st, err := b.queue.CreateSentTest(ctx, userID, flow.receiverUsername, flow.testID)
	if errors.Is(err, delivery.ErrDuplicatePending) {
		b.sendText(chatID, fmt.Sprintf("@%s already has the test \"%s\" from you and hasn't finished it yet.",
			flow.receiverUsername, flow.testName))
		return
	}
	if err != nil {
		log.Printf("Error creating sent test for user %d: %v", userID, err)
		b.sendText(chatID, "Something went wrong. Please try again.")
		return
	}

	if st.IsDelivered {
		b.sendText(chatID, fmt.Sprintf("Done! @%s has been told about the test \"%s\".",
			flow.receiverUsername, flow.testName))
	} else {
		b.sendText(chatID, fmt.Sprintf("Saved. @%s hasn't talked to me yet, so they will get the test \"%s\" the moment they do.",
			flow.receiverUsername, flow.testName))
	}
}

package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/psybot/internal/session"
)

func TestUsernamePattern(t *testing.T) {
	for _, ok := range []string{"@their_name", "their_name", "Abc12", "a_b_c_d_e"} {
		m := usernamePattern.FindStringSubmatch(ok)
		assert.NotNil(t, m, ok)
	}
	assert.Equal(t, "their_name", usernamePattern.FindStringSubmatch("@their_name")[1])

	for _, bad := range []string{"", "@", "abc", "has space", "почта", "@name!", "@a b"} {
		assert.Nil(t, usernamePattern.FindStringSubmatch(bad), bad)
	}
}

func TestChoiceCallbackCodec(t *testing.T) {
	assert.Equal(t, "choice:7", choiceCallback(7))
	assert.Equal(t, "choice:-3", choiceCallback(session.ChoiceBack))
	assert.Equal(t, "sent:42", sentCallback(42))
}

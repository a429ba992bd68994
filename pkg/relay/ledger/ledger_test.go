package ledger

import (
	"fmt"
	"testing"
	"time"

	"agent-console-be/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, sender, content string) Message {
	return Message{ID: id, Sender: sender, Content: content, Timestamp: time.Now()}
}

func TestAddMessageDropsDuplicates(t *testing.T) {
	l := NewLedger(logger.NewNopLogger())

	require.NoError(t, l.AddMessage("s1", msg("m1", SenderUser, "hi")))
	require.NoError(t, l.AddMessage("s1", msg("m1", SenderUser, "hi again")))

	msgs := l.Messages("s1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestSetMessagesDeduplicatesFirstWins(t *testing.T) {
	l := NewLedger(logger.NewNopLogger())

	kept := l.SetMessages("s1", []Message{
		msg("m1", SenderUser, "first"),
		msg("m2", SenderAgent, "reply"),
		msg("m1", SenderUser, "replayed page"),
		msg("m3", SenderUser, "next"),
		msg("m2", SenderAgent, "replayed reply"),
	})
	assert.Equal(t, 3, kept)

	msgs := l.Messages("s1")
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "reply", msgs[1].Content)
}

func TestSetMessagesIsIdempotentReplace(t *testing.T) {
	l := NewLedger(logger.NewNopLogger())

	l.SetMessages("s1", []Message{msg("old", SenderUser, "stale")})
	l.SetMessages("s1", []Message{msg("m1", SenderUser, "fresh")})

	msgs := l.Messages("s1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestAppendToMessageCopyOnWrite(t *testing.T) {
	l := NewLedger(logger.NewNopLogger())
	require.NoError(t, l.AddMessage("s1", msg("m1", SenderAgent, "Hel")))

	before := l.Messages("s1")

	updated, err := l.AppendToMessage("s1", "m1", "lo")
	require.NoError(t, err)
	assert.Equal(t, "Hello", updated.Content)

	// The snapshot taken before the append is untouched: the append produced
	// a new value rather than mutating the old one in place.
	assert.Equal(t, "Hel", before[0].Content)

	after := l.Messages("s1")
	assert.Equal(t, "Hello", after[0].Content)

	_, err = l.AppendToMessage("s1", "missing", "x")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestAppendOrderIsArrivalOrder(t *testing.T) {
	l := NewLedger(logger.NewNopLogger())
	require.NoError(t, l.AddMessage("s1", msg("m1", SenderAgent, "")))

	for i := 0; i < 5; i++ {
		_, err := l.AppendToMessage("s1", "m1", fmt.Sprintf("%d", i))
		require.NoError(t, err)
	}
	msgs := l.Messages("s1")
	assert.Equal(t, "01234", msgs[0].Content)
}

func TestUpdateAndDeleteMessage(t *testing.T) {
	l := NewLedger(logger.NewNopLogger())
	require.NoError(t, l.AddMessage("s1", msg("m1", SenderAgent, "draft")))

	content := "final"
	agentName := "Researcher"
	require.NoError(t, l.UpdateMessage("s1", "m1", Patch{Content: &content, AgentName: &agentName}))

	got, ok := l.Get("s1", "m1")
	require.True(t, ok)
	assert.Equal(t, "final", got.Content)
	assert.Equal(t, "Researcher", got.AgentName)

	require.NoError(t, l.DeleteMessage("s1", "m1"))
	assert.Empty(t, l.Messages("s1"))
	assert.ErrorIs(t, l.DeleteMessage("s1", "m1"), ErrMessageNotFound)
}

func TestClearMessagesLeavesOtherSessions(t *testing.T) {
	l := NewLedger(logger.NewNopLogger())
	require.NoError(t, l.AddMessage("s1", msg("m1", SenderUser, "a")))
	require.NoError(t, l.AddMessage("s2", msg("m1", SenderUser, "b")))

	l.ClearMessages("s1")
	assert.Empty(t, l.Messages("s1"))
	assert.Len(t, l.Messages("s2"), 1)
}

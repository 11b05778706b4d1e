package conversation

import (
	"fmt"
	"testing"

	"voiceloop/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreWindowsEmpty(t *testing.T) {
	s := NewStore()
	assert.Empty(t, s.PromptWindow())
	assert.Empty(t, s.DisplayWindow())
	assert.Equal(t, 0, s.Len())
}

func TestStoreWindowsAreBounded(t *testing.T) {
	s := NewStore()
	for i := 0; i < 20; i++ {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		s.Append(core.Exchange{Role: role, Text: fmt.Sprintf("msg %d", i)})
	}

	prompt := s.PromptWindow()
	require.Len(t, prompt, core.PromptWindowSize)
	// Oldest first: the window covers the most recent exchanges in order.
	assert.Equal(t, "msg 17", prompt[0].Text)
	assert.Equal(t, "msg 19", prompt[2].Text)

	display := s.DisplayWindow()
	require.Len(t, display, core.DisplayWindowSize)
	assert.Equal(t, "msg 14", display[0].Text)
	assert.Equal(t, "msg 19", display[5].Text)
}

func TestStoreWindowsShorterThanCap(t *testing.T) {
	s := NewStore()
	s.Append(core.Exchange{Role: core.RoleUser, Text: "hi"})
	s.Append(core.Exchange{Role: core.RoleAssistant, Text: "hello"})

	assert.Len(t, s.PromptWindow(), 2)
	assert.Len(t, s.DisplayWindow(), 2)
}

func TestStoreClear(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		s.Append(core.Exchange{Role: core.RoleUser, Text: "x"})
	}
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.PromptWindow())
	assert.Empty(t, s.DisplayWindow())
}

func TestStoreWindowIsACopy(t *testing.T) {
	s := NewStore()
	s.Append(core.Exchange{Role: core.RoleUser, Text: "original"})

	window := s.PromptWindow()
	window[0].Text = "mutated"

	assert.Equal(t, "original", s.PromptWindow()[0].Text)
}

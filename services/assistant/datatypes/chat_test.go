package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatRequestValidate(t *testing.T) {
	ok := ChatRequest{Message: "why is my check engine light on"}
	assert.NoError(t, ok.Validate())
}

func TestChatRequestRequiresMessage(t *testing.T) {
	empty := ChatRequest{}
	assert.Error(t, empty.Validate())
}

func TestChatRequestRejectsOversizedMessage(t *testing.T) {
	big := ChatRequest{Message: strings.Repeat("a", MaxMessageContentBytes+1)}
	assert.Error(t, big.Validate())

	exact := ChatRequest{Message: strings.Repeat("a", MaxMessageContentBytes)}
	assert.NoError(t, exact.Validate())
}

func TestChatRequestSessionIDLength(t *testing.T) {
	long := ChatRequest{Message: "hi", SessionID: strings.Repeat("s", 200)}
	assert.Error(t, long.Validate())
}

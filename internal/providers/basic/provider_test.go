package basic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/crm-reply-router/internal/types"
)

func TestProvider(t *testing.T) {
	p := NewProvider("")
	assert.Equal(t, types.ProviderBasic, p.ID())

	resp, err := p.SendMessage(context.Background(), types.MessageContext{Text: "qualquer coisa"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, DefaultReply, resp.Content)

	custom := NewProvider("Volto já!")
	resp, err = custom.SendMessage(context.Background(), types.MessageContext{})
	require.NoError(t, err)
	assert.Equal(t, "Volto já!", resp.Content)
}

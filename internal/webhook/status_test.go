package webhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPayloadPlainJSON(t *testing.T) {
	body, err := renderPayload(nil, Status{Level: Warning, Title: "t", NodeID: "n"})
	require.NoError(t, err)

	var got Status
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, Warning, got.Level)
	assert.NotEmpty(t, got.Timestamp, "timestamp filled in")
}

func TestRenderPayloadDiscordColors(t *testing.T) {
	tmpl, err := parseTemplate(DiscordTemplate)
	require.NoError(t, err)

	tests := []struct {
		level Level
		color int
	}{
		{Info, DiscordColorBlue},
		{Warning, DiscordColorYellow},
		{Error, DiscordColorRed},
	}

	for _, tt := range tests {
		body, err := renderPayload(tmpl, Status{Level: tt.level, Title: `quote " and \ slash`})
		require.NoError(t, err)

		var payload struct {
			Embeds []struct {
				Title string `json:"title"`
				Color int    `json:"color"`
			} `json:"embeds"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, tt.color, payload.Embeds[0].Color)
		assert.Equal(t, `quote " and \ slash`, payload.Embeds[0].Title)
	}
}

func TestTemplateErrors(t *testing.T) {
	_, err := parseTemplate("{{ .status.Title ")
	assert.ErrorIs(t, err, errTemplateParse)

	tmpl, err := parseTemplate(`{"content": {{.status.Title}}}`)
	require.NoError(t, err)
	_, err = renderPayload(tmpl, Status{Title: "not quoted"})
	assert.ErrorIs(t, err, errInvalidJSON)
}

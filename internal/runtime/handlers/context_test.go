package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	metadatapkg "github.com/drblury/glue/internal/runtime/metadata"
)

func TestEventContextBaseAccessors(t *testing.T) {
	md := metadatapkg.New(
		metadatapkg.KeyTriggerType, "webhook",
		metadatapkg.KeyTriggerLabel, "0",
		metadatapkg.KeyInvocationID, "01HZZ",
		metadatapkg.KeyDeploymentID, "dep-1",
		metadatapkg.KeyCorrelationID, "corr",
		"custom", "value",
	)
	base := newEventContextBase(metadatapkg.NewContext(context.Background(), md))

	assert.Equal(t, "webhook", base.TriggerType())
	assert.Equal(t, "0", base.TriggerLabel())
	assert.Equal(t, "01HZZ", base.InvocationID())
	assert.Equal(t, "dep-1", base.DeploymentID())
	assert.Equal(t, "corr", base.CorrelationID())
	assert.Equal(t, "value", base.Get("custom"))
}

func TestEventContextBaseWithoutMetadata(t *testing.T) {
	base := newEventContextBase(context.Background())

	assert.NotNil(t, base.Metadata)
	assert.Empty(t, base.TriggerType())
}

func TestCloneMetadataIsIndependent(t *testing.T) {
	base := EventContextBase{Metadata: metadatapkg.Metadata{"a": "1"}}

	clone := base.CloneMetadata()
	clone["a"] = "2"

	assert.Equal(t, "1", base.Get("a"))
}

func TestNoPayload(t *testing.T) {
	tests := []struct {
		data json.RawMessage
		want bool
	}{
		{nil, true},
		{json.RawMessage(""), true},
		{json.RawMessage("  \n"), true},
		{json.RawMessage(" null "), true},
		{json.RawMessage("{}"), false},
		{json.RawMessage("0"), false},
		{json.RawMessage(`"null"`), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, noPayload(tt.data), string(tt.data))
	}
}

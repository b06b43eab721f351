package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Salad109/medical-office-manager/internal/audit"
)

func TestBuildFilter(t *testing.T) {
	f, err := buildFilter(options{
		entity: "Appointment",
		id:     4,
		action: "UPDATE",
		since:  "2024-05-01T00:00:00Z",
		limit:  10,
	})
	require.NoError(t, err)

	assert.Equal(t, "Appointment", f.EntityType)
	require.NotNil(t, f.EntityID)
	assert.Equal(t, int64(4), *f.EntityID)
	assert.Nil(t, f.ActorID)
	assert.Equal(t, audit.ActionUpdate, f.Action)
	require.NotNil(t, f.Since)
	assert.Equal(t, 2024, f.Since.Year())
	assert.Nil(t, f.Until)
	assert.Equal(t, 10, f.Limit)
}

func TestBuildFilterRejectsBadInput(t *testing.T) {
	_, err := buildFilter(options{action: "TRUNCATE"})
	assert.Error(t, err)

	_, err = buildFilter(options{until: "yesterday"})
	assert.Error(t, err)
}

func TestChanges(t *testing.T) {
	created := audit.Entry{NewValues: json.RawMessage(`{"id":1,"status":"SCHEDULED"}`)}
	assert.Equal(t, "(new)", changes(created))

	updated := audit.Entry{
		OldValues: json.RawMessage(`{"id":1,"status":"SCHEDULED"}`),
		NewValues: json.RawMessage(`{"id":1,"status":"COMPLETED"}`),
	}
	assert.Equal(t, `status: "SCHEDULED" -> "COMPLETED"`, changes(updated))

	deleted := audit.Entry{OldValues: json.RawMessage(`{"id":1}`)}
	assert.Equal(t, "(removed)", changes(deleted))
}

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/theater-booking/internal/model"
)

func TestRenderCapacity(t *testing.T) {
	school := 20
	sessions := []model.Session{
		{ID: 7, StartsAt: time.Date(2026, 5, 2, 20, 30, 0, 0, time.UTC), Venue: "Grande Salle", SessionType: model.SessionTypeMixed,
			Status: model.SessionPublished, TotalCapacity: 100, BookedSeats: 30, SchoolCapacity: &school, BookedSchool: 15},
		{ID: 8, StartsAt: time.Date(2026, 5, 3, 15, 0, 0, 0, time.UTC), Venue: "Studio", SessionType: model.SessionTypePublic,
			Status: model.SessionDraft, TotalCapacity: 40},
	}

	var buf bytes.Buffer
	renderCapacity(&buf, sessions)
	out := buf.String()

	assert.Contains(t, out, "Grande Salle")
	assert.Contains(t, out, "2026-05-02 20:30")
	assert.Contains(t, out, "Studio")
	assert.Contains(t, out, "70") // free seats in session 7
	assert.Contains(t, out, "5")  // school pool left in session 7
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"migrate", "expire", "capacity", "render", "close-started"}, names)

	root.SetArgs([]string{"capacity", "abc"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid show id")
}

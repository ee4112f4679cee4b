package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taleweaver-server/shared/models"
)

func TestStoryStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from    models.StoryStatus
		to      models.StoryStatus
		allowed bool
	}{
		{models.StatusPending, models.StatusProcessing, true},
		{models.StatusPending, models.StatusFailed, true},
		{models.StatusProcessing, models.StatusCompleted, true},
		{models.StatusProcessing, models.StatusFailed, true},
		// Терминальные статусы не покидаются
		{models.StatusCompleted, models.StatusProcessing, false},
		{models.StatusCompleted, models.StatusFailed, false},
		{models.StatusFailed, models.StatusProcessing, false},
		{models.StatusFailed, models.StatusCompleted, false},
		// Назад в pending дороги нет
		{models.StatusProcessing, models.StatusPending, false},
		{models.StatusPending, models.StatusCompleted, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

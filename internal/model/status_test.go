package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusConstants(t *testing.T) {
	assert.Equal(t, "unknown", StatusUnknown)
	assert.Equal(t, "running", StatusRunning)
	assert.Equal(t, "completed", StatusCompleted)
	assert.Equal(t, "failed", StatusFailed)
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"running", StatusRunning},
		{"uploading", StatusRunning},
		{"completed", StatusCompleted},
		{"done", StatusCompleted},
		{"error", StatusFailed},
		{"", StatusUnknown},
		{"weird", StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeStatus(tt.in))
		})
	}
}

func TestValidBackupType(t *testing.T) {
	assert.True(t, ValidBackupType(BackupTypeFull))
	assert.True(t, ValidBackupType(BackupTypeIncremental))
	assert.False(t, ValidBackupType("web"))
}

func TestValidBackupID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"b1", true},
		{"2024-05-01_full.v2", true},
		{"4f5c2e1a-7d3b-4c8e-9a0f-1b2c3d4e5f60", true},
		{"", false},
		{"..", false},
		{"../x", false},
		{".hidden", false},
		{"a/b", false},
		{"a b", false},
		{strings.Repeat("a", MaxBackupIDLength), true},
		{strings.Repeat("a", MaxBackupIDLength+1), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidBackupID(tt.id), tt.id)
	}
}

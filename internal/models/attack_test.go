package models

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextAttackStatusLegalTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current AttackStatus
		event   AttackEvent
		want    AttackStatus
	}{
		{name: "accept starts pending attack", current: AttackStatusPending, event: AttackEventAccept, want: AttackStatusRunning},
		{name: "accept is idempotent while running", current: AttackStatusRunning, event: AttackEventAccept, want: AttackStatusRunning},
		{name: "accept revives paused attack", current: AttackStatusPaused, event: AttackEventAccept, want: AttackStatusRunning},
		{name: "accept revives failed attack", current: AttackStatusFailed, event: AttackEventAccept, want: AttackStatusRunning},
		{name: "complete from running", current: AttackStatusRunning, event: AttackEventComplete, want: AttackStatusCompleted},
		{name: "complete pending attack on cracked list", current: AttackStatusPending, event: AttackEventComplete, want: AttackStatusCompleted},
		{name: "exhausted keyspace resolves to completed", current: AttackStatusRunning, event: AttackEventExhaust, want: AttackStatusCompleted},
		{name: "pause pending attack", current: AttackStatusPending, event: AttackEventPause, want: AttackStatusPaused},
		{name: "pause running attack", current: AttackStatusRunning, event: AttackEventPause, want: AttackStatusPaused},
		{name: "resume returns to pending", current: AttackStatusPaused, event: AttackEventResume, want: AttackStatusPending},
		{name: "abandon returns to pending", current: AttackStatusRunning, event: AttackEventAbandon, want: AttackStatusPending},
		{name: "cancel pending attack", current: AttackStatusPending, event: AttackEventCancel, want: AttackStatusFailed},
		{name: "cancel running attack", current: AttackStatusRunning, event: AttackEventCancel, want: AttackStatusFailed},
		{name: "reset failed attack", current: AttackStatusFailed, event: AttackEventReset, want: AttackStatusPending},
		{name: "reset completed attack", current: AttackStatusCompleted, event: AttackEventReset, want: AttackStatusPending},
		{name: "reset exhausted attack", current: AttackStatusExhausted, event: AttackEventReset, want: AttackStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := NextAttackStatus(tt.current, tt.event)
			assert.True(t, ok)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestNextAttackStatusIllegalPairsNoOp(t *testing.T) {
	tests := []struct {
		name    string
		current AttackStatus
		event   AttackEvent
	}{
		{name: "reset a live attack", current: AttackStatusRunning, event: AttackEventReset},
		{name: "resume an attack that is not paused", current: AttackStatusPending, event: AttackEventResume},
		{name: "exhaust before work started", current: AttackStatusPending, event: AttackEventExhaust},
		{name: "cancel a completed attack", current: AttackStatusCompleted, event: AttackEventCancel},
		{name: "pause a failed attack", current: AttackStatusFailed, event: AttackEventPause},
		{name: "unknown event", current: AttackStatusRunning, event: AttackEvent("shuffle")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := NextAttackStatus(tt.current, tt.event)
			assert.False(t, ok)
			assert.Equal(t, tt.current, next)
		})
	}
}

func TestAttackStatusIncomplete(t *testing.T) {
	assert.True(t, AttackStatusPending.Incomplete())
	assert.True(t, AttackStatusFailed.Incomplete())

	// Running and paused attacks are not offered more work either.
	assert.False(t, AttackStatusRunning.Incomplete())
	assert.False(t, AttackStatusPaused.Incomplete())
	assert.False(t, AttackStatusCompleted.Incomplete())
	assert.False(t, AttackStatusExhausted.Incomplete())
}

func TestAttackModeHashcatMode(t *testing.T) {
	assert.Equal(t, 0, AttackModeDictionary.HashcatMode())
	assert.Equal(t, 3, AttackModeMask.HashcatMode())
	assert.Equal(t, 6, AttackModeHybridDictionary.HashcatMode())
	assert.Equal(t, 7, AttackModeHybridMask.HashcatMode())
	assert.Equal(t, -1, AttackMode("rainbow").HashcatMode())
}

func TestAttackValidate(t *testing.T) {
	wordList := sql.NullString{String: "6f4d9e6a-1111-4222-8333-444455556666", Valid: true}
	maskList := sql.NullString{String: "6f4d9e6a-7777-4888-8999-000011112222", Valid: true}

	tests := []struct {
		name    string
		attack  Attack
		wantErr string
	}{
		{
			name:   "valid dictionary",
			attack: Attack{Mode: AttackModeDictionary, WordListID: wordList},
		},
		{
			name:    "dictionary without word list",
			attack:  Attack{Mode: AttackModeDictionary},
			wantErr: "requires a word list",
		},
		{
			name:    "dictionary with a mask",
			attack:  Attack{Mode: AttackModeDictionary, WordListID: wordList, Mask: "?d?d"},
			wantErr: "cannot carry a mask",
		},
		{
			name:   "valid inline mask",
			attack: Attack{Mode: AttackModeMask, Mask: "?u?l?l?d"},
		},
		{
			name:   "valid mask list",
			attack: Attack{Mode: AttackModeMask, MaskListID: maskList},
		},
		{
			name:    "mask attack with neither mask nor list",
			attack:  Attack{Mode: AttackModeMask},
			wantErr: "requires a mask or a mask list",
		},
		{
			name:    "mask attack with a word list",
			attack:  Attack{Mode: AttackModeMask, Mask: "?d?d", WordListID: wordList},
			wantErr: "cannot carry a word list",
		},
		{
			name:   "valid hybrid dictionary",
			attack: Attack{Mode: AttackModeHybridDictionary, WordListID: wordList, Mask: "?d?d"},
		},
		{
			name:    "hybrid without word list",
			attack:  Attack{Mode: AttackModeHybridMask, Mask: "?d?d"},
			wantErr: "requires a word list",
		},
		{
			name:    "hybrid without mask",
			attack:  Attack{Mode: AttackModeHybridDictionary, WordListID: wordList},
			wantErr: "requires a mask",
		},
		{
			name:    "unknown mode",
			attack:  Attack{Mode: AttackMode("prince")},
			wantErr: "unknown attack mode",
		},
		{
			name: "increment on a non-mask attack",
			attack: Attack{
				Mode: AttackModeDictionary, WordListID: wordList,
				IncrementMode: true, IncrementMaximum: 4,
			},
			wantErr: "increment mode requires a mask-based attack",
		},
		{
			name: "increment range inverted",
			attack: Attack{
				Mode: AttackModeMask, Mask: "?d?d?d?d",
				IncrementMode: true, IncrementMinimum: 4, IncrementMaximum: 2,
			},
			wantErr: "exceeds maximum",
		},
		{
			name: "valid increment range",
			attack: Attack{
				Mode: AttackModeMask, Mask: "?d?d?d?d",
				IncrementMode: true, IncrementMinimum: 1, IncrementMaximum: 4,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.attack.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

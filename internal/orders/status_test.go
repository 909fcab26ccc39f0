package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusFinalized, true},
		{StatusPending, StatusCancelled, true},
		{StatusFinalized, StatusCancelled, false},
		{StatusFinalized, StatusPending, false},
		{StatusCancelled, StatusFinalized, false},
		{StatusCancelled, StatusPending, false},
		{StatusPending, StatusPending, false},
		{Status("SHIPPED"), StatusFinalized, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusFinalized.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, Status("bogus").Terminal())
	assert.False(t, Status("bogus").Valid())
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]Status{
		"PENDING":    StatusPending,
		"Pendiente":  StatusPending,
		" finalized": StatusFinalized,
		"Finalizado": StatusFinalized,
		"Cancelado":  StatusCancelled,
		"canceled":   StatusCancelled,
	} {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStatus("Enviado")
	assert.Error(t, err)
}

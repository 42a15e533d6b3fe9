package ipc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPortTableOpenReturnsSamePipeOnSecondCall(t *testing.T) {
	table := make(PortTable)
	a := table.Open(5, 0)
	b := table.Open(5, 0)
	require.Same(t, a, b)
}

func TestPortTableWriteToMissingPortFails(t *testing.T) {
	table := make(PortTable)
	_, err := table.Write(9, []byte("x"), 0)
	require.Error(t, err)
}

func TestPortTableReadWriteRoundTrip(t *testing.T) {
	table := make(PortTable)
	table.Open(1, 0)
	_, err := table.Write(1, []byte("ping"), 0)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := table.Read(1, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestPortTableCloseRemovesPort(t *testing.T) {
	table := make(PortTable)
	table.Open(2, 0)
	table.Close(2)
	_, err := table.Write(2, []byte("x"), 0)
	require.Error(t, err)
}

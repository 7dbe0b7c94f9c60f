package i2crequest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockTxResponses(t *testing.T) {
	expectedErr := errors.New("bus busy")
	MockTxResponses([]TxResponse{
		{Response: []byte{0x01, 0x02}},
		{Err: expectedErr},
	})
	defer MockTxResponses(nil)

	response, err := Tx(0x48, []byte{0x00}, 2, 100)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, response)

	err = CheckAddress(0x48, 100)
	require.Equal(t, expectedErr, err)

	_, err = Tx(0x48, []byte{0x01}, 2, 100)
	require.ErrorIs(t, err, errNoMockResponse)

	require.Equal(t, [][]byte{{0x00}, {0x00}, {0x01}}, MockWrites())
}

package drivers

import (
	"testing"

	"codeberg.org/mutker/docsismon/internal/errors"
	"codeberg.org/mutker/docsismon/internal/modem/demo"
	"codeberg.org/mutker/docsismon/internal/modem/fritzbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKnownVendors(t *testing.T) {
	for _, id := range Supported() {
		d, err := New(id, "", "user", "pw")
		require.NoError(t, err, id)
		assert.NotNil(t, d, id)
		assert.NoError(t, d.Close(), id)
	}

	d, err := New(" FritzBox ", "192.168.178.1", "", "pw")
	require.NoError(t, err)
	assert.IsType(t, &fritzbox.Driver{}, d)

	d, err = New("demo", "", "", "")
	require.NoError(t, err)
	assert.IsType(t, &demo.Driver{}, d)
}

func TestNewRejectsUnknownVendor(t *testing.T) {
	for _, id := range []string{"", "netgear", "../../evil", "fritzbox.Driver", "os/exec"} {
		d, err := New(id, "http://modem", "u", "p")
		require.Error(t, err, id)
		assert.Nil(t, d)
		assert.Equal(t, errors.ErrUnsupported, errors.CodeOf(err))
		assert.Contains(t, err.Error(), "Unsupported modem vendor")
	}
}

func TestSupported(t *testing.T) {
	assert.Equal(t, []string{"cga4233", "ch7465", "demo", "fritzbox", "sb6190", "tc4400", "tg3442"}, Supported())
	assert.True(t, IsSupported("tc4400"))
	assert.False(t, IsSupported("arris"))
}

package sourcedef

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSourceTypeAndFlags(t *testing.T) {
	d := Parse("linuxwifi:interface=wlan0,vif=wlan0mon,fcsfail=true")

	require.Equal(t, "linuxwifi", d.SourceType)
	require.Equal(t, "wlan0", d.Interface())
	vif, ok := d.Vif()
	require.True(t, ok)
	require.Equal(t, "wlan0mon", vif)
	require.True(t, d.Bool("fcsfail"))
	require.False(t, d.Bool("plcpfail"))
}

func TestParseWithoutSourceTypePrefix(t *testing.T) {
	d := Parse("interface=wlan1")

	require.Empty(t, d.SourceType)
	require.Equal(t, "wlan1", d.Interface())
	_, ok := d.Vif()
	require.False(t, ok)
}

func TestParseBareKeyHasEmptyValue(t *testing.T) {
	d := Parse("interface=wlan0,ignoreprimary")

	v, ok := d.Get("ignoreprimary")
	require.True(t, ok)
	require.Empty(t, v)
	require.False(t, d.Bool("ignoreprimary"))
}

func TestParseIgnoresBlankSegments(t *testing.T) {
	d := Parse("interface=wlan0,,vif=wlan0mon,")

	require.Equal(t, "wlan0", d.Interface())
	vif, ok := d.Vif()
	require.True(t, ok)
	require.Equal(t, "wlan0mon", vif)
}

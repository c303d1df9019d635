package monitor

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChooseCapInterfaceNameSynthesizesMon(t *testing.T) {
	name, err := chooseCapInterfaceName("wlan0", "", "aa:bb:cc:dd:ee:ff", nil)
	require.NoError(t, err)
	require.Equal(t, "wlan0mon", name)
}

func TestChooseCapInterfaceNameTooLongFallsBackToKismon(t *testing.T) {
	// "verylongwirelessname0" (21 chars) + "mon" (3) exceeds IFNAMSIZ (16).
	name, err := chooseCapInterfaceName("verylongwirelessname0", "", "aa:bb:cc:dd:ee:ff", nil)
	require.NoError(t, err)
	require.Equal(t, "kismon0", name)
}

func TestChooseCapInterfaceNameTooLongSkipsTakenKismon(t *testing.T) {
	existing := []existingIface{{Name: "kismon0"}}
	name, err := chooseCapInterfaceName("verylongwirelessname0", "", "aa:bb:cc:dd:ee:ff", existing)
	require.NoError(t, err)
	require.Equal(t, "kismon1", name)
}

func TestChooseCapInterfaceNameExplicitVif(t *testing.T) {
	name, err := chooseCapInterfaceName("wlan0", "wifimon", "aa:bb:cc:dd:ee:ff", nil)
	require.NoError(t, err)
	require.Equal(t, "wifimon", name)
}

func TestChooseCapInterfaceNameReusesMonitorSibling(t *testing.T) {
	existing := []existingIface{
		{Name: "wlan0_mon", HardwareAddr: "aa:bb:cc:dd:ee:ff", IsMonitor: true},
	}
	name, err := chooseCapInterfaceName("wlan0", "", "aa:bb:cc:dd:ee:ff", existing)
	require.NoError(t, err)
	require.Equal(t, "wlan0_mon", name)
}

func TestChooseCapInterfaceNameExistingNonMonitorAborts(t *testing.T) {
	existing := []existingIface{
		{Name: "wlan0mon", HardwareAddr: "11:22:33:44:55:66", IsMonitor: false},
	}
	_, err := chooseCapInterfaceName("wlan0", "", "aa:bb:cc:dd:ee:ff", existing)
	require.Error(t, err)
}

func TestSyntheticUUIDDeterministic(t *testing.T) {
	mac, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	u1 := syntheticUUID(mac)
	u2 := syntheticUUID(mac)
	require.Equal(t, u1, u2)
	require.Contains(t, u1, "-0000-0000-0000-aabbccddeeff")
}

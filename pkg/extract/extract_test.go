package extract

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_SwitchOutput(t *testing.T) {
	raw := "Creating switch... VMSwitchName: Foo, EFLOWVMIP: 1.2.3.4, GatewayIP: 1.2.3.1, EFLOWVMIPV4PrefixLength: 24"

	got := New(SwitchPatterns...).Extract(raw)

	assert.Equal(t, Fields{
		VMIP:         "1.2.3.4",
		Gateway:      "1.2.3.1",
		SwitchName:   "Foo",
		PrefixLength: "24",
	}, got)
}

func TestExtract_MissingFieldIsEmpty(t *testing.T) {
	raw := "VMSwitchName: Foo, EFLOWVMIP: 1.2.3.4, EFLOWVMIPV4PrefixLength: 24"

	got := New(SwitchPatterns...).Extract(raw)

	assert.Equal(t, "", got.Get(Gateway))
	_, ok := got.Lookup(Gateway)
	assert.False(t, ok)
	assert.Equal(t, "192.168.3.1", got.Or(Gateway, "192.168.3.1"))
	assert.Equal(t, "Foo", got.Get(SwitchName))
}

func TestExtract_EmptyInput(t *testing.T) {
	got := New(SwitchPatterns...).Extract("")
	assert.Len(t, got, 4)
	for _, v := range got {
		assert.Empty(t, v)
	}
}

func TestExtract_FirstMatchWins(t *testing.T) {
	raw := "EFLOWVMIP: 10.0.0.1, later EFLOWVMIP: 10.0.0.2,"
	assert.Equal(t, "10.0.0.1", New(SwitchPatterns...).Extract(raw).Get(VMIP))

	dup := New(
		Pattern{VMIP, regexp.MustCompile(`first=(\S+)`)},
		Pattern{VMIP, regexp.MustCompile(`second=(\S+)`)},
	)
	assert.Equal(t, "b", dup.Extract("second=b").Get(VMIP))
	assert.Equal(t, "a", dup.Extract("first=a second=b").Get(VMIP))
}

func TestExtract_InetAddress(t *testing.T) {
	raw := `2: eth0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500
    inet 172.20.1.7/28 brd 172.20.1.15 scope global eth0`

	assert.Equal(t, "172.20.1.7", New(AddressPatterns...).Extract(raw).Get(InetAddress))
}

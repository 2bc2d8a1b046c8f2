package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesaa/signalboost/internal/netinfo"
)

const unixPingOut = `PING 8.8.8.8 (8.8.8.8) 56(84) bytes of data.
64 bytes from 8.8.8.8: icmp_seq=1 ttl=117 time=11.8 ms

--- 8.8.8.8 ping statistics ---
4 packets transmitted, 4 received, 0% packet loss, time 3004ms
rtt min/avg/max/mdev = 10.512/12.204/14.950/1.733 ms
`

func TestParseUnixPing(t *testing.T) {
	l, err := parseUnixPing(unixPingOut)
	require.NoError(t, err)
	assert.InDelta(t, 10.512, l.Min, 1e-9)
	assert.InDelta(t, 12.204, l.Avg, 1e-9)
	assert.InDelta(t, 14.950, l.Max, 1e-9)
	assert.InDelta(t, 1.733, l.Jitter, 1e-9)
	assert.Zero(t, l.Loss)

	bsd := "4 packets transmitted, 3 packets received, 25.0% packet loss\nround-trip min/avg/max/stddev = 9.1/10.2/11.3/0.9 ms\n"
	l, err = parseUnixPing(bsd)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, l.Loss, 1e-9)
	assert.InDelta(t, 0.9, l.Jitter, 1e-9)

	_, err = parseUnixPing("4 packets transmitted, 0 received, 100% packet loss")
	assert.ErrorIs(t, err, errNoMatch)
}

func TestParseWindowsPing(t *testing.T) {
	out := "Ping statistics for 8.8.8.8:\r\n" +
		"    Packets: Sent = 4, Received = 4, Lost = 0 (0% loss),\r\n" +
		"Approximate round trip times in milli-seconds:\r\n" +
		"    Minimum = 10ms, Maximum = 20ms, Average = 14ms\r\n"
	l, err := parseWindowsPing(out)
	require.NoError(t, err)
	assert.Equal(t, netinfo.Latency{Min: 10, Avg: 14, Max: 20, Jitter: 5}, l)
}

func TestParseWirelessSignal(t *testing.T) {
	proc := "Inter-| sta-|   Quality        |   Discarded packets\n" +
		" face | status | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22\n" +
		" wlan0: 0000   56.  -54.  -256        0      0      0      0     13        0\n"
	q, err := parseProcNetWireless(proc, "wlan0")
	require.NoError(t, err)
	assert.Equal(t, 80, q)

	_, err = parseProcNetWireless(proc, "wlan1")
	assert.ErrorIs(t, err, errNoMatch)

	q, err = parseIwconfigSignal("Link Quality=35/70  Signal level=-75 dBm")
	require.NoError(t, err)
	assert.Equal(t, 50, q)

	q, err = parseIwconfigSignal("Signal level=-60 dBm")
	require.NoError(t, err)
	assert.Equal(t, 80, q)

	state, ok := parseIwconfigPower("Power Management:on")
	assert.True(t, ok)
	assert.Equal(t, "on", state)

	dbm, ok := parseIwconfigTxPower("Mode:Managed  Frequency:5.18 GHz\n  Bit Rate=866.7 Mb/s   Tx-Power=22 dBm\n")
	assert.True(t, ok)
	assert.Equal(t, "22", dbm)
	_, ok = parseIwconfigTxPower("Tx-Power=off")
	assert.False(t, ok)
}

func TestParseScans(t *testing.T) {
	t.Run("nmcli", func(t *testing.T) {
		nets := parseNmcliScan("Home:6:80\nCafe\\:Net:11:40\n:1:10\nbroken\n")
		require.Len(t, nets, 3)
		assert.Equal(t, netinfo.WirelessNetwork{SSID: "Home", Channel: 6, Signal: 80}, nets[0])
		assert.Equal(t, "Cafe:Net", nets[1].SSID)
		assert.Equal(t, "", nets[2].SSID)
	})

	t.Run("iwlist", func(t *testing.T) {
		out := `wlan0     Scan completed :
          Cell 01 - Address: AA:BB:CC:DD:EE:FF
                    Channel:6
                    Frequency:2.437 GHz (Channel 6)
                    Quality=49/70  Signal level=-61 dBm
                    ESSID:"HomeNet"
          Cell 02 - Address: 11:22:33:44:55:66
                    Channel:11
                    Quality=35/70  Signal level=-75 dBm
                    ESSID:"Cafe"
`
		nets := parseIwlistScan(out)
		require.Len(t, nets, 2)
		assert.Equal(t, netinfo.WirelessNetwork{SSID: "HomeNet", BSSID: "AA:BB:CC:DD:EE:FF", Channel: 6, Signal: 70}, nets[0])
		assert.Equal(t, 11, nets[1].Channel)
		assert.Equal(t, 50, nets[1].Signal)
	})

	t.Run("netsh", func(t *testing.T) {
		out := "SSID 1 : HomeNet\r\n" +
			"    Network type            : Infrastructure\r\n" +
			"    BSSID 1                 : aa:bb:cc:dd:ee:01\r\n" +
			"         Signal             : 88%\r\n" +
			"         Channel            : 36\r\n" +
			"    BSSID 2                 : aa:bb:cc:dd:ee:02\r\n" +
			"         Signal             : 60%\r\n" +
			"         Channel            : 6\r\n" +
			"SSID 2 : Cafe\r\n" +
			"    BSSID 1                 : 11:22:33:44:55:66\r\n" +
			"         Signal             : 40%\r\n" +
			"         Channel            : 11\r\n"
		nets := parseNetshNetworks(out)
		require.Len(t, nets, 3)
		assert.Equal(t, netinfo.WirelessNetwork{SSID: "HomeNet", BSSID: "aa:bb:cc:dd:ee:01", Channel: 36, Signal: 88}, nets[0])
		assert.Equal(t, 6, nets[1].Channel)
		assert.Equal(t, "Cafe", nets[2].SSID)
	})

	t.Run("airport", func(t *testing.T) {
		out := "                            SSID BSSID             RSSI CHANNEL HT CC SECURITY\n" +
			"                          My Net aa:bb:cc:dd:ee:ff -55  6       Y  US WPA2(PSK/AES/AES)\n" +
			"                           Other 11:22:33:44:55:66 -80  149,+1  Y  US WPA2(PSK/AES/AES)\n"
		nets := parseAirportScan(out)
		require.Len(t, nets, 2)
		assert.Equal(t, netinfo.WirelessNetwork{SSID: "My Net", BSSID: "aa:bb:cc:dd:ee:ff", Channel: 6, Signal: 90}, nets[0])
		assert.Equal(t, 149, nets[1].Channel)
		assert.Equal(t, 40, nets[1].Signal)
	})
}

func TestParseCurrentConnection(t *testing.T) {
	sig, ch, err := parseNetshInterfaces("    Name                   : Wi-Fi\r\n    Channel                : 11\r\n    Signal                 : 92%\r\n")
	require.NoError(t, err)
	assert.Equal(t, 92, sig)
	assert.Equal(t, 11, ch)

	sig, ch, err = parseAirportInfo("     agrCtlRSSI: -58\n     agrCtlNoise: -90\n        channel: 44,1\n")
	require.NoError(t, err)
	assert.Equal(t, 84, sig)
	assert.Equal(t, 44, ch)

	_, _, err = parseAirportInfo("AirPort: Off")
	assert.ErrorIs(t, err, errNoMatch)
}

func TestParseRoutes(t *testing.T) {
	route := "Iface\tDestination\tGateway \tFlags\tRefCnt\tUse\tMetric\tMask\t\tMTU\tWindow\tIRTT\n" +
		"eth0\t0001A8C0\t00000000\t0001\t0\t0\t100\t00FFFFFF\t0\t0\t0\n" +
		"eth0\t00000000\t0101A8C0\t0003\t0\t0\t100\t00000000\t0\t0\t0\n"
	gw, iface := parseProcNetRoute(route)
	assert.Equal(t, "192.168.1.1", gw)
	assert.Equal(t, "eth0", iface)

	gw, local := parseRoutePrint("          0.0.0.0          0.0.0.0      192.168.1.1    192.168.1.23     25\r\n")
	assert.Equal(t, "192.168.1.1", gw)
	assert.Equal(t, "192.168.1.23", local)

	gw, iface = parseRouteGetDefault("   route to: default\ndestination: default\n    gateway: 10.0.0.1\n  interface: en0\n")
	assert.Equal(t, "10.0.0.1", gw)
	assert.Equal(t, "en0", iface)

	ports := parseHardwarePorts("Hardware Port: Wi-Fi\nDevice: en0\nEthernet Address: aa:bb:cc:dd:ee:ff\n\nHardware Port: Thunderbolt Bridge\nDevice: bridge0\n")
	assert.Equal(t, map[string]string{"en0": "Wi-Fi", "bridge0": "Thunderbolt Bridge"}, ports)
}

func TestParseIPTools(t *testing.T) {
	links := parseIPLink("1: lo: <LOOPBACK,UP,LOWER_UP> mtu 65536 qdisc noqueue state UNKNOWN mode DEFAULT group default qlen 1000\\    link/loopback 00:00:00:00:00:00 brd 00:00:00:00:00:00\n" +
		"2: eth0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc fq_codel state UP mode DEFAULT group default qlen 1000\\    link/ether 52:54:00:12:34:56 brd ff:ff:ff:ff:ff:ff\n" +
		"3: wlan0: <BROADCAST,MULTICAST> mtu 1500 qdisc noop state DOWN mode DORMANT group default qlen 1000\\    link/ether aa:bb:cc:dd:ee:ff brd ff:ff:ff:ff:ff:ff\n")
	require.Contains(t, links, "eth0")
	assert.Equal(t, "52:54:00:12:34:56", links["eth0"].MACAddress)
	assert.Equal(t, 1500, links["eth0"].MTU)
	assert.True(t, links["eth0"].Up)
	assert.False(t, links["wlan0"].Up)

	addrs := parseIPAddr("2: eth0    inet 192.168.1.10/24 brd 192.168.1.255 scope global eth0\\       valid_lft forever preferred_lft forever\n")
	assert.Equal(t, map[string]string{"eth0": "192.168.1.10"}, addrs)
}

func TestParseProcNetDev(t *testing.T) {
	out := "Inter-|   Receive                                                |  Transmit\n" +
		" face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed\n" +
		"  eth0: 1000 900 5 5 0 0 0 0 2000 100 0 0 0 0 0 0\n"
	c, err := parseProcNetDev(out, "eth0")
	require.NoError(t, err)
	assert.Equal(t, netinfo.Counters{Name: "eth0", PacketsRecv: 900, Errin: 5, Dropin: 5, PacketsSent: 100}, c)

	ratio, ok := c.ErrorRatio()
	assert.True(t, ok)
	assert.InDelta(t, 1.0, ratio, 1e-9)
}

func TestParseSettings(t *testing.T) {
	assert.Equal(t, []string{"1.1.1.1", "8.8.8.8"}, parseResolvConf("# generated\nsearch lan\nnameserver 1.1.1.1\nnameserver 8.8.8.8\n"))

	vals := parseSysctl("net.ipv4.tcp_rmem = 4096\t131072\t6291456\nnet.inet.tcp.sendspace: 131072\nsysctl: cannot stat /proc/sys/x\n")
	assert.Equal(t, "4096 131072 6291456", vals["net.ipv4.tcp_rmem"])
	assert.Equal(t, "131072", vals["net.inet.tcp.sendspace"])
	assert.Len(t, vals, 2)

	assert.Equal(t, "fq_codel", parseRootQdisc("qdisc fq_codel 0: root refcnt 2 limit 10240p flows 1024\n"))
	assert.Equal(t, "", parseRootQdisc(""))

	tcp := parseNetshTCPGlobal("TCP Global Parameters\r\n---\r\nReceive Window Auto-Tuning Level    : normal\r\nECN Capability                      : disabled\r\nFast Open                           : enabled\r\n")
	assert.Equal(t, map[string]string{"autotuninglevel": "normal", "ecncapability": "disabled", "fastopen": "enabled"}, tcp)

	mtu, err := parseNetshSubinterfaceMTU("   MTU  MediaSenseState   Bytes In  Bytes Out  Interface\r\n"+
		"------  ---------------  ---------  ---------  -------------\r\n"+
		"4294967295                1          0     123456  Loopback Pseudo-Interface 1\r\n"+
		"  1500                1  123456789   98765432  Wi-Fi\r\n", "Wi-Fi")
	require.NoError(t, err)
	assert.Equal(t, 1500, mtu)

	mtu, err = parseNetworksetupMTU("Active MTU: 1400 (Current Setting: 1400)")
	require.NoError(t, err)
	assert.Equal(t, 1400, mtu)

	v, ok := parseRegQuery("HKEY_LOCAL_MACHINE\\SYSTEM\\CurrentControlSet\\Services\\Tcpip\\Parameters\r\n    Tcp1323Opts    REG_DWORD    0x3\r\n", "Tcp1323Opts")
	assert.True(t, ok)
	assert.Equal(t, uint32(3), v)
}

func TestParseBandwidthTools(t *testing.T) {
	bw, err := parseSpeedtestSimple("Ping: 12.3 ms\nDownload: 93.45 Mbit/s\nUpload: 11.20 Mbit/s\n")
	require.NoError(t, err)
	assert.InDelta(t, 93.45, bw.DownloadMbps, 1e-9)
	assert.InDelta(t, 11.20, bw.UploadMbps, 1e-9)

	bw, err = parseNetworkQuality(`{"dl_throughput": 250000000, "ul_throughput": 20000000}`)
	require.NoError(t, err)
	assert.InDelta(t, 250.0, bw.DownloadMbps, 1e-9)
	assert.InDelta(t, 20.0, bw.UploadMbps, 1e-9)

	_, err = parseSpeedtestSimple("ERROR")
	assert.ErrorIs(t, err, errNoMatch)
}

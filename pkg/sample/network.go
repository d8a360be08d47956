// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sample

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

func init() {
	Register(SubsystemNetwork, func(logger logr.Logger, config Config) (Collector, error) {
		return NewNetworkCollector(logger, config), nil
	})
}

var _ Collector = (*NetworkCollector)(nil)

// NetworkCollector assembles NetStats from /proc/net/dev, /proc/net/snmp,
// /proc/net/netstat, and per-interface metadata under
// /sys/class/net/<if>/.
type NetworkCollector struct {
	BaseCollector
	procNetDir string
	sysNetDir  string
}

func NewNetworkCollector(logger logr.Logger, config Config) *NetworkCollector {
	return &NetworkCollector{
		BaseCollector: NewBaseCollector(SubsystemNetwork, "network", logger, config),
		procNetDir:    filepath.Join(config.HostProcPath, "net"),
		sysNetDir:     filepath.Join(config.HostSysPath, "class", "net"),
	}
}

func (c *NetworkCollector) Collect(ctx context.Context) (any, error) {
	out := &NetStats{Interfaces: make(map[string]InterfaceStat)}

	if ifaces, err := c.collectDev(); err == nil {
		out.Interfaces = ifaces
	} else {
		c.Logger().V(1).Info("failed to read /proc/net/dev", "error", err)
	}

	c.collectSysMetadata(out.Interfaces)

	if err := c.collectSNMP(out); err != nil {
		c.Logger().V(1).Info("failed to read /proc/net/snmp", "error", err)
	}
	if err := c.collectNetstat(out); err != nil {
		c.Logger().V(1).Info("failed to read /proc/net/netstat", "error", err)
	}

	return out, nil
}

// collectDev parses /proc/net/dev:
// Inter-|   Receive                                                |  Transmit
//  face |bytes packets errs drop fifo frame compressed multicast|bytes packets errs drop fifo colls carrier compressed
func (c *NetworkCollector) collectDev() (map[string]InterfaceStat, error) {
	f, err := os.Open(filepath.Join(c.procNetDir, "dev"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]InterfaceStat)
	sc := bufio.NewScanner(f)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		if lineNum <= 2 {
			continue // two header lines
		}
		line := sc.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		fields := strings.Fields(parts[1])
		if len(fields) < 16 {
			continue
		}
		parse := func(i int) uint64 {
			v, _ := strconv.ParseUint(fields[i], 10, 64)
			return v
		}
		out[name] = InterfaceStat{
			RxBytes: parse(0), RxPackets: parse(1), RxErrors: parse(2), RxDropped: parse(3),
			TxBytes: parse(8), TxPackets: parse(9), TxErrors: parse(10), TxDropped: parse(11),
		}
	}
	return out, sc.Err()
}

func (c *NetworkCollector) collectSysMetadata(ifaces map[string]InterfaceStat) {
	for name, stat := range ifaces {
		dir := filepath.Join(c.sysNetDir, name)
		if b, err := os.ReadFile(filepath.Join(dir, "speed")); err == nil {
			if v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64); err == nil {
				stat.Speed = &v
			}
		}
		if b, err := os.ReadFile(filepath.Join(dir, "duplex")); err == nil {
			stat.Duplex = strings.TrimSpace(string(b))
		}
		if b, err := os.ReadFile(filepath.Join(dir, "operstate")); err == nil {
			stat.OperState = strings.TrimSpace(string(b))
		}
		if b, err := os.ReadFile(filepath.Join(dir, "carrier")); err == nil {
			stat.LinkDetected = strings.TrimSpace(string(b)) == "1"
		}
		ifaces[name] = stat
	}
}

// collectSNMP parses the paired header/value line format of
// /proc/net/snmp: "Tcp: field1 field2 ..." then "Tcp: val1 val2 ...".
func (c *NetworkCollector) collectSNMP(out *NetStats) error {
	f, err := os.Open(filepath.Join(c.procNetDir, "snmp"))
	if err != nil {
		return err
	}
	defer f.Close()

	rows := snmpRows(f)
	if tcp, ok := rows["Tcp"]; ok {
		out.TCP = SNMPTCPStat{
			ActiveOpens: tcp["ActiveOpens"], PassiveOpens: tcp["PassiveOpens"],
			AttemptFails: tcp["AttemptFails"], EstabResets: tcp["EstabResets"],
			CurrEstab: tcp["CurrEstab"], InSegs: tcp["InSegs"], OutSegs: tcp["OutSegs"],
			RetransSegs: tcp["RetransSegs"], InErrs: tcp["InErrs"], OutRsts: tcp["OutRsts"],
		}
	}
	if udp, ok := rows["Udp"]; ok {
		out.UDP = SNMPUDPStat{
			InDatagrams: udp["InDatagrams"], NoPorts: udp["NoPorts"], InErrors: udp["InErrors"],
			OutDatagrams: udp["OutDatagrams"], RcvbufErrors: udp["RcvbufErrors"], SndbufErrors: udp["SndbufErrors"],
		}
	}
	if ip, ok := rows["Ip"]; ok {
		out.IP = SNMPIPStat{
			InReceives: ip["InReceives"], InHdrErrors: ip["InHdrErrors"], InAddrErrors: ip["InAddrErrors"],
			ForwDatagrams: ip["ForwDatagrams"], InDiscards: ip["InDiscards"], InDelivers: ip["InDelivers"],
			OutRequests: ip["OutRequests"], OutDiscards: ip["OutDiscards"], OutNoRoutes: ip["OutNoRoutes"],
		}
	}
	if icmp, ok := rows["Icmp"]; ok {
		out.ICMP = SNMPICMPStat{
			InMsgs: icmp["InMsgs"], InErrors: icmp["InErrors"],
			OutMsgs: icmp["OutMsgs"], OutErrors: icmp["OutErrors"],
		}
	}
	return nil
}

func (c *NetworkCollector) collectNetstat(out *NetStats) error {
	f, err := os.Open(filepath.Join(c.procNetDir, "netstat"))
	if err != nil {
		return err
	}
	defer f.Close()

	rows := snmpRows(f)
	if tcpExt, ok := rows["TcpExt"]; ok {
		out.TCPExt.SyncookiesSent = tcpExt["SyncookiesSent"]
		out.TCPExt.SyncookiesRecv = tcpExt["SyncookiesRecv"]
		out.TCPExt.SyncookiesFailed = tcpExt["SyncookiesFailed"]
		out.TCPExt.ListenOverflows = tcpExt["ListenOverflows"]
		out.TCPExt.ListenDrops = tcpExt["ListenDrops"]
		out.TCPExt.TCPLostRetransmit = tcpExt["TCPLostRetransmit"]
	}
	if ipExt, ok := rows["IpExt"]; ok {
		out.TCPExt.InBytes = ipExt["InOctets"]
		out.TCPExt.OutBytes = ipExt["OutOctets"]
	}
	return nil
}

// snmpRows reads the /proc/net/{snmp,netstat} "header line, then value
// line, same prefix" format into proto -> field -> value.
func snmpRows(f *os.File) map[string]map[string]uint64 {
	out := make(map[string]map[string]uint64)
	sc := bufio.NewScanner(f)
	var pendingProto string
	var pendingFields []string
	for sc.Scan() {
		line := sc.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		proto := line[:idx]
		fields := strings.Fields(line[idx+1:])
		if pendingProto != proto {
			pendingProto = proto
			pendingFields = fields
			continue
		}
		row := make(map[string]uint64, len(fields))
		for i, name := range pendingFields {
			if i >= len(fields) {
				break
			}
			v, err := strconv.ParseUint(fields[i], 10, 64)
			if err != nil {
				continue
			}
			row[name] = v
		}
		out[proto] = row
		pendingProto = ""
	}
	return out
}

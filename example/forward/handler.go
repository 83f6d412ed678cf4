package main

import (
	"net"
	"sync/atomic"

	"starNIC/bd"
	"starNIC/ixgbe"
	"starNIC/layers"
)

// newHandler 处理从第port个设备收到的包，转发到唯一的输出
func newHandler(port int, dst net.HardwareAddr, fdb *bd.FDB, counter *uint64) ixgbe.PacketHandler {
	return func(packet []byte, outputs []bool) uint16 {
		eth, ok := layers.NewEthernet(packet)
		if ok && fdb != nil {
			fdb.Learn(eth.GetSrcAddress(), port)
			// 目的主机就在来的那一侧
			if p, found := fdb.Lookup(eth.GetDstAddress()); found && p == port {
				return 0
			}
		}
		if ok && dst != nil {
			eth.SetDstAddress(dst)
		}
		atomic.AddUint64(counter, 1)
		outputs[0] = true
		return uint16(len(packet))
	}
}

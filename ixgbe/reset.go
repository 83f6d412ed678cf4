package ixgbe

import (
	"time"

	"github.com/pkg/errors"

	"starNIC/pkg/timer"
)

// Reset 按 4.6.3.2 节执行 master disable 后复位整个设备。
// 任何一个等待超时都会返回错误，此时设备不可再用。
func (d *Device) Reset() error {
	// 4.6.7.1.2: 先逐个关闭接收队列
	for queue := 0; queue < ReceiveQueuesCount; queue++ {
		d.ClearField(RXDCTL, queue, RXDCTLEnable)
		q := queue
		if err := d.poll("RXDCTL.ENABLE clear", func() bool { return d.IsFieldCleared(RXDCTL, q, RXDCTLEnable) }); err != nil {
			d.log.WithField("queue", queue).Debug("RXDCTL.ENABLE did not clear, cannot disable receive")
			return errors.WithMessagef(err, "disable receive queue %d", queue)
		}
		timer.Spin(100 * time.Microsecond)
	}

	// 5.2.5.3.2 Master Disable
	d.SetField(CTRL, 0, CTRLMasterDisable)
	if err := d.poll("STATUS.PCIE_MASTER_ENABLE_STATUS clear", func() bool {
		return d.IsFieldCleared(STATUS, 0, STATUSPCIeMasterEnableStatus)
	}); err != nil {
		// 仍有未完成的事务，只能放弃
		if !d.isPciCleared(PciDeviceStatus, PciDeviceStatusTransactionPending) {
			d.log.Debug("DEVICESTATUS.TRANSACTIONPENDING did not clear, cannot perform master disable")
			return errors.WithMessage(err, "master disable with transactions pending")
		}
		d.flushInternalBuffers()
		d.SetField(CTRL, 0, CTRLRst)
		timer.Spin(2 * time.Microsecond)
	}

	d.SetField(CTRL, 0, CTRLRst)
	// 4.6.3.2: 复位后至少等待1ms再访问寄存器
	timer.Spin(time.Millisecond)

	d.log.Debug("device reset")
	return nil
}

// flushInternalBuffers 5.2.5.3.2 中 master disable 超时后的内部缓冲区冲刷
func (d *Device) flushInternalBuffers() {
	d.SetField(HLREG0, 0, HLREG0Lpbk)
	d.ClearField(RXCTRL, 0, RXCTRLRxEn)
	d.SetField(GCREXT, 0, GCREXTBuffersClearFunc)
	timer.Spin(20 * time.Microsecond)

	// 数据手册此处写的是 "Clear"，与前文的流程矛盾；清零还是再次置位由 FlushClearsBits 决定
	if d.opts.FlushClearsBits {
		d.ClearField(HLREG0, 0, HLREG0Lpbk)
		d.ClearField(GCREXT, 0, GCREXTBuffersClearFunc)
	} else {
		d.SetField(HLREG0, 0, HLREG0Lpbk)
		d.SetField(GCREXT, 0, GCREXTBuffersClearFunc)
	}
}

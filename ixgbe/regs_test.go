package ixgbe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReg_Offset(t *testing.T) {
	tests := []struct {
		reg  Reg
		idx  int
		want uint32
	}{
		{CTRL, 0, 0x00000},
		{STATUS, 0, 0x00008},
		{EEC, 0, 0x10010},
		{EIMC, 1, 0x00AB4},
		{MPSAR, 255, 0x0A600 + 4*255},
		{RDBAL, 0, 0x01000},
		{RDBAL, 63, 0x01FC0},
		{RDBAL, 64, 0x0D000},
		{RXDCTL, 0, 0x01028},
		{RXDCTL, 127, 0x0D028 + 0x40*63},
		{RDT, 1, 0x01058},
		{TDBAL, 0, 0x06000},
		{TDT, 0, 0x06018},
		{TDT, 127, 0x06018 + 0x40*127},
		{TDWBAL, 2, 0x060B8},
		{TXDCTL, 64, 0x06028 + 0x40*64},
		{MPC, 7, 0x03FBC},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, tt.reg.Offset(tt.idx), "%s[%d]", tt.reg, tt.idx)
	}
}

func TestReg_OffsetScalarIgnoresIndex(t *testing.T) {
	assert.Equal(t, CTRL.Offset(0), CTRL.Offset(5))
	assert.Equal(t, 1, CTRL.Count())
	assert.Equal(t, ReceiveQueuesCount, RXDCTL.Count())
	assert.Equal(t, 256, MPSAR.Count())
	assert.Equal(t, 128, MTA.Count())
}

func TestReg_AllInstancesInsideWindow(t *testing.T) {
	for r := Reg(0); r < numRegs; r++ {
		for idx := 0; idx < r.Count(); idx++ {
			off := r.Offset(idx)
			assert.Zerof(t, off%4, "%s[%d] not 32-bit aligned", r, idx)
			assert.Lessf(t, off, uint32(RegisterWindowSize), "%s[%d] outside BAR0", r, idx)
		}
	}
}

func TestField_Reg(t *testing.T) {
	tests := map[Field]Reg{
		CTRLRst:                CTRL,
		EECEEPres:              EEC,
		FWSMExtErrInd:          FWSM,
		RXDCTLEnable:           RXDCTL,
		TXDCTLEnable:           TXDCTL,
		GCREXTBuffersClearFunc: GCREXT,
		TXPBTHRESHThresh:       TXPBTHRESH,
	}
	for field, reg := range tests {
		assert.Equalf(t, reg, field.Reg(), "%s", field)
	}

	for f := Field(0); f < numFields; f++ {
		assert.Truef(t, f.Reg() >= 0 && f.Reg() < numRegs, "%s", f)
		assert.Equal(t, f.Reg().String()+".", f.String()[:len(f.Reg().String())+1])
	}
}

func TestField_Mask(t *testing.T) {
	tests := []struct {
		field Field
		mask  uint32
		shift uint
	}{
		{CTRLRst, 0x04000000, 26},
		{DTXMXSZRQMaxBytesNumReq, 0x00000FFF, 0},
		{FCRTHRTH, 0x0007FFE0, 5},
		{FWSMExtErrInd, 0x01F80000, 19},
		{RDRXCTLRSCFrstSize, 0x01FE0000, 17},
		{SRRCTLBSizePacket, 0x0000001F, 0},
		{TXDCTLHThresh, 0x00007F00, 8},
		{TXPBTHRESHThresh, 0x000003FF, 0},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.mask, tt.field.Mask(), "%s", tt.field)
		assert.Equalf(t, tt.shift, tt.field.shift(), "%s", tt.field)
	}
}

func TestField_String(t *testing.T) {
	assert.Equal(t, "RXDCTL.ENABLE", RXDCTLEnable.String())
	assert.Equal(t, RXDCTL, RXDCTLEnable.Reg())
	assert.Equal(t, "Field(-1)", Field(-1).String())
	assert.Equal(t, "Reg(1000)", Reg(1000).String())
	assert.Equal(t, "PCI_DEVICESTATUS", PciDeviceStatus.String())
}

func TestField_NonEmpty(t *testing.T) {
	for f := Field(0); f < numFields; f++ {
		assert.NotZerof(t, f.Mask(), "%s", f)
	}
}

package ixgbe

import "github.com/pkg/errors"

var (
	// ErrAllocation 内存分配或地址转换失败
	ErrAllocation = errors.New("memory allocation failed")
	// ErrTimeout 硬件在规定时间内没有给出期望的状态
	ErrTimeout = errors.New("hardware poll timed out")
	// ErrValidation 设备身份、BAR、EEPROM、参数等不符合预期
	ErrValidation = errors.New("validation failed")
)

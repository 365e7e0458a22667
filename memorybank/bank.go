// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memorybank

import (
	"fmt"
)

// Info describes a memory bank. It never changes for a given bank.
type Info struct {
	Description          string
	Size                 int // bank size in bytes
	PageLength           int
	MaxPacketDataLength  int
	StartPhysicalAddress int // address of the first byte of the bank in the device

	GeneralPurpose bool // user data can be stored there
	ReadWrite      bool
	WriteOnce      bool
	ReadOnly       bool
	NonVolatile    bool
	ProgramPulse   bool // writes need the 12V program pulse
	PowerDelivery  bool // writes need strong pull-up
	PageAutoCRC    bool // the device appends a CRC to each page read

	ExtraInfoLength      int // bytes returned alongside each page
	ExtraInfoDescription string
}

// NumberOfPages returns the number of pages in the bank.
func (i *Info) NumberOfPages() int {
	if i.PageLength == 0 {
		return 0
	}
	return i.Size / i.PageLength
}

// HasExtraInfo reports whether page reads return extra information.
func (i *Info) HasExtraInfo() bool {
	return i.ExtraInfoLength != 0
}

func (i *Info) validate() error {
	if i.PageLength <= 0 || i.Size <= 0 || i.Size%i.PageLength != 0 {
		return fmt.Errorf("memorybank: %s: page length %d must divide size %d", i.Description, i.PageLength, i.Size)
	}
	if i.StartPhysicalAddress < 0 || i.StartPhysicalAddress+i.Size > 0x10000 {
		return fmt.Errorf("memorybank: %s: bank does not fit in 16 bits address space", i.Description)
	}
	if i.MaxPacketDataLength < 0 || i.MaxPacketDataLength > i.PageLength-3 {
		return fmt.Errorf("memorybank: %s: invalid max packet length %d", i.Description, i.MaxPacketDataLength)
	}
	return nil
}

// Bank is a memory bank of a 1-wire device.
//
// Addresses are relative to the start of the bank.
type Bank interface {
	// Info returns the description of the bank.
	Info() Info
	// WriteVerification reports whether writes are read back and compared.
	WriteVerification() bool
	// SetWriteVerification enables or disables write verification. It is
	// enabled by default.
	SetWriteVerification(v bool)
	// Read reads len(p) bytes at start.
	//
	// When cont is true, the read continues the previous one without
	// selecting the device again; the caller must hold the bus across both
	// calls and start must follow the previous read.
	Read(start int, cont bool, p []byte) error
	// Write writes data at start.
	Write(start int, data []byte) error
}

// PagedBank is a bank accessed in pages.
type PagedBank interface {
	Bank
	// ReadPage reads page into p, which must be at least PageLength long.
	ReadPage(page int, cont bool, p []byte) error
	// ReadPageExtra reads page into p and the extra information into extra.
	ReadPageExtra(page int, cont bool, p, extra []byte) error
	// ReadPageCRC reads page verifying the CRC the device computes.
	ReadPageCRC(page int, cont bool, p []byte) error
	// ReadPageCRCExtra is ReadPageCRC also returning the extra information.
	ReadPageCRCExtra(page int, cont bool, p, extra []byte) error
	// ReadPagePacket reads the packet stored in page into p and returns its
	// length.
	ReadPagePacket(page int, cont bool, p []byte) (int, error)
	// ReadPagePacketExtra is ReadPagePacket also returning the extra
	// information.
	ReadPagePacketExtra(page int, cont bool, p, extra []byte) (int, error)
	// WritePagePacket writes data as a packet in page.
	WritePagePacket(page int, data []byte) error
}

// OTPBank is a paged bank whose pages can be locked or redirected. Both
// operations are irreversible.
type OTPBank interface {
	PagedBank
	CanLockPage() bool
	CanRedirectPage() bool
	CanLockRedirectPage() bool
	// LockPage write protects page.
	LockPage(page int) error
	IsPageLocked(page int) (bool, error)
	// RedirectPage marks page as replaced by newPage.
	RedirectPage(page, newPage int) error
	// RedirectedPage returns the page that replaces page, 0 for none.
	RedirectedPage(page int) (int, error)
	// LockRedirectPage prevents further changes to the redirection of page.
	LockRedirectPage(page int) error
	IsRedirectPageLocked(page int) (bool, error)
}

// Stager is the scratchpad of a device: a volatile buffer written, verified
// and then copied into memory.
type Stager interface {
	// WriteScratchpad writes data in the scratchpad for the target address
	// addr.
	WriteScratchpad(addr int, data []byte) error
	// ReadScratchpad returns the scratchpad content from the target address
	// offset to its end, and the extra information (target address and
	// ending offset).
	ReadScratchpad() (data, extra []byte, err error)
	// CopyScratchpad commits n bytes of the scratchpad to addr.
	CopyScratchpad(addr, n int) error
	// CheckSpeed renegotiates the bus speed if needed.
	CheckSpeed() error
	// ForceVerify makes the next CheckSpeed renegotiate the bus speed.
	ForceVerify()
}

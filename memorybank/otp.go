// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memorybank

import (
	"fmt"
)

// LockedFlag is the byte that write protects a page in flag lock schemes.
const LockedFlag = 0x55

// LockScheme locates the page locks and redirections of a bank in other
// banks of the device, usually a status or register bank.
//
// A nil bank disables the corresponding feature.
type LockScheme struct {
	// Lock holds the page locks at LockOffset. With LockFlags each page has
	// a byte set to LockedFlag when locked; otherwise each page has a bit,
	// cleared when locked.
	Lock       PagedBank
	LockOffset int
	LockFlags  bool

	// Redirect holds one byte per page at RedirectOffset: the inverted number
	// of the page replacing it, 0xFF for none.
	Redirect       PagedBank
	RedirectOffset int

	// LockRedirect holds a bit per page at LockRedirectOffset, cleared when
	// the redirection of the page is locked.
	LockRedirect       PagedBank
	LockRedirectOffset int
}

// OTP is a paged bank with page locking and redirection. It implements
// OTPBank.
type OTP struct {
	PagedBank
	scheme LockScheme
}

// NewOTP adds the lock scheme s to b.
func NewOTP(b PagedBank, s LockScheme) *OTP {
	return &OTP{PagedBank: b, scheme: s}
}

// CanLockPage implements OTPBank.
func (o *OTP) CanLockPage() bool {
	return o.scheme.Lock != nil
}

// CanRedirectPage implements OTPBank.
func (o *OTP) CanRedirectPage() bool {
	return o.scheme.Redirect != nil
}

// CanLockRedirectPage implements OTPBank.
func (o *OTP) CanLockRedirectPage() bool {
	return o.scheme.LockRedirect != nil
}

// LockPage implements OTPBank.
//
// Errors writing the lock are returned as is. The lock is then read back;
// ErrLockConfirmationFailed means the page may or may not be locked.
func (o *OTP) LockPage(page int) error {
	if !o.CanLockPage() {
		return fmt.Errorf("%w: page lock", ErrNotSupported)
	}
	if err := o.checkPage(page); err != nil {
		return err
	}
	if o.scheme.LockFlags {
		if err := writeByte(o.scheme.Lock, o.scheme.LockOffset+page, LockedFlag, true); err != nil {
			return err
		}
	} else if err := writeBit(o.scheme.Lock, o.scheme.LockOffset, page); err != nil {
		return err
	}
	locked, err := o.IsPageLocked(page)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLockConfirmationFailed, err)
	}
	if !locked {
		return fmt.Errorf("%w: page %d", ErrLockConfirmationFailed, page)
	}
	return nil
}

// IsPageLocked implements OTPBank.
func (o *OTP) IsPageLocked(page int) (bool, error) {
	if !o.CanLockPage() {
		return false, fmt.Errorf("%w: page lock", ErrNotSupported)
	}
	if err := o.checkPage(page); err != nil {
		return false, err
	}
	if o.scheme.LockFlags {
		b, err := readByte(o.scheme.Lock, o.scheme.LockOffset+page)
		return b == LockedFlag, err
	}
	return readBit(o.scheme.Lock, o.scheme.LockOffset, page)
}

// RedirectPage implements OTPBank.
func (o *OTP) RedirectPage(page, newPage int) error {
	if !o.CanRedirectPage() {
		return fmt.Errorf("%w: page redirection", ErrNotSupported)
	}
	if err := o.checkPage(page); err != nil {
		return err
	}
	if newPage < 0 || newPage > 0xff {
		return fmt.Errorf("%w: redirection to page %d", ErrBoundsExceeded, newPage)
	}
	return writeByte(o.scheme.Redirect, o.scheme.RedirectOffset+page, ^byte(newPage), true)
}

// RedirectedPage implements OTPBank.
func (o *OTP) RedirectedPage(page int) (int, error) {
	if !o.CanRedirectPage() {
		return 0, fmt.Errorf("%w: page redirection", ErrNotSupported)
	}
	if err := o.checkPage(page); err != nil {
		return 0, err
	}
	b, err := readByte(o.scheme.Redirect, o.scheme.RedirectOffset+page)
	if err != nil {
		return 0, err
	}
	return int(^b), nil
}

// LockRedirectPage implements OTPBank.
func (o *OTP) LockRedirectPage(page int) error {
	if !o.CanLockRedirectPage() {
		return fmt.Errorf("%w: redirection lock", ErrNotSupported)
	}
	if err := o.checkPage(page); err != nil {
		return err
	}
	if err := writeBit(o.scheme.LockRedirect, o.scheme.LockRedirectOffset, page); err != nil {
		return err
	}
	locked, err := o.IsRedirectPageLocked(page)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLockConfirmationFailed, err)
	}
	if !locked {
		return fmt.Errorf("%w: redirection of page %d", ErrLockConfirmationFailed, page)
	}
	return nil
}

// IsRedirectPageLocked implements OTPBank.
func (o *OTP) IsRedirectPageLocked(page int) (bool, error) {
	if !o.CanLockRedirectPage() {
		return false, fmt.Errorf("%w: redirection lock", ErrNotSupported)
	}
	if err := o.checkPage(page); err != nil {
		return false, err
	}
	return readBit(o.scheme.LockRedirect, o.scheme.LockRedirectOffset, page)
}

func (o *OTP) checkPage(page int) error {
	i := o.Info()
	if page < 0 || page >= i.NumberOfPages() {
		return fmt.Errorf("%w: page %d", ErrBoundsExceeded, page)
	}
	return nil
}

// readByte reads the byte at addr, through the page CRC when available.
func readByte(b PagedBank, addr int) (byte, error) {
	i := b.Info()
	if !i.PageAutoCRC {
		var v [1]byte
		err := b.Read(addr, false, v[:])
		return v[0], err
	}
	raw := make([]byte, i.PageLength)
	if err := b.ReadPageCRC(addr/i.PageLength, false, raw); err != nil {
		return 0, err
	}
	return raw[addr%i.PageLength], nil
}

// writeByte writes v at addr with the given write verification, restoring
// the bank setting afterward.
func writeByte(b PagedBank, addr int, v byte, verify bool) error {
	prev := b.WriteVerification()
	b.SetWriteVerification(verify)
	defer b.SetWriteVerification(prev)
	return b.Write(addr, []byte{v})
}

// readBit reads the bit of page in the bitmap at offset. A cleared bit is
// set.
func readBit(b PagedBank, offset, page int) (bool, error) {
	v, err := readByte(b, offset+page/8)
	if err != nil {
		return false, err
	}
	return v&(1<<uint(page%8)) == 0, nil
}

// writeBit clears the bit of page in the bitmap at offset. Only that bit is
// programmed; the others keep their state, so the read back byte may differ
// from the one written.
func writeBit(b PagedBank, offset, page int) error {
	return writeByte(b, offset+page/8, ^byte(1<<uint(page%8)), false)
}

var _ OTPBank = &OTP{}

package pdi

// PDI control/status registers, addressed by the 4-bit field of LDCS/STCS.
type CSReg uint8

const (
	CSStatus  CSReg = 0x00
	CSReset   CSReg = 0x01
	CSControl CSReg = 0x02
)

// resetSignature held in the RESET register keeps the target in reset.
const resetSignature = 0x59

// CSStatusFlags is the value of the PDI STATUS register.
type CSStatusFlags uint8

const csStatusNVMEN CSStatusFlags = 1 << 1

// NVMEnabled reports that the NVM controller is reachable over PDI.
func (f CSStatusFlags) NVMEnabled() bool { return f&csStatusNVMEN != 0 }

// CSResetFlags is the value of the PDI RESET register as read back.
type CSResetFlags uint8

// InReset reports that the target is held in reset.
func (f CSResetFlags) InReset() bool { return f&0x01 != 0 }

// GuardTime is the number of idle bits the target inserts before it starts
// transmitting after a direction change.
type GuardTime uint8

const (
	GuardTime128 GuardTime = 128
	GuardTime64  GuardTime = 64
	GuardTime32  GuardTime = 32
	GuardTime16  GuardTime = 16
	GuardTime8   GuardTime = 8
	GuardTime4   GuardTime = 4
	GuardTime2   GuardTime = 2
)

// Code returns the 3-bit GUARDTIME field of the CTRL register.
func (g GuardTime) Code() (byte, bool) {
	for code := byte(0); code < 7; code++ {
		if GuardTime(128>>code) == g {
			return code, true
		}
	}
	return 0, false
}

// PtrMode selects how LD/ST use the target's pointer register.
type PtrMode uint8

const (
	// PtrIndirect accesses *(ptr).
	PtrIndirect PtrMode = iota
	// PtrIndirectInc accesses *(ptr++).
	PtrIndirectInc
	// PtrDirect accesses the pointer register itself.
	PtrDirect
)

func (m PtrMode) bits() byte { return byte(m&0x03) << 2 }

// NVMReg is a byte offset into the NVM controller's register block.
type NVMReg uint8

const (
	NVMRegAddr0    NVMReg = 0x00
	NVMRegData0    NVMReg = 0x04
	NVMRegCmd      NVMReg = 0x0A
	NVMRegCtrlA    NVMReg = 0x0B
	NVMRegCtrlB    NVMReg = 0x0C
	NVMRegStatus   NVMReg = 0x0F
	NVMRegLockBits NVMReg = 0x10
)

// NVMCtrlA is the value written to the NVM CTRLA register.
type NVMCtrlA uint8

// NVMCtrlACmdEx starts execution of the command held in CMD.
const NVMCtrlACmdEx NVMCtrlA = 1 << 0

// NVMStatus is the value of the NVM STATUS register.
type NVMStatus uint8

const (
	nvmStatusFLoad  NVMStatus = 1 << 0
	nvmStatusEELoad NVMStatus = 1 << 1
	nvmStatusFBusy  NVMStatus = 1 << 6
	nvmStatusBusy   NVMStatus = 1 << 7
)

// Busy reports that the NVM controller is executing a command.
func (s NVMStatus) Busy() bool { return s&nvmStatusBusy != 0 }

// FlashBusy reports a flash operation in progress.
func (s NVMStatus) FlashBusy() bool { return s&nvmStatusFBusy != 0 }

// FlashBufferLoaded reports that the flash page buffer holds data.
func (s NVMStatus) FlashBufferLoaded() bool { return s&nvmStatusFLoad != 0 }

// EEPROMBufferLoaded reports that the EEPROM page buffer holds data.
func (s NVMStatus) EEPROMBufferLoaded() bool { return s&nvmStatusEELoad != 0 }

// NVMCommand is an opcode for the NVM controller's CMD register.
type NVMCommand uint8

const (
	CmdNOP NVMCommand = 0x00

	CmdChipErase NVMCommand = 0x40
	CmdReadNVM   NVMCommand = 0x43

	CmdLoadFlashPageBuffer       NVMCommand = 0x23
	CmdEraseFlashPageBuffer      NVMCommand = 0x26
	CmdEraseFlashPage            NVMCommand = 0x2B
	CmdWriteFlashPage            NVMCommand = 0x2E
	CmdEraseWriteFlashPage       NVMCommand = 0x2F
	CmdFlashRangeCRC             NVMCommand = 0x3A
	CmdEraseAppSection           NVMCommand = 0x20
	CmdEraseAppSectionPage       NVMCommand = 0x22
	CmdWriteAppSectionPage       NVMCommand = 0x24
	CmdEraseWriteAppSectionPage  NVMCommand = 0x25
	CmdAppSectionCRC             NVMCommand = 0x38
	CmdEraseBootSection          NVMCommand = 0x68
	CmdEraseBootSectionPage      NVMCommand = 0x2A
	CmdWriteBootSectionPage      NVMCommand = 0x2C
	CmdEraseWriteBootSectionPage NVMCommand = 0x2D
	CmdBootSectionCRC            NVMCommand = 0x39

	CmdReadUserSigRow  NVMCommand = 0x03
	CmdEraseUserSigRow NVMCommand = 0x18
	CmdWriteUserSigRow NVMCommand = 0x1A
	CmdReadCalibRow    NVMCommand = 0x02

	CmdReadFuses     NVMCommand = 0x07
	CmdWriteFuse     NVMCommand = 0x4C
	CmdWriteLockBits NVMCommand = 0x08

	CmdLoadEEPROMPageBuffer  NVMCommand = 0x33
	CmdEraseEEPROMPageBuffer NVMCommand = 0x36
	CmdEraseEEPROM           NVMCommand = 0x30
	CmdEraseEEPROMPage       NVMCommand = 0x32
	CmdWriteEEPROMPage       NVMCommand = 0x34
	CmdEraseWriteEEPROMPage  NVMCommand = 0x35
	CmdReadEEPROM            NVMCommand = 0x06
)

// Section selects a region of flash.
type Section uint8

const (
	// SectionUnspecified addresses flash from its first byte.
	SectionUnspecified Section = iota
	SectionApp
	SectionBoot
)

func (s Section) String() string {
	switch s {
	case SectionApp:
		return "app"
	case SectionBoot:
		return "boot"
	default:
		return "flash"
	}
}

package ll

// Base is the flash controller register block base address.
const Base = 0x40022000

// Register offsets from Base.
const (
	OffACR      = 0x000
	OffKEYR     = 0x004
	OffOPTKEYR  = 0x00C
	OffOPSR     = 0x018
	OffOPTCR    = 0x01C
	OffSR       = 0x020
	OffCR       = 0x028
	OffCCR      = 0x030
	OffOPTSRCur = 0x050
	OffECCCORR  = 0x100
	OffECCDETR  = 0x104
	OffECCDR    = 0x108
)

// Unlock keys for KEYR.
const (
	Key1 = 0x45670123
	Key2 = 0xCDEF89AB
)

// SR flags. CCR clears the flag at the same bit position.
const (
	SR_BSY          = 1 << 0
	SR_WBNE         = 1 << 1
	SR_DBNE         = 1 << 3
	SR_EOP          = 1 << 16
	SR_WRPERR       = 1 << 17
	SR_PGSERR       = 1 << 18
	SR_STRBERR      = 1 << 19
	SR_INCERR       = 1 << 20
	SR_OBKERR       = 1 << 21
	SR_OBKWERR      = 1 << 22
	SR_OPTCHANGEERR = 1 << 23

	// SR_ERRORS is every error cause the controller can flag for a program or erase.
	SR_ERRORS = SR_WRPERR | SR_PGSERR | SR_STRBERR | SR_INCERR | SR_OBKERR | SR_OBKWERR | SR_OPTCHANGEERR

	// SR_PENDING is set while the controller has work in flight or buffered.
	SR_PENDING = SR_BSY | SR_WBNE | SR_DBNE
)

// CR bits.
const (
	CR_LOCK           = 1 << 0
	CR_PG             = 1 << 1
	CR_SER            = 1 << 2
	CR_BER            = 1 << 3
	CR_FW             = 1 << 4
	CR_STRT           = 1 << 5
	CR_PNB_Pos        = 6
	CR_PNB_Msk        = 0x7F << CR_PNB_Pos
	CR_EDATA          = 1 << 13
	CR_MER            = 1 << 15
	CR_EOPIE          = 1 << 16
	CR_WRPERRIE       = 1 << 17
	CR_PGSERRIE       = 1 << 18
	CR_STRBERRIE      = 1 << 19
	CR_INCERRIE       = 1 << 20
	CR_OPTCHANGEERRIE = 1 << 23
	CR_BKSEL          = 1 << 31

	// CR_IT is every interrupt enable used by program and erase operations.
	CR_IT = CR_EOPIE | CR_WRPERRIE | CR_PGSERRIE | CR_STRBERRIE | CR_INCERRIE | CR_OPTCHANGEERRIE

	// CR_OPS is every operation enable bit.
	CR_OPS = CR_PG | CR_SER | CR_BER | CR_MER
)

// OPSR fields: the operation that was running when the last reset happened.
const (
	OPSR_ADDR_Msk    = 0xFFFFF
	OPSR_DATA_OP     = 1 << 21
	OPSR_BK_OP       = 1 << 22
	OPSR_SYSF_OP     = 1 << 23
	OPSR_OTP_OP      = 1 << 24
	OPSR_CODE_OP_Pos = 29
	OPSR_CODE_OP_Msk = 0x7 << OPSR_CODE_OP_Pos
)

// CODE_OP values.
const (
	CodeOpNone         = 0
	CodeOpProgram      = 1
	CodeOpPageErase    = 2
	CodeOpBankErase    = 3
	CodeOpMassErase    = 4
	CodeOpOptionChange = 5
)

// OPTSR_CUR bits.
const (
	OPTSR_SWAP_BANK = 1 << 31
)

// ECCCORR / ECCDETR fields.
const (
	ECC_ADDR_Msk   = 0xFFFF
	ECC_EDATA      = 1 << 21
	ECC_BK         = 1 << 22
	ECC_SYSF       = 1 << 23
	ECC_OTP        = 1 << 24
	ECCCORR_ECCCIE = 1 << 25
	ECCCORR_ECCC   = 1 << 30
	ECCDETR_ECCD   = 1 << 31
)

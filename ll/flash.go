package ll

// Flash is the controller register block.
type Flash struct {
	ACR      Register
	KEYR     Register
	OPTKEYR  Register
	OPSR     Register
	OPTCR    Register
	SR       Register
	CR       Register
	CCR      Register
	OPTSRCur Register
	ECCCORR  Register
	ECCDETR  Register
	ECCDR    Register
}

// New maps the register block onto bus.
func New(bus Bus) *Flash {
	return &Flash{
		ACR:      Reg(bus, OffACR),
		KEYR:     Reg(bus, OffKEYR),
		OPTKEYR:  Reg(bus, OffOPTKEYR),
		OPSR:     Reg(bus, OffOPSR),
		OPTCR:    Reg(bus, OffOPTCR),
		SR:       Reg(bus, OffSR),
		CR:       Reg(bus, OffCR),
		CCR:      Reg(bus, OffCCR),
		OPTSRCur: Reg(bus, OffOPTSRCur),
		ECCCORR:  Reg(bus, OffECCCORR),
		ECCDETR:  Reg(bus, OffECCDETR),
		ECCDR:    Reg(bus, OffECCDR),
	}
}

// Unlock writes the key sequence to KEYR.
func (f *Flash) Unlock() {
	f.KEYR.Set(Key1)
	f.KEYR.Set(Key2)
}

// Lock sets CR.LOCK. Only a new key sequence clears it.
func (f *Flash) Lock() { f.CR.SetBits(CR_LOCK) }

func (f *Flash) IsLocked() bool { return f.CR.HasBits(CR_LOCK) }

func (f *Flash) EnableProgramming()         { f.CR.SetBits(CR_PG) }
func (f *Flash) DisableProgramming()        { f.CR.ClearBits(CR_PG) }
func (f *Flash) IsEnabledProgramming() bool { return f.CR.HasBits(CR_PG) }

// EnableForceWrite flushes a partially filled write buffer.
func (f *Flash) EnableForceWrite() { f.CR.SetBits(CR_FW) }

func (f *Flash) EnablePageErase()  { f.CR.SetBits(CR_SER) }
func (f *Flash) DisablePageErase() { f.CR.ClearBits(CR_SER) }
func (f *Flash) EnableBankErase()  { f.CR.SetBits(CR_BER) }
func (f *Flash) DisableBankErase() { f.CR.ClearBits(CR_BER) }
func (f *Flash) EnableMassErase()  { f.CR.SetBits(CR_MER) }
func (f *Flash) DisableMassErase() { f.CR.ClearBits(CR_MER) }

// DisableAllOperations clears PG, SER, BER and MER.
func (f *Flash) DisableAllOperations() { f.CR.ClearBits(CR_OPS) }

// SelectBank selects physical bank 0 or 1 for erase operations.
func (f *Flash) SelectBank(bank uint32) {
	if bank == 0 {
		f.CR.ClearBits(CR_BKSEL)
		return
	}
	f.CR.SetBits(CR_BKSEL)
}

// SetPageIndex sets CR.PNB.
func (f *Flash) SetPageIndex(page uint32) {
	f.CR.ReplaceBits(page, CR_PNB_Msk, CR_PNB_Pos)
}

// SelectEDATA routes page erase to the EDATA area instead of user flash.
func (f *Flash) SelectEDATA(on bool) {
	if on {
		f.CR.SetBits(CR_EDATA)
		return
	}
	f.CR.ClearBits(CR_EDATA)
}

// Start triggers the selected erase operation.
func (f *Flash) Start() { f.CR.SetBits(CR_STRT) }

func (f *Flash) ReadFlags() uint32             { return f.SR.Get() }
func (f *Flash) IsActiveFlag(mask uint32) bool { return f.SR.HasBits(mask) }

// ClearFlags clears the SR flags in mask through CCR.
func (f *Flash) ClearFlags(mask uint32) { f.CCR.Set(mask) }

func (f *Flash) EnableIT(mask uint32)  { f.CR.SetBits(mask) }
func (f *Flash) DisableIT(mask uint32) { f.CR.ClearBits(mask) }

func (f *Flash) IsEnabledIT(mask uint32) bool { return f.CR.HasBits(mask) }

// IsBankSwapped reports the current SWAP_BANK option byte.
func (f *Flash) IsBankSwapped() bool { return f.OPTSRCur.HasBits(OPTSR_SWAP_BANK) }

// InterruptedOp is the raw OPSR decode.
type InterruptedOp struct {
	Code   uint32
	Offset uint32
	Bank   uint32
	EDATA  bool
	OTP    bool
	System bool
}

// InterruptedOperation decodes OPSR.
func (f *Flash) InterruptedOperation() InterruptedOp {
	v := f.OPSR.Get()
	op := InterruptedOp{
		Code:   (v & OPSR_CODE_OP_Msk) >> OPSR_CODE_OP_Pos,
		Offset: v & OPSR_ADDR_Msk,
		EDATA:  v&OPSR_DATA_OP != 0,
		OTP:    v&OPSR_OTP_OP != 0,
		System: v&OPSR_SYSF_OP != 0,
	}
	if v&OPSR_BK_OP != 0 {
		op.Bank = 1
	}
	return op
}

// ECCStatus is the raw decode of ECCCORR or ECCDETR.
type ECCStatus struct {
	Pending bool
	Index   uint32
	Bank    uint32
	EDATA   bool
	OTP     bool
	System  bool
}

func decodeECC(v uint32, flag uint32) ECCStatus {
	st := ECCStatus{
		Pending: v&flag != 0,
		Index:   v & ECC_ADDR_Msk,
		EDATA:   v&ECC_EDATA != 0,
		OTP:     v&ECC_OTP != 0,
		System:  v&ECC_SYSF != 0,
	}
	if v&ECC_BK != 0 {
		st.Bank = 1
	}
	return st
}

// ECCCorrection decodes ECCCORR.
func (f *Flash) ECCCorrection() ECCStatus { return decodeECC(f.ECCCORR.Get(), ECCCORR_ECCC) }

// ECCDetection decodes ECCDETR.
func (f *Flash) ECCDetection() ECCStatus { return decodeECC(f.ECCDETR.Get(), ECCDETR_ECCD) }

// ClearECCCorrection clears ECCC without touching ECCCIE.
func (f *Flash) ClearECCCorrection() {
	f.ECCCORR.Set(f.ECCCORR.Get()&ECCCORR_ECCCIE | ECCCORR_ECCC)
}

// ClearECCDetection clears ECCD.
func (f *Flash) ClearECCDetection() { f.ECCDETR.Set(ECCDETR_ECCD) }

func (f *Flash) EnableECCCorrectionIT()  { f.ECCCORR.Set(ECCCORR_ECCCIE) }
func (f *Flash) DisableECCCorrectionIT() { f.ECCCORR.Set(0) }

func (f *Flash) IsEnabledECCCorrectionIT() bool { return f.ECCCORR.HasBits(ECCCORR_ECCCIE) }

// ECCData returns the failing data word latched on ECC detection.
func (f *Flash) ECCData() uint32 { return f.ECCDR.Get() }

package proc

// AMD64PtraceRegs is the struct used by the linux kernel to return the
// general purpose registers for AMD64 CPUs (struct user_regs_struct).
type AMD64PtraceRegs struct {
	R15      uint64
	R14      uint64
	R13      uint64
	R12      uint64
	Rbp      uint64
	Rbx      uint64
	R11      uint64
	R10      uint64
	R9       uint64
	R8       uint64
	Rax      uint64
	Rcx      uint64
	Rdx      uint64
	Rsi      uint64
	Rdi      uint64
	Orig_rax uint64
	Rip      uint64
	Cs       uint64
	Eflags   uint64
	Rsp      uint64
	Ss       uint64
	Fs_base  uint64
	Gs_base  uint64
	Ds       uint64
	Es       uint64
	Fs       uint64
	Gs       uint64
}

// Register is a named register value.
type Register struct {
	Name  string
	Value uint64
}

// PC returns the value of RIP register.
func (r *AMD64PtraceRegs) PC() uint64 {
	return r.Rip
}

// GeneralPurpose returns the sixteen general purpose registers and the
// instruction pointer in the order they are printed in crash dumps.
func (r *AMD64PtraceRegs) GeneralPurpose() []Register {
	return []Register{
		{"rax", r.Rax},
		{"rbx", r.Rbx},
		{"rcx", r.Rcx},
		{"rdx", r.Rdx},
		{"rsp", r.Rsp},
		{"rbp", r.Rbp},
		{"rsi", r.Rsi},
		{"rdi", r.Rdi},
		{"rip", r.Rip},
		{"r8", r.R8},
		{"r9", r.R9},
		{"r10", r.R10},
		{"r11", r.R11},
		{"r12", r.R12},
		{"r13", r.R13},
		{"r14", r.R14},
		{"r15", r.R15},
	}
}

// Segments returns the segment selectors, truncated to 16 bits.
func (r *AMD64PtraceRegs) Segments() []Register {
	return []Register{
		{"ss", r.Ss & 0xffff},
		{"cs", r.Cs & 0xffff},
		{"ds", r.Ds & 0xffff},
		{"gs", r.Gs & 0xffff},
		{"es", r.Es & 0xffff},
		{"fs", r.Fs & 0xffff},
	}
}

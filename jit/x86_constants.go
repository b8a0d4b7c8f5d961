package jit

// REX Prefix Constants
const (
	X86_REX    = 0x40 // REX prefix base
	X86_REX_W  = 0x08 // REX.W - 64-bit operand size
	X86_REX_R  = 0x04 // REX.R - Extension of ModRM reg field
	X86_REX_X  = 0x02 // REX.X - Extension of SIB index field
	X86_REX_B  = 0x01 // REX.B - Extension of ModRM r/m, SIB base, or opcode reg field
	X86_PREFIX = 0x0F // two-byte opcode escape
)

// ModRM Mode Constants
const (
	X86_MOD_INDIRECT        = 0x00 // [reg] or [disp32]
	X86_MOD_INDIRECT_DISP8  = 0x01 // [reg + disp8]
	X86_MOD_INDIRECT_DISP32 = 0x02 // [reg + disp32]
	X86_MOD_REGISTER        = 0x03 // reg
	X86_RM_SIB              = 0x04 // r/m field selecting a SIB byte
	X86_RM_RIP              = 0x05 // r/m field for [rip + disp32] with mod 00
	X86_SIB_NO_INDEX        = 0x24 // scale 1, no index, base rsp/r12
)

// Primary Opcodes
const (
	X86_OP_ADD_RM_R        = 0x01 // ADD r/m, r
	X86_OP_OR_RM_R         = 0x09 // OR r/m, r
	X86_OP_AND_RM_R        = 0x21 // AND r/m, r
	X86_OP_SUB_RM_R        = 0x29 // SUB r/m, r
	X86_OP_XOR_RM_R        = 0x31 // XOR r/m, r
	X86_OP_CMP_RM_R        = 0x39 // CMP r/m, r
	X86_OP_PUSH_R          = 0x50 // PUSH r64 (+ reg)
	X86_OP_POP_R           = 0x58 // POP r64 (+ reg)
	X86_OP_GROUP1_RM_IMM32 = 0x81 // Group 1 operations with imm32
	X86_OP_GROUP1_RM_IMM8  = 0x83 // Group 1 operations with imm8
	X86_OP_TEST_RM_R       = 0x85 // TEST r/m, r
	X86_OP_XCHG_RM_R       = 0x87 // XCHG r/m, r
	X86_OP_MOV_RM_R        = 0x89 // MOV r/m, r
	X86_OP_MOV_R_RM        = 0x8B // MOV r, r/m
	X86_OP_LEA             = 0x8D // LEA r, m
	X86_OP_NOP             = 0x90 // NOP
	X86_OP_MOV_R_IMM       = 0xB8 // MOV r, imm (+ reg)
	X86_OP_GROUP2_RM_IMM8  = 0xC1 // Group 2 shift operations with imm8
	X86_OP_RET             = 0xC3 // RET
	X86_OP_MOV_RM_IMM8     = 0xC6 // MOV r/m8, imm8 (C6 F8 = XABORT)
	X86_OP_MOV_RM_IMM      = 0xC7 // MOV r/m, imm32 (C7 F8 = XBEGIN)
	X86_OP_INT3            = 0xCC // INT3
	X86_OP_CALL_REL32      = 0xE8 // CALL rel32
	X86_OP_JMP_REL32       = 0xE9 // JMP rel32
	X86_OP_GROUP5_RM       = 0xFF // Group 5 operations (INC, DEC, CALL, JMP, PUSH)
)

// Group opcode extensions (ModRM.reg)
const (
	X86_EXT_ADD      = 0
	X86_EXT_OR       = 1
	X86_EXT_AND      = 4
	X86_EXT_SUB      = 5
	X86_EXT_XOR      = 6
	X86_EXT_CMP      = 7
	X86_EXT_SHL      = 4
	X86_EXT_SHR      = 5
	X86_EXT_SAR      = 7
	X86_EXT_CALL_IND = 2
	X86_EXT_JMP_IND  = 4
)

// Two-byte Opcodes (0x0F prefix)
const (
	X86_OP2_JCC_BASE = 0x80 // Jcc rel32 (+ cond)
	X86_OP2_RDTSC    = 0x31 // RDTSC
	X86_OP2_NOPL     = 0x1F // multi-byte NOP
	X86_OP2_GROUP7   = 0x01 // 0F 01 xx (XEND, XTEST)
	X86_MODRM_XBEGIN = 0xF8 // C7 F8 rel32
	X86_MODRM_XABORT = 0xF8 // C6 F8 ib
	X86_MODRM_XEND   = 0xD5 // 0F 01 D5
	X86_MODRM_XTEST  = 0xD6 // 0F 01 D6
)

// Cond is the low nibble of a Jcc/SETcc/CMOVcc opcode.
type Cond byte

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2 // unsigned <
	CondAE Cond = 0x3 // unsigned >=
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6 // unsigned <=
	CondA  Cond = 0x7 // unsigned >
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondP  Cond = 0xA
	CondNP Cond = 0xB
	CondL  Cond = 0xC // signed <
	CondGE Cond = 0xD // signed >=
	CondLE Cond = 0xE // signed <=
	CondG  Cond = 0xF // signed >
	CondZ       = CondE
	CondNZ      = CondNE
)

// recommended multi-byte NOP encodings, indexed by length
var nopSequences = [...][]byte{
	{},
	{0x90},
	{0x66, 0x90},
	{0x0F, 0x1F, 0x00},
	{0x0F, 0x1F, 0x40, 0x00},
	{0x0F, 0x1F, 0x44, 0x00, 0x00},
	{0x66, 0x0F, 0x1F, 0x44, 0x00, 0x00},
	{0x0F, 0x1F, 0x80, 0x00, 0x00, 0x00, 0x00},
	{0x0F, 0x1F, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
	{0x66, 0x0F, 0x1F, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
}

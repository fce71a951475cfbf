// Package opcode names the two-byte little-endian message tags that
// prefix every packet. SendOp values are sent by the server and
// dispatched to the client's waiters/handlers; RecvOp values are sent
// by the client. The two are distinct types so a SendOp can never be
// passed where a RecvOp is expected, even though the numeric spaces
// overlap.
package opcode

// SendOp is an opcode the server sends and the client dispatches.
type SendOp uint16

// RecvOp is an opcode the client sends to the server.
type RecvOp uint16

// RequestVersion is the opcode embedded in the plaintext handshake
// header (see internal/session). It never appears in the post-handshake
// dispatch table.
const RequestVersion SendOp = 0x0001

const (
	RequestLogin      SendOp = 0x0002
	LoginResult       SendOp = 0x0003
	CharacterList     SendOp = 0x0004
	LoginToGame       SendOp = 0x0005
	RequestKey        SendOp = 0x0006
	RequestFieldEnter SendOp = 0x0007
	RequestHeartbeat  SendOp = 0x0008
	ResponseTimeSync  SendOp = 0x0009
	FieldAddUser      SendOp = 0x000A
	FieldAddNpc       SendOp = 0x000B
	FieldRemoveNpc    SendOp = 0x000C
	SkillUse          SendOp = 0x000D
	SkillDamage       SendOp = 0x000E
)

const (
	ResponseVersion      RecvOp = 0x0002
	ResponseLogin        RecvOp = 0x0003
	CharacterManagement  RecvOp = 0x0004
	ResponseKey          RecvOp = 0x0005
	ResponseFieldEnter   RecvOp = 0x0006
	ResponseHeartbeat    RecvOp = 0x0007
	RequestTimeSync      RecvOp = 0x0009
	UserChat             RecvOp = 0x000F
	Skill                RecvOp = 0x0010
)

// CharacterList sub-commands (the cmd byte at the start of the body).
const (
	CharacterListEntry    byte = 0
	CharacterListEndList  byte = 4
)

// CharacterManagement sub-commands.
const (
	CharacterManagementSelect byte = 0
)

// ResponseLogin sub-commands.
const (
	ResponseLoginCharacterList byte = 2
)

// TimeSync command variants shared by RequestTimeSync/ResponseTimeSync.
const (
	TimeSyncServerRequest byte = 2
)

// Skill sub-opcodes, written as the first byte of a Skill body.
const (
	SkillSubUse    byte = 0
	SkillSubAttack byte = 1
)

// Skill(Attack) target sub-opcode, written as the second byte of an
// Attack body.
const (
	SkillAttackTarget byte = 1
)

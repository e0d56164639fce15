package packet

// Client → server opcodes.
const (
	C_OPCODE_LOGIN       byte = 1  // [S account][S password]
	C_OPCODE_ENTERWORLD  byte = 2  // [S character name]
	C_OPCODE_TOGGLESLOT  byte = 3  // [H slot]
	C_OPCODE_UNEQUIPSLOT byte = 4  // [H slot]
	C_OPCODE_QUIT        byte = 5  // no body
	C_OPCODE_PING        byte = 15 // [D client time]
)

// Server → client opcodes.
const (
	S_OPCODE_HELLO          byte = 100 // [C version][D server id][S server name]
	S_OPCODE_LOGINRESULT    byte = 101 // [C result]
	S_OPCODE_AVATAR         byte = 102 // [Q entity][D char id][S name][S rig][H node count]{[S node]}
	S_OPCODE_INVENTORY      byte = 103 // [H size][H equipped]{[H slot][D object][D item][S name]}
	S_OPCODE_OBJECT_SPAWN   byte = 104 // [Q object][Q owner][S prefab]
	S_OPCODE_OBJECT_DESPAWN byte = 105 // [Q object]
	S_OPCODE_OBJECT_PARENT  byte = 106 // [Q object][Q avatar][S node] (empty node = detached)
	S_OPCODE_EQUIPRESULT    byte = 107 // [C result][H slot][S message]
	S_OPCODE_CHARLIST       byte = 108 // [C count]{[S name][S rig][H equipped slot]}
	S_OPCODE_PONG           byte = 115 // [D client time]
)

// ProtocolVersion is sent in S_OPCODE_HELLO.
const ProtocolVersion byte = 1

// Login result codes.
const (
	LoginOK          byte = 0
	LoginBadPassword byte = 1
	LoginNoAccount   byte = 2
	LoginBanned      byte = 3
	LoginInUse       byte = 4
	LoginServerError byte = 5
	LoginCharLimit   byte = 6
)

// Equip result codes.
const (
	EquipOK       byte = 0
	EquipUnequip  byte = 1
	EquipRejected byte = 2 // refused before anything was spawned
	EquipFailed   byte = 3 // flow failed after it started
)

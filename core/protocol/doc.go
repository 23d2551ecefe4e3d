// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Frames, messages and the ZMTP/3.0-style wire protocol: greeting, NULL
// mechanism READY handshake, length-prefixed frames with MORE/LONG/COMMAND
// flags and subscription messages. Encoder and Decoder are incremental so
// the reactor can drive them with partial reads and writes.
package protocol

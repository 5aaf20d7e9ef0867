package store

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/adamgarcia4/goLearning/hydfs/membership"
	"github.com/adamgarcia4/goLearning/hydfs/ring"
)

/*
FileBlock

Files are append-only sequences of immutable blocks. A block's identity
is derived from who wrote it and when:

	block_id = hash(client_id || timestamp_ms || seq)

so the same logical write always produces the same id, and two replicas
that both hold a block agree it is the same block without comparing data.
(client_id, seq) also gives merge its deterministic tiebreak order.
*/
type FileBlock struct {
	BlockID     uint64
	ClientID    string
	Seq         uint32
	TimestampMS int64
	Data        []byte
}

// NewFileBlock builds a block and derives its id.
func NewFileBlock(clientID string, seq uint32, timestampMS int64, data []byte) *FileBlock {
	return &FileBlock{
		BlockID:     ComputeBlockID(clientID, seq, timestampMS),
		ClientID:    clientID,
		Seq:         seq,
		TimestampMS: timestampMS,
		Data:        data,
	}
}

// ComputeBlockID derives a block id from its provenance.
func ComputeBlockID(clientID string, seq uint32, timestampMS int64) uint64 {
	return ring.Hash(clientID + strconv.FormatInt(timestampMS, 10) + strconv.FormatUint(uint64(seq), 10))
}

// Encode serializes the block:
//
//	u64 block_id | u32 client_id_len | client_id | u32 seq
//	i64 timestamp_ms | u32 data_len | data
func (b *FileBlock) Encode() []byte {
	buf := make([]byte, 0, 32+len(b.ClientID)+len(b.Data))
	buf = binary.BigEndian.AppendUint64(buf, b.BlockID)
	buf = membership.AppendString(buf, b.ClientID)
	buf = binary.BigEndian.AppendUint32(buf, b.Seq)
	buf = binary.BigEndian.AppendUint64(buf, uint64(b.TimestampMS))
	buf = membership.AppendBytes(buf, b.Data)
	return buf
}

// DecodeBlock parses one serialized block from r.
func DecodeBlock(r *membership.Reader) (*FileBlock, error) {
	b := &FileBlock{}
	b.BlockID = r.U64()
	b.ClientID = r.Str()
	b.Seq = r.U32()
	b.TimestampMS = r.I64()
	b.Data = r.Bytes()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return b, nil
}

// DecodeBlockBytes parses a block that occupies the whole buffer.
func DecodeBlockBytes(data []byte) (*FileBlock, error) {
	r := membership.NewReader(data)
	b, err := DecodeBlock(r)
	if err != nil {
		return nil, err
	}
	if r.Rem() != 0 {
		return nil, fmt.Errorf("decode block: %d trailing bytes", r.Rem())
	}
	return b, nil
}

// Less orders blocks for merge: timestamp, then client id, then
// sequence. Every coordinator computes the same order.
func (b *FileBlock) Less(other *FileBlock) bool {
	if b.TimestampMS != other.TimestampMS {
		return b.TimestampMS < other.TimestampMS
	}
	if b.ClientID != other.ClientID {
		return b.ClientID < other.ClientID
	}
	return b.Seq < other.Seq
}

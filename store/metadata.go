package store

import (
	"encoding/binary"
	"fmt"

	"github.com/adamgarcia4/goLearning/hydfs/membership"
	"github.com/adamgarcia4/goLearning/hydfs/ring"
)

// FileMetadata describes one file: its identity, its ordered block list,
// and a version that merge bumps so replicas can tell merged layouts
// apart from pre-merge ones.
type FileMetadata struct {
	Filename       string
	FileID         uint64
	TotalSize      uint64
	BlockIDs       []uint64
	Version        uint32
	CreatedMS      int64
	LastModifiedMS int64
}

// NewFileMetadata creates metadata for a file with no blocks yet.
func NewFileMetadata(filename string, nowMS int64) *FileMetadata {
	return &FileMetadata{
		Filename:       filename,
		FileID:         ring.Hash(filename),
		Version:        1,
		CreatedMS:      nowMS,
		LastModifiedMS: nowMS,
	}
}

// Encode serializes the metadata:
//
//	u32 filename_len | filename | u64 file_id | u64 total_size
//	u32 version | i64 created_ms | i64 last_modified_ms
//	u32 block_count | block_count x u64 block_id
func (m *FileMetadata) Encode() []byte {
	buf := make([]byte, 0, 48+len(m.Filename)+8*len(m.BlockIDs))
	buf = membership.AppendString(buf, m.Filename)
	buf = binary.BigEndian.AppendUint64(buf, m.FileID)
	buf = binary.BigEndian.AppendUint64(buf, m.TotalSize)
	buf = binary.BigEndian.AppendUint32(buf, m.Version)
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.CreatedMS))
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.LastModifiedMS))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.BlockIDs)))
	for _, id := range m.BlockIDs {
		buf = binary.BigEndian.AppendUint64(buf, id)
	}
	return buf
}

// DecodeMetadata parses serialized metadata.
func DecodeMetadata(data []byte) (*FileMetadata, error) {
	r := membership.NewReader(data)
	m := &FileMetadata{}
	m.Filename = r.Str()
	m.FileID = r.U64()
	m.TotalSize = r.U64()
	m.Version = r.U32()
	m.CreatedMS = r.I64()
	m.LastModifiedMS = r.I64()
	count := r.U32()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if int(count)*8 != r.Rem() {
		return nil, fmt.Errorf("decode metadata: block count %d does not match %d remaining bytes", count, r.Rem())
	}
	m.BlockIDs = make([]uint64, 0, count)
	for i := uint32(0); i < count; i++ {
		m.BlockIDs = append(m.BlockIDs, r.U64())
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

// Clone returns a deep copy.
func (m *FileMetadata) Clone() *FileMetadata {
	cp := *m
	cp.BlockIDs = make([]uint64, len(m.BlockIDs))
	copy(cp.BlockIDs, m.BlockIDs)
	return &cp
}

package fileop

import (
	"encoding/binary"
	"fmt"

	"github.com/adamgarcia4/goLearning/hydfs/membership"
	"github.com/adamgarcia4/goLearning/hydfs/store"
)

/*
File operation wire format

File operation datagrams share the node's UDP socket with membership
traffic. Their discriminant bytes start at 100 so the transport can
split the two protocols without parsing anything else.

Each message is the u8 type followed by its body. Integers are network
byte order; strings and blobs are u32 length + bytes; blocks use the
store block encoding.
*/

// FileMessageType is the datagram discriminant for file operations.
type FileMessageType uint8

const (
	MsgCreateFile FileMessageType = iota + 100
	MsgCreateAck
	MsgGetFile
	MsgGetResponse
	MsgAppendFile
	MsgAppendAck
	MsgMergeRequest
	MsgMergeResponse
	MsgReplicateFile
	MsgReplicateBlock
	MsgReplicateAck
	MsgLsRequest
	MsgLsResponse
	MsgListStoreRequest
	MsgListStoreResponse
	MsgFileExistsRequest
	MsgFileExistsResponse
	MsgCollectBlocksRequest
	MsgCollectBlocksResponse
	MsgMergeUpdate
	MsgTransferFiles
)

func (t FileMessageType) String() string {
	names := map[FileMessageType]string{
		MsgCreateFile:            "CREATE_FILE",
		MsgCreateAck:             "CREATE_ACK",
		MsgGetFile:               "GET_FILE",
		MsgGetResponse:           "GET_RESPONSE",
		MsgAppendFile:            "APPEND_FILE",
		MsgAppendAck:             "APPEND_ACK",
		MsgMergeRequest:          "MERGE_REQUEST",
		MsgMergeResponse:         "MERGE_RESPONSE",
		MsgReplicateFile:         "REPLICATE_FILE",
		MsgReplicateBlock:        "REPLICATE_BLOCK",
		MsgReplicateAck:          "REPLICATE_ACK",
		MsgLsRequest:             "LS_REQUEST",
		MsgLsResponse:            "LS_RESPONSE",
		MsgListStoreRequest:      "LISTSTORE_REQUEST",
		MsgListStoreResponse:     "LISTSTORE_RESPONSE",
		MsgFileExistsRequest:     "FILE_EXISTS_REQUEST",
		MsgFileExistsResponse:    "FILE_EXISTS_RESPONSE",
		MsgCollectBlocksRequest:  "COLLECT_BLOCKS_REQUEST",
		MsgCollectBlocksResponse: "COLLECT_BLOCKS_RESPONSE",
		MsgMergeUpdate:           "MERGE_UPDATE",
		MsgTransferFiles:         "TRANSFER_FILES",
	}
	if name, ok := names[t]; ok {
		return name
	}
	return fmt.Sprintf("FILEMSG(%d)", uint8(t))
}

// Response status strings. StatusOK means success; the ERROR_ values
// travel as-is in response payloads.
const (
	StatusOK                = "OK"
	ErrorFileExists         = "ERROR_FILE_EXISTS"
	ErrorFileNotFound       = "ERROR_FILE_NOT_FOUND"
	ErrorReplicaUnavailable = "ERROR_REPLICA_UNAVAILABLE"
)

// CreateFileRequest carries a new file's first block. The writer's
// identity and sequence live inside the block.
type CreateFileRequest struct {
	Filename string
	Block    *store.FileBlock
}

func (m *CreateFileRequest) Encode() []byte {
	buf := []byte{byte(MsgCreateFile)}
	buf = membership.AppendString(buf, m.Filename)
	return append(buf, m.Block.Encode()...)
}

func decodeCreateFileRequest(r *membership.Reader) (*CreateFileRequest, error) {
	m := &CreateFileRequest{Filename: r.Str()}
	block, err := store.DecodeBlock(r)
	if err != nil {
		return nil, err
	}
	m.Block = block
	return m, r.Err()
}

// CreateAck reports the outcome of a create on one replica.
type CreateAck struct {
	Filename string
	Status   string
}

func (m *CreateAck) Encode() []byte {
	buf := []byte{byte(MsgCreateAck)}
	buf = membership.AppendString(buf, m.Filename)
	return membership.AppendString(buf, m.Status)
}

func decodeCreateAck(r *membership.Reader) (*CreateAck, error) {
	m := &CreateAck{Filename: r.Str(), Status: r.Str()}
	return m, r.Err()
}

// GetFileRequest asks a replica for a file's full block list.
type GetFileRequest struct {
	Filename string
	ClientID string
}

func (m *GetFileRequest) Encode() []byte {
	buf := []byte{byte(MsgGetFile)}
	buf = membership.AppendString(buf, m.Filename)
	return membership.AppendString(buf, m.ClientID)
}

func decodeGetFileRequest(r *membership.Reader) (*GetFileRequest, error) {
	m := &GetFileRequest{Filename: r.Str(), ClientID: r.Str()}
	return m, r.Err()
}

// GetFileResponse returns the replica's copy: every block in metadata
// order. The client re-checks read-my-writes against the block ids
// before accepting.
type GetFileResponse struct {
	Filename string
	Status   string
	Version  uint32
	Blocks   []*store.FileBlock
}

func (m *GetFileResponse) Encode() []byte {
	buf := []byte{byte(MsgGetResponse)}
	buf = membership.AppendString(buf, m.Filename)
	buf = membership.AppendString(buf, m.Status)
	buf = binary.BigEndian.AppendUint32(buf, m.Version)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Blocks)))
	for _, b := range m.Blocks {
		buf = append(buf, b.Encode()...)
	}
	return buf
}

func decodeGetFileResponse(r *membership.Reader) (*GetFileResponse, error) {
	m := &GetFileResponse{Filename: r.Str(), Status: r.Str(), Version: r.U32()}
	count := r.U32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		block, err := store.DecodeBlock(r)
		if err != nil {
			return nil, err
		}
		m.Blocks = append(m.Blocks, block)
	}
	return m, r.Err()
}

// AppendFileRequest carries one append block to the file's coordinator.
type AppendFileRequest struct {
	Filename string
	Block    *store.FileBlock
}

func (m *AppendFileRequest) Encode() []byte {
	buf := []byte{byte(MsgAppendFile)}
	buf = membership.AppendString(buf, m.Filename)
	return append(buf, m.Block.Encode()...)
}

func decodeAppendFileRequest(r *membership.Reader) (*AppendFileRequest, error) {
	m := &AppendFileRequest{Filename: r.Str()}
	block, err := store.DecodeBlock(r)
	if err != nil {
		return nil, err
	}
	m.Block = block
	return m, r.Err()
}

// AppendAck confirms (or rejects) an append.
type AppendAck struct {
	Filename string
	Status   string
	BlockID  uint64
}

func (m *AppendAck) Encode() []byte {
	buf := []byte{byte(MsgAppendAck)}
	buf = membership.AppendString(buf, m.Filename)
	buf = membership.AppendString(buf, m.Status)
	return binary.BigEndian.AppendUint64(buf, m.BlockID)
}

func decodeAppendAck(r *membership.Reader) (*AppendAck, error) {
	m := &AppendAck{Filename: r.Str(), Status: r.Str(), BlockID: r.U64()}
	return m, r.Err()
}

// MergeRequest asks the file's coordinator to run a merge.
type MergeRequest struct {
	Filename string
}

func (m *MergeRequest) Encode() []byte {
	buf := []byte{byte(MsgMergeRequest)}
	return membership.AppendString(buf, m.Filename)
}

func decodeMergeRequest(r *membership.Reader) (*MergeRequest, error) {
	m := &MergeRequest{Filename: r.Str()}
	return m, r.Err()
}

// MergeResponse tells the initiator the merge finished.
type MergeResponse struct {
	Filename string
	Status   string
	Version  uint32
}

func (m *MergeResponse) Encode() []byte {
	buf := []byte{byte(MsgMergeResponse)}
	buf = membership.AppendString(buf, m.Filename)
	buf = membership.AppendString(buf, m.Status)
	return binary.BigEndian.AppendUint32(buf, m.Version)
}

func decodeMergeResponse(r *membership.Reader) (*MergeResponse, error) {
	m := &MergeResponse{Filename: r.Str(), Status: r.Str(), Version: r.U32()}
	return m, r.Err()
}

// ReplicateBlockMessage pushes one block to a replica.
type ReplicateBlockMessage struct {
	Filename string
	Block    *store.FileBlock
}

func (m *ReplicateBlockMessage) Encode() []byte {
	buf := []byte{byte(MsgReplicateBlock)}
	buf = membership.AppendString(buf, m.Filename)
	return append(buf, m.Block.Encode()...)
}

func decodeReplicateBlock(r *membership.Reader) (*ReplicateBlockMessage, error) {
	m := &ReplicateBlockMessage{Filename: r.Str()}
	block, err := store.DecodeBlock(r)
	if err != nil {
		return nil, err
	}
	m.Block = block
	return m, r.Err()
}

// ReplicateAck confirms a replica stored (or already had) a block.
type ReplicateAck struct {
	Filename string
	BlockID  uint64
}

func (m *ReplicateAck) Encode() []byte {
	buf := []byte{byte(MsgReplicateAck)}
	buf = membership.AppendString(buf, m.Filename)
	return binary.BigEndian.AppendUint64(buf, m.BlockID)
}

func decodeReplicateAck(r *membership.Reader) (*ReplicateAck, error) {
	m := &ReplicateAck{Filename: r.Str(), BlockID: r.U64()}
	return m, r.Err()
}

// FileExistsRequest probes a replica for a file (the ls primitive).
type FileExistsRequest struct {
	Filename    string
	RequesterID string
}

func (m *FileExistsRequest) Encode() []byte {
	buf := []byte{byte(MsgFileExistsRequest)}
	buf = membership.AppendString(buf, m.Filename)
	return membership.AppendString(buf, m.RequesterID)
}

func decodeFileExistsRequest(r *membership.Reader) (*FileExistsRequest, error) {
	m := &FileExistsRequest{Filename: r.Str(), RequesterID: r.Str()}
	return m, r.Err()
}

// FileExistsResponse answers a probe with the replica's view.
type FileExistsResponse struct {
	Filename string
	Exists   bool
	FileID   uint64
	FileSize uint64
	Version  uint32
}

func (m *FileExistsResponse) Encode() []byte {
	buf := []byte{byte(MsgFileExistsResponse)}
	buf = membership.AppendString(buf, m.Filename)
	exists := byte(0)
	if m.Exists {
		exists = 1
	}
	buf = append(buf, exists)
	buf = binary.BigEndian.AppendUint64(buf, m.FileID)
	buf = binary.BigEndian.AppendUint64(buf, m.FileSize)
	return binary.BigEndian.AppendUint32(buf, m.Version)
}

func decodeFileExistsResponse(r *membership.Reader) (*FileExistsResponse, error) {
	m := &FileExistsResponse{Filename: r.Str()}
	m.Exists = r.U8() == 1
	m.FileID = r.U64()
	m.FileSize = r.U64()
	m.Version = r.U32()
	return m, r.Err()
}

// ListStoreRequest asks a node what files it stores.
type ListStoreRequest struct {
	RequesterID string
}

func (m *ListStoreRequest) Encode() []byte {
	buf := []byte{byte(MsgListStoreRequest)}
	return membership.AppendString(buf, m.RequesterID)
}

func decodeListStoreRequest(r *membership.Reader) (*ListStoreRequest, error) {
	m := &ListStoreRequest{RequesterID: r.Str()}
	return m, r.Err()
}

// StoreEntry is one file in a liststore report.
type StoreEntry struct {
	Filename string
	Size     uint64
	Version  uint32
}

// ListStoreResponse reports a node's stored files and its ring id.
type ListStoreResponse struct {
	RingID  uint64
	Entries []StoreEntry
}

func (m *ListStoreResponse) Encode() []byte {
	buf := []byte{byte(MsgListStoreResponse)}
	buf = binary.BigEndian.AppendUint64(buf, m.RingID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Entries)))
	for _, e := range m.Entries {
		buf = membership.AppendString(buf, e.Filename)
		buf = binary.BigEndian.AppendUint64(buf, e.Size)
		buf = binary.BigEndian.AppendUint32(buf, e.Version)
	}
	return buf
}

func decodeListStoreResponse(r *membership.Reader) (*ListStoreResponse, error) {
	m := &ListStoreResponse{RingID: r.U64()}
	count := r.U32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		m.Entries = append(m.Entries, StoreEntry{
			Filename: r.Str(),
			Size:     r.U64(),
			Version:  r.U32(),
		})
	}
	return m, r.Err()
}

// CollectBlocksRequest asks a replica for everything it holds for a
// file, the first phase of a merge.
type CollectBlocksRequest struct {
	Filename string
}

func (m *CollectBlocksRequest) Encode() []byte {
	buf := []byte{byte(MsgCollectBlocksRequest)}
	return membership.AppendString(buf, m.Filename)
}

func decodeCollectBlocksRequest(r *membership.Reader) (*CollectBlocksRequest, error) {
	m := &CollectBlocksRequest{Filename: r.Str()}
	return m, r.Err()
}

// CollectBlocksResponse returns a replica's blocks for a merge. A
// replica that does not hold the file answers with zero blocks.
type CollectBlocksResponse struct {
	Filename string
	Version  uint32
	Blocks   []*store.FileBlock
}

func (m *CollectBlocksResponse) Encode() []byte {
	buf := []byte{byte(MsgCollectBlocksResponse)}
	buf = membership.AppendString(buf, m.Filename)
	buf = binary.BigEndian.AppendUint32(buf, m.Version)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Blocks)))
	for _, b := range m.Blocks {
		buf = append(buf, b.Encode()...)
	}
	return buf
}

func decodeCollectBlocksResponse(r *membership.Reader) (*CollectBlocksResponse, error) {
	m := &CollectBlocksResponse{Filename: r.Str(), Version: r.U32()}
	count := r.U32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		block, err := store.DecodeBlock(r)
		if err != nil {
			return nil, err
		}
		m.Blocks = append(m.Blocks, block)
	}
	return m, r.Err()
}

// MergeUpdateMessage installs a merged block order on a replica. The
// coordinator replicates any blocks the replica might be missing before
// sending this.
type MergeUpdateMessage struct {
	Filename   string
	BlockIDs   []uint64
	NewVersion uint32
}

func (m *MergeUpdateMessage) Encode() []byte {
	buf := []byte{byte(MsgMergeUpdate)}
	buf = membership.AppendString(buf, m.Filename)
	buf = binary.BigEndian.AppendUint32(buf, m.NewVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.BlockIDs)))
	for _, id := range m.BlockIDs {
		buf = binary.BigEndian.AppendUint64(buf, id)
	}
	return buf
}

func decodeMergeUpdate(r *membership.Reader) (*MergeUpdateMessage, error) {
	m := &MergeUpdateMessage{Filename: r.Str(), NewVersion: r.U32()}
	count := r.U32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		m.BlockIDs = append(m.BlockIDs, r.U64())
	}
	return m, r.Err()
}

// TransferFilesMessage hands a file's layout to a replica during
// recovery. The sender replicates the blocks first; this message then
// fixes the order and version.
type TransferFilesMessage struct {
	Metadata *store.FileMetadata
}

func (m *TransferFilesMessage) Encode() []byte {
	buf := []byte{byte(MsgTransferFiles)}
	return append(buf, m.Metadata.Encode()...)
}

func decodeTransferFiles(data []byte) (*TransferFilesMessage, error) {
	meta, err := store.DecodeMetadata(data)
	if err != nil {
		return nil, err
	}
	return &TransferFilesMessage{Metadata: meta}, nil
}

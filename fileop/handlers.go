package fileop

import (
	"errors"

	"github.com/adamgarcia4/goLearning/hydfs/membership"
	"github.com/adamgarcia4/goLearning/hydfs/store"
)

// HandleDatagram decodes one file operation datagram and runs its
// handler. Malformed input is logged and dropped.
func (c *Coordinator) HandleDatagram(data []byte, from string) {
	r := membership.NewReader(data)
	msgType := FileMessageType(r.U8())

	var err error
	switch msgType {
	case MsgCreateFile:
		var m *CreateFileRequest
		if m, err = decodeCreateFileRequest(r); err == nil {
			c.handleCreateFile(m, from)
		}
	case MsgCreateAck:
		var m *CreateAck
		if m, err = decodeCreateAck(r); err == nil {
			c.logf("create ack for %s from %s: %s", m.Filename, from, m.Status)
		}
	case MsgGetFile:
		var m *GetFileRequest
		if m, err = decodeGetFileRequest(r); err == nil {
			c.handleGetFile(m, from)
		}
	case MsgGetResponse:
		var m *GetFileResponse
		if m, err = decodeGetFileResponse(r); err == nil {
			c.gets.complete(m.Filename, m)
		}
	case MsgAppendFile:
		var m *AppendFileRequest
		if m, err = decodeAppendFileRequest(r); err == nil {
			c.handleAppendFile(m, from)
		}
	case MsgAppendAck:
		var m *AppendAck
		if m, err = decodeAppendAck(r); err == nil {
			c.appends.complete(m.Filename, m)
		}
	case MsgMergeRequest:
		var m *MergeRequest
		if m, err = decodeMergeRequest(r); err == nil {
			c.handleMergeRequest(m, from)
		}
	case MsgMergeResponse:
		var m *MergeResponse
		if m, err = decodeMergeResponse(r); err == nil {
			c.merges.complete(m.Filename, m)
		}
	case MsgReplicateBlock:
		var m *ReplicateBlockMessage
		if m, err = decodeReplicateBlock(r); err == nil {
			c.handleReplicateBlock(m, from)
		}
	case MsgReplicateAck:
		var m *ReplicateAck
		if m, err = decodeReplicateAck(r); err == nil {
			c.logf("replicate ack for %s block %d from %s", m.Filename, m.BlockID, from)
		}
	case MsgFileExistsRequest:
		var m *FileExistsRequest
		if m, err = decodeFileExistsRequest(r); err == nil {
			c.handleFileExists(m, from)
		}
	case MsgFileExistsResponse:
		var m *FileExistsResponse
		if m, err = decodeFileExistsResponse(r); err == nil {
			c.exists.add(m.Filename, from, m)
		}
	case MsgListStoreRequest:
		var m *ListStoreRequest
		if m, err = decodeListStoreRequest(r); err == nil {
			c.handleListStore(m, from)
		}
	case MsgListStoreResponse:
		var m *ListStoreResponse
		if m, err = decodeListStoreResponse(r); err == nil {
			c.stores.complete("liststore", m)
		}
	case MsgCollectBlocksRequest:
		var m *CollectBlocksRequest
		if m, err = decodeCollectBlocksRequest(r); err == nil {
			c.handleCollectBlocks(m, from)
		}
	case MsgCollectBlocksResponse:
		var m *CollectBlocksResponse
		if m, err = decodeCollectBlocksResponse(r); err == nil {
			c.collects.add(m.Filename, from, m)
		}
	case MsgMergeUpdate:
		var m *MergeUpdateMessage
		if m, err = decodeMergeUpdate(r); err == nil {
			c.handleMergeUpdate(m, from)
		}
	case MsgTransferFiles:
		var m *TransferFilesMessage
		if m, err = decodeTransferFiles(data[1:]); err == nil {
			c.handleTransferFiles(m, from)
		}
	default:
		c.logf("unhandled file message %s from %s", msgType, from)
	}
	if err != nil {
		c.logf("bad %s from %s: %v", msgType, from, err)
	}
}

func (c *Coordinator) handleCreateFile(m *CreateFileRequest, from string) {
	status := StatusOK
	err := c.store.Create(m.Filename, m.Block)
	switch {
	case err == nil:
		c.logf("created %s (%d bytes) for %s", m.Filename, len(m.Block.Data), m.Block.ClientID)
	case errors.Is(err, store.ErrFileExists):
		// replayed create fan-out, keep the existing copy
		c.logf("create %s: already stored", m.Filename)
	default:
		c.logf("create %s: %v", m.Filename, err)
		status = ErrorReplicaUnavailable
	}
	ack := &CreateAck{Filename: m.Filename, Status: status}
	c.send(from, ack.Encode())
}

func (c *Coordinator) handleGetFile(m *GetFileRequest, from string) {
	resp := &GetFileResponse{Filename: m.Filename, Status: StatusOK}
	if meta, ok := c.store.Metadata(m.Filename); ok {
		blocks, err := c.store.Blocks(m.Filename)
		if err != nil {
			c.logf("get %s for %s: %v", m.Filename, m.ClientID, err)
			resp.Status = ErrorFileNotFound
		} else {
			resp.Version = meta.Version
			resp.Blocks = blocks
		}
	} else {
		resp.Status = ErrorFileNotFound
	}
	c.send(from, resp.Encode())
}

func (c *Coordinator) handleAppendFile(m *AppendFileRequest, from string) {
	status := StatusOK
	if err := c.applyAppend(m.Filename, m.Block); err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			status = ErrorFileNotFound
		} else {
			c.logf("append %s: %v", m.Filename, err)
			status = ErrorReplicaUnavailable
		}
	} else {
		c.logf("appended block %d to %s for %s", m.Block.BlockID, m.Filename, m.Block.ClientID)
	}
	ack := &AppendAck{Filename: m.Filename, Status: status, BlockID: m.Block.BlockID}
	c.send(from, ack.Encode())
}

// handleMergeRequest runs the merge off the receive loop; collecting
// blocks blocks for up to the collect window.
func (c *Coordinator) handleMergeRequest(m *MergeRequest, from string) {
	go func() {
		version, err := c.runMerge(m.Filename)
		if err != nil {
			// merge reports success to the initiator regardless; the
			// initiator cannot act on a coordinator-side failure
			c.logf("merge %s: %v", m.Filename, err)
		}
		resp := &MergeResponse{Filename: m.Filename, Status: StatusOK, Version: version}
		c.send(from, resp.Encode())
	}()
}

func (c *Coordinator) handleReplicateBlock(m *ReplicateBlockMessage, from string) {
	if err := c.store.PutBlock(m.Filename, m.Block); err != nil {
		c.logf("replicate %s block %d: %v", m.Filename, m.Block.BlockID, err)
	}
	ack := &ReplicateAck{Filename: m.Filename, BlockID: m.Block.BlockID}
	c.send(from, ack.Encode())
}

func (c *Coordinator) handleFileExists(m *FileExistsRequest, from string) {
	resp := &FileExistsResponse{Filename: m.Filename}
	if meta, ok := c.store.Metadata(m.Filename); ok {
		resp.Exists = true
		resp.FileID = meta.FileID
		resp.FileSize = meta.TotalSize
		resp.Version = meta.Version
	}
	c.send(from, resp.Encode())
}

func (c *Coordinator) handleListStore(m *ListStoreRequest, from string) {
	resp := &ListStoreResponse{RingID: c.RingID()}
	for _, meta := range c.store.List() {
		resp.Entries = append(resp.Entries, StoreEntry{
			Filename: meta.Filename,
			Size:     meta.TotalSize,
			Version:  meta.Version,
		})
	}
	c.send(from, resp.Encode())
}

func (c *Coordinator) handleCollectBlocks(m *CollectBlocksRequest, from string) {
	resp := &CollectBlocksResponse{Filename: m.Filename}
	if meta, ok := c.store.Metadata(m.Filename); ok {
		resp.Version = meta.Version
		if blocks, err := c.store.Blocks(m.Filename); err == nil {
			resp.Blocks = blocks
		}
	}
	c.send(from, resp.Encode())
}

// handleMergeUpdate installs a merged layout. The coordinator pushed
// the blocks ahead of this message, so misses mean datagram loss; the
// layout is installed with what arrived and the next merge repairs it.
func (c *Coordinator) handleMergeUpdate(m *MergeUpdateMessage, from string) {
	c.installLayout(m.Filename, m.BlockIDs, m.NewVersion, from)
}

func (c *Coordinator) handleTransferFiles(m *TransferFilesMessage, from string) {
	meta := m.Metadata
	c.installLayout(meta.Filename, meta.BlockIDs, meta.Version, from)
}

func (c *Coordinator) installLayout(filename string, blockIDs []uint64, version uint32, from string) {
	ordered := make([]*store.FileBlock, 0, len(blockIDs))
	missing := 0
	for _, id := range blockIDs {
		block, ok := c.store.Block(id)
		if !ok {
			missing++
			continue
		}
		ordered = append(ordered, block)
	}
	if missing > 0 {
		c.logf("layout for %s from %s references %d blocks not yet received", filename, from, missing)
	}
	if err := c.store.Merge(filename, ordered, version); err != nil {
		c.logf("installing layout for %s: %v", filename, err)
		return
	}
	c.logf("installed layout for %s: %d blocks, version %d", filename, len(ordered), version)
}

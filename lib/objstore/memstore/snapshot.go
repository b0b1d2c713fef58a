package memstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/ValentinKolb/dColl/lib/objstore"
	"github.com/ValentinKolb/dColl/lib/objstore/memstore/internal"
	"github.com/ValentinKolb/dColl/lib/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum        = "DCOLLMEM" // File format identifier
	snapshotVersion = 1          // Snapshot format version
)

// --------------------------------------------------------------------------
// Save / Load
// --------------------------------------------------------------------------

type savedRecord struct {
	id  uint64
	rec internal.Record
}

type savedBinding struct {
	name string
	b    internal.Binding
}

// Save writes a consistent snapshot of all committed objects, bindings and pending
// tasks to w. Commits are blocked while the snapshot is collected, not while it is written.
func (s *Store) Save(w io.Writer) error {
	var (
		records  []savedRecord
		bindings []savedBinding
		tasks    []pendingTask
		nextID   uint64
		idx      uint64
	)

	s.commitMu.Lock()
	s.table.Range(func(id uint64, rec internal.Record) bool {
		records = append(records, savedRecord{id, rec})
		return true
	})
	s.bindings.Range(func(name string, b internal.Binding) bool {
		if b.ID != 0 {
			bindings = append(bindings, savedBinding{name, b})
		}
		return true
	})
	s.tasksMu.Lock()
	type seqTask struct {
		seq  uint64
		task pendingTask
	}
	var queued []seqTask
	s.tasks.Each(func(seq, _ uint64, task pendingTask) {
		queued = append(queued, seqTask{seq, task})
	})
	s.tasksMu.Unlock()
	nextID = s.nextID.Load()
	idx = s.commitIdx.Load()
	s.commitMu.Unlock()

	// deterministic order
	sort.Slice(records, func(i, j int) bool { return records[i].id < records[j].id })
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].name < bindings[j].name })
	sort.Slice(queued, func(i, j int) bool { return queued[i].seq < queued[j].seq })
	for _, q := range queued {
		tasks = append(tasks, q.task)
	}

	bw := bufio.NewWriterSize(w, 1024*1024)
	le := binary.LittleEndian

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	for _, v := range []any{uint8(snapshotVersion), nextID, idx, uint64(len(records))} {
		if err := binary.Write(bw, le, v); err != nil {
			return err
		}
	}

	for _, r := range records {
		if err := binary.Write(bw, le, r.id); err != nil {
			return err
		}
		if err := binary.Write(bw, le, r.rec.Version); err != nil {
			return err
		}
		if err := writeBytes(bw, []byte(r.rec.TypeName)); err != nil {
			return err
		}
		if err := writeBytes(bw, r.rec.Data); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, le, uint64(len(bindings))); err != nil {
		return err
	}
	for _, b := range bindings {
		if err := writeBytes(bw, []byte(b.name)); err != nil {
			return err
		}
		if err := binary.Write(bw, le, b.b.ID); err != nil {
			return err
		}
		if err := binary.Write(bw, le, b.b.Version); err != nil {
			return err
		}
	}

	if err := binary.Write(bw, le, uint64(len(tasks))); err != nil {
		return err
	}
	for _, t := range tasks {
		if err := binary.Write(bw, le, uint32(t.Attempts)); err != nil {
			return err
		}
		if err := writeBytes(bw, t.Data); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the content of the store with a snapshot written by Save.
// Every record is decoded and encoded again, so all stored types must be registered.
//
// Thread-safety: Load must not run concurrently with transactions
func (s *Store) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024)
	le := binary.LittleEndian

	magic := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magic); err != nil {
		return err
	}
	if string(magic) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, le, &version); err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, snapshotVersion)
	}

	var nextID, idx, count uint64
	for _, p := range []*uint64{&nextID, &idx, &count} {
		if err := binary.Read(br, le, p); err != nil {
			return err
		}
	}

	table := internal.NewTable(s.opts.Shards)
	sizes := util.NewSizeHistogram()
	for i := uint64(0); i < count; i++ {
		var id, recVersion uint64
		if err := binary.Read(br, le, &id); err != nil {
			return err
		}
		if err := binary.Read(br, le, &recVersion); err != nil {
			return err
		}
		typeName, err := readBytes(br)
		if err != nil {
			return err
		}
		data, err := readBytes(br)
		if err != nil {
			return err
		}

		// normalize: the encoding of this process is what commits compare against
		obj, err := s.opts.Codec.Decode(data)
		if err != nil {
			return fmt.Errorf("object %d (%s): %w", id, typeName, err)
		}
		if data, err = s.opts.Codec.Encode(obj); err != nil {
			return fmt.Errorf("object %d (%s): %w", id, typeName, err)
		}

		table.Store(id, internal.Record{Data: data, Version: recVersion, TypeName: string(typeName)})
		sizes.AddSample(len(data))
	}

	if err := binary.Read(br, le, &count); err != nil {
		return err
	}
	var bindings []savedBinding
	for i := uint64(0); i < count; i++ {
		name, err := readBytes(br)
		if err != nil {
			return err
		}
		var b internal.Binding
		if err := binary.Read(br, le, &b.ID); err != nil {
			return err
		}
		if err := binary.Read(br, le, &b.Version); err != nil {
			return err
		}
		bindings = append(bindings, savedBinding{string(name), b})
	}

	if err := binary.Read(br, le, &count); err != nil {
		return err
	}
	var tasks []pendingTask
	for i := uint64(0); i < count; i++ {
		var attempts uint32
		if err := binary.Read(br, le, &attempts); err != nil {
			return err
		}
		data, err := readBytes(br)
		if err != nil {
			return err
		}
		tasks = append(tasks, pendingTask{Data: data, Attempts: int(attempts)})
	}

	// everything was read, swap the state
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.table = table
	s.sizes = sizes
	s.bindings.Clear()
	for _, b := range bindings {
		s.bindings.Store(b.name, b.b)
	}
	s.tombstones.Clear()
	s.nextID.Store(nextID)
	s.commitIdx.Store(idx)

	s.tasksMu.Lock()
	s.tasks = util.NewMapHeap[pendingTask]()
	s.taskSeq = 0
	for _, t := range tasks {
		s.taskSeq++
		s.tasks.AddItem(s.taskSeq, s.taskSeq, t)
	}
	s.tasksMu.Unlock()

	s.log.Infof("loaded snapshot: %d objects, %d bindings, %d pending tasks", table.Len(), len(bindings), len(tasks))
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// SnapshotInfo summarizes a snapshot without loading it
type SnapshotInfo struct {
	Version       uint8          `json:"version"`
	NextID        uint64         `json:"next_id"`
	CommitIndex   uint64         `json:"commit_index"`
	Objects       int            `json:"objects"`
	ObjectsByType map[string]int `json:"objects_by_type"`
	Bytes         int64          `json:"bytes"`
	Bindings      []string       `json:"bindings"`
	PendingTasks  int            `json:"pending_tasks"`
}

// ReadSnapshotInfo reads the header and record metadata of a snapshot. Objects are
// not decoded, so no types need to be registered.
func ReadSnapshotInfo(r io.Reader) (SnapshotInfo, error) {
	info := SnapshotInfo{ObjectsByType: make(map[string]int)}
	br := bufio.NewReader(r)
	le := binary.LittleEndian

	magic := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magic); err != nil {
		return info, err
	}
	if string(magic) != magicNum {
		return info, objstore.NewError(objstore.RetCInternalError, "invalid file format: magic number mismatch")
	}
	if err := binary.Read(br, le, &info.Version); err != nil {
		return info, err
	}
	if info.Version != snapshotVersion {
		return info, fmt.Errorf("unsupported version: %d (expected %d)", info.Version, snapshotVersion)
	}

	var count uint64
	for _, p := range []*uint64{&info.NextID, &info.CommitIndex, &count} {
		if err := binary.Read(br, le, p); err != nil {
			return info, err
		}
	}
	for i := uint64(0); i < count; i++ {
		var skip [2]uint64
		if err := binary.Read(br, le, &skip); err != nil {
			return info, err
		}
		typeName, err := readBytes(br)
		if err != nil {
			return info, err
		}
		data, err := readBytes(br)
		if err != nil {
			return info, err
		}
		info.Objects++
		info.ObjectsByType[string(typeName)]++
		info.Bytes += int64(len(data))
	}

	if err := binary.Read(br, le, &count); err != nil {
		return info, err
	}
	for i := uint64(0); i < count; i++ {
		name, err := readBytes(br)
		if err != nil {
			return info, err
		}
		var skip [2]uint64
		if err := binary.Read(br, le, &skip); err != nil {
			return info, err
		}
		info.Bindings = append(info.Bindings, string(name))
	}

	if err := binary.Read(br, le, &count); err != nil {
		return info, err
	}
	info.PendingTasks = int(count)
	return info, nil
}

package alloc

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// domainState versions the state-hash layout; bump on any change to
// the field encoding below.
const domainState = "cinder/state/v1"

// computeHashLocked derives the content hash anchoring long polls.
// Fields are folded in a fixed order with explicit length framing, so
// logically identical states always hash identically and no field
// boundary ambiguity exists. Must be called with the mutex held.
func (s *State) computeHashLocked() string {
	h := sha256.New()
	h.Write([]byte(domainState))

	writeStr := func(v string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(v)))
		h.Write(n[:])
		h.Write([]byte(v))
	}
	writeBytes := func(v []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(v)))
		h.Write(n[:])
		h.Write(v)
	}
	writeInt := func(v int64) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(v))
		h.Write(n[:])
	}

	writeStr(s.allocationID)

	writeInt(int64(len(s.updates)))
	for _, u := range s.updates {
		writeStr(string(u.Kind))
		writeStr(u.ID)
		writeStr(u.Function)
		writeBytes(u.CallMetadata)
	}

	writeInt(int64(len(s.watchers)))
	for _, w := range s.watchers {
		writeStr(w.ID)
		writeStr(w.Key)
	}

	writeInt(int64(len(s.outputs)))
	for _, r := range s.outputs {
		writeStr(r.ID)
		writeStr(r.Key)
		writeInt(r.Size)
		if r.Blob != nil {
			writeStr(r.Blob.Name)
			writeStr(r.Blob.ETag)
			writeInt(r.Blob.Size())
		} else {
			writeInt(-1)
		}
	}

	if s.progress != nil {
		writeInt(1)
		writeInt(s.progress.Current)
		writeInt(s.progress.Total)
	} else {
		writeInt(0)
	}

	if s.result != nil {
		writeInt(1)
		writeStr(string(s.result.Kind))
		writeStr(s.result.ValueID)
		writeStr(s.result.ErrorCode)
		writeStr(s.result.Message)
	} else {
		writeInt(0)
	}

	return hex.EncodeToString(h.Sum(nil))
}

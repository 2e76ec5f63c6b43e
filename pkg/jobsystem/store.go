package jobsystem

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/vmihailenco/msgpack/v5"
)

// jobsInitialCapacity mirrors the reference runner's JOBS_INITIAL_CAPACITY,
// used both to presize the dedup maps and as the clean_memory shrink
// threshold.
const jobsInitialCapacity = 32

// hashIndex dedups concurrent job submissions by hash. A Bloom filter
// sits in front of the exact map: a negative hit means the hash is
// definitely new, skipping a map probe under high submission fan-in; a
// positive hit still confirms against the map since a Bloom filter can
// false-positive. Removed hashes stay set in the filter, so it is
// rebuilt from the exact map once the insert counter passes
// jobsInitialCapacity*8 (the bloom package does not expose live FP-rate
// tracking), and also by the runner's periodic memory clean-up.
type hashIndex struct {
	mu      sync.Mutex
	exact   map[uint64]JobID
	filter  *bloom.BloomFilter
	inserts int
}

func newHashIndex() *hashIndex {
	return &hashIndex{
		exact:  make(map[uint64]JobID, jobsInitialCapacity),
		filter: bloom.NewWithEstimates(jobsInitialCapacity*4, 0.01),
	}
}

// lookup returns the JobID already running under hash, if any.
func (h *hashIndex) lookup(hash uint64) (JobID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := []byte(shortHashHex(hash))
	if !h.filter.Test(key) {
		return JobID{}, false
	}
	id, ok := h.exact[hash]
	return id, ok
}

func (h *hashIndex) insert(hash uint64, id JobID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exact[hash] = id
	h.filter.Add([]byte(shortHashHex(hash)))
	h.inserts++
	if h.inserts > jobsInitialCapacity*8 {
		h.rebuildLocked()
	}
}

func (h *hashIndex) remove(hash uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.exact, hash)
}

// rebuildLocked discards the filter's accumulated false-positive debt by
// reconstructing it from the exact set currently live.
func (h *hashIndex) rebuildLocked() {
	h.filter = bloom.NewWithEstimates(uint(len(h.exact)*4+jobsInitialCapacity), 0.01)
	for hash := range h.exact {
		h.filter.Add([]byte(shortHashHex(hash)))
	}
	h.inserts = 0
}

func (h *hashIndex) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.exact)
}

// StoredChildJob is one not-yet-started link of a root job's resume
// chain, frozen via its own SerializableJob.Serialize at shutdown time
// so it can be rebuilt (by name, via whatever deserializer registry the
// caller maintains) without ever having run.
type StoredChildJob struct {
	Name JobName `msgpack:"name"`
	Data []byte  `msgpack:"data"`
}

// StoredJobEntry is one suspended job kept across a shutdown: its
// identity, the serialized remaining tasks it was running (handed back
// to ResumeTasks on restart), and any not-yet-started children of its
// resume chain that also opted into serialization.
type StoredJobEntry struct {
	LocationID LocationID       `msgpack:"location_id"`
	JobID      JobID            `msgpack:"job_id"`
	Name       JobName          `msgpack:"name"`
	Tasks      [][]byte         `msgpack:"tasks"`
	NextJobs   []StoredChildJob `msgpack:"next_jobs"`
}

// SaveJobs writes every entry bucketed by the OuterContext it ran under
// to path, MessagePack-encoded, matching the reference jobs.bin format.
//
// Unlike the reference implementation, the write goes through a temp
// file plus rename so a crash or power loss mid-write can never leave
// jobs.bin truncated or corrupt; rename is atomic on the same
// filesystem, which the temp file is by construction (same directory).
func SaveJobs(path string, entries map[CtxID][]StoredJobEntry) error {
	if len(entries) == 0 {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jobsystem: create data directory: %w", err)
	}
	data, err := msgpack.Marshal(entries)
	if err != nil {
		return fmt.Errorf("jobsystem: encode stored jobs: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("jobsystem: create temp stored-jobs file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jobsystem: write stored jobs: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jobsystem: sync stored jobs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jobsystem: close stored jobs: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jobsystem: chmod stored jobs: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jobsystem: rename stored jobs into place: %w", err)
	}
	return nil
}

// LoadStoredJobs reads back a file written by SaveJobs. A missing file
// is not an error: it just means nothing was pending at the last clean
// shutdown (or this is the first run).
func LoadStoredJobs(path string) (map[CtxID][]StoredJobEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[CtxID][]StoredJobEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobsystem: read stored jobs: %w", err)
	}
	var entries map[CtxID][]StoredJobEntry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("jobsystem: decode stored jobs: %w", err)
	}
	return entries, nil
}

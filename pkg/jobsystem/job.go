// Package jobsystem implements a persistent, composable job
// orchestration layer above the tasksystem work-stealing engine: jobs
// dispatch tasks, report progress through a Report persisted via a
// DbSink, can be paused/resumed/canceled as a group with their
// children, and survive process shutdown by serializing unfinished
// work to disk.
package jobsystem

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// JobID opaquely identifies one job instance for its entire lifetime.
type JobID uuid.UUID

func NewJobID() JobID       { return JobID(uuid.New()) }
func (id JobID) String() string { return uuid.UUID(id).String() }

// CtxID identifies the OuterContext a job ran under, used to bucket
// shutdown-persisted jobs so they can be resumed against the right
// collaborator set.
type CtxID string

// LocationID identifies the indexed location (or other addressable
// target) a job runs against, e.g. a library root path or volume id.
// Paired with a JobName it forms the running-set membership the job
// system dedups submissions by and the identity a StoredJobEntry is
// resumed under.
type LocationID string

// JobName is the registry of job kinds this system knows how to run
// and resume, mirroring the reference system's JobName enum plus the
// jobs this expansion adds.
type JobName string

const (
	JobNameIndexer        JobName = "indexer"
	JobNameFileIdentifier JobName = "file_identifier"
	JobNameMediaProcessor JobName = "media_processor"
	JobNameLocationWatch  JobName = "location_watch"
)

// ReturnStatus is what Job.Run hands back to the runner: either a
// finished JobReturn, a shutdown request carrying the job's own
// serialized remaining tasks, or a plain cancellation.
type ReturnStatus struct {
	Kind   ReturnKind
	Return *JobReturn
	// Shutdown holds one blob per still-live task the job owned when it
	// was asked to stop, in the shape ResumeTasks expects back; nil or
	// empty means nothing to resume (the job opted out, matching the
	// reference's serialize() -> None).
	Shutdown [][]byte
	Err      error
}

type ReturnKind int

const (
	ReturnCompleted ReturnKind = iota
	ReturnShutdown
	ReturnCanceled
	ReturnErrored
)

// ProgressUpdate is one step of progress a Job reports while running;
// JobContext.Progress fans these into the Report's phase/message/
// completed_task_count fields.
type ProgressUpdate struct {
	Message            string
	Phase              string
	CompletedTaskCount *int32
	TaskCount          *int32
}

func ProgressMessage(msg string) ProgressUpdate { return ProgressUpdate{Message: msg} }
func ProgressPhase(phase string) ProgressUpdate { return ProgressUpdate{Phase: phase} }

// JobReturn is the successful output of a job: arbitrary result data,
// metadata to merge into its Report, and any non-critical errors
// encountered along the way (critical errors instead fail the job
// outright via ReturnErrored).
type JobReturn struct {
	Data              []byte
	Metadata          map[string]any
	NonCriticalErrors []string
}

// JobReturnBuilder assembles a JobReturn the way the reference
// implementation's builder does, one optional field at a time.
type JobReturnBuilder struct {
	r JobReturn
}

func NewJobReturn() *JobReturnBuilder { return &JobReturnBuilder{} }

func (b *JobReturnBuilder) WithData(data []byte) *JobReturnBuilder {
	b.r.Data = data
	return b
}

func (b *JobReturnBuilder) WithMetadata(meta map[string]any) *JobReturnBuilder {
	b.r.Metadata = meta
	return b
}

func (b *JobReturnBuilder) WithNonCriticalErrors(errs []string) *JobReturnBuilder {
	b.r.NonCriticalErrors = errs
	return b
}

func (b *JobReturnBuilder) Build() JobReturn { return b.r }

// OuterContext is the external collaborator set a job needs: identity,
// persistence, cache invalidation, and a data directory for scratch
// files (thumbnails, shutdown state, indexes).
type OuterContext interface {
	ID() CtxID
	DbSink() DbSink
	InvalidateQuery(query string)
	GetDataDirectory() string
}

// JobContext is the per-job view a Job.Run implementation gets: it can
// push progress, read/mutate its own Report, and reach back to the
// OuterContext for collaborators.
type JobContext interface {
	Progress(updates []ProgressUpdate)
	Report() *Report
	OuterContext() OuterContext
}

// Job is one runnable, resumable unit of orchestration. Name identifies
// it in the registry; Hash lets the runner dedup concurrent submissions
// of work that is semantically the same job (e.g. two requests to index
// the same location).
type Job interface {
	Name() JobName
	Hash() uint64
	Run(ctx context.Context, jc JobContext, dispatcher *TaskDispatcher) ReturnStatus
}

// ResumableJob additionally knows how to pick up tasks that were left
// running (and were serialized) when the process shut down mid-job.
type ResumableJob interface {
	Job
	ResumeTasks(ctx context.Context, jc JobContext, dispatcher *TaskDispatcher, serializedTasks [][]byte)
}

// SerializableJob can freeze its own remaining work (not just its
// tasks) when asked to shut down, so a future process can rebuild it.
type SerializableJob interface {
	Job
	Serialize(ctx context.Context) ([]byte, error)
}

// HashJobKey combines a job name with an arbitrary key (e.g. a location
// path or file id) into the stable uint64 Job.Hash is expected to
// return, mirroring the reference system's JobName-plus-struct-hash
// dedup key.
func HashJobKey(name JobName, key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return h.Sum64()
}

// shortHashHex is used when building the bloom filter's byte key for a
// job hash; kept separate from HashJobKey so callers never need to
// think about the filter's internal representation.
func shortHashHex(h uint64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h)
	sum := sha256.Sum256(b[:])
	return hex.EncodeToString(sum[:8])
}

// now is the single indirection point for wall-clock reads in this
// package, so report/job timestamps stay easy to stub from tests.
var now = time.Now

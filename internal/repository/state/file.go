package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/metadeploy/internal/config"
	"github.com/oshokin/metadeploy/internal/domain/deployment"
)

// Record field names of the persisted document.
const (
	fieldRunID     = "run_id"
	fieldTimestamp = "timestamp"
	fieldActor     = "actor"
	fieldHostname  = "hostname"
	fieldUsername  = "username"
	fieldCheckOnly = "check_only"
	fieldJobs      = "jobs"
	fieldTrack     = "track"
	fieldJobID     = "job_id"
	fieldState     = "state"
	fieldStatus    = "status"
)

// Repository defines persistence operations for the run record.
type Repository interface {
	Load(ctx context.Context) (*deployment.Record, error)
	Save(ctx context.Context, record *deployment.Record) error
}

// FileRepository persists the run record to a JSON file on disk.
// JSON is produced and consumed via protobuf JSON (protojson) over a structpb document.
type FileRepository struct {
	// path is the filesystem location of the JSON record file.
	path string
	// mu protects concurrent access to the record file.
	mu sync.Mutex
}

// ErrNotFound is returned when the record file does not exist yet.
var ErrNotFound = errors.New("run record not found")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the location of the record file.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the record from disk.
func (r *FileRepository) Load(_ context.Context) (*deployment.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read record file: %w", err)
	}

	var document structpb.Struct
	if err = protojson.Unmarshal(contents, &document); err != nil {
		return nil, fmt.Errorf("decode record file: %w", err)
	}

	return fromProto(&document)
}

// Save writes the record to disk using JSON representation.
func (r *FileRepository) Save(_ context.Context, record *deployment.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	document, err := toProto(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
		Indent:    "  ",
	}

	data, err := marshalOptions.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(r.path), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create record directory: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write record file: %w", err)
	}

	return nil
}

// fromProto converts the persisted document into the domain Record model.
func fromProto(document *structpb.Struct) (*deployment.Record, error) {
	fields := document.GetFields()

	record := &deployment.Record{
		RunID:     fields[fieldRunID].GetStringValue(),
		CheckOnly: fields[fieldCheckOnly].GetBoolValue(),
	}

	if raw := fields[fieldTimestamp].GetStringValue(); raw != "" {
		timestamp, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode timestamp: %w", err)
		}

		record.Timestamp = timestamp
	}

	if actor := fields[fieldActor].GetStructValue(); actor != nil {
		record.Actor = &deployment.Actor{
			Hostname: actor.GetFields()[fieldHostname].GetStringValue(),
			Username: actor.GetFields()[fieldUsername].GetStringValue(),
		}
	}

	for _, value := range fields[fieldJobs].GetListValue().GetValues() {
		job := value.GetStructValue().GetFields()

		record.Jobs = append(record.Jobs, deployment.JobSummary{
			Track:  deployment.TrackKind(job[fieldTrack].GetStringValue()),
			JobID:  job[fieldJobID].GetStringValue(),
			State:  deployment.TrackState(job[fieldState].GetStringValue()),
			Status: deployment.Status(job[fieldStatus].GetStringValue()),
		})
	}

	return record, nil
}

// toProto converts the domain Record model into the persisted document.
func toProto(record *deployment.Record) (*structpb.Struct, error) {
	jobs := make([]any, 0, len(record.Jobs))
	for _, job := range record.Jobs {
		jobs = append(jobs, map[string]any{
			fieldTrack:  string(job.Track),
			fieldJobID:  job.JobID,
			fieldState:  string(job.State),
			fieldStatus: string(job.Status),
		})
	}

	document := map[string]any{
		fieldRunID:     record.RunID,
		fieldCheckOnly: record.CheckOnly,
		fieldJobs:      jobs,
	}

	if !record.Timestamp.IsZero() {
		document[fieldTimestamp] = record.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	if record.Actor != nil {
		document[fieldActor] = map[string]any{
			fieldHostname: record.Actor.Hostname,
			fieldUsername: record.Actor.Username,
		}
	}

	return structpb.NewStruct(document)
}

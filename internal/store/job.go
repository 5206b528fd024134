package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// JobSource records where a batch video came from.
type JobSource string

const (
	SourceUpload JobSource = "upload"
	SourceS3     JobSource = "s3"
	SourcePath   JobSource = "path"
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Job is one stored batch extraction and its full report.
type Job struct {
	ID              string          `json:"id"`
	VideoName       string          `json:"video_name"`
	Source          JobSource       `json:"source"`
	SampleRate      int             `json:"sample_rate"`
	MaxFrames       int             `json:"max_frames"`
	Success         bool            `json:"success"`
	Error           string          `json:"error,omitempty"`
	FramesProcessed int             `json:"frames_processed"`
	DetectionRate   float64         `json:"detection_rate"`
	Report          json.RawMessage `json:"report,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// JobRepository provides CRUD operations for keypoint jobs.
type JobRepository struct {
	db *sql.DB
}

// Jobs returns the job repository for this store.
func (s *Store) Jobs() *JobRepository {
	return &JobRepository{db: s.db}
}

// Create inserts a job. CreatedAt is set to now.
func (r *JobRepository) Create(j *Job) error {
	j.CreatedAt = time.Now().UTC()
	report := j.Report
	if len(report) == 0 {
		report = json.RawMessage("{}")
	}

	_, err := r.db.Exec(
		`INSERT INTO keypoint_jobs (id, video_name, source, sample_rate, max_frames, success, error,
			frames_processed, detection_rate, report, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.VideoName, string(j.Source), j.SampleRate, j.MaxFrames, j.Success, j.Error,
		j.FramesProcessed, j.DetectionRate, string(report), j.CreatedAt,
	)
	return err
}

// GetByID retrieves a job including its report.
func (r *JobRepository) GetByID(id string) (*Job, error) {
	row := r.db.QueryRow(
		`SELECT id, video_name, source, sample_rate, max_frames, success, error,
			frames_processed, detection_rate, report, created_at
		 FROM keypoint_jobs WHERE id = ?`,
		id,
	)

	j, err := scanJob(row.Scan, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

// List returns the newest jobs first, without their reports.
func (r *JobRepository) List(limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.Query(
		`SELECT id, video_name, source, sample_rate, max_frames, success, error,
			frames_processed, detection_rate, '', created_at
		 FROM keypoint_jobs ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows.Scan, false)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}

// Delete removes a job by ID.
func (r *JobRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM keypoint_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func scanJob(scan func(dest ...any) error, withReport bool) (*Job, error) {
	j := &Job{}
	var source, report string

	err := scan(&j.ID, &j.VideoName, &source, &j.SampleRate, &j.MaxFrames, &j.Success, &j.Error,
		&j.FramesProcessed, &j.DetectionRate, &report, &j.CreatedAt)
	if err != nil {
		return nil, err
	}

	j.Source = JobSource(source)
	if withReport {
		j.Report = json.RawMessage(report)
	}
	return j, nil
}

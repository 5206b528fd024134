package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per batch extraction request
		`CREATE TABLE IF NOT EXISTS keypoint_jobs (
			id TEXT PRIMARY KEY,
			video_name TEXT NOT NULL,
			source TEXT NOT NULL CHECK(source IN ('upload', 's3', 'path')),
			sample_rate INTEGER NOT NULL,
			max_frames INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			frames_processed INTEGER NOT NULL DEFAULT 0,
			detection_rate REAL NOT NULL DEFAULT 0,
			report TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_keypoint_jobs_created_at ON keypoint_jobs(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}

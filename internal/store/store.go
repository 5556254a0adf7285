// Package store persists robots (saved workflows) and their runs with
// gorm on sqlite.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/shehryarbajwa/browserflow/internal/config"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

var (
	ErrRobotNotFound = errors.New("robot not found")
	ErrRunNotFound   = errors.New("run not found")
)

// Robot is a saved workflow.
type Robot struct {
	ID        string              `gorm:"primaryKey;size:36"`
	UserID    string              `gorm:"index;size:128;not null"`
	Name      string              `gorm:"size:255"`
	Workflow  models.WorkflowFile `gorm:"serializer:json"`
	Params    []string            `gorm:"serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Run is one replay of a robot.
type Run struct {
	ID           string           `gorm:"primaryKey;size:36"`
	RobotID      string           `gorm:"index;size:36;not null"`
	UserID       string           `gorm:"index;size:128"`
	Status       models.RunStatus `gorm:"index;size:16;not null"`
	Log          string
	Output       []map[string]any `gorm:"serializer:json"`
	ArtifactPath string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Model returns the API form of the robot.
func (r *Robot) Model() models.Robot {
	return models.Robot{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		Workflow:  r.Workflow,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Model returns the API form of the run.
func (r *Run) Model() models.Run {
	return models.Run{
		ID:         r.ID,
		RobotID:    r.RobotID,
		Status:     r.Status,
		Log:        r.Log,
		Output:     r.Output,
		Artifact:   r.ArtifactPath,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// Store wraps the database handle.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the database named by cfg.DSN and migrates the schema.
func Open(cfg config.StoreConfig, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	// sqlite serializes writers; one connection also keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Robot{}, &Run{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database connected", zap.String("dsn", cfg.DSN))
	return &Store{db: db, logger: logger.With(zap.String("component", "store"))}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRobot saves a workflow under a new id.
func (s *Store) CreateRobot(ctx context.Context, userID, name string, file models.WorkflowFile) (*Robot, error) {
	now := time.Now().UTC()
	r := &Robot{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Params:    file.Meta.Params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	file.Meta.ID = r.ID
	file.Meta.Name = name
	file.Meta.CreatedAt = now
	file.Meta.UpdatedAt = now
	r.Workflow = file

	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, fmt.Errorf("create robot: %w", err)
	}
	s.logger.Info("robot saved", zap.String("robot_id", r.ID), zap.String("user_id", userID), zap.Int("rules", len(file.Workflow)))
	return r, nil
}

// GetRobot loads a robot by id.
func (s *Store) GetRobot(ctx context.Context, id string) (*Robot, error) {
	var r Robot
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRobotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get robot: %w", err)
	}
	return &r, nil
}

// ListRobots returns the user's robots, newest first.
func (s *Store) ListRobots(ctx context.Context, userID string) ([]Robot, error) {
	var out []Robot
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list robots: %w", err)
	}
	return out, nil
}

// UpdateRobotWorkflow replaces the workflow of a robot.
func (s *Store) UpdateRobotWorkflow(ctx context.Context, id string, file models.WorkflowFile) (*Robot, error) {
	r, err := s.GetRobot(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	file.Meta.ID = r.ID
	file.Meta.Name = r.Name
	file.Meta.CreatedAt = r.CreatedAt
	file.Meta.UpdatedAt = now
	r.Workflow = file
	r.Params = file.Meta.Params
	r.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(r).Error; err != nil {
		return nil, fmt.Errorf("update robot: %w", err)
	}
	return r, nil
}

// DeleteRobot removes a robot and its runs.
func (s *Store) DeleteRobot(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&Robot{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete robot: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrRobotNotFound
		}
		if err := tx.Delete(&Run{}, "robot_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete runs: %w", err)
		}
		return nil
	})
}

// CreateRun records a queued run of robotID.
func (s *Store) CreateRun(ctx context.Context, robotID, userID string) (*Run, error) {
	r := &Run{
		ID:        uuid.NewString(),
		RobotID:   robotID,
		UserID:    userID,
		Status:    models.RunQueued,
		StartedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return r, nil
}

// SaveRun writes every field of r.
func (s *Store) SaveRun(ctx context.Context, r *Run) error {
	if err := s.db.WithContext(ctx).Save(r).Error; err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var r Run
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// ListRuns returns the runs of a robot, newest first.
func (s *Store) ListRuns(ctx context.Context, robotID string) ([]Run, error) {
	var out []Run
	if err := s.db.WithContext(ctx).Where("robot_id = ?", robotID).Order("started_at desc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// AbortUnfinished marks runs left queued or running by a previous process
// as aborted and returns how many it changed.
func (s *Store) AbortUnfinished(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&Run{}).
		Where("status IN ?", []models.RunStatus{models.RunQueued, models.RunRunning}).
		Updates(map[string]any{"status": models.RunAborted, "finished_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("abort unfinished runs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Warn("aborted unfinished runs", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

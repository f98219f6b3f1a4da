package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/postpipe/internal/connector"
	"github.com/postpipe/internal/db"
	"github.com/postpipe/internal/logging"
	"github.com/postpipe/internal/render"
	"gorm.io/gorm"
)

// Options configures the services built by New. Zero values fall back to
// the defaults noted on each field.
type Options struct {
	Clock      Clock            // SystemClock()
	Logger     *slog.Logger     // discard
	Renderer   *render.Renderer // uncached rendering
	Connectors *connector.Registry
	Generator  *GenerationService

	MaxAttempts      int             // 3
	Backoff          []time.Duration // 1s, 5s, 25s
	ConnectorTimeout time.Duration   // 30s
	QACheckTimeout   time.Duration   // 10s
	DefaultChecks    []db.CheckType  // all registered checks
	SweepConcurrency int             // 4
	DefaultOrgID     string          // "default"

	// sleep replaces the backoff wait in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Services groups the lifecycle engine components sharing one database,
// one clock and one set of per-post locks.
type Services struct {
	Posts      *PostService
	Versions   *VersionService
	QA         *QAService
	Publish    *PublishService
	Scheduler  *Scheduler
	Generation *GenerationService
	Connectors *connector.Registry
}

// core is embedded in every service.
type core struct {
	db     *gorm.DB
	locks  *keyedLocks
	clock  Clock
	logger *slog.Logger
}

// New wires the services together.
func New(gdb *gorm.DB, opts Options) *Services {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Connectors == nil {
		opts.Connectors = connector.NewRegistry()
	}
	if opts.DefaultOrgID == "" {
		opts.DefaultOrgID = "default"
	}

	c := core{db: gdb, locks: newKeyedLocks(), clock: opts.Clock, logger: opts.Logger}

	versions := &VersionService{core: c}
	qa := newQAService(c, opts.QACheckTimeout, opts.DefaultChecks, opts.Renderer)
	posts := &PostService{core: c, versions: versions, qa: qa, defaultOrg: opts.DefaultOrgID}
	publish := newPublishService(c, qa, opts)
	scheduler := newScheduler(c, publish, opts.SweepConcurrency)

	generation := opts.Generator
	if generation != nil {
		generation.posts = posts
	}

	return &Services{
		Posts:      posts,
		Versions:   versions,
		QA:         qa,
		Publish:    publish,
		Scheduler:  scheduler,
		Generation: generation,
		Connectors: opts.Connectors,
	}
}

func loadPostTx(tx *gorm.DB, postID uint) (*db.Post, error) {
	var post db.Post
	if err := tx.First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

func currentVersionTx(tx *gorm.DB, postID uint) (*db.Version, error) {
	var version db.Version
	err := tx.Where("post_id = ? AND is_current = ?", postID, true).First(&version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return &version, nil
}

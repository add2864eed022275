package rolecooldown

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"

	postgresNotifyChannelGuildUpdated         = "rolecooldown_guild_updated"
	postgresNotifyChannelRuntimeConfigUpdated = "rolecooldown_reload_runtime_config"
	postgresNotifyChannelStop                 = "rolecooldown_stop"
	recordSeparator                           = string(rune(30))
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout    = 30 * time.Second
	dbNotifierSendTimeout = 15 * time.Second
	dbListenRetryInterval = 5 * time.Second
)

// ModelUnixTime is an embeddable model with Unix millisecond timestamps
// for creation and update. Rows are hard-deleted.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

// database wraps a gorm connection. When concurrent writes are disabled
// (sqlite), writes are serialized with a mutex.
//
// Every operation that receives a context without a deadline gets
// dbOperationTimeout applied.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewDatabase returns a DBI backed by the given gorm connection.
// If log is nil, the default logger is used.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) lock() func() {
	if d.enableConcurrentWrites {
		return func() {}
	}
	d.mu.Lock()
	return d.mu.Unlock
}

func withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	defer d.lock()()
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Save(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	defer d.lock()()
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	defer d.lock()()
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(ctx context.Context, value any, conds ...any) (
	rowsAffected int64,
	err error,
) {
	defer d.lock()()
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) error {
	defer d.lock()()
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

// DBI defines the interface for database write operations. Reads
// go through DB() directly.
type DBI interface {
	DB() *gorm.DB
	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Save(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Updates(ctx context.Context, model any, values any) (rowsAffected int64, err error)
	Delete(ctx context.Context, value any, conds ...any) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) error
}

// CreateDB initializes and returns a GORM database connection based on the
// specified database type, and migrates the schema.
//
// Parameters:
//   - ctx: The context for the database operations.
//   - databaseType: The type of the database, must be 'sqlite' or 'postgres'.
//   - database: The database connection string, or SQLite file path.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := newLogHandler(slog.LevelWarn, "")
	gormLogger := newGORMLogger(handler, 500*time.Millisecond)

	slog.New(handler).InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	err = db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			return tx.Migrator().AutoMigrate(
				&GuildMentionables{},
				&GuildConfig{},
				&RuntimeConfig{},
			)
		},
	)
	if err != nil {
		return db, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}

// getDB initializes and returns a GORM database connection based on the
// specified database type.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0o755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), gormConfig)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), gormConfig)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// initSQLite applies connection limits and pragmas for sqlite, which
// only supports a single writer.
func initSQLite(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
	sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

	for _, pragma := range sqliteExecPragma {
		if err = db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("error executing %q: %w", pragma, err)
		}
	}
	return nil
}

// DBNotifier notifies bot instances sharing a database of changes
// made by another instance.
type DBNotifier interface {
	// GuildUpdated announces that a guild's mentionables were written,
	// so other instances drop their cached copy.
	GuildUpdated(ctx context.Context, guildID string) bool

	// ReloadRuntimeConfig announces that the RuntimeConfig was updated
	ReloadRuntimeConfig(ctx context.Context) bool

	// Stop sends a shutdown signal to all bots
	Stop(ctx context.Context) bool

	// ID returns the identifier for this notifier. DBNotifier instances
	// use this ID to filter out their own notifications.
	ID() string

	// Listen blocks, handling notifications from other instances,
	// until ctx is canceled
	Listen(ctx context.Context) error
}

func newDBNotifier(b *Bot) (DBNotifier, error) {
	notifyID := uuid.NewString()
	log := b.logger.With(loggerNameKey, "db_notifier")

	switch b.config.DatabaseType {
	case dbTypeSQLite:
		return &sqliteNotifier{
			logger:   log,
			bot:      b,
			notifyID: notifyID,
		}, nil
	case dbTypePostgres:
		return &postgresNotifier{
			bot:      b,
			logger:   log,
			notifyID: notifyID,
		}, nil
	default:
		return nil, errors.New("invalid database type")
	}
}

// sqliteNotifier is used when only a single process can own the
// database, so notifications are delivered in-process.
type sqliteNotifier struct {
	logger   *slog.Logger
	bot      *Bot
	notifyID string
}

func (s *sqliteNotifier) ID() string {
	return s.notifyID
}

func (s *sqliteNotifier) Listen(ctx context.Context) error {
	s.logger.DebugContext(ctx, "sqlite notifier has nothing to listen to")
	<-ctx.Done()
	return nil
}

func (s *sqliteNotifier) GuildUpdated(_ context.Context, guildID string) bool {
	s.logger.Debug("guild updated", "guild_id", guildID)
	return true
}

func (s *sqliteNotifier) Stop(ctx context.Context) bool {
	s.logger.Info("notifying stop signal")
	select {
	case s.bot.signalStop <- struct{}{}:
		return true
	case <-ctx.Done():
		s.logger.Warn("timeout sending stop signal")
		return false
	}
}

func (s *sqliteNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	s.logger.Info("got runtime config reload notification")
	select {
	case s.bot.triggerRuntimeConfigRefreshCh <- true:
		return true
	case <-ctx.Done():
		s.logger.Warn("timeout sending runtime config refresh signal")
		return false
	default:
		// a refresh is already pending
		return true
	}
}

// postgresNotifier uses LISTEN/NOTIFY to reach other instances
type postgresNotifier struct {
	bot      *Bot
	logger   *slog.Logger
	notifyID string
}

func (p *postgresNotifier) ID() string {
	return p.notifyID
}

func (p *postgresNotifier) notify(ctx context.Context, channel string, payload string) bool {
	err := p.bot.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		channel,
		payload,
	).Error
	if err != nil {
		p.logger.ErrorContext(
			ctx,
			"error sending NOTIFY",
			"channel", channel,
			tint.Err(err),
		)
		return false
	}
	p.logger.DebugContext(ctx, "sent notification", "channel", channel, "payload", payload)
	return true
}

func (p *postgresNotifier) GuildUpdated(ctx context.Context, guildID string) bool {
	return p.notify(
		ctx,
		postgresNotifyChannelGuildUpdated,
		newGuildUpdatedNotificationMessage(p.ID(), guildID),
	)
}

func (p *postgresNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	sent := p.notify(ctx, postgresNotifyChannelRuntimeConfigUpdated, p.ID())

	select {
	case p.bot.triggerRuntimeConfigRefreshCh <- true:
	case <-ctx.Done():
		p.logger.Warn("timeout sending runtime config refresh signal")
	}
	return sent
}

func (p *postgresNotifier) Stop(ctx context.Context) bool {
	return p.notify(ctx, postgresNotifyChannelStop, p.ID())
}

func (p *postgresNotifier) Listen(ctx context.Context) error {
	config, err := pgxpool.ParseConfig(p.bot.config.Database)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error parsing database config", tint.Err(err))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error creating connection pool", tint.Err(err))
		return err
	}
	defer pool.Close()

	return p.receive(ctx, listenOnPool(pool), dbListenRetryInterval, p.handleNotification)
}

// notificationConn is a connection with LISTEN already issued for every
// notifier channel
type notificationConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

type pgListenConn struct {
	*pgxpool.Conn
}

func (c pgListenConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.Conn.Conn().WaitForNotification(ctx)
}

// listenOnPool returns a func that acquires a connection from the pool
// and subscribes it to the notifier channels
func listenOnPool(pool *pgxpool.Pool) func(context.Context) (notificationConn, error) {
	return func(ctx context.Context) (notificationConn, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("error acquiring connection: %w", err)
		}
		for _, channel := range []string{
			postgresNotifyChannelGuildUpdated,
			postgresNotifyChannelRuntimeConfigUpdated,
			postgresNotifyChannelStop,
		} {
			if _, err = conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel)); err != nil {
				conn.Release()
				return nil, fmt.Errorf("error listening on %s: %w", channel, err)
			}
		}
		return pgListenConn{Conn: conn}, nil
	}
}

// receive passes notifications to handle until ctx is done. When waiting
// on the connection fails, the connection is released and a new one is
// acquired after retryInterval.
func (p *postgresNotifier) receive(
	ctx context.Context,
	acquire func(context.Context) (notificationConn, error),
	retryInterval time.Duration,
	handle func(context.Context, *pgconn.Notification),
) error {
	conn, err := acquire(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error setting up listener", tint.Err(err))
		return err
	}
	defer func() {
		if conn != nil {
			conn.Release()
		}
	}()
	p.logger.InfoContext(ctx, "started db listener")

	for ctx.Err() == nil {
		if conn == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryInterval):
			}
			c, e := acquire(ctx)
			if e != nil {
				p.logger.ErrorContext(ctx, "Error re-establishing listener", tint.Err(e))
				continue
			}
			conn = c
			p.logger.InfoContext(ctx, "re-established db listener")
		}

		notification, e := conn.WaitForNotification(ctx)
		if e != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.ErrorContext(ctx, "Error waiting for notification", tint.Err(e))
			conn.Release()
			conn = nil
			continue
		}
		handle(ctx, notification)
	}

	return nil
}

func (p *postgresNotifier) handleNotification(ctx context.Context, notification *pgconn.Notification) {
	logger := p.logger.With("channel", notification.Channel)
	switch notification.Channel {
	case postgresNotifyChannelGuildUpdated:
		notifierID, guildID := parseGuildUpdatedNotification(notification.Payload)
		if notifierID == p.ID() {
			return
		}
		logger.InfoContext(ctx, "guild updated by another instance", "guild_id", guildID)
		p.bot.engine.Invalidate(guildID)
	case postgresNotifyChannelRuntimeConfigUpdated:
		if notification.Payload == p.ID() {
			return
		}
		logger.InfoContext(ctx, "received notification for runtime config update")
		select {
		case p.bot.triggerRuntimeConfigRefreshCh <- true:
		case <-time.After(dbNotifierSendTimeout):
			logger.Warn("timed out sending config refresh signal")
		}
	case postgresNotifyChannelStop:
		logger.InfoContext(ctx, "received stop signal via NOTIFY")
		select {
		case p.bot.signalStop <- struct{}{}:
		case <-time.After(dbNotifierSendTimeout):
			logger.Warn("timed out forwarding stop signal")
		}
	default:
		logger.Warn("received unknown notification")
	}
}

func parseGuildUpdatedNotification(s string) (notifierID, guildID string) {
	before, after, _ := strings.Cut(s, recordSeparator)
	return before, after
}

func newGuildUpdatedNotificationMessage(notifierID string, guildID string) string {
	return strings.Join([]string{notifierID, guildID}, recordSeparator)
}

package tenant

import (
	"context"
	"sync"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/apperror"
	"github.com/ManuelReschke/TenantDesk/internal/pkg/metrics"
)

const defaultPingTimeout = 5 * time.Second

// Opener turns a domain's connection parameters into a gorm dialector
type Opener func(domain *models.Domain) (gorm.Dialector, error)

// ActivationObserver is called after every successful activation
type ActivationObserver func(ctx context.Context, domain *models.Domain)

// Connection is a live handle to one domain's database. Handles given out
// by the Router are snapshots; they are never changed after creation.
type Connection struct {
	Domain      models.Domain
	DB          *gorm.DB
	fingerprint string
	pool        *pool
}

// DomainID returns the id of the domain this connection points at
func (c *Connection) DomainID() uint {
	return c.Domain.ID
}

// Close retires the connection. A pool still held by a request is closed
// when the last holder lets go.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	if c.pool != nil {
		return c.pool.retire()
	}
	return closeDB(c.DB)
}

func closeDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// pool counts the requests working on one database handle
type pool struct {
	mu      sync.Mutex
	db      *gorm.DB
	holders int
	retired bool
}

func (p *pool) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retired {
		return false
	}
	p.holders++
	return true
}

func (p *pool) release() error {
	p.mu.Lock()
	p.holders--
	last := p.retired && p.holders == 0
	p.mu.Unlock()
	if last {
		return closeDB(p.db)
	}
	return nil
}

func (p *pool) retire() error {
	p.mu.Lock()
	if p.retired {
		p.mu.Unlock()
		return nil
	}
	p.retired = true
	idle := p.holders == 0
	p.mu.Unlock()
	if idle {
		return closeDB(p.db)
	}
	return nil
}

type entry struct {
	conn     *Connection
	lastUsed time.Time
}

// Router maps operator sessions to tenant database connections. A session
// owns its connection exclusively; there is no default connection.
type Router struct {
	mu          sync.Mutex
	open        Opener
	conns       map[string]*entry
	observer    ActivationObserver
	pingTimeout time.Duration
	idleTimeout time.Duration
	now         func() time.Time
	gormConfig  *gorm.Config
}

type Option func(*Router)

// WithObserver registers a callback for successful activations
func WithObserver(o ActivationObserver) Option {
	return func(r *Router) {
		r.observer = o
	}
}

// WithPingTimeout bounds the reachability check of a new connection
func WithPingTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.pingTimeout = d
	}
}

// WithIdleTimeout drops session connections unused for d. It should match
// the session lifetime.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.idleTimeout = d
	}
}

func NewRouter(open Opener, opts ...Option) *Router {
	r := &Router{
		open:        open,
		conns:       make(map[string]*entry),
		pingTimeout: defaultPingTimeout,
		now:         time.Now,
		gormConfig:  &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open establishes a connection that is not bound to any session. The caller closes it.
func (r *Router) Open(ctx context.Context, domain *models.Domain) (*Connection, error) {
	if domain == nil || domain.ID == 0 {
		return nil, apperror.Connection(nil, "unknown domain")
	}
	if !domain.HasConnectionParams() {
		return nil, apperror.Connection(nil, "domain %s has incomplete database settings", domain.Hostname)
	}

	dialector, err := r.open(domain)
	if err != nil {
		return nil, apperror.Connection(err, "invalid database settings for domain %s", domain.Hostname)
	}

	db, err := gorm.Open(dialector, r.gormConfig)
	if err != nil {
		return nil, apperror.Connection(err, "cannot connect to database of domain %s", domain.Hostname)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperror.Connection(err, "cannot connect to database of domain %s", domain.Hostname)
	}

	pingCtx, cancel := context.WithTimeout(ctx, r.pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, apperror.Connection(err, "database of domain %s is unreachable", domain.Hostname)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Connection{
		Domain:      *domain,
		DB:          db,
		fingerprint: domain.ConnectionFingerprint(),
		pool:        &pool{db: db},
	}, nil
}

// Activate points the session at domain's database. Any connection the
// session held before is retired first, so a failed activation leaves the
// session without a tenant. Requests still working on the old connection
// finish on it.
func (r *Router) Activate(ctx context.Context, sessionID string, domain *models.Domain) (*Connection, error) {
	if sessionID == "" {
		return nil, apperror.Connection(nil, "missing session")
	}

	r.Release(sessionID)

	conn, err := r.Open(ctx, domain)
	metrics.ObserveTenantActivation(err)
	if err != nil {
		fiberlog.Warnf("[Tenant] Activation of domain %d failed: %v", domainID(domain), err)
		return nil, err
	}

	r.mu.Lock()
	prev := r.conns[sessionID]
	r.conns[sessionID] = &entry{conn: conn, lastUsed: r.now()}
	r.mu.Unlock()
	if prev != nil {
		retire(prev.conn)
	}

	fiberlog.Infof("[Tenant] Activated domain %s (id=%d)", conn.Domain.Hostname, conn.Domain.ID)
	if r.observer != nil {
		r.observer(ctx, &conn.Domain)
	}
	return conn, nil
}

// Ensure returns the session's connection when it still matches domain and
// its current credentials, and re-activates otherwise. A reused connection
// comes back as a new handle carrying the current domain record.
func (r *Router) Ensure(ctx context.Context, sessionID string, domain *models.Domain) (*Connection, error) {
	r.mu.Lock()
	e := r.conns[sessionID]
	if e != nil && domain != nil && e.conn.Domain.ID == domain.ID && e.conn.fingerprint == domain.ConnectionFingerprint() {
		conn := &Connection{
			Domain:      *domain,
			DB:          e.conn.DB,
			fingerprint: e.conn.fingerprint,
			pool:        e.conn.pool,
		}
		e.conn = conn
		e.lastUsed = r.now()
		r.mu.Unlock()
		return conn, nil
	}
	r.mu.Unlock()

	return r.Activate(ctx, sessionID, domain)
}

// Acquire works like Ensure and keeps the connection open until done is
// called, even when the session switches domains or the domain is edited
// in the meantime.
func (r *Router) Acquire(ctx context.Context, sessionID string, domain *models.Domain) (*Connection, func(), error) {
	for attempt := 0; attempt < 2; attempt++ {
		conn, err := r.Ensure(ctx, sessionID, domain)
		if err != nil {
			return nil, nil, err
		}
		if conn.pool.acquire() {
			var once sync.Once
			done := func() {
				once.Do(func() {
					if err := conn.pool.release(); err != nil {
						fiberlog.Warnf("[Tenant] Closing connection of domain %d failed: %v", conn.Domain.ID, err)
					}
				})
			}
			return conn, done, nil
		}
	}
	return nil, nil, apperror.Connection(nil, "connection of domain %s was replaced concurrently", domain.Hostname)
}

// Current returns the session's active connection
func (r *Router) Current(sessionID string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.conns[sessionID]
	if e == nil {
		return nil, apperror.ErrNoTenantSelected
	}
	e.lastUsed = r.now()
	return e.conn, nil
}

// Release retires and forgets the session's connection
func (r *Router) Release(sessionID string) {
	r.mu.Lock()
	e := r.conns[sessionID]
	delete(r.conns, sessionID)
	r.mu.Unlock()

	if e != nil {
		retire(e.conn)
	}
}

// ReleaseDomain drops every session connection pointing at domainID
func (r *Router) ReleaseDomain(domainID uint) {
	r.mu.Lock()
	var stale []*Connection
	for id, e := range r.conns {
		if e.conn.Domain.ID == domainID {
			stale = append(stale, e.conn)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	for _, conn := range stale {
		retire(conn)
	}
}

// EvictIdle drops the connections of sessions unused for the idle timeout
// and returns how many were dropped
func (r *Router) EvictIdle() int {
	if r.idleTimeout <= 0 {
		return 0
	}
	r.mu.Lock()
	cutoff := r.now().Add(-r.idleTimeout)
	var stale []*Connection
	for id, e := range r.conns {
		if e.lastUsed.Before(cutoff) {
			stale = append(stale, e.conn)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	for _, conn := range stale {
		retire(conn)
	}
	return len(stale)
}

// RunSweeper evicts idle connections every interval until ctx is done
func (r *Router) RunSweeper(ctx context.Context, interval time.Duration) {
	if r.idleTimeout <= 0 || interval <= 0 {
		return
	}
	fiberlog.Infof("[Tenant] Idle sweeper running (idle=%s, interval=%s)", r.idleTimeout, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fiberlog.Info("[Tenant] Idle sweeper stopping")
			return
		case <-ticker.C:
			if n := r.EvictIdle(); n > 0 {
				fiberlog.Infof("[Tenant] Dropped %d idle session connection(s)", n)
			}
		}
	}
}

// Close releases all connections
func (r *Router) Close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range conns {
		retire(e.conn)
	}
}

func retire(conn *Connection) {
	if err := conn.Close(); err != nil {
		fiberlog.Warnf("[Tenant] Closing connection of domain %d failed: %v", conn.Domain.ID, err)
	}
}

func domainID(d *models.Domain) uint {
	if d == nil {
		return 0
	}
	return d.ID
}

package app

import (
	"context"
	"time"

	"crm-finance/internal/config"
	"crm-finance/internal/core"
	"crm-finance/internal/db"
	"crm-finance/internal/invoicepdf"
	"crm-finance/internal/ratecache"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Runtime is a fully wired process: connections, shared rate book and the
// application service built on them.
type Runtime struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client // nil without REDIS_ADDR
	Rates     *core.RateBook
	RateCache *ratecache.Cache // nil without REDIS_ADDR
	Context   *core.FinancialContext
	Service   ApplicationService
}

// NewFinancialContext builds the context every core service receives. pool may
// be nil for offline use (tax previews); the directory services then stay unset.
func NewFinancialContext(cfg *config.Config, pool *pgxpool.Pool, rates *core.RateBook, log zerolog.Logger) *core.FinancialContext {
	fc := &core.FinancialContext{
		SellerState:         cfg.SellerState,
		SettlementTolerance: cfg.SettlementTolerance,
		Rates:               rates,
		Log:                 log,
	}
	if pool != nil {
		fc.Finance = core.NewFinanceDirectory(pool)
		fc.Inventory = core.NewInventoryCatalog(pool)
		fc.Numbers = core.NewNumberingService(pool)
	}
	return fc
}

// SellerFromConfig returns the seller block printed on invoices.
func SellerFromConfig(cfg *config.Config) invoicepdf.Seller {
	return invoicepdf.Seller{
		Name:    cfg.SellerName,
		GSTIN:   cfg.SellerGSTIN,
		Address: cfg.SellerAddress,
		State:   cfg.SellerState,
	}
}

// Bootstrap connects to Postgres (and Redis when configured) and wires every
// service. The reference rates start from the built-in table and are replaced
// by the shared table when one exists.
func Bootstrap(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Runtime, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Pool: pool, Rates: core.NewRateBook(core.DefaultReferenceRates())}

	if cfg.RedisAddr != "" {
		rdb, err := ratecache.NewRedisClient(ctx, ratecache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			pool.Close()
			return nil, err
		}
		rt.Redis = rdb
		rt.RateCache = ratecache.New(rdb, rt.Rates, log)
		loaded, err := rt.RateCache.Load(ctx)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("shared reference rates unavailable; using built-in rates")
		case !loaded:
			log.Info().Msg("no shared reference rates published yet; using built-in rates")
		}
	}

	fc := NewFinancialContext(cfg, pool, rt.Rates, log.With().Str("component", "finance").Logger())
	rt.Context = fc
	rt.Service = NewAppService(
		core.NewOrderService(pool, fc),
		core.NewOpenItemService(pool, fc),
		core.NewReconciler(pool, fc),
		core.NewInvoiceService(pool, fc),
		core.NewReportingService(pool, fc),
		rt.Rates,
		rt.RateCache,
		SellerFromConfig(cfg),
	)
	return rt, nil
}

// WatchRates keeps the rate book in sync with the shared table until ctx is
// done. It returns immediately when Redis is not configured.
func (rt *Runtime) WatchRates(ctx context.Context, interval time.Duration) {
	if rt.RateCache == nil {
		return
	}
	rt.RateCache.Watch(ctx, interval)
}

// Close releases the connections.
func (rt *Runtime) Close() {
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	rt.Pool.Close()
}

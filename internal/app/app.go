// Package app assembles the trading core: books, risk, strategies, OMS,
// router, and the pinned workers that connect them through ring buffers.
package app

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/abdoElHodaky/hftcore/internal/audit"
	"github.com/abdoElHodaky/hftcore/internal/book"
	"github.com/abdoElHodaky/hftcore/internal/clock"
	"github.com/abdoElHodaky/hftcore/internal/config"
	"github.com/abdoElHodaky/hftcore/internal/marketdata"
	"github.com/abdoElHodaky/hftcore/internal/oms"
	"github.com/abdoElHodaky/hftcore/internal/pool"
	"github.com/abdoElHodaky/hftcore/internal/position"
	"github.com/abdoElHodaky/hftcore/internal/ringbuf"
	"github.com/abdoElHodaky/hftcore/internal/risk"
	"github.com/abdoElHodaky/hftcore/internal/router"
	"github.com/abdoElHodaky/hftcore/internal/strategy"
	"github.com/abdoElHodaky/hftcore/internal/supervisor"
	"github.com/abdoElHodaky/hftcore/internal/telemetry"
	"github.com/abdoElHodaky/hftcore/internal/types"
	"github.com/abdoElHodaky/hftcore/internal/venue"
)

// ring capacities, all powers of two.
const (
	mdRingCap    = 1 << 14
	orderRingCap = 1 << 12
	routeRingCap = 1 << 12
	trackRingCap = 1 << 12
	fillRingCap  = 1 << 12
	burstSize    = 256
)

// housekeepEvery is the OMS poll count between timer sweeps.
const housekeepEvery = 1024

// validateEvery is the event cadence of the book integrity sweep.
const validateEvery = 4096

// App is the assembled trading core.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Clock     *clock.Clock
	Registry  *clock.SymbolRegistry
	IDs       *clock.OrderIDSource
	SessionID string

	Books      map[uint32]*book.Book
	Publishers map[uint32]*book.Publisher
	Positions  *position.Store
	KillSwitch *risk.KillSwitch
	Risk       *risk.Engine
	OMS        *oms.OMS
	Router     *router.Router
	Manager    *strategy.Manager
	Audit      *audit.Store
	Supervisor *supervisor.Supervisor
	Sink       telemetry.Sink

	ingress  []marketdata.Ingress
	parser   marketdata.Parser
	gateways map[uint8]venue.Gateway

	// Inter-worker rings.
	mdRing    *ringbuf.SPSC[types.MarketDataEvent] // ingress -> strategy
	markRing  *ringbuf.SPSC[types.MarketDataEvent] // ingress -> oms (marks)
	orderRing *ringbuf.SPSC[types.Order]           // strategy -> oms
	routeRing *ringbuf.SPSC[types.Order]           // oms -> router
	trackRing *ringbuf.MPSC[types.Order]           // router -> oms (children)
	fillRing  *ringbuf.SPSC[fillEvent]             // oms -> strategy

	orderPool    *pool.Pool[types.Order]
	omsPolls     uint64
	mdEvents     uint64
	sessionStart uint64
}

// fillEvent carries a fill back to the strategy worker.
type fillEvent struct {
	order types.Order
	fill  types.Fill
}

// marketView adapts the snapshot publishers to the risk engine's view.
type marketView struct {
	publishers map[uint32]*book.Publisher
	specs      map[uint32]book.SymbolSpec
}

// SpreadBps implements risk.MarketView.
func (v *marketView) SpreadBps(symbolID uint32) float64 {
	pub, ok := v.publishers[symbolID]
	if !ok {
		return 0
	}
	snap := pub.Load()
	bid, bok := snap.BestBid()
	ask, aok := snap.BestAsk()
	if !bok || !aok {
		return 0
	}
	mid := float64(bid+ask) / 2
	if mid == 0 {
		return 0
	}
	return float64(ask-bid) / mid * 10_000
}

// Mid implements risk.MarketView.
func (v *marketView) Mid(symbolID uint32) uint64 {
	if pub, ok := v.publishers[symbolID]; ok {
		return pub.Load().Mid()
	}
	return 0
}

// New assembles the core from configuration. No worker runs until Start.
func New(cfg *config.Config, sink telemetry.Sink, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		Clock:      clock.New(logger.Named("clock")),
		Registry:   clock.NewSymbolRegistry(),
		IDs:        clock.NewOrderIDSource(0),
		SessionID:  clock.NewSessionID(),
		Books:      make(map[uint32]*book.Book),
		Publishers: make(map[uint32]*book.Publisher),
		Sink:       sink,
		gateways:   make(map[uint8]venue.Gateway),
	}
	a.sessionStart = a.Clock.Now()

	var err error
	if a.mdRing, err = ringbuf.NewSPSC[types.MarketDataEvent](mdRingCap); err != nil {
		return nil, err
	}
	if a.markRing, err = ringbuf.NewSPSC[types.MarketDataEvent](mdRingCap); err != nil {
		return nil, err
	}
	if a.orderRing, err = ringbuf.NewSPSC[types.Order](orderRingCap); err != nil {
		return nil, err
	}
	if a.routeRing, err = ringbuf.NewSPSC[types.Order](routeRingCap); err != nil {
		return nil, err
	}
	if a.trackRing, err = ringbuf.NewMPSC[types.Order](trackRingCap); err != nil {
		return nil, err
	}
	if a.fillRing, err = ringbuf.NewSPSC[fillEvent](fillRingCap); err != nil {
		return nil, err
	}
	a.orderPool = pool.NewOrderPool(int(cfg.Book.MaxOrdersPerBook))

	// Books, registry, positions.
	a.Positions = position.NewStore(logger.Named("positions"))
	specs := make(map[uint32]book.SymbolSpec, len(cfg.Symbols))
	var symbolIDs []uint32
	for _, sc := range cfg.Symbols {
		id := a.Registry.Register(sc.Name)
		spec := book.SymbolSpec{
			SymbolID:    id,
			Symbol:      sc.Name,
			TickSize:    sc.TickSizeUnits,
			MinPrice:    sc.MinPriceUnits,
			MaxPrice:    sc.MaxPriceUnits,
			MaxQuantity: sc.MaxQuantity,
		}
		specs[id] = spec
		symbolIDs = append(symbolIDs, id)
		a.Books[id] = book.New(spec, book.Config{
			MaxOrders:        int(cfg.Book.MaxOrdersPerBook),
			MaxLevelsPerSide: int(cfg.Book.MaxLevelsPerSide),
		}, logger.Named("book"))
		a.Publishers[id] = book.NewPublisher(id)
		a.Positions.Register(id)
	}

	// Risk engine with its VaR model over the symbol universe.
	a.KillSwitch = risk.NewKillSwitch(logger.Named("killswitch"))
	cov := mat.NewSymDense(len(symbolIDs), nil)
	for i := range symbolIDs {
		cov.SetSym(i, i, 0.04) // fixed prior variance; marks do not update it
	}
	varModel := risk.NewVaRModel(symbolIDs, cov)
	view := &marketView{publishers: a.Publishers, specs: specs}
	a.Risk = risk.NewEngine(risk.Config{
		MaxPositionQty:    cfg.Risk.MaxPositionQty,
		MaxOrderNotional:  cfg.Risk.MaxOrderNotional,
		MaxDailyVolume:    cfg.Risk.MaxDailyVolume,
		MaxConcentration:  cfg.Risk.MaxConcentration,
		MaxSpreadBps:      cfg.Risk.MaxSpreadBps,
		RateLimitPerSec:   uint64(cfg.Risk.RateLimitPerSec),
		MaxCancelRatio:    cfg.Risk.MaxCancelRatio,
		CancelRatioMinObs: 32,
		VaRLimit:          cfg.Risk.VaRLimit,
		VaRIntervalTSC:    uint64(cfg.Risk.VaRRecomputeIntervalMs) * 1_000_000,
	}, a.KillSwitch, a.Positions, view, varModel, logger.Named("risk"))

	// Audit ring and backend.
	var backend audit.Backend
	if cfg.Audit.FilePath != "" {
		fb, err := audit.NewFileBackend(cfg.Audit.FilePath)
		if err != nil {
			return nil, fmt.Errorf("audit backend: %w", err)
		}
		backend = fb
	}
	a.Audit = audit.NewStore(cfg.Audit.RingCapacity, backend, logger.Named("audit"))

	// OMS.
	a.OMS = oms.New(oms.Config{MaxNotional: cfg.Risk.MaxOrderNotional * 2},
		a.Positions, a.Risk, a.Audit, logger.Named("oms"))
	for _, spec := range specs {
		a.OMS.RegisterSymbol(spec)
	}
	a.OMS.Subscribe(func(ev oms.LifecycleEvent) {
		if ev.Fill == nil {
			return
		}
		if err := a.fillRing.Push(fillEvent{order: *ev.Order, fill: *ev.Fill}); err != nil {
			sink.RecordCounter("fill_ring_drops_total", 1, nil)
		}
	})

	// Venues and router.
	a.Router = router.New(router.Config{
		SmallOrderNotional: cfg.Router.SmallOrderNotional,
		TopK:               cfg.Router.TopK,
		MaxVenueShare:      cfg.Router.MaxVenueShare,
	}, a.IDs, a.OMS.Latency(), logger.Named("router"))

	for _, vc := range cfg.Venues {
		gw, err := a.buildGateway(vc)
		if err != nil {
			return nil, err
		}
		a.gateways[vc.ID] = gw
		for _, id := range symbolIDs {
			a.Router.UpdateVenue(types.VenueState{
				VenueID: vc.ID, SymbolID: id,
				FillRateEWMA: 0.9, Operational: true,
			})
		}
	}

	// Strategies and manager.
	a.Manager = strategy.NewManager(strategy.ManagerConfig{
		AggregateLossCap: cfg.Risk.KillSwitchDailyLoss,
	}, a.KillSwitch, func(id uint32, name, reason string) {
		sink.RecordCounter("strategy_disabled_total", 1,
			map[string]string{"strategy": name, "reason": reason})
	}, logger.Named("manager"))

	for _, sc := range cfg.Strategies {
		var symIDs []uint32
		for _, name := range sc.TargetSymbols {
			id, _ := a.Registry.Lookup(name)
			symIDs = append(symIDs, id)
		}
		kind, err := strategyKind(sc.Kind)
		if err != nil {
			return nil, err
		}
		name := sc.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", sc.Kind, sc.ID)
		}
		st, err := strategy.New(strategy.Config{
			Kind:    kind,
			ID:      sc.ID,
			Name:    name,
			Symbols: symIDs,
			Params:  sc.Params,
			Seed:    sc.Seed,
		}, logger.Named("strategy"))
		if err != nil {
			return nil, err
		}
		if err := a.Manager.Register(st, strategy.Allocation{
			Capital:        sc.Capital,
			MaxDrawdown:    sc.MaxDrawdown,
			DailyLossLimit: sc.DailyLossLimit,
			Enabled:        true,
		}); err != nil {
			return nil, err
		}
	}

	// Ingress adapters and parser.
	a.parser = marketdata.JSONParser{}

	// Supervisor and workers.
	sup, err := supervisor.New(a.Clock, a.KillSwitch, logger.Named("supervisor"))
	if err != nil {
		return nil, err
	}
	a.Supervisor = sup
	a.registerWorkers()
	a.registerMonitors()
	return a, nil
}

// buildGateway constructs one venue gateway, breaker-wrapped so outages
// flip the router's operational flag.
func (a *App) buildGateway(vc config.VenueConfig) (venue.Gateway, error) {
	var inner venue.Gateway
	if vc.Sim || vc.URL == "" {
		sim, err := venue.NewSimGateway(vc.ID, a.Clock.Now)
		if err != nil {
			return nil, err
		}
		inner = sim
	} else {
		return nil, fmt.Errorf("venue %s: only sim gateways are built in; live gateways are injected", vc.Name)
	}
	return venue.NewBreakerGateway(inner, func(venueID uint8, up bool) {
		a.Router.SetOperational(venueID, up)
	}, a.logger.Named("venue")), nil
}

// AddIngress attaches a market-data source before Start.
func (a *App) AddIngress(in marketdata.Ingress) {
	a.ingress = append(a.ingress, in)
}

// strategyKind maps the config string to the closed kind set.
func strategyKind(s string) (strategy.Kind, error) {
	switch s {
	case "scalping":
		return strategy.KindScalping, nil
	case "momentum":
		return strategy.KindMomentum, nil
	case "mean_reversion":
		return strategy.KindMeanReversion, nil
	case "market_making":
		return strategy.KindMarketMaking, nil
	default:
		return 0, fmt.Errorf("unknown strategy kind %q", s)
	}
}

// Start launches the workers and monitoring.
func (a *App) Start() {
	a.Supervisor.Start()
	a.Supervisor.StartMonitoring()
	a.logger.Info("Core started",
		zap.String("session", a.SessionID),
		zap.Int("symbols", len(a.Books)),
		zap.Int("venues", len(a.gateways)))
}

// Stop shuts all workers down together and flushes audit.
func (a *App) Stop() {
	a.Supervisor.Stop()
	if err := a.Audit.Flush(); err != nil {
		a.logger.Warn("Audit flush failed", zap.Error(err))
	}
}

// Hydrate restores positions and open orders from a snapshot.
func (a *App) Hydrate(snap *audit.Snapshot) {
	var maxOrderID uint64
	for _, p := range snap.Positions {
		a.Positions.Restore(p)
	}
	for i := range snap.OpenOrders {
		o := snap.OpenOrders[i]
		if o.OrderID > maxOrderID {
			maxOrderID = o.OrderID
		}
		ord := o
		if err := a.OMS.Track(&ord, a.Clock.Now()); err != nil {
			a.logger.Warn("Open order restore failed",
				zap.Uint64("order_id", o.OrderID),
				zap.Error(err))
		}
	}
	a.IDs.Seed(maxOrderID + 1)
	a.logger.Info("State hydrated",
		zap.Uint64("session", snap.SessionID),
		zap.Int("positions", len(snap.Positions)),
		zap.Int("open_orders", len(snap.OpenOrders)))
}

// Snapshot captures current positions and open orders.
func (a *App) Snapshot() *audit.Snapshot {
	return &audit.Snapshot{
		Positions:  a.Positions.Snapshot(),
		OpenOrders: a.OMS.OpenOrders(),
	}
}

package app

import (
	"go.uber.org/zap"

	"github.com/abdoElHodaky/hftcore/internal/marketdata"
	"github.com/abdoElHodaky/hftcore/internal/risk"
	"github.com/abdoElHodaky/hftcore/internal/supervisor"
	"github.com/abdoElHodaky/hftcore/internal/types"
)

// registerWorkers wires the pinned worker set in dependency order: ingress
// feeds strategies, strategies feed the OMS/risk worker, the OMS feeds the
// router. Startup is leaves-first (this order); shutdown stops all workers
// together.
func (a *App) registerWorkers() {
	a.Supervisor.Register(&supervisor.Worker{
		Name:     "ingress",
		Core:     a.cfg.Cores.Ingress,
		Realtime: true,
		Poll:     a.pollIngress,
	})
	a.Supervisor.Register(&supervisor.Worker{
		Name:     "strategy",
		Core:     a.cfg.Cores.Risk, // strategy shard shares the risk socket
		Realtime: true,
		Poll:     a.pollStrategy,
		Drain:    a.drainStrategy,
	})
	a.Supervisor.Register(&supervisor.Worker{
		Name:     "oms-risk",
		Core:     a.cfg.Cores.Risk,
		Realtime: true,
		Poll:     a.pollOMS,
		Drain:    a.drainOMS,
	})
	a.Supervisor.Register(&supervisor.Worker{
		Name:     "router",
		Core:     a.cfg.Cores.Router,
		Realtime: true,
		Poll:     a.pollRouter,
	})
}

// pollIngress drains packet bursts into the books and fans events out to
// the strategy and OMS rings.
func (a *App) pollIngress() bool {
	var pkts [burstSize]marketdata.Packet
	worked := false
	for _, in := range a.ingress {
		n := in.RecvBurst(pkts[:])
		for i := 0; i < n; i++ {
			a.handlePacket(&pkts[i])
		}
		worked = worked || n > 0
	}
	return worked
}

func (a *App) handlePacket(pkt *marketdata.Packet) {
	var ev types.MarketDataEvent
	if err := a.parser.Parse(pkt, &ev); err != nil {
		a.Sink.RecordCounter("md_parse_errors_total", 1, nil)
		return
	}
	b, ok := a.Books[ev.SymbolID]
	if !ok {
		return
	}
	if err := b.ApplyEvent(&ev); err != nil {
		// Per-order feed errors are recoverable; invariant breaks are not.
		a.Sink.RecordCounter("book_apply_errors_total", 1, nil)
	}
	a.mdEvents++
	if a.mdEvents%validateEvery == 0 {
		if err := b.Validate(); err != nil {
			a.Supervisor.Fatal("book invariant violation: " + err.Error())
			return
		}
	}
	a.Publishers[ev.SymbolID].Publish(b, a.cfg.Book.SnapshotDepth)

	if err := a.mdRing.Push(ev); err != nil {
		a.Sink.RecordCounter("md_ring_drops_total", 1, nil)
	}
	if ev.Kind == types.EventTrade {
		if err := a.markRing.Push(ev); err != nil {
			a.Sink.RecordCounter("mark_ring_drops_total", 1, nil)
		}
	}
}

// pollStrategy feeds market data to the manager, collects scaled signals,
// and emits parent orders toward the OMS.
func (a *App) pollStrategy() bool {
	var evs [burstSize]types.MarketDataEvent
	n := a.mdRing.PopBatch(evs[:])
	for i := 0; i < n; i++ {
		a.Manager.OnMarketData(&evs[i])
	}

	var fills [burstSize]fillEvent
	m := a.fillRing.PopBatch(fills[:])
	for i := 0; i < m; i++ {
		a.Manager.OnOrderFill(&fills[i].order, &fills[i].fill)
	}

	a.Manager.OnTick(a.Clock.Now())
	return a.collectSignals() || n > 0 || m > 0
}

// collectSignals converts manager signals into parent orders.
func (a *App) collectSignals() bool {
	var sigs [burstSize]types.Signal
	n := a.Manager.Collect(sigs[:])
	for i := 0; i < n; i++ {
		sig := &sigs[i]
		order := a.orderFromSignal(sig)
		if order == nil {
			continue
		}
		if err := a.orderRing.Push(*order); err != nil {
			a.Sink.RecordCounter("order_ring_drops_total", 1, nil)
		}
	}
	return n > 0
}

// orderFromSignal maps a signal to a parent order.
func (a *App) orderFromSignal(sig *types.Signal) *types.Order {
	if sig.SuggestedQty == 0 {
		return nil
	}
	side := types.SideBuy
	if sig.Strength < 0 {
		side = types.SideSell
	}
	otype := types.OrderTypeLimit
	if sig.SuggestedPrice == types.MarketPrice {
		otype = types.OrderTypeMarket
	}
	now := a.Clock.Now()
	order := &types.Order{
		OrderID:    a.IDs.Next(),
		SymbolID:   sig.SymbolID,
		StrategyID: sig.StrategyID,
		Side:       side,
		Type:       otype,
		TIF:        types.TIFIOC,
		Price:      sig.SuggestedPrice,
		Quantity:   sig.SuggestedQty,
		CreatedTSC: now,
	}
	if sig.UrgencyMs > 0 {
		order.TIF = types.TIFGTD
		order.ExpiryTSC = now + uint64(sig.UrgencyMs)*1_000_000
	}
	return order
}

// pollOMS is the combined OMS/risk loop: order intake, child tracking,
// venue reports, mark updates, and periodic sweeps.
func (a *App) pollOMS() bool {
	worked := false

	// Children routed on the router worker register before their reports
	// can be observed.
	var tracked [burstSize]types.Order
	n := a.trackRing.PopBatch(tracked[:])
	for i := 0; i < n; i++ {
		ord := tracked[i]
		// Children register at their routing timestamp so venue latency
		// measures submit-to-report, not ring hand-off.
		if err := a.OMS.Track(&ord, ord.CreatedTSC); err == nil {
			_ = a.OMS.ApplyVerdict(ord.OrderID, risk.Verdict{Approved: true}, ord.CreatedTSC)
		}
	}
	worked = worked || n > 0

	// New parent orders from the strategy worker.
	var orders [burstSize]types.Order
	n = a.orderRing.PopBatch(orders[:])
	for i := 0; i < n; i++ {
		a.intakeOrder(&orders[i])
	}
	worked = worked || n > 0

	// Venue execution reports.
	var reps [burstSize]types.ExecutionReport
	for _, gw := range a.gateways {
		m := gw.PollReports(reps[:])
		for i := 0; i < m; i++ {
			a.applyReport(&reps[i])
		}
		worked = worked || m > 0
	}

	// Mark-to-market from the trade tape.
	var marks [burstSize]types.MarketDataEvent
	n = a.markRing.PopBatch(marks[:])
	for i := 0; i < n; i++ {
		_ = a.Positions.Mark(marks[i].SymbolID, marks[i].Price, marks[i].TimestampTSC)
	}
	worked = worked || n > 0

	a.omsPolls++
	if a.omsPolls%housekeepEvery == 0 {
		now := a.Clock.Now()
		a.OMS.ExpireSweep(now)
		a.OMS.Housekeep(now)
	}
	return worked
}

// intakeOrder validates, tracks, risk-checks, and forwards one parent.
func (a *App) intakeOrder(order *types.Order) {
	now := a.Clock.Now()
	if err := a.OMS.Validate(order); err != nil {
		a.Sink.RecordCounter("order_validation_rejects_total", 1, nil)
		a.logger.Debug("Order failed validation",
			zap.Uint64("order_id", order.OrderID),
			zap.Error(err))
		return
	}
	tracked := *order
	if err := a.OMS.Track(&tracked, now); err != nil {
		return
	}

	verdict := a.Risk.CheckOrder(&tracked, a.Clock.SecondBucket(now), now)
	if err := a.OMS.ApplyVerdict(tracked.OrderID, verdict, now); err != nil {
		a.Supervisor.Fatal("order state machine violation: " + err.Error())
		return
	}
	if !verdict.Approved {
		return
	}
	if err := a.routeRing.Push(tracked); err != nil {
		a.Sink.RecordCounter("route_ring_drops_total", 1, nil)
	}
}

// applyReport folds one venue report into the OMS and the manager's fill
// path.
func (a *App) applyReport(rep *types.ExecutionReport) {
	if err := a.OMS.ApplyExecutionReport(rep); err != nil {
		a.Sink.RecordCounter("exec_report_errors_total", 1, nil)
	}
}

// pollRouter routes approved parents and submits their children.
func (a *App) pollRouter() bool {
	var orders [burstSize]types.Order
	n := a.routeRing.PopBatch(orders[:])
	for i := 0; i < n; i++ {
		a.routeOne(&orders[i])
	}
	return n > 0
}

func (a *App) routeOne(parent *types.Order) {
	dec, err := a.Router.Route(parent, a.Clock.Now())
	if err != nil {
		a.Sink.RecordCounter("route_failures_total", 1, nil)
		return
	}
	for _, child := range dec.Children {
		gw, ok := a.gateways[child.VenueID]
		if !ok {
			continue
		}
		if err := a.trackRing.Push(*child); err != nil {
			a.Sink.RecordCounter("track_ring_drops_total", 1, nil)
			continue
		}
		if _, err := gw.Submit(child); err != nil {
			a.Sink.RecordCounter("venue_submit_failures_total", 1,
				map[string]string{"venue": venueTag(child.VenueID)})
		}
	}
}

// drainStrategy flushes remaining signals at shutdown.
func (a *App) drainStrategy() {
	a.collectSignals()
}

// drainOMS applies remaining reports and archives terminal orders.
func (a *App) drainOMS() {
	a.pollOMS()
	now := a.Clock.Now()
	a.OMS.ExpireSweep(now)
	a.OMS.Housekeep(now)
}

// registerMonitors installs the degraded-mode probes: queue drop rates,
// pool pressure, and the portfolio kill-switch triggers.
func (a *App) registerMonitors() {
	a.Supervisor.AddQueueProbe(func() supervisor.QueueProbe {
		return supervisor.QueueProbe{Name: "md", Depth: a.mdRing.Len(), Drops: a.mdRing.Dropped()}
	})
	a.Supervisor.AddQueueProbe(func() supervisor.QueueProbe {
		return supervisor.QueueProbe{Name: "orders", Depth: a.orderRing.Len(), Drops: a.orderRing.Dropped()}
	})
	a.Supervisor.AddQueueProbe(func() supervisor.QueueProbe {
		return supervisor.QueueProbe{Name: "route", Depth: a.routeRing.Len(), Drops: a.routeRing.Dropped()}
	})

	var lastMDDrops uint64
	a.Supervisor.AddMonitor(func() string {
		drops := a.mdRing.Dropped()
		delta := drops - lastMDDrops
		lastMDDrops = drops
		if delta > mdRingCap/10 {
			return "market data drop rate above threshold"
		}
		return ""
	})
	a.Supervisor.AddMonitor(func() string {
		if a.orderPool.Utilization() > 0.9 {
			return "order pool near exhaustion"
		}
		return ""
	})
	a.Supervisor.AddMonitor(func() string {
		agg := a.Positions.Aggregate()
		if a.cfg.Risk.KillSwitchDailyLoss > 0 &&
			agg.DailyPnL < -int64(a.cfg.Risk.KillSwitchDailyLoss)*types.PriceScale {
			return "daily loss beyond kill-switch cap"
		}
		if a.cfg.Risk.KillSwitchDrawdown > 0 &&
			agg.DrawdownFrac > a.cfg.Risk.KillSwitchDrawdown {
			a.KillSwitch.Escalate(risk.LevelCloseOnly, "drawdown beyond cap")
		}
		return ""
	})
}

func venueTag(id uint8) string {
	return string('0' + rune(id%10))
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/hotplate/takeaway/internal/address"
	"github.com/hotplate/takeaway/internal/cart"
	"github.com/hotplate/takeaway/internal/catalog"
	"github.com/hotplate/takeaway/internal/config"
	"github.com/hotplate/takeaway/internal/discount"
	"github.com/hotplate/takeaway/internal/events"
	"github.com/hotplate/takeaway/internal/httpx"
	kafkax "github.com/hotplate/takeaway/internal/kafka"
	"github.com/hotplate/takeaway/internal/loyalty"
	"github.com/hotplate/takeaway/internal/money"
	"github.com/hotplate/takeaway/internal/order"
	"github.com/hotplate/takeaway/internal/payment"
	"github.com/hotplate/takeaway/internal/postgres"
	"github.com/hotplate/takeaway/internal/pricing"
	"github.com/hotplate/takeaway/internal/redisx"
	"github.com/hotplate/takeaway/internal/refund"
	"github.com/hotplate/takeaway/internal/stock"
	"github.com/hotplate/takeaway/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.ServiceName)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// One async producer per topic.
	producers := map[string]*kafkax.Producer{}
	for _, topic := range events.Topics {
		p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024, log)
		p.Start(ctx)
		producers[topic] = p
	}
	pub := &events.KafkaPublisher{Producers: producers, Service: cfg.ServiceName}

	menu := catalog.NewMemory()
	seedMenu(menu)

	carts := cart.NewStore(menu)
	points := loyalty.NewLedger(cfg.PointExpiryAge)
	codes := discount.NewMemoryCodes()
	seedCodes(codes)
	resolver := &discount.Resolver{Catalog: menu, Codes: codes, Points: points}
	engine := pricing.Engine{Cfg: pricingConfig(cfg)}
	ledger := &stock.PgLedger{DB: db, TTL: cfg.ReservationTTL}
	orders := &order.PgStore{DB: db}
	gateway := payment.NewSandbox()
	book := address.NewBook()

	svc := &order.Service{
		Carts:            carts,
		Catalog:          menu,
		Resolver:         resolver,
		Pricing:          engine,
		Stock:            ledger,
		Loyalty:          points,
		Gateway:          gateway,
		Orders:           orders,
		Addresses:        book,
		Codes:            codes,
		Events:           pub,
		Log:              log,
		MinOrder:         money.Cents(cfg.MinOrderCents),
		ScheduleMinAhead: cfg.ScheduleMinAhead,
		ScheduleMaxAhead: cfg.ScheduleMaxAhead,
	}
	proc := &refund.Processor{
		Orders:  orders,
		Stock:   ledger,
		Loyalty: points,
		Gateway: gateway,
		Refunds: refund.NewMemStore(),
		Limiter: refund.NewCancelLimiter(cfg.CancelLimit, cfg.CancelWindow),
		Events:  pub,
		Log:     log,
	}

	router := httpx.NewRouter()
	(&httpx.CartHandler{Carts: carts}).Register(router)
	(&httpx.OrdersHandler{Service: svc, Refunds: proc, Redis: rdb}).Register(router)
	(&httpx.LoyaltyHandler{Ledger: points}).Register(router)
	(&httpx.AddressHandler{Book: book}).Register(router)
	(&httpx.MenuHandler{Menu: menu}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
		case <-gctx.Done():
		}
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exit", "err", err)
	}

	for _, p := range producers {
		p.Close()
	}
	cancel()
	for _, p := range producers {
		p.WaitClosed()
	}
	log.Info("shutdown complete")
}

func pricingConfig(cfg config.Config) pricing.Config {
	c := pricing.DefaultConfig()
	c.ZoneFees = map[pricing.Zone]money.Cents{
		pricing.Zone1: money.Cents(cfg.Zone1FeeCents),
		pricing.Zone2: money.Cents(cfg.Zone2FeeCents),
		pricing.Zone3: money.Cents(cfg.Zone3FeeCents),
	}
	c.FreeDeliveryThreshold = money.Cents(cfg.FreeDeliveryCents)
	c.PeakStartHour = cfg.PeakStartHour
	c.PeakEndHour = cfg.PeakEndHour
	c.PeakSurcharge = money.Cents(cfg.PeakSurchargeCents)
	c.WeatherSurcharge = money.Cents(cfg.WeatherSurchargeCents)
	c.VATRate = cfg.VATRate
	return c
}

// seedMenu loads the demo menu. A real deployment would sync this from the
// merchant backoffice.
func seedMenu(m *catalog.Memory) {
	m.Put(catalog.Item{
		ID: "margherita", Name: "Margherita", BasePrice: 850, Available: true,
		Extras: []catalog.Extra{
			{ID: "extra-cheese", Name: "Extra cheese", Price: 100, Available: true},
			{ID: "olives", Name: "Olives", Price: 80, Available: true},
		},
		MaxExtras: 4,
		Removable: []string{"basil"},
		Required:  []string{"tomato", "mozzarella"},
		SizeDeltas: map[catalog.Size]money.Cents{
			catalog.SizeSmall: -150, catalog.SizeMedium: 0, catalog.SizeLarge: 250,
		},
		PrepMinutes: 15,
	})
	m.Put(catalog.Item{
		ID: "pepperoni", Name: "Pepperoni", BasePrice: 950, Available: true,
		Extras: []catalog.Extra{
			{ID: "extra-cheese", Name: "Extra cheese", Price: 100, Available: true},
			{ID: "jalapenos", Name: "Jalapenos", Price: 80, Available: true},
		},
		MaxExtras: 4,
		Removable: []string{"onion"},
		SizeDeltas: map[catalog.Size]money.Cents{
			catalog.SizeSmall: -150, catalog.SizeMedium: 0, catalog.SizeLarge: 250,
		},
		PrepMinutes: 15,
	})
	m.Put(catalog.Item{
		ID: "garlic-bread", Name: "Garlic Bread", BasePrice: 400, Available: true,
		PrepMinutes: 8,
	})
	m.Put(catalog.Item{
		ID: "cola", Name: "Cola 330ml", BasePrice: 150, Available: true,
	})
}

func seedCodes(c *discount.MemoryCodes) {
	c.Put(discount.Code{
		Code: "WELCOME10", Type: discount.CodePercentage, Value: 10,
		FirstOrderOnly: true, Combinable: false, Active: true,
	})
	c.Put(discount.Code{
		Code: "FREESHIP", Type: discount.CodeFreeDelivery,
		MinOrder: 1500, Combinable: true, Active: true,
	})
}

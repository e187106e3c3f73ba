package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sudorandom/pewpew/pkg/feed"
	"github.com/sudorandom/pewpew/pkg/sources"
)

type CLI struct {
	Listen       string        `help:"Address to serve on." default:"127.0.0.1:1323" env:"PEWPEW_LISTEN"`
	StaticDir    string        `help:"Directory holding the built front end." default:"./build" env:"PEWPEW_STATIC_DIR" type:"path"`
	DailyPath    string        `help:"Daily snapshot file served as /daily.json." default:"./build/daily.json" env:"PEWPEW_DAILY_PATH" type:"path"`
	BoundaryPath string        `help:"Country boundary GeoJSON served to clients." default:"./map/ne_50m_admin_0_scale_rank.geojson" env:"PEWPEW_BOUNDARY_PATH" type:"path"`
	FetchMap     bool          `help:"Download the boundary file if it is missing." env:"PEWPEW_FETCH_MAP"`
	Flush        string        `help:"Cron schedule for clearing the daily snapshot." default:"@midnight" env:"PEWPEW_FLUSH"`
	PollInterval time.Duration `help:"How often the input is polled." default:"1s" env:"PEWPEW_POLL_INTERVAL"`
	SendBuffer   int           `help:"Frames queued per client before it is dropped." default:"256" env:"PEWPEW_SEND_BUFFER"`

	Input      string `help:"Read events from a file, or - for stdin, instead of Redis." env:"PEWPEW_INPUT"`
	RedisAddr  string `help:"Redis address." default:"127.0.0.1:6379" env:"PEWPEW_REDIS_ADDR"`
	RedisUser  string `help:"Redis username." env:"PEWPEW_REDIS_USER"`
	RedisPass  string `help:"Redis password." env:"PEWPEW_REDIS_PASSWORD"`
	RedisDB    int    `help:"Redis database." default:"0" env:"PEWPEW_REDIS_DB"`
	RedisQueue string `help:"Redis list events are popped from." default:"pewpew" env:"PEWPEW_REDIS_QUEUE"`

	GeoIPDB  string   `help:"MaxMind city database used to locate events without coordinates." env:"PEWPEW_GEOIP_DB" type:"path"`
	IPField  string   `help:"Event field holding the source address." default:"src_ip" env:"PEWPEW_IP_FIELD"`
	Suppress []string `help:"Drop events containing any of these substrings." env:"PEWPEW_SUPPRESS" sep:","`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("pewpew-server"),
		kong.Description("Serves the live attack feed, the daily snapshot and the map front end."),
	)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cli CLI) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := feed.NewMetrics(reg)

	if cli.FetchMap {
		if err := sources.EnsureBoundary(cli.BoundaryPath, sources.BoundaryGeoJSONURL); err != nil {
			log.Printf("[server] Boundary unavailable: %v", err)
		}
	}

	source, closeSource, err := openSource(ctx, cli)
	if err != nil {
		return err
	}
	defer closeSource()

	var enricher *feed.Enricher
	if cli.GeoIPDB != "" {
		enricher, err = feed.OpenEnricher(cli.GeoIPDB, cli.IPField)
		if err != nil {
			return err
		}
		defer func() {
			if err := enricher.Close(); err != nil {
				log.Printf("Error closing GeoIP database: %v", err)
			}
		}()
	}
	filter := feed.NewFilter(cli.Suppress)
	if filter.Len() > 0 {
		log.Printf("[server] Suppressing events matching %d patterns", filter.Len())
	}

	store, err := feed.OpenDailyStore(cli.DailyPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing daily store: %v", err)
		}
	}()

	hub := feed.NewHub(cli.SendBuffer, metrics, nil)
	dispatcher := feed.NewDispatcher(feed.DispatcherConfig{
		Source:       source,
		Hub:          hub,
		Store:        store,
		Enricher:     enricher,
		Filter:       filter,
		PollInterval: cli.PollInterval,
		Metrics:      metrics,
	})

	scheduler, err := feed.NewFlushScheduler(cli.Flush, dispatcher, nil)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Printf("[server] Next flush at %s", scheduler.Entry().Next.Format(time.RFC3339))

	server := feed.NewServer(feed.ServerConfig{
		Listen:       cli.Listen,
		StaticDir:    cli.StaticDir,
		DailyPath:    cli.DailyPath,
		BoundaryPath: cli.BoundaryPath,
		Hub:          hub,
		Gatherer:     reg,
		Metrics:      metrics,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		err := server.ListenAndServe(ctx)
		if err != nil {
			cancel()
		}
		errc <- err
	}()

	// An exhausted file input keeps serving what it published.
	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return <-errc
}

func openSource(ctx context.Context, cli CLI) (feed.Source, func(), error) {
	switch cli.Input {
	case "":
		client, err := feed.NewRedisClient(ctx, feed.RedisConfig{
			Addr:     cli.RedisAddr,
			Username: cli.RedisUser,
			Password: cli.RedisPass,
			DB:       cli.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[server] Reading events from redis %s list %q", cli.RedisAddr, cli.RedisQueue)
		return feed.NewRedisSource(client, cli.RedisQueue, 0), func() { _ = client.Close() }, nil
	case "-":
		log.Printf("[server] Reading events from stdin")
		src := feed.NewReaderSource(os.Stdin)
		return src, src.Close, nil
	default:
		f, err := os.Open(cli.Input)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[server] Reading events from %s", cli.Input)
		src := feed.NewReaderSource(f)
		return src, func() {
			src.Close()
			_ = f.Close()
		}, nil
	}
}

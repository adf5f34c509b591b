package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coaxctl/internal/api"
	"github.com/banshee-data/coaxctl/internal/config"
	"github.com/banshee-data/coaxctl/internal/db"
	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/rpc"
	"github.com/banshee-data/coaxctl/internal/serialmux"
	"github.com/banshee-data/coaxctl/internal/telemetry"
	"github.com/banshee-data/coaxctl/internal/timeutil"
	"github.com/banshee-data/coaxctl/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to flight configuration JSON (defaults to the embedded config)")
	devMode       = flag.Bool("dev", false, "Run against a simulated bench bridge instead of the serial port")
	disableSerial = flag.Bool("disable-serial", false, "Run without a radio bridge (telemetry from -udp-listen or -pcap)")
	port          = flag.String("port", "/dev/ttyUSB0", "Radio bridge serial port (ignored in dev mode)")
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen    = flag.String("grpc-listen", ":50051", "gRPC listen address (empty disables)")
	dbPath        = flag.String("db", "flightlog.db", "Flight log database path (empty disables the flight log)")
	sessionNote   = flag.String("note", "", "Free-form note stored with the flight log session")
	udpListen     = flag.String("udp-listen", "", "Accept telemetry lines over UDP on this address")
	udpRcvBuf     = flag.Int("udp-rcvbuf", 1<<20, "UDP receive buffer size in bytes")
	pcapFile      = flag.String("pcap", "", "Replay telemetry from a pcap capture and keep serving")
	pcapPort      = flag.Int("pcap-port", 0, "UDP port to select from the capture (0 selects every port)")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

// benchPose is where the simulated vehicle rests in dev mode.
var benchPose = r3.Vec{Z: 0.02}

// newBridge opens the radio bridge selected by the flags.
func newBridge(cfg *config.FlightConfig) (serialmux.SerialMuxInterface, error) {
	switch {
	case *devMode:
		bench := telemetry.NewBenchBridge(benchPose, cfg.Battery.NominalVolts)
		return serialmux.NewMockSerialMux(timeutil.RateToPeriod(cfg.Comm.Frequency), bench.Line, bench.HandleWrite), nil
	case *disableSerial:
		return serialmux.NewDisabledSerialMux(), nil
	default:
		return serialmux.NewRealSerialMux(*port, cfg.Serial)
	}
}

func loadConfig() (*config.FlightConfig, error) {
	if *configFile == "" {
		return config.DefaultFlightConfig(), nil
	}
	return config.LoadFlightConfig(*configFile)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *devMode && *disableSerial {
		log.Fatal("-dev and -disable-serial are mutually exclusive")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("%s starting, platform %d at %d Hz", version.Current(), cfg.Platform, cfg.Frequency)

	bridge, err := newBridge(cfg)
	if err != nil {
		log.Fatalf("failed to open radio bridge: %v", err)
	}
	defer bridge.Close()

	script := telemetry.ConfigScript(cfg.Comm.Frequency, cfg.Comm.Contents, cfg.ControlTimeout(), cfg.WatchdogTimeout())
	if err := bridge.Initialize(script...); err != nil {
		log.Fatalf("failed to initialize radio bridge: %v", err)
	}
	log.Printf("initialized radio bridge %T", bridge)

	clock := timeutil.RealClock{}
	link := telemetry.NewSerialLink(bridge)
	battery := cfg.NewBattery()
	loop := flight.NewActuatorLoop(cfg.LoopConfig(), battery, link, clock)
	ctl := flight.NewController(cfg.ControllerConfig(), battery, loop, link, clock)
	dispatcher := telemetry.NewDispatcher(ctl, link, clock)

	// flightLog stays a nil interface when the log is disabled.
	var flightLog api.FlightLog
	var database *db.DB
	var recorder *db.Recorder
	var sessionID string
	if *dbPath != "" {
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open flight log: %v", err)
		}
		defer database.Close()

		session, err := database.StartSession(clock.Now(), cfg.Platform, *sessionNote)
		if err != nil {
			log.Fatalf("Failed to start flight log session: %v", err)
		}
		sessionID = session.ID
		recorder = db.NewRecorder(database, sessionID, db.RecorderConfig{}, clock)
		ctl.SetObserver(recorder)
		flightLog = database
		log.Printf("flight log %s, session %s", *dbPath, sessionID)
	}

	var udpSource *telemetry.UDPSource
	if *udpListen != "" {
		udpSource, err = telemetry.ListenUDP(telemetry.UDPSourceConfig{Address: *udpListen, RcvBuf: *udpRcvBuf})
		if err != nil {
			log.Fatalf("failed to open UDP telemetry source: %v", err)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The monitor is not waited on: a blocking serial read only returns once
	// the deferred bridge.Close runs after the actuator loop's final frame.
	go func() {
		if err := bridge.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor radio bridge: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := telemetry.Follow(ctx, bridge, dispatcher); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("telemetry routine failed: %v", err)
		}
		log.Print("telemetry routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("actuator loop failed: %v", err)
		}
		log.Print("actuator loop terminated")
	}()

	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := recorder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("flight log recorder failed: %v", err)
			}
			log.Printf("flight log recorder terminated: %d written, %d dropped", recorder.Written(), recorder.Dropped())
		}()
	}

	if udpSource != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := udpSource.Run(ctx, dispatcher); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("UDP telemetry source failed: %v", err)
			}
		}()
	}

	if *pcapFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := telemetry.ReplayPCAPFile(ctx, *pcapFile, *pcapPort, dispatcher)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("pcap replay failed: %v", err)
				return
			}
			log.Printf("pcap replay finished: %d datagrams between %s and %s", stats.Datagrams, stats.First.Format(time.RFC3339), stats.Last.Format(time.RFC3339))
		}()
	}

	if *grpcListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rpc.ListenAndServe(ctx, rpc.NewServer(ctl), *grpcListen); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := api.NewServer(ctl, flightLog, sessionID)
		server.AddStatus("telemetry", func() any { return dispatcher.Stats() })
		server.AddStatus("version", func() any { return version.Current() })
		if recorder != nil {
			server.AddStatus("flight_log", func() any {
				return map[string]uint64{"written": recorder.Written(), "dropped": recorder.Dropped()}
			})
		}

		mux := server.ServeMux()
		bridge.AttachAdminRoutes(mux)
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach flight log admin routes: %v", err)
			}
		}

		httpServer := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := httpServer.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

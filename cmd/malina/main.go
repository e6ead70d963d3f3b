package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/malina-robot/malina/internal/config"
	"github.com/malina-robot/malina/internal/debug"
	"github.com/malina-robot/malina/internal/hw/gpio"
	"github.com/malina-robot/malina/internal/logic/route"
	"github.com/malina-robot/malina/internal/robot"
	"github.com/malina-robot/malina/internal/teleop"
	"github.com/malina-robot/malina/internal/web"
)

// routeLegDelay separates two legs of a scripted route.
const routeLegDelay = 500 * time.Millisecond

// options are the parsed command line flags.
type options struct {
	cfgPath string
	webPort int
	mqtt    bool
	route   string
	speed   int
}

// errNothingToDo is returned by run when no front end was requested.
var errNothingToDo = errors.New("nothing to do: pass -web, -mqtt or -route")

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	mqttFlag := flag.Bool("mqtt", false, "start the MQTT bridge (needs mqtt.broker in the config)")
	routeFlag := flag.String("route", "", `run a measured route, e.g. "forward 30; spin_left 90; pause 500"`)
	speed := flag.Int("speed", 0, "override the initial speed (1-100)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, options{
		cfgPath: *cfgPath,
		webPort: webPort.port(),
		mqtt:    *mqttFlag,
		route:   *routeFlag,
		speed:   *speed,
	})
	cancel()
	if errors.Is(err, errNothingToDo) {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// run wires the robot and serves the requested front ends until ctx is done
// or one of them fails. The robot and the GPIO driver are released on return.
func run(ctx context.Context, o options) error {
	cfg, err := config.Load(o.cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	// Zero means "use config default"
	if err := validateCLIOverrides(o.speed); err != nil {
		return fmt.Errorf("invalid CLI override: %w", err)
	}
	applyOverrides(cfg, o.speed)

	var legs []route.Leg
	if o.route != "" {
		if legs, err = route.Parse(o.route); err != nil {
			return fmt.Errorf("invalid route: %w", err)
		}
	}
	if o.mqtt && !cfg.MQTTEnabled() {
		return fmt.Errorf("-mqtt needs mqtt.broker in %s", o.cfgPath)
	}
	if o.webPort == 0 && !o.mqtt && legs == nil {
		return errNothingToDo
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", o.cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Counting mode", cfg.Defaults.CountingMode)
	debug.Value("Initial speed", cfg.Defaults.InitSpeed)

	debug.Value("GPIO driver", cfg.Defaults.GPIODriver)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.GPIODriver)
	if err != nil {
		return fmt.Errorf("init GPIO failed: %w", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Wiring motors and sensors")
	rob := robot.New(cfg, gpioDriver, nil)
	debug.PrintStruct("Motors config", cfg.Motors)
	debug.PrintStruct("Geometry config", cfg.Geometry)
	defer func() {
		if err := rob.Cleanup(); err != nil {
			log.Printf("robot cleanup failed: %v", err)
		}
	}()

	// The web UI powers the robot on demand; MQTT and routes need it running.
	if o.mqtt || legs != nil {
		debug.Step(3, "Initiating robot")
		if err := rob.Init(); err != nil {
			return fmt.Errorf("init robot failed: %w", err)
		}
	}

	dispatcher := teleop.NewDispatcher(rob)
	g, gctx := errgroup.WithContext(ctx)

	if o.webPort > 0 {
		broadcaster := web.NewStatusBroadcaster()
		if debug.IsEnabled(debug.LevelInfo) {
			debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		}
		srv, err := web.NewServer(fmt.Sprintf(":%d", o.webPort), broadcaster, rob, dispatcher)
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if o.mqtt {
		bridge := teleop.NewMQTTBridge(cfg.MQTT, dispatcher)
		g.Go(func() error {
			return bridge.Run(gctx)
		})
	}

	if legs != nil {
		g.Go(func() error {
			return route.New(rob.Measure(), nil).Run(gctx, legs, routeLegDelay)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stopped: %w", err)
	}
	debug.Section("Shutdown")
	return nil
}

// validateCLIOverrides checks that a non-zero speed override is within range.
func validateCLIOverrides(speed int) error {
	if speed != 0 && (speed < 1 || speed > 100) {
		return fmt.Errorf("speed must be between 1 and 100, got %d", speed)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero values are applied.
func applyOverrides(cfg *config.Config, speed int) {
	if speed > 0 {
		cfg.Defaults.InitSpeed = speed
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

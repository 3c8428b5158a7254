// Command irrigation-io polls field I/O points, conditions analog signals,
// evaluates alarms, and publishes transitions to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sweeney/irrigation-io/internal/alarm"
	"github.com/sweeney/irrigation-io/internal/config"
	"github.com/sweeney/irrigation-io/internal/hw"
	"github.com/sweeney/irrigation-io/internal/iocore"
	"github.com/sweeney/irrigation-io/internal/mqtt"
	"github.com/sweeney/irrigation-io/internal/shiftreg"
	"github.com/sweeney/irrigation-io/internal/status"
	"github.com/sweeney/irrigation-io/internal/web"
)

func main() {
	configPath := flag.String("config", "/etc/irrigation-io/config.json", "I/O point configuration file")
	poll := flag.Duration("poll", time.Second, "I/O polling interval")
	alarmInterval := flag.Duration("alarm-interval", 5*time.Second, "Alarm evaluation interval")
	broker := flag.String("broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	heartbeat := flag.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	chip := flag.String("chip", "gpiochip0", "GPIO character device")
	lockTimeout := flag.Duration("lock-timeout", 0, "State lock acquisition bound (0 for default)")
	adcPath := flag.String("adc", "", "IIO device directory for analog reads (empty for default)")
	printPoints := flag.Bool("print-points", false, "Print the configured points and exit")
	httpAddr := flag.String("http", ":80", "HTTP status address (empty to disable)")

	flag.Parse()

	if err := run(*configPath, *poll, *alarmInterval, *broker, *heartbeat, *chip, *adcPath, *lockTimeout, *printPoints, *httpAddr); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(configPath string, poll, alarmInterval time.Duration, broker string, heartbeat time.Duration, chip, adcPath string, lockTimeout time.Duration, printPoints bool, httpAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Print points mode
	if printPoints {
		for _, p := range cfg.Points {
			fmt.Printf("%-24s %-14s", p.ID, p.Kind)
			if p.Kind.IsShiftRegister() {
				fmt.Printf(" chip=%d bit=%d", p.ChipIdx, p.BitIdx)
			} else {
				fmt.Printf(" pin=%d", p.Pin)
			}
			if p.Alarm.Enabled {
				fmt.Printf(" alarms=on")
			}
			fmt.Println()
		}
		return nil
	}

	// Initialize hardware
	driver, err := hw.NewRealDriver(hw.RealOptions{ChipName: chip, ADCPath: adcPath})
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer driver.Close()

	var bank *shiftreg.Driver
	if cfg.ShiftRegister.NumOutputChips > 0 || cfg.ShiftRegister.NumInputChips > 0 {
		bank, err = shiftreg.New(driver, hw.StdSleeper{}, cfg.ShiftRegister, lockTimeout)
		if err != nil {
			return fmt.Errorf("init shift registers: %w", err)
		}
	}

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(broker)
	if err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      poll.Milliseconds(),
		AlarmMs:     alarmInterval.Milliseconds(),
		HeartbeatMs: heartbeat.Milliseconds(),
		Broker:      broker,
		HTTPPort:    httpAddr,
		ConfigPath:  configPath,
	})

	// Alarm engine behind a holder so a config reload can swap it while the
	// poller's sample hook stays valid.
	engines := &engineHolder{}
	engines.set(newEngine(cfg.Points, publisher, lockTimeout))

	reg, err := iocore.New(driver, bank, cfg.Points, iocore.Options{
		LockTimeout: lockTimeout,
		OnSample:    engines.recordSample,
	})
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}
	defer reg.ShutdownOutputs()

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if httpAddr != "" {
		srv := web.New(httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", httpAddr)
	}

	if err := reg.StartPolling(poll); err != nil {
		return fmt.Errorf("start polling: %w", err)
	}
	defer reg.StopPolling()

	if err := engines.get().Start(alarmInterval); err != nil {
		return fmt.Errorf("start alarm task: %w", err)
	}
	defer func() { engines.get().Stop() }()

	log.Printf("started: %d points poll=%v alarm=%v broker=%s heartbeat=%v",
		len(cfg.Points), poll, alarmInterval, broker, heartbeat)

	refresh := time.NewTicker(poll)
	defer refresh.Stop()

	var hbTick <-chan time.Time
	if heartbeat > 0 {
		hb := time.NewTicker(heartbeat)
		defer hb.Stop()
		hbTick = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	return runLoop(loopDeps{
		configPath:    configPath,
		alarmInterval: alarmInterval,
		lockTimeout:   lockTimeout,
		reg:           reg,
		engines:       engines,
		publisher:     publisher,
		mqttStatus:    publisher,
		tracker:       tracker,
		now:           time.Now,
	}, refresh.C, hbTick, sigCh)
}

// engineHolder lets the registry's sample hook survive an alarm engine swap
// on config reload.
type engineHolder struct {
	mu sync.Mutex
	e  *alarm.Engine
}

func (h *engineHolder) set(e *alarm.Engine) {
	h.mu.Lock()
	h.e = e
	h.mu.Unlock()
}

func (h *engineHolder) get() *alarm.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.e
}

func (h *engineHolder) recordSample(id string, v float64) {
	if err := h.get().RecordValue(id, v); err != nil {
		log.Printf("alarm record %s: %v", id, err)
	}
}

// newEngine builds an alarm engine whose transitions are published to MQTT.
func newEngine(points []config.Point, publisher mqtt.Publisher, lockTimeout time.Duration) *alarm.Engine {
	return alarm.New(points, alarm.Options{
		LockTimeout: lockTimeout,
		OnEvent: func(ev alarm.Event) {
			state := "CLEARED"
			if ev.Active {
				state = "ACTIVE"
			}
			log.Printf("alarm %s: %s %s (value=%g)", state, ev.PointID, ev.Kind, ev.Value)
			if err := publisher.PublishAlarm(ev); err != nil {
				log.Printf("alarm publish error: %v", err)
			}
		},
	})
}

type loopDeps struct {
	configPath    string
	alarmInterval time.Duration
	lockTimeout   time.Duration
	reg           *iocore.Registry
	engines       *engineHolder
	publisher     mqtt.Publisher
	mqttStatus    mqtt.ConnectionStatus
	tracker       *status.Tracker
	now           func() time.Time
}

func runLoop(d loopDeps, tick, hbTick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			if s == syscall.SIGHUP {
				if err := reload(d); err != nil {
					log.Printf("reload failed: %v", err)
				}
				continue
			}

			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}

			d.reg.StopPolling()
			d.engines.get().Stop()
			if err := d.reg.ShutdownOutputs(); err != nil {
				log.Printf("output shutdown: %v", err)
			}

			event := mqtt.SystemEvent{
				Timestamp: d.now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if d.tracker != nil {
				if d.mqttStatus != nil {
					d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
				}
				refreshTracker(d)
				snap := d.tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			refreshTracker(d)

		case <-hbTick:
			refreshTracker(d)
			hbEvent := mqtt.SystemEvent{
				Timestamp: d.now(),
				Event:     "HEARTBEAT",
			}
			if d.tracker != nil {
				snap := d.tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v cycles=%d errors=%d active_alarms=%d",
					snap.Uptime().Truncate(time.Second), snap.Poll.CycleCount, snap.Poll.TotalErrors, snap.ActiveAlarms())
				hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
			}
			if err := d.publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

// refreshTracker mirrors registry and alarm state into the status tracker
// for the HTTP and MQTT consumers.
func refreshTracker(d loopDeps) {
	if d.tracker == nil {
		return
	}

	engine := d.engines.get()
	ids, err := d.reg.PointIDs()
	if err != nil {
		log.Printf("tracker refresh: %v", err)
		return
	}
	points := make([]status.PointStatus, 0, len(ids))
	for _, id := range ids {
		cfg, err := d.reg.PointConfig(id)
		if err != nil {
			continue
		}
		st, err := d.reg.GetRuntimeState(id)
		if err != nil {
			continue
		}
		ps := status.PointStatus{
			ID:          id,
			Name:        cfg.Name,
			Kind:        string(cfg.Kind),
			Value:       st.ConditionedValue,
			Raw:         st.RawValue,
			Digital:     st.DigitalState,
			Error:       st.ErrorState,
			ErrorCount:  st.ErrorCount,
			UpdateCount: st.UpdateCount,
			LastUpdate:  st.LastUpdate,
			Trusted:     true,
		}
		if snap, err := engine.PointAlarms(id); err == nil {
			ps.Monitored = true
			ps.Trusted = snap.Trusted
			for _, rs := range snap.Rules {
				if rs.Active {
					ps.AlarmActive = true
					break
				}
			}
		}
		points = append(points, ps)
	}

	pollStats, err := d.reg.Statistics()
	if err != nil {
		log.Printf("poll statistics: %v", err)
	}
	d.tracker.UpdatePoints(points, pollStats)

	if alarmStats, err := engine.Statistics(); err == nil {
		d.tracker.UpdateAlarms(alarmStats)
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

// reload re-reads the config file, swaps the point table without forcing
// outputs off, and rebuilds the alarm engine for the new monitoring set.
func reload(d loopDeps) error {
	log.Printf("reloading %s", d.configPath)
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := d.reg.Reload(cfg.Points); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}

	old := d.engines.get()
	old.Stop()
	next := newEngine(cfg.Points, d.publisher, d.lockTimeout)
	d.engines.set(next)
	if err := next.Start(d.alarmInterval); err != nil {
		return fmt.Errorf("restart alarm task: %w", err)
	}

	log.Printf("reloaded: %d points", len(cfg.Points))
	return nil
}

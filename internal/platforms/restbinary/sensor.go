package restbinary

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"entitybridge/internal/clock"
	"entitybridge/internal/core"
	"entitybridge/internal/template"
)

// truthy maps response values to the on state; everything else is off
var truthy = map[string]bool{
	"true": true,
	"on":   true,
	"yes":  true,
	"open": true,
	"1":    true,
}

// Sensor is one REST-polled binary sensor. It fetches its resource on a
// fixed interval and publishes on, off or unavailable.
type Sensor struct {
	mu sync.Mutex

	cfg       Config
	entityID  string
	fetcher   *Fetcher
	valueTmpl *template.Template
	machine   *core.Machine
	clk       clock.Clock
	logger    *zap.Logger

	ticker clock.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func newSensor(cfg Config, entityID string, machine *core.Machine, clk clock.Clock, logger *zap.Logger) (*Sensor, error) {
	fetcher, err := NewFetcher(cfg)
	if err != nil {
		return nil, err
	}

	s := &Sensor{
		cfg:      cfg,
		entityID: entityID,
		fetcher:  fetcher,
		machine:  machine,
		clk:      clk,
		logger:   logger.With(zap.String("entity_id", entityID)),
	}

	if cfg.ValueTemplate != "" {
		tmpl, err := template.New(cfg.ValueTemplate)
		if err != nil {
			return nil, fmt.Errorf("invalid value template: %w", err)
		}
		s.valueTmpl = tmpl
	}

	return s, nil
}

// start begins the polling loop. The caller has already done the initial
// refresh.
func (s *Sensor) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	s.done = make(chan struct{})
	s.ticker = s.clk.NewTicker(s.cfg.ScanInterval())

	s.wg.Add(1)
	go s.poll(s.ticker, s.done)
}

func (s *Sensor) poll(ticker clock.Ticker, done chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			s.Refresh(context.Background())
		}
	}
}

// Refresh fetches the resource once and updates the entity state. Transport
// errors and non-2xx responses make the entity unavailable until the next
// successful poll.
func (s *Sensor) Refresh(ctx context.Context) error {
	body, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.logger.Warn("Failed to update REST binary sensor", zap.Error(err))
		s.machine.Set(s.entityID, core.StateUnavailable, s.attributes())
		return err
	}

	value := body
	if s.valueTmpl != nil {
		rendered, err := s.valueTmpl.RenderValue(body)
		if err != nil {
			s.logger.Warn("Failed to render value template", zap.Error(err))
			s.machine.Set(s.entityID, core.StateUnavailable, s.attributes())
			return err
		}
		value = rendered
	}

	state := core.StateOff
	if truthy[strings.ToLower(strings.TrimSpace(value))] {
		state = core.StateOn
	}
	s.machine.Set(s.entityID, state, s.attributes())
	return nil
}

func (s *Sensor) attributes() map[string]interface{} {
	attrs := map[string]interface{}{
		"friendly_name": s.cfg.Name,
	}
	if s.cfg.DeviceClass != "" {
		attrs["device_class"] = s.cfg.DeviceClass
	}
	return attrs
}

// stop ends the polling loop and removes the entity
func (s *Sensor) stop() {
	s.mu.Lock()
	if s.done != nil {
		close(s.done)
		s.ticker.Stop()
		s.done = nil
		s.ticker = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.machine.Remove(s.entityID)
}

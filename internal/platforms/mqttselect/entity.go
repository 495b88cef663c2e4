package mqttselect

import (
	"fmt"
	"slices"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"entitybridge/internal/core"
	"entitybridge/internal/mqtt"
	"entitybridge/internal/template"
)

// blockedAttributes are platform-owned state attributes that a
// json_attributes_topic payload may not override.
var blockedAttributes = map[string]struct{}{
	"options":       {},
	"assumed_state": {},
}

// Select is a single MQTT select entity
type Select struct {
	logger   *zap.Logger
	machine  *core.Machine
	broker   mqtt.Client
	entityID string

	mu          sync.Mutex
	cfg         Config
	valueTmpl   *template.Template
	cmdTmpl     *template.Template
	subs        []mqtt.Subscription
	state       string
	extraAttrs  map[string]interface{}
	topicOnline bool
	brokerUp    bool
}

// newSelect builds an entity from a validated config. The caller starts it.
func newSelect(cfg Config, entityID string, machine *core.Machine, broker mqtt.Client, logger *zap.Logger) (*Select, error) {
	s := &Select{
		logger:   logger,
		machine:  machine,
		broker:   broker,
		entityID: entityID,
		state:    core.StateUnknown,
		// Without an availability topic the entity rides the broker
		// connection alone; with one it stays unavailable until the
		// available payload arrives.
		topicOnline: cfg.AvailabilityTopic == "",
	}

	if err := s.compile(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// compile swaps in a config and its templates
func (s *Select) compile(cfg Config) error {
	cfg = cfg.withDefaults()

	var valueTmpl, cmdTmpl *template.Template
	var err error

	if cfg.ValueTemplate != "" {
		if valueTmpl, err = template.New(cfg.ValueTemplate); err != nil {
			return fmt.Errorf("invalid value_template: %w", err)
		}
	}
	if cfg.CommandTemplate != "" {
		if cmdTmpl, err = template.New(cfg.CommandTemplate); err != nil {
			return fmt.Errorf("invalid command_template: %w", err)
		}
	}

	s.cfg = cfg
	s.valueTmpl = valueTmpl
	s.cmdTmpl = cmdTmpl
	return nil
}

// EntityID returns the entity's ID
func (s *Select) EntityID() string {
	return s.entityID
}

// uniqueID returns the configured unique ID; the config can change under a
// discovery reconfigure.
func (s *Select) uniqueID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.UniqueID
}

// start subscribes the entity's topics, seeds its state (from the restore
// cache for optimistic entities) and publishes the initial state.
func (s *Select) start(restore *core.RestoreCache, brokerUp bool) error {
	s.mu.Lock()
	s.brokerUp = brokerUp
	if s.cfg.Optimistic() && restore != nil {
		if restored, ok := restore.Get(s.entityID); ok && slices.Contains(s.cfg.OptionList(), restored) {
			s.state = restored
		}
	}
	s.mu.Unlock()

	if err := s.subscribe(); err != nil {
		return err
	}

	s.publishState()
	return nil
}

// subscribe creates the broker subscriptions the current config calls for
func (s *Select) subscribe() error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	type topicHandler struct {
		topic   string
		handler mqtt.MessageHandler
	}
	var wanted []topicHandler
	if cfg.StateTopic != "" {
		wanted = append(wanted, topicHandler{cfg.StateTopic, s.handleStateMessage})
	}
	if cfg.AvailabilityTopic != "" {
		wanted = append(wanted, topicHandler{cfg.AvailabilityTopic, s.handleAvailabilityMessage})
	}
	if cfg.JSONAttributesTopic != "" {
		wanted = append(wanted, topicHandler{cfg.JSONAttributesTopic, s.handleAttributesMessage})
	}

	var subs []mqtt.Subscription
	for _, th := range wanted {
		sub, err := s.broker.Subscribe(th.topic, cfg.QoS, th.handler)
		if err != nil {
			for _, created := range subs {
				created.Unsubscribe()
			}
			return fmt.Errorf("failed to subscribe %s: %w", th.topic, err)
		}
		subs = append(subs, sub)
	}

	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()
	return nil
}

// unsubscribe tears down the entity's broker subscriptions
func (s *Select) unsubscribe() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe",
				zap.String("entity_id", s.entityID),
				zap.Error(err))
		}
	}
}

// reconfigure applies a new discovery config in place. The entity ID and the
// current state survive, even when the option list changes.
func (s *Select) reconfigure(cfg Config) error {
	s.unsubscribe()

	s.mu.Lock()
	if err := s.compile(cfg); err != nil {
		s.mu.Unlock()
		return err
	}
	if cfg.AvailabilityTopic == "" {
		s.topicOnline = true
	}
	s.mu.Unlock()

	if err := s.subscribe(); err != nil {
		return err
	}

	s.publishState()
	return nil
}

// stop removes the entity from the broker and the state machine
func (s *Select) stop() {
	s.unsubscribe()
	s.machine.Remove(s.entityID)
}

// handleStateMessage processes a payload on the state topic
func (s *Select) handleStateMessage(topic string, payload []byte) {
	value := string(payload)

	s.mu.Lock()
	valueTmpl := s.valueTmpl
	options := s.cfg.OptionList()
	s.mu.Unlock()

	if valueTmpl != nil {
		rendered, err := valueTmpl.RenderValue(value)
		if err != nil {
			s.logger.Warn("Failed to render value template",
				zap.String("entity_id", s.entityID),
				zap.String("payload", value),
				zap.Error(err))
			return
		}
		value = rendered
	}

	if value == "" {
		s.mu.Lock()
		s.state = core.StateUnknown
		s.mu.Unlock()
		s.publishState()
		return
	}

	if !slices.Contains(options, value) {
		s.logger.Warn("Invalid option received on state topic",
			zap.String("entity_id", s.entityID),
			zap.String("option", value),
			zap.Strings("valid_options", options))
		return
	}

	s.mu.Lock()
	s.state = value
	s.mu.Unlock()
	s.publishState()
}

// handleAvailabilityMessage processes a payload on the availability topic
func (s *Select) handleAvailabilityMessage(topic string, payload []byte) {
	value := string(payload)

	s.mu.Lock()
	switch value {
	case s.cfg.PayloadAvailable:
		s.topicOnline = true
	case s.cfg.PayloadNotAvailable:
		s.topicOnline = false
	default:
		s.mu.Unlock()
		s.logger.Debug("Ignoring unknown availability payload",
			zap.String("entity_id", s.entityID),
			zap.String("payload", value))
		return
	}
	s.mu.Unlock()

	s.publishState()
}

// handleAttributesMessage processes a payload on the JSON attributes topic.
// The payload must be a JSON object; platform-owned keys are dropped.
func (s *Select) handleAttributesMessage(topic string, payload []byte) {
	body := string(payload)

	if !gjson.Valid(body) {
		s.logger.Warn("Erroneous JSON on attributes topic",
			zap.String("entity_id", s.entityID),
			zap.String("payload", body))
		return
	}

	parsed := gjson.Parse(body)
	if !parsed.IsObject() {
		s.logger.Warn("JSON on attributes topic is not a dictionary",
			zap.String("entity_id", s.entityID),
			zap.String("payload", body))
		return
	}

	attrs := make(map[string]interface{})
	for key, value := range parsed.Map() {
		if _, blocked := blockedAttributes[key]; blocked {
			continue
		}
		attrs[key] = value.Value()
	}

	s.mu.Lock()
	s.extraAttrs = attrs
	s.mu.Unlock()
	s.publishState()
}

// SelectOption publishes the chosen option to the command topic. Optimistic
// entities also take the option as their new state.
func (s *Select) SelectOption(option string) error {
	s.mu.Lock()
	cfg := s.cfg
	cmdTmpl := s.cmdTmpl
	s.mu.Unlock()

	if !slices.Contains(cfg.OptionList(), option) {
		return fmt.Errorf("invalid option %q for %s (valid options: %v)",
			option, s.entityID, cfg.OptionList())
	}

	payload := option
	if cmdTmpl != nil {
		rendered, err := cmdTmpl.RenderCommand(option)
		if err != nil {
			return fmt.Errorf("failed to render command template: %w", err)
		}
		payload = rendered
	}

	if err := s.broker.Publish(cfg.CommandTopic, payload, cfg.QoS, cfg.Retain); err != nil {
		return fmt.Errorf("failed to publish command: %w", err)
	}

	if cfg.Optimistic() {
		s.mu.Lock()
		s.state = option
		s.mu.Unlock()
		s.publishState()
	}

	return nil
}

// setBrokerUp flips availability with the broker connection
func (s *Select) setBrokerUp(up bool) {
	s.mu.Lock()
	s.brokerUp = up
	s.mu.Unlock()
	s.publishState()
}

// publishState writes the entity's current state and attributes into the
// state machine.
func (s *Select) publishState() {
	s.mu.Lock()
	state := s.state
	if !s.brokerUp || !s.topicOnline {
		state = core.StateUnavailable
	}

	attrs := map[string]interface{}{
		"friendly_name": s.cfg.Name,
		"options":       s.cfg.OptionList(),
	}
	if s.cfg.Optimistic() {
		attrs["assumed_state"] = true
	}
	for k, v := range s.extraAttrs {
		attrs[k] = v
	}
	s.mu.Unlock()

	s.machine.Set(s.entityID, state, attrs)
}

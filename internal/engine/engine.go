package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flapguard/internal/config"
	"flapguard/internal/decisions"
	"flapguard/internal/device"
	"flapguard/internal/metrics"
	"flapguard/internal/model"
	"flapguard/internal/policy"
	"flapguard/internal/storage"
)

var (
	ErrUnknownDevice   = errors.New("unknown device")
	ErrUnknownPolicy   = errors.New("unknown transit policy")
	ErrPublishDisabled = errors.New("publishing to the remote service is disabled")
)

type Publisher interface {
	Publish(ctx context.Context, req model.Request) error
}

type Engine struct {
	logger    *slog.Logger
	registry  *device.Registry
	metrics   *metrics.Store
	decisions *decisions.Store
	store     storage.Store
	publisher Publisher
	cfg       atomic.Value
	started   time.Time
	received  atomic.Int64
	tracker   *eventTracker
	deDupe    *DedupeCache
}

type Stats struct {
	Started   time.Time `json:"started"`
	Devices   int       `json:"devices"`
	Messages  int64     `json:"messages"`
	Decisions int       `json:"decisions"`
}

func NewEngine(cfg *config.Config, logger *slog.Logger, registry *device.Registry, metricsStore *metrics.Store, decisionStore *decisions.Store, store storage.Store) *Engine {
	e := &Engine{
		logger:    logger,
		registry:  registry,
		metrics:   metricsStore,
		decisions: decisionStore,
		store:     store,
		started:   time.Now().UTC(),
		tracker:   newEventTracker(),
		deDupe:    NewDedupeCache(),
	}
	e.cfg.Store(cfg)
	return e
}

func NewRegistry(cfg *config.Config) (*device.Registry, error) {
	loc, err := time.LoadLocation(cfg.Ingest.Parser.Timezone)
	if err != nil {
		return nil, fmt.Errorf("default time zone: %w", err)
	}
	overrides := make(map[string]device.Override, len(cfg.Devices))
	for id, dc := range cfg.Devices {
		o := device.Override{Settings: dc.Settings}
		if dc.TimeZone != "" {
			if o.Location, err = time.LoadLocation(dc.TimeZone); err != nil {
				return nil, fmt.Errorf("device %s time zone: %w", id, err)
			}
		}
		overrides[id] = o
	}
	return device.NewRegistry(cfg.Evaluation.DefaultSettings, loc, overrides), nil
}

func (e *Engine) SetPublisher(p Publisher) {
	e.publisher = p
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Registry() *device.Registry {
	return e.registry
}

func (e *Engine) Start(ctx context.Context, in <-chan model.Message) {
	go func() {
		for {
			select {
			case msg := <-in:
				e.Handle(ctx, msg)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (e *Engine) Handle(ctx context.Context, msg model.Message) []model.Decision {
	e.received.Add(1)
	metrics.MessagesReceived.WithLabelValues(string(msg.Kind), msg.Source).Inc()
	switch msg.Kind {
	case model.KindDevice:
		e.handleDevice(msg)
	case model.KindDeviceUpdate:
		e.handleDeviceUpdate(msg)
	case model.KindTransitPolicy:
		e.handlePolicy(ctx, msg)
	case model.KindEvent:
		ev := model.ParseEvent(msg.Data, e.logger)
		if ev == nil {
			e.drop(msg, "unparsable event")
			return nil
		}
		if d, ok := e.trackEvent(ctx, ev, msg.Source); ok {
			return []model.Decision{d}
		}
	case model.KindEventUpdate, model.KindDeviceEventUpdate:
		return e.handleEventUpdate(ctx, msg)
	default:
		e.drop(msg, "unknown kind")
	}
	return nil
}

func (e *Engine) drop(msg model.Message, reason string) {
	metrics.MessagesDropped.WithLabelValues(reason).Inc()
	if e.logger != nil {
		e.logger.Warn("dropping message", "kind", msg.Kind, "source", msg.Source, "reason", reason)
	}
}

func (e *Engine) handleDevice(msg model.Message) {
	parsed := device.Parse(msg.Data, "", e.logger)
	if parsed == nil {
		e.drop(msg, "unparsable device")
		return
	}
	e.register(parsed)
}

func (e *Engine) handleDeviceUpdate(msg model.Message) {
	u := device.ParseUpdate(msg.Data, e.logger)
	if u == nil {
		e.drop(msg, "unparsable device update")
		return
	}
	if u.Type == model.UpdateDelete {
		if e.registry.Remove(u.DeviceID) {
			e.tracker.forget(u.DeviceID)
			metrics.KnownDevices.Set(float64(e.registry.Len()))
			if e.logger != nil {
				e.logger.Info("device removed", "device_id", u.DeviceID)
			}
		}
		return
	}
	if u.Body == nil {
		return
	}
	e.register(u.Body)
}

func (e *Engine) register(parsed *device.Device) *device.Device {
	dev, created := e.registry.Upsert(parsed)
	if created {
		e.watch(dev)
	}
	return dev
}

func (e *Engine) ensureDevice(id string) *device.Device {
	dev, created := e.registry.Ensure(id)
	if created {
		e.watch(dev)
	}
	return dev
}

func (e *Engine) watch(dev *device.Device) {
	metrics.KnownDevices.Set(float64(e.registry.Len()))
	if e.logger != nil {
		e.logger.Info("device registered", "device_id", dev.ID(), "time_zone", dev.Location().String())
	}
	dev.AddPolicyListener(func() {
		metrics.PolicyChanges.WithLabelValues(dev.ID()).Inc()
		if e.logger == nil {
			return
		}
		if p := dev.ActivePolicy(); p != nil {
			e.logger.Info("transit policy changed", "device_id", dev.ID(), "policy_id", p.ID, "name", p.Name)
		}
	})
}

func (e *Engine) handlePolicy(ctx context.Context, msg model.Message) {
	p := policy.ParseDeviceTransitPolicy(msg.Data, e.logger)
	if p == nil {
		e.drop(msg, "unparsable transit policy")
		return
	}
	if p.DeviceID == "" {
		e.drop(msg, "transit policy without device")
		return
	}
	e.ensureDevice(p.DeviceID).UpsertPolicy(p)
	metrics.PolicyUpdates.WithLabelValues(p.DeviceID).Inc()
	if e.store != nil {
		if err := e.store.SavePolicy(ctx, p.DeviceID, p.ID, msg.Data); err != nil && e.logger != nil {
			e.logger.Error("persist transit policy failed", "device_id", p.DeviceID, "policy_id", p.ID, "err", err)
		}
	}
}

func (e *Engine) handleEventUpdate(ctx context.Context, msg model.Message) []model.Decision {
	u := model.ParseEventUpdate(msg.Data, e.logger)
	if u == nil {
		e.drop(msg, "unparsable event update")
		return nil
	}
	if u.Type == model.UpdateDelete {
		e.tracker.drop(u.DeviceID, u.EventID)
		return nil
	}
	if d, ok := e.trackEvent(ctx, u.Body, msg.Source); ok {
		return []model.Decision{d}
	}
	return nil
}

// trackEvent merges ev into the device's current event and records a
// decision for the result. Updates that change nothing produce no decision.
// A repeated delivery within the dedupe window is ignored and leaves the
// current event in place.
func (e *Engine) trackEvent(ctx context.Context, ev *model.Event, source string) (model.Decision, bool) {
	if ev.DeviceID == "" {
		if e.logger != nil {
			e.logger.Warn("event without device id", "event_id", ev.EventID)
		}
		return model.Decision{}, false
	}
	window := e.config().Evaluation.DedupeWindow
	current, changed := e.tracker.apply(ev, func(next *model.Event) bool {
		return window <= 0 || !e.deDupe.Seen(hashEvent(next), time.Now().UTC(), window)
	})
	if !changed {
		return model.Decision{}, false
	}
	dev := e.ensureDevice(current.DeviceID)
	d := e.decide(dev, current, source)
	e.record(ctx, d)
	return d, true
}

func (e *Engine) decide(dev *device.Device, ev *model.Event, source string) model.Decision {
	start := time.Now()
	r := dev.Resolve(ev)
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	return model.Decision{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		DeviceID:  dev.ID(),
		EventID:   ev.EventID,
		PolicyID:  r.PolicyID,
		Result:    r.Result,
		Unlocked:  r.Unlocked,
		Known:     r.Known,
		Reason:    r.Reason,
		Complete:  ev.Complete(),
		Remote:    r.Remote,
		Source:    source,
	}
}

func (e *Engine) record(ctx context.Context, d model.Decision) {
	e.decisions.Add(d)
	e.metrics.Record(d)
	if e.logger != nil {
		e.logger.Info("transit decision",
			"device_id", d.DeviceID,
			"event_id", d.EventID,
			"result", d.Result.String(),
			"unlocked", d.Unlocked,
			"known", d.Known,
			"reason", d.Reason,
		)
	}
	if e.store != nil {
		if err := e.store.SaveDecision(ctx, d); err != nil && e.logger != nil {
			e.logger.Error("persist decision failed", "decision_id", d.ID, "err", err)
		}
	}
}

func (e *Engine) Evaluate(ev *model.Event) (model.Decision, error) {
	if ev == nil {
		return model.Decision{}, errors.New("no event")
	}
	dev, ok := e.registry.Get(ev.DeviceID)
	if !ok {
		return model.Decision{}, fmt.Errorf("%w: %q", ErrUnknownDevice, ev.DeviceID)
	}
	return e.decide(dev, ev, "evaluate"), nil
}

func (e *Engine) CurrentEvent(deviceID string) *model.Event {
	return e.tracker.get(deviceID)
}

func (e *Engine) ActivatePolicy(ctx context.Context, deviceID string, policyID int64) error {
	dev, ok := e.registry.Get(deviceID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	if dev.Policy(policyID) == nil {
		return fmt.Errorf("%w: %d", ErrUnknownPolicy, policyID)
	}
	if e.publisher == nil {
		dev.SetActivePolicyID(policyID)
		return nil
	}
	return e.publish(ctx, model.Request{
		Type: model.RequestActivatePolicy,
		Data: map[string]any{"deviceId": deviceID, "deviceTransitPolicyId": policyID},
	})
}

func (e *Engine) SelectPolicy(ctx context.Context, deviceID, name string) (int64, error) {
	dev, ok := e.registry.Get(deviceID)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	id, ok := dev.PolicyIDByName(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return id, e.ActivatePolicy(ctx, deviceID, id)
}

func (e *Engine) PublishPolicy(ctx context.Context, p *policy.DeviceTransitPolicy) error {
	if p == nil {
		return ErrUnknownPolicy
	}
	if e.publisher == nil {
		return ErrPublishDisabled
	}
	return e.publish(ctx, model.Request{Type: model.RequestUpdatePolicy, Data: p.ToMap()})
}

func (e *Engine) publish(ctx context.Context, req model.Request) error {
	if err := e.publisher.Publish(ctx, req); err != nil {
		return fmt.Errorf("publish %s: %w", req.Type, err)
	}
	metrics.PublishedRequests.WithLabelValues(string(req.Type)).Inc()
	return nil
}

func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	stored, err := e.store.LoadPolicies(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sp := range stored {
		p := policy.ParseDeviceTransitPolicy(sp.Payload, e.logger)
		if p == nil {
			continue
		}
		if p.DeviceID == "" {
			p.DeviceID = sp.DeviceID
		}
		e.ensureDevice(p.DeviceID).UpsertPolicy(p)
		n++
	}
	return n, nil
}

func (e *Engine) Stats() Stats {
	return Stats{
		Started:   e.started,
		Devices:   e.registry.Len(),
		Messages:  e.received.Load(),
		Decisions: e.decisions.Len(),
	}
}

func (e *Engine) Reset() {
	e.tracker.reset()
	e.deDupe.Reset()
}

package sensor

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"venuszero/internal/config"
	"venuszero/internal/core/port"
	"venuszero/internal/mqtt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	gridPowerMaxAge     = 30 * time.Second
	solarForecastMaxAge = 2 * time.Hour
	excludedDeviceAge   = 60 * time.Second

	subscribeTimeout = 5 * time.Second
	publishTimeout   = 5 * time.Second
)

type sensorValue struct {
	value float64
	at    time.Time
}

// MQTTSensorReader caches the latest value of each configured external
// topic. Values age out, so a dead upstream sensor reads as unavailable
// instead of serving the last payload forever.
//
// The reader is created before the MQTT connection exists and bound to
// a client later, so the control loop can hold a reference from the
// start.
type MQTTSensorReader struct {
	client *mqtt.MQTTClient
	logger *zap.Logger
	cfg    config.SensorConfig

	mu            sync.Mutex
	gridPower     sensorValue
	solarForecast sensorValue
	excluded      map[string]sensorValue
	additional    map[string]bool
}

func CreateMQTTSensorReader(cfg config.SensorConfig, logger *zap.Logger) *MQTTSensorReader {
	additional := make(map[string]bool, len(cfg.ExcludedDevices))
	for _, d := range cfg.ExcludedDevices {
		additional[d.PowerTopic] = d.Additional
	}
	return &MQTTSensorReader{
		logger:     logger,
		cfg:        cfg,
		excluded:   map[string]sensorValue{},
		additional: additional,
	}
}

// Bind attaches the connected MQTT client and registers handlers for
// every configured topic. Call once after the connection is up.
func (r *MQTTSensorReader) Bind(client *mqtt.MQTTClient) {
	r.mu.Lock()
	r.client = client
	r.mu.Unlock()
	if r.cfg.GridPowerTopic != "" {
		r.subscribeNumeric(r.cfg.GridPowerTopic, func(v float64, at time.Time) {
			r.mu.Lock()
			r.gridPower = sensorValue{value: v, at: at}
			r.mu.Unlock()
		})
	}
	if r.cfg.SolarForecastTopic != "" {
		r.subscribeNumeric(r.cfg.SolarForecastTopic, func(v float64, at time.Time) {
			r.mu.Lock()
			r.solarForecast = sensorValue{value: v, at: at}
			r.mu.Unlock()
		})
	}
	for _, device := range r.cfg.ExcludedDevices {
		t := device.PowerTopic
		r.subscribeNumeric(t, func(v float64, at time.Time) {
			r.mu.Lock()
			r.excluded[t] = sensorValue{value: v, at: at}
			r.mu.Unlock()
		})
	}
}

func (r *MQTTSensorReader) subscribeNumeric(topic string, apply func(float64, time.Time)) {
	r.client.Subscribe(topic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		value, err := parseNumericPayload(msg.Payload())
		if err != nil {
			r.logger.Warn("discarding non-numeric sensor payload",
				zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		apply(value, time.Now())
	}, func(err error) {
		if err != nil {
			r.logger.Error("sensor topic subscribe failed",
				zap.String("topic", topic), zap.Error(err))
		} else {
			r.logger.Debug("subscribed to sensor topic", zap.String("topic", topic))
		}
	}, subscribeTimeout)
}

func (r *MQTTSensorReader) GridPowerWatt() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gridPower.at.IsZero() || time.Since(r.gridPower.at) > gridPowerMaxAge {
		return 0, false
	}
	return r.gridPower.value, true
}

func (r *MQTTSensorReader) SolarForecastKwh() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.solarForecast.at.IsZero() || time.Since(r.solarForecast.at) > solarForecastMaxAge {
		return 0, false
	}
	return r.solarForecast.value, true
}

// ExcludedDevicesPowerWatt is the net adjustment the control loop
// subtracts from the measured grid reading. Devices the grid sensor
// already measures count positive; additional devices it cannot see
// count negative, which raises the demand the batteries cover.
func (r *MQTTSensorReader) ExcludedDevicesPowerWatt() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0.0
	for topic, v := range r.excluded {
		if time.Since(v.at) > excludedDeviceAge {
			continue
		}
		if r.additional[topic] {
			total -= v.value
		} else {
			total += v.value
		}
	}
	return total
}

// parseNumericPayload accepts a bare number or a JSON object with a
// "value" field, which covers the common sensor payload shapes.
func parseNumericPayload(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	var obj struct {
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return 0, err
	}
	return obj.Value, nil
}

// MQTTNotifier publishes retained notification payloads so a restart of
// the consumer does not lose an active notification.
type MQTTNotifier struct {
	mu     sync.Mutex
	client *mqtt.MQTTClient
	logger *zap.Logger
}

func CreateMQTTNotifier(logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{logger: logger}
}

// Bind attaches the connected MQTT client.
func (n *MQTTNotifier) Bind(client *mqtt.MQTTClient) {
	n.mu.Lock()
	n.client = client
	n.mu.Unlock()
}

func (n *MQTTNotifier) boundClient() *mqtt.MQTTClient {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.client
}

type notificationPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (n *MQTTNotifier) Notify(id string, title string, message string) {
	client := n.boundClient()
	if client == nil {
		n.logger.Warn("notification dropped, MQTT not connected", zap.String("id", id))
		return
	}
	payload, err := json.Marshal(notificationPayload{Title: title, Message: message})
	if err != nil {
		n.logger.Error("could not encode notification", zap.Error(err))
		return
	}
	client.Publish(client.NotificationTopic(id), payload, 0, true, func(err error) {
		if err != nil {
			n.logger.Error("could not publish notification",
				zap.String("id", id), zap.Error(err))
		}
	}, publishTimeout)
}

func (n *MQTTNotifier) ClearNotification(id string) {
	client := n.boundClient()
	if client == nil {
		return
	}
	client.Publish(client.NotificationTopic(id), []byte{}, 0, true, func(err error) {
		if err != nil {
			n.logger.Error("could not clear notification",
				zap.String("id", id), zap.Error(err))
		}
	}, publishTimeout)
}

var _ port.SensorReader = (*MQTTSensorReader)(nil)
var _ port.Notifier = (*MQTTNotifier)(nil)

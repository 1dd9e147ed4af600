//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"strings"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/scriptdeck_host/last_dispatch/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	JSONAttrTopic     string   `json:"json_attributes_topic,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

// nodeIdentifier returns the HA device registry identifier for a bridge
// instance, derived from its client ID.
func nodeIdentifier(clientID string) string {
	id := strings.ToLower(clientID)
	id = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, id)
	if id == "" {
		id = "scriptdeck"
	}
	return id
}

// buildDiscovery generates the HA entities exposed by the bridge: the last
// dispatch outcome, the tailer state and a text entity that executes
// whatever is typed into it.
func buildDiscovery(discoveryPrefix, prefix, clientID, version string) []discoveryMsg {
	node := nodeIdentifier(clientID)
	avail := prefix + "/bridge/state"
	dev := haDevice{
		Identifiers:  []string{node},
		Manufacturer: "scriptdeck",
		Model:        "Script executor bridge",
		Name:         "scriptdeck " + clientID,
		SWVersion:    version,
	}

	entities := []struct {
		component string
		objectID  string
		payload   haDiscovery
	}{
		{"sensor", "last_dispatch", haDiscovery{
			Name:          "Last dispatch",
			StateTopic:    prefix + "/dispatch",
			ValueTemplate: "{{ value_json.message }}",
			JSONAttrTopic: prefix + "/dispatch",
			Icon:          "mdi:script-text-play",
		}},
		{"binary_sensor", "dispatch_ok", haDiscovery{
			Name:          "Last dispatch succeeded",
			StateTopic:    prefix + "/dispatch",
			ValueTemplate: "{{ 'ON' if value_json.ok else 'OFF' }}",
			PayloadOn:     "ON",
			PayloadOff:    "OFF",
		}},
		{"binary_sensor", "tail_running", haDiscovery{
			Name:          "Log tail running",
			StateTopic:    prefix + "/tail",
			ValueTemplate: "{{ 'ON' if value_json.running else 'OFF' }}",
			DeviceClass:   "running",
			PayloadOn:     "ON",
			PayloadOff:    "OFF",
		}},
		{"text", "execute", haDiscovery{
			Name:         "Execute script",
			CommandTopic: prefix + "/execute",
			Icon:         "mdi:console",
		}},
	}

	msgs := make([]discoveryMsg, 0, len(entities))
	for _, e := range entities {
		p := e.payload
		p.UniqueID = node + "_" + e.objectID
		p.AvailabilityTopic = avail
		p.Device = dev
		msgs = append(msgs, discoveryMsg{
			Topic:   discoveryPrefix + "/" + e.component + "/" + node + "/" + e.objectID + "/config",
			Payload: mustJSON(p),
		})
	}
	return msgs
}

// buildRemoveDiscovery generates empty retained payloads that delete the
// bridge's entities from HA.
func buildRemoveDiscovery(discoveryPrefix, prefix, clientID string) []discoveryMsg {
	msgs := buildDiscovery(discoveryPrefix, prefix, clientID, "")
	for i := range msgs {
		msgs[i].Payload = nil
	}
	return msgs
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

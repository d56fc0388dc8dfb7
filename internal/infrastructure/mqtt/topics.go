package mqtt

import "fmt"

// DefaultTopicPrefix is used when mqtt.topic_prefix is empty.
const DefaultTopicPrefix = "tagingest"

// Topics builds the topic names of one ingest instance:
//
//	<prefix>/<client_id>/status            retained online/offline
//	<prefix>/<client_id>/storage           storage availability transitions
//	<prefix>/<client_id>/command/shutdown  graceful shutdown request
type Topics struct {
	Prefix   string
	ClientID string
}

// NewTopics returns Topics with the default prefix applied.
func NewTopics(prefix, clientID string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix, ClientID: clientID}
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", t.Prefix, t.ClientID)
}

// Status is the retained online/offline topic, also used for the LWT.
func (t Topics) Status() string {
	return t.base() + "/status"
}

// Storage carries storage availability transitions.
func (t Topics) Storage() string {
	return t.base() + "/storage"
}

// ShutdownCommand is subscribed to for remote shutdown requests.
func (t Topics) ShutdownCommand() string {
	return t.base() + "/command/shutdown"
}

// AllInstances matches the status topic of every instance under the prefix.
func (t Topics) AllInstances() string {
	return fmt.Sprintf("%s/+/status", t.Prefix)
}

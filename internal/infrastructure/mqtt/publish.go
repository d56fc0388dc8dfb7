package mqtt

import "fmt"

const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message and waits for the broker acknowledgment.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishStorage announces a storage availability transition. Its
// signature matches storage.StateFunc, so it can be registered with
// Manager.OnStateChange; publish errors are logged.
func (c *Client) PublishStorage(available bool, err error) {
	if perr := c.Publish(c.topics.Storage(), storagePayload(available, err), c.qos(), true); perr != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("failed to publish storage status", "available", available, "error", perr)
		}
	}
}

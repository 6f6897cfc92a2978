package mqtt

import "fmt"

// maxPayloadSize caps a single message at 1MB. Large canvases are trimmed by
// the caller before they get here.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic with the given QoS.
//
// Session state and save status are published retained so a client that
// subscribes late sees the current canvas; commands are never retained.
//
// Example:
//
//	topic := client.Topics().SessionState(workflowID)
//	err := client.Publish(topic, payload, 1, true)
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

// Package bus provides the sinks that forwarded STOMP frames are published to.
//
// Every sink implements connection.Publisher:
//
//   - Local is an in-process pub/sub bus. Subscribers register a destination
//     pattern and read matching messages from their own growable queue.
//   - MQTT re-publishes frames to an MQTT broker, mapping destinations to topics.
//   - Fanout publishes to several sinks and joins their errors.
//
// Publishing never blocks on a slow subscriber: each subscriber queue grows up
// to its limit and then drops its oldest message.
package bus

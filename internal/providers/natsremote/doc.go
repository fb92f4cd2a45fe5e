// Package natsremote provides the "nats" resource provider, which connects
// to an already running NATS server as a Remote resource.
//
// The connection is bound as *nats.Conn under the resource name. Streams
// declared with "stream.<NAME>: <subjects>" properties are created on
// start and deleted on stop unless keepStreams is set; when any stream is
// declared the nats.JetStreamContext is bound as well.
package natsremote

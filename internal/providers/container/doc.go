// Package container provides the "container" resource provider, which runs
// Virtual resources as containers through a docker compatible CLI.
//
// # Properties
//
//   - image: container image (required)
//   - ports: comma separated container ports, each published on an
//     ephemeral host port
//   - command: command line passed after the image
//   - volumes: comma separated host:container mounts
//   - env.<NAME>: container environment variables
//   - runtime: "docker" (default) or "podman"
//   - pull: whether to pull missing images, default true
//   - readyTimeout: how long to wait for the container and its port
//     mappings, default 60s
//
// The instance address is the host address of the first published port.
// Every published port is also exposed as the value "port.<number>".
//
// Containers carry the labels testbed.context and testbed.resource so that
// leftovers of aborted runs can be found with "docker ps --filter".
package container

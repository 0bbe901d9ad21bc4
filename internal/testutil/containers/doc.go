// Package containers starts the external services integration tests run
// against: MySQL for the persistent cache backend and Mosquitto for the
// MQTT push source.
//
// Everything here is behind the integration build tag:
//
//	go test -tags=integration ./...
package containers

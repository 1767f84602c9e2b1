// Package database provides the PostgreSQL connection pool used by the frame archive.
//
// The archive is optional; bridges that only fan frames out to the local bus or MQTT
// never open a pool.
package database

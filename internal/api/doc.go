// Package api defines the HTTP surface overlay front-ends use to follow the
// caption channel, along with the client the CLI uses to reach it.
//
// Endpoints:
//
//	GET  /api/status   channel state, launch configuration, restart phase
//	GET  /api/events   sequence-numbered caption events (?since=&limit=&follow=1)
//	GET  /api/history  stored captions (?limit=&session=)
//	POST /api/config   request a relaunch with a new model or source language
//	POST /api/send     write a raw envelope to the engine's stdin
//
// DTOs use camelCase JSON tags for JavaScript consumers. When a token is
// configured every request must carry "Authorization: Bearer <token>".
package api

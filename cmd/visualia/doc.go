// Command visualia runs the caption daemon and talks to it over the local
// HTTP API.
//
//	visualia run [--tui]        start the daemon (optionally with the caption view)
//	visualia status             show channel state
//	visualia model <name>       relaunch with another model
//	visualia lang <code>        relaunch with another source language
//	visualia send <type> [json] write a raw message to the engine
//	visualia events [--follow]  print caption events
//	visualia history            list stored captions
//	visualia logs [--follow]    show the daemon log
//	visualia deps               check the engine binary and model files
//	visualia config init|show|path
package main

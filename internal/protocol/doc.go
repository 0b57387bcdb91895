// Package protocol implements the line-delimited JSON control channel spoken
// by the recognition engine over its standard streams.
//
// Every message is one UTF-8 line holding {"type": "...", "data": {...}}.
// Framer splits raw output chunks into lines, Decode turns a line into a
// Message, ParseEvent narrows a Message into a typed Event, and Encode writes
// an outbound Message in wire form. Framing never fails; decode failures are
// reported per line so one bad line never stalls the stream.
package protocol

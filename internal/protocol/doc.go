// Package protocol defines the wire format between popbuild clients and the
// build daemon.
//
// Every message is a single JSON envelope terminated by a newline. The
// envelope names a command and carries its payload as raw JSON, which the
// receiver decodes into the command's request or result type with
// [DecodePayload]. Requests use the command names [CmdBuild], [CmdStatus]
// and [CmdShutdown]; responses use [CmdOK] or [CmdError].
package protocol

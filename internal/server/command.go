// Package server parses the slash-command language spoken over text frames.
package server

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// CommandKind identifies a parsed inbound line.
type CommandKind int

const (
	// CommandChat is plain text to broadcast to the current room.
	CommandChat CommandKind = iota
	CommandChessStep
	CommandList
	CommandJoin
	CommandName
	CommandUnknown
)

// Command is the parsed form of one trimmed text frame.
type Command struct {
	Kind CommandKind
	// Arg is the rest of the line after the first space. For chat it is the
	// whole line.
	Arg string
	// Raw is the trimmed input.
	Raw string
}

// ParseCommand classifies a text frame. Lines not starting with '/' are chat.
// A recognized command missing its argument yields an error wrapping
// ErrMissingArgument; an unrecognized command yields ErrUnknownCommand.
// The returned Command is populated in every case.
func ParseCommand(text string) (Command, error) {
	line := strings.TrimSpace(text)
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: CommandChat, Arg: line, Raw: line}, nil
	}

	name, arg, hasArg := strings.Cut(line, " ")
	cmd := Command{Arg: arg, Raw: line}

	switch name {
	case "/chess_step":
		cmd.Kind = CommandChessStep
	case "/list":
		cmd.Kind = CommandList
		return cmd, nil
	case "/join":
		cmd.Kind = CommandJoin
	case "/name":
		cmd.Kind = CommandName
	default:
		cmd.Kind = CommandUnknown
		return cmd, errors.Wrapf(ErrUnknownCommand, "%q", line)
	}

	if !hasArg {
		return cmd, errors.Wrapf(ErrMissingArgument, "%s", name)
	}
	return cmd, nil
}

// errorReply maps a parse error to the text sent back to the peer.
func errorReply(cmd Command) string {
	switch cmd.Kind {
	case CommandJoin:
		return replyRoomRequired
	case CommandName:
		return replyNameRequired
	case CommandChessStep:
		return replyStepWrong
	default:
		return fmt.Sprintf(replyUnknownTemplate, cmd.Raw)
	}
}

// chatText prefixes the display name when one is set.
func chatText(name, text string) string {
	if name == "" {
		return text
	}
	return name + ": " + text
}

package ui

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects which commands are accepted.
type Mode int

const (
	ModeListen Mode = iota
	ModeCall
)

// CommandKind enumerates interactive commands.
type CommandKind int

const (
	CmdNone CommandKind = iota
	CmdToggle
	CmdSettings
	CmdQuit
	CmdMute
	CmdChunk
	CmdURL
	CmdHelp
)

// Command is one parsed input line.
type Command struct {
	Kind    CommandKind
	ChunkMS int
	URL     string
}

// ParseCommand parses one line typed at the prompt. An empty line toggles.
func ParseCommand(line string, mode Mode) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{Kind: CmdToggle}, nil
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]
	switch name {
	case "r", "record", "start", "stop":
		return Command{Kind: CmdToggle}, nil
	case "q", "quit", "exit":
		return Command{Kind: CmdQuit}, nil
	case "h", "?", "help":
		return Command{Kind: CmdHelp}, nil
	case "m", "mute", "unmute":
		if mode != ModeCall {
			return Command{}, fmt.Errorf("mute is only available during a call")
		}
		return Command{Kind: CmdMute}, nil
	}
	if mode == ModeCall {
		return Command{}, fmt.Errorf("unknown command %q (Enter, m, q)", fields[0])
	}
	switch name {
	case "s", "settings":
		return Command{Kind: CmdSettings}, nil
	case "chunk":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: chunk <ms>")
		}
		ms, err := strconv.Atoi(strings.TrimSuffix(args[0], "ms"))
		if err != nil {
			return Command{}, fmt.Errorf("chunk: %q is not a number", args[0])
		}
		return Command{Kind: CmdChunk, ChunkMS: ms}, nil
	case "url":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: url <ws-url>")
		}
		return Command{Kind: CmdURL, URL: args[0]}, nil
	}
	return Command{}, fmt.Errorf("unknown command %q (Enter, s, chunk, url, q)", fields[0])
}

// Keys is the one-line key help for a mode.
func Keys(mode Mode) string {
	if mode == ModeCall {
		return "Enter start/end call · m mute · q quit"
	}
	return "Enter start/stop · s settings · chunk <ms> · url <ws-url> · q quit"
}

// Package command implements the request/acknowledgement protocol used to
// drive the acquisition process.
//
// A request is a single line "verb args". Every request expects exactly one
// reply line, conventionally "OK" or "ERROR", before a bounded timeout.
// Only one request may be outstanding at a time.
package command

import "strings"

// Verbs understood by the acquisition process.
const (
	VerbStartCruise  = "start_cruise"
	VerbEndCruise    = "end_cruise"
	VerbStartLogging = "start_logging"
	VerbStopLogging  = "stop_logging"
	VerbCmdFile      = "cmdfile"
	VerbQuit         = "quit"
)

// Command is one request to the acquisition process.
type Command struct {
	Verb string
	Args string
}

// String renders the request body.
func (c Command) String() string {
	if c.Args == "" {
		return c.Verb
	}
	return c.Verb + " " + c.Args
}

// Parse splits a request body into verb and args.
func Parse(body string) Command {
	body = strings.TrimSpace(body)
	verb, args, _ := strings.Cut(body, " ")
	return Command{Verb: verb, Args: strings.TrimSpace(args)}
}

func StartCruise(name string) Command { return Command{Verb: VerbStartCruise, Args: name} }
func EndCruise() Command              { return Command{Verb: VerbEndCruise} }
func StartLogging() Command           { return Command{Verb: VerbStartLogging} }
func StopLogging() Command            { return Command{Verb: VerbStopLogging} }
func Quit() Command                   { return Command{Verb: VerbQuit} }

// CmdFile applies per-instrument command files; profile is already
// rendered as "inst:file[,inst:file...]".
func CmdFile(profile string) Command { return Command{Verb: VerbCmdFile, Args: profile} }

package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/vmagent/vmagent/pkg/config"
	"github.com/vmagent/vmagent/pkg/events"
	"github.com/vmagent/vmagent/pkg/terminal/starbind"
	"github.com/vmagent/vmagent/service/agent"
	"github.com/vmagent/vmagent/service/api"
)

const (
	historyFile string = ".vmagent_history"
	// replEnvName is the name of the agent environment of the terminal.
	replEnvName = "repl"

	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
	ansiYellow                         = 33
)

// Term represents the terminal running vmagent.
type Term struct {
	agent       *agent.Agent
	conf        *config.Config
	prompt      string
	line        *liner.State
	cmds        *Commands
	dumb        bool
	stdout      *transcriptWriter
	InitFile    string
	env         *events.Env
	starlarkEnv *starbind.Env
}

// New returns a new Term. The terminal subscribes to every kind of event
// through its own agent environment and prints them as they are posted.
func New(a *agent.Agent, conf *config.Config) *Term {
	cmds := DebugCommands(a)
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	t := &Term{
		agent:  a,
		conf:   conf,
		prompt: "(vmagent) ",
		line:   liner.NewLiner(),
		cmds:   cmds,
		dumb:   dumb,
		stdout: newTranscriptWriter(w),
	}
	t.env = a.CreateEnv(replEnvName, events.Forward(t.printEvent), events.Kinds()...)
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close disposes the agent environment of the terminal and returns the
// terminal to its previous mode.
func (t *Term) Close() {
	t.agent.DisposeEnv(t.env)
	t.line.Close()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintf(os.Stderr, "received SIGINT, script cancelled\n")
	}
}

// Run begins running vmagent in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	// Cancel running scripts on SIGINT
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	t.line.ReadHistory(f)
	f.Close()
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// RunScript executes the starlark script or command file at path without
// prompting for input.
func (t *Term) RunScript(path string) error {
	defer t.stdout.Flush()
	err := t.cmds.sourceCommand(t, path)
	if _, ok := err.(ExitRequestError); ok {
		return nil
	}
	return err
}

// complete completes command names and, for the breakpoint commands,
// qualified method names.
func (t *Term) complete(line string) (c []string) {
	for _, cmdname := range []string{"break ", "b ", "clear ", "compile "} {
		if strings.HasPrefix(line, cmdname) {
			for _, m := range t.agent.FindMethods(strings.TrimSpace(line[len(cmdname):])) {
				c = append(c, cmdname+m)
			}
			return
		}
	}
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			if strings.HasPrefix(alias, strings.ToLower(line)) {
				c = append(c, alias)
			}
		}
	}
	return
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	if !t.dumb {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, ansiYellow)
		prefix = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

// printEvent is the event callback of the terminal environment. It runs
// on the service thread or on the goroutine posting the events.
func (t *Term) printEvent(env *events.Env, ev events.Event) {
	aev := api.ConvertEvent(env, ev)
	t.Println("> ", aev.String())
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}
	t.stdout.CloseTranscript()
	return 0, nil
}

package cmds

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vmagent/vmagent/cmd/vmagent/cmds/helphelpers"
	"github.com/vmagent/vmagent/pkg/config"
	"github.com/vmagent/vmagent/pkg/events"
	"github.com/vmagent/vmagent/pkg/logflags"
	"github.com/vmagent/vmagent/pkg/terminal"
	"github.com/vmagent/vmagent/pkg/version"
	"github.com/vmagent/vmagent/pkg/vm"
	"github.com/vmagent/vmagent/service"
	"github.com/vmagent/vmagent/service/agent"
	"github.com/vmagent/vmagent/service/dap"
	"github.com/vmagent/vmagent/service/remote"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath is the configuration file, $HOME/.vmagent/config.yml if empty.
	configPath string
	// addr is the DAP server listen address.
	addr string
	// initFile is the path to initialization file.
	initFile string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const vmagentCommandLongDesc = `vmagent is a tool agent for managed runtimes.

vmagent loads a runtime image and lets you set breakpoints, inspect and change
the local variables of suspended threads, redefine and unload classes and
follow the compiled code events of the runtime.

The agent can be driven from an interactive terminal, a starlark script or a
Debug Adapter Protocol client.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Main vmagent root command.
	rootCommand = &cobra.Command{
		Use:   "vmagent",
		Short: "vmagent is a tool agent for managed runtimes.",
		Long:  vmagentCommandLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable agent logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'vmagent help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'vmagent help log').")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file, defaults to $HOME/.vmagent/config.yml.")

	// 'repl' subcommand.
	replCommand := &cobra.Command{
		Use:   "repl <image>",
		Short: "Load a runtime image and start an interactive terminal.",
		Long: `Load a runtime image and start an interactive terminal.

The terminal subscribes to every kind of deferred event and prints them as
the service thread posts them. Type 'help' at the prompt for the list of
commands.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(replCmd(args[0]))
		},
	}
	replCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the terminal before the first prompt.")
	rootCommand.AddCommand(replCommand)

	// 'script' subcommand.
	scriptCommand := &cobra.Command{
		Use:   "script <image> <file>",
		Short: "Load a runtime image and run a script.",
		Long: `Load a runtime image and run a script.

If the file ends with the .star extension it is interpreted as a starlark
script and its main function, if any, is called without arguments. Any other
file is read as a list of terminal commands, one per line.`,
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(scriptCmd(args[0], args[1]))
		},
	}
	rootCommand.AddCommand(scriptCommand)

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap <image>",
		Short: "Load a runtime image and serve it via Debug Adaptor Protocol (DAP).",
		Long: `Load a runtime image and start a TCP server communicating via Debug Adaptor Protocol (DAP).

Function breakpoints are set on qualified method names, optionally followed by
@ and a bytecode offset. Threads, stack traces and local variables of
suspended threads can be inspected and local variables can be set.
The server does not accept multiple client connections.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(dapCmd(args[0]))
		},
	}
	dapCommand.Flags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "DAP server listen address.")
	rootCommand.AddCommand(dapCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vmagent\n%s\n", version.AgentVersion)
			if log {
				fmt.Println(version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:    "gen-docs",
		Short:  "Writes the documentation of the terminal commands.",
		Hidden: !docCall,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			terminal.DebugCommands(nil).WriteMarkdown(cmd.OutOrStdout())
		},
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	agent		Log agent operations (default)
	breakpoints	Log changes to the breakpoint registry
	locals		Log local variable accesses
	events		Log deferred events and the service thread
	safepoint	Log operations executed during a global pause
	dap		Log all DAP messages
	remote		Log the connection to the remote event sink
	script		Log starlark scripts

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "DAP server listening at" message.

`,
	})

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func loadConfig() error {
	if configPath == "" {
		conf = config.LoadConfig()
		return nil
	}
	var err error
	conf, err = config.LoadConfigFrom(configPath)
	return err
}

// session is a loaded runtime image with its agent and, if the configuration
// names one, the remote event sink.
type session struct {
	agent      *agent.Agent
	sink       *remote.Sink
	sinkEnv    *events.Env
	cancelSink context.CancelFunc
}

func startSession(image string) (*session, error) {
	if conf == nil {
		conf = &config.Config{}
	}
	rt, err := vm.LoadImage(image)
	if err != nil {
		return nil, err
	}
	aconf, err := agent.ConfigFrom(conf)
	if err != nil {
		return nil, err
	}
	a, err := agent.New(aconf, rt)
	if err != nil {
		return nil, err
	}
	s := &session{agent: a}
	if conf.EventSink != "" {
		var ctx context.Context
		ctx, s.cancelSink = context.WithCancel(context.Background())
		s.sink = remote.NewSink(remote.Config{URL: conf.EventSink})
		s.sinkEnv = remote.Attach(a, s.sink)
		go s.sink.Connect(ctx)
	}
	return s, nil
}

func (s *session) close() {
	if s.sink != nil {
		s.agent.DisposeEnv(s.sinkEnv)
		s.cancelSink()
		s.sink.Disconnect()
	}
	s.agent.Close()
}

func replCmd(image string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	s, err := startSession(image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer s.close()

	term := terminal.New(s.agent, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

func scriptCmd(image, path string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	s, err := startSession(image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer s.close()

	term := terminal.New(s.agent, conf)
	defer term.Close()
	if err := term.RunScript(path); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func dapCmd(image string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	s, err := startSession(image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer s.close()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Printf("couldn't start listener: %s\n", err)
		return 1
	}
	disconnectChan := make(chan struct{})
	server := dap.NewServer(&service.Config{
		Listener:        listener,
		Agent:           s.agent,
		StackTraceDepth: conf.MaxStackDepthOrDefault(),
		DisconnectChan:  disconnectChan,
	})
	defer server.Stop()

	server.Run()
	waitForDisconnectSignal(disconnectChan)
	return 0
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) or SIGTERM (kill -15) OS signal or for disconnectChan
// to be closed by the server when the client disconnects.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	if runtime.GOOS == "windows" {
		// On windows Ctrl-C is also delivered to the console the client may
		// share with the server, only stop when the client disconnects.
		go func() {
			for range ch {
			}
		}()
		<-disconnectChan
	} else {
		select {
		case <-ch:
		case <-disconnectChan:
		}
	}
}

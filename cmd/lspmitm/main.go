// lspmitm – a man-in-the-middle observer for a JSON-RPC 2.0 protocol
// carried over a child process' standard input/output (conventionally a
// language server speaking LSP).
//
// Usage:
//
//	lspmitm [--config <file>] [--log <file>] -- <server-command> [args...]
//
// Bytes from lspmitm's own stdin are forwarded unmodified to the child's
// stdin, and the child's stdout is forwarded unmodified to lspmitm's
// stdout; in both directions the traffic is also parsed, validated, and
// logged.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/aerijo/lspmitm/internal/config"
	"github.com/aerijo/lspmitm/internal/decode"
	"github.com/aerijo/lspmitm/internal/framer"
	"github.com/aerijo/lspmitm/internal/jsonrpc"
	"github.com/aerijo/lspmitm/internal/logline"
	"github.com/aerijo/lspmitm/internal/pipeline"
)

func main() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		logrus.Fatalf("cannot determine home directory: %v", err)
	}
	defaultConfig := filepath.Join(homeDir, ".lspmitm.yaml")
	if env := os.Getenv("LSPMITM_CONFIG"); env != "" {
		defaultConfig = env
	}

	configPath := flag.String("config", defaultConfig, "lspmitm config file (env: LSPMITM_CONFIG)")
	logPath := flag.String("log", "", "path to append the observed-message log to (overrides config's log.file)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: lspmitm [--config <file>] [--log <file>] -- <server-command> [args...]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	if *logPath != "" {
		cfg.Log.File = *logPath
	}

	configureLogging(cfg)

	logWriter, closeLog := openMessageLog(cfg.Log.File)
	defer closeLog()

	server := exec.Command(args[0], args[1:]...)

	serverIn, err := server.StdinPipe()
	if err != nil {
		logrus.Fatalf("server stdin pipe: %v", err)
	}
	serverOut, err := server.StdoutPipe()
	if err != nil {
		logrus.Fatalf("server stdout pipe: %v", err)
	}
	serverErr, err := server.StderrPipe()
	if err != nil {
		logrus.Fatalf("server stderr pipe: %v", err)
	}

	if err := server.Start(); err != nil {
		logrus.Fatalf("start server %q: %v", args[0], err)
	}

	observer := &loggingObserver{writer: logWriter}

	assembly := pipeline.NewAssembly(pipeline.Streams{
		ClientIn:     os.Stdin,
		ClientOut:    os.Stdout,
		ServerIn:     serverOut,
		ServerOut:    serverIn,
		ServerErr:    serverErr,
		ServerErrOut: os.Stderr,
	}, methodHookFromConfig(cfg), cfg.Charsets.Aliases, observer)

	log := logrus.WithField("run", assembly.RunID)
	log.WithField("server", args).Info("lspmitm starting")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %v, terminating server", sig)
		_ = server.Process.Signal(syscall.SIGTERM)
	}()

	assembly.Run()

	err = server.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			log.Warnf("server exited with code %d", exitErr.ExitCode())
			os.Exit(exitErr.ExitCode())
		}
		log.Errorf("server wait: %v", err)
		os.Exit(1)
	}
	log.Info("server exited cleanly")
}

func configureLogging(cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// openMessageLog opens the destination for the per-message log lines
// (spec.md §6 "Persisted state layout"). An empty path logs to stderr,
// keeping stdout reserved for the mirrored server protocol bytes.
func openMessageLog(path string) (*os.File, func()) {
	if path == "" {
		return os.Stderr, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logrus.Errorf("open message log %s: %v; falling back to stderr", path, err)
		return os.Stderr, func() {}
	}
	return f, func() { f.Close() }
}

// methodHookFromConfig builds a jsonrpc.MethodHook. The default carries no
// extra rules regardless of which methods are named in config (spec.md
// §4.3's hook is deliberately shallow); the config list is exposed so a
// future rule set has somewhere to attach without changing the wiring.
func methodHookFromConfig(cfg config.Config) jsonrpc.MethodHook {
	return func(method string, params json.RawMessage, issues *jsonrpc.IssueTree) {}
}

// loggingObserver serialises each TypedMessage to the configured message
// log and surfaces framing/decode errors via logrus.
type loggingObserver struct {
	writer *os.File
}

func (o *loggingObserver) OnMessage(tm *jsonrpc.TypedMessage) {
	fmt.Fprintln(o.writer, logline.Format(tm))
}

func (o *loggingObserver) OnFrameError(sender jsonrpc.Sender, err framer.FrameError) {
	logrus.WithFields(logrus.Fields{"sender": sender, "kind": err.Kind.String()}).Warn("framing error")
}

func (o *loggingObserver) OnDecodeError(sender jsonrpc.Sender, err *decode.Error) {
	logrus.WithFields(logrus.Fields{"sender": sender, "kind": err.Kind.String()}).Warn("decode error")
}
